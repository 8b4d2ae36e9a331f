package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	// InterruptChanged is true when the arbiter settings differ. They are
	// applied live from NewInterrupt at the next playback.
	InterruptChanged bool
	NewInterrupt     InterruptConfig

	// RestartRequired lists the changed settings that only take effect
	// after a restart, by YAML path.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.InterruptChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Interrupt.Arbiter() != new.Interrupt.Arbiter() {
		d.InterruptChanged = true
		d.NewInterrupt = new.Interrupt
	}
	if old.Interrupt.PostSpeechGap != new.Interrupt.PostSpeechGap {
		d.RestartRequired = append(d.RestartRequired, "interrupt.post_speech_gap")
	}

	sections := []struct {
		name     string
		old, new any
	}{
		{"server", old.Server, new.Server},
		{"audio", old.Audio, new.Audio},
		{"detection", old.Detection, new.Detection},
		{"recorder", old.Recorder, new.Recorder},
		{"providers", old.Providers, new.Providers},
		{"assistant", old.Assistant, new.Assistant},
		{"journal", old.Journal, new.Journal},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	slices.Sort(d.RestartRequired)
	return d
}
