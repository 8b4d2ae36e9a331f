package device

import (
	"strings"

	"github.com/MrWong99/voxturn/pkg/audio"
)

// Name tokens that suggest a dedicated capture device.
var micKeywords = []string{"mic", "microphone", "webcam", "camera", "usb", "input", "capture", "audio"}

// Name tokens that suggest a loopback, monitor, or playback endpoint.
var outputKeywords = []string{"monitor", "hdmi", "displayport", "output", "speaker", "headphone", "sink", "spdif"}

// Brands known for standalone microphones.
var brandKeywords = []string{"blue", "yeti", "rode"}

// Score rates how likely d is to be a useful microphone. Matching is
// case-insensitive substring search on the device name; every matching
// keyword counts. The result is never negative.
func Score(d audio.DeviceInfo) int {
	name := strings.ToLower(d.Name)
	score := 0

	for _, kw := range micKeywords {
		if strings.Contains(name, kw) {
			score += 20
		}
	}
	if strings.Contains(name, "usb") {
		score += 15
	}
	if strings.Contains(name, "webcam") || strings.Contains(name, "camera") {
		score += 25
	}
	if containsAny(name, brandKeywords) {
		score += 30
	}
	for _, kw := range outputKeywords {
		if strings.Contains(name, kw) {
			score -= 50
		}
	}

	switch ch := d.InputChannels; {
	case ch <= 0:
		score -= 100
	case ch <= 2:
		score += 10
	case ch > 8:
		score -= 10
	}
	return max(0, score)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
