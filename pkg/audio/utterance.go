package audio

import "time"

// FinalizeReason says why an utterance was closed.
type FinalizeReason string

const (
	// ReasonSilence means trailing silence reached the configured duration.
	ReasonSilence FinalizeReason = "silence"

	// ReasonMaxDuration means the recording hit its hard length cap. The
	// speaker may have been cut off mid-word.
	ReasonMaxDuration FinalizeReason = "max_duration"
)

// Utterance is one finalized span of user speech, ready for transcription.
type Utterance struct {
	// ID identifies the utterance in logs and the turn journal.
	ID string

	// Samples holds the pre-roll followed by the speech span, interleaved
	// with Channels values per frame. Trailing silence is not included.
	Samples []float32

	// SampleRate of Samples in Hz.
	SampleRate int

	// Channels is the interleaved channel count of Samples.
	Channels int

	// Onset is the session timestamp of the first speech chunk.
	Onset time.Duration

	// Duration is the speech span from onset to the end of the last speech
	// chunk. Pre-roll and trailing silence are excluded.
	Duration time.Duration

	// PreRoll is the length of audio captured before Onset that leads Samples.
	PreRoll time.Duration

	// Reason is why the utterance was finalized.
	Reason FinalizeReason

	// FirstSeq and LastSeq bound the capture sequence numbers covered.
	FirstSeq, LastSeq uint64
}

// Mono returns the utterance audio downmixed to one channel.
func (u *Utterance) Mono() []float32 {
	return DownmixMono(u.Samples, u.Channels)
}
