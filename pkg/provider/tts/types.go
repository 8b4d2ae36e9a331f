package tts

// VoiceProfile identifies a voice on a TTS backend.
type VoiceProfile struct {
	// ID is the backend-specific voice identifier (ElevenLabs voice ID, Coqui
	// speaker name or reference WAV path).
	ID string

	// Name is a human-readable label.
	Name string

	// Provider names the backend the voice belongs to.
	Provider string

	// Metadata holds backend-specific labels such as category or model name.
	Metadata map[string]string
}
