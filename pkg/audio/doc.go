// Package audio defines the audio primitives shared by the capture path, the
// turn engine, and the playback path: the immutable [Chunk], the capture
// [Backend] contract, the [Player] contract, and sample conversions.
//
// Capture and playback implementations live in sub-packages (portaudio,
// malgo, oto) so that importing this package never pulls in cgo.
package audio
