package journal

import (
	"encoding/binary"
	"errors"
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/voxturn/pkg/audio"
)

// Archive format: 16 kHz mono Opus, 20 ms frames, each packet prefixed with
// its length as a big-endian uint16.
const (
	ArchiveSampleRate = 16000
	archiveFrameSize  = ArchiveSampleRate * 20 / 1000 // 320
	maxPacketSize     = 4000
)

// Archiver compresses utterance audio for the journal.
type Archiver struct {
	bitrate int
}

// NewArchiver returns an Archiver encoding at bitrate bits per second. Zero
// keeps the encoder default.
func NewArchiver(bitrate int) *Archiver {
	return &Archiver{bitrate: bitrate}
}

// Encode resamples mono samples to 16 kHz and encodes them. The last frame is
// zero-padded.
func (a *Archiver) Encode(samples []float32, sampleRate int) ([]byte, error) {
	enc, err := gopus.NewEncoder(ArchiveSampleRate, 1, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("journal: create opus encoder: %w", err)
	}
	if a.bitrate > 0 {
		enc.SetBitrate(a.bitrate)
	}

	pcm := audio.FloatToInt16(audio.Resample(samples, sampleRate, ArchiveSampleRate))
	var out []byte
	for off := 0; off < len(pcm); off += archiveFrameSize {
		frame := make([]int16, archiveFrameSize)
		copy(frame, pcm[off:min(off+archiveFrameSize, len(pcm))])
		packet, err := enc.Encode(frame, archiveFrameSize, maxPacketSize)
		if err != nil {
			return nil, fmt.Errorf("journal: opus encode: %w", err)
		}
		out = binary.BigEndian.AppendUint16(out, uint16(len(packet)))
		out = append(out, packet...)
	}
	return out, nil
}

// DecodeArchive expands an archive produced by [Archiver.Encode] back into
// 16 kHz mono samples.
func DecodeArchive(data []byte) ([]float32, error) {
	dec, err := gopus.NewDecoder(ArchiveSampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("journal: create opus decoder: %w", err)
	}
	var pcm []int16
	for len(data) > 0 {
		if len(data) < 2 {
			return nil, errors.New("journal: truncated archive header")
		}
		n := int(binary.BigEndian.Uint16(data))
		data = data[2:]
		if n > len(data) {
			return nil, errors.New("journal: truncated archive packet")
		}
		frame, err := dec.Decode(data[:n], archiveFrameSize, false)
		if err != nil {
			return nil, fmt.Errorf("journal: opus decode: %w", err)
		}
		pcm = append(pcm, frame...)
		data = data[n:]
	}
	return audio.Int16ToFloat(pcm), nil
}
