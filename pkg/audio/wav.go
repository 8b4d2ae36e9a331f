package audio

import (
	"encoding/binary"
	"errors"
)

const wavBitsPerSample = 16

// EncodeWAV wraps mono float32 samples in a 16-bit PCM RIFF/WAVE container.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	pcm := FloatToPCM16(samples)
	const channels = 1
	byteRate := sampleRate * channels * wavBitsPerSample / 8
	blockAlign := channels * wavBitsPerSample / 8

	buf := make([]byte, 44+len(pcm))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], channels)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], wavBitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[44:], pcm)
	return buf
}

// DecodeWAV parses a 16-bit PCM RIFF/WAVE file and returns its samples
// downmixed to mono together with the sample rate. Chunks are walked rather
// than assuming a fixed 44-byte header.
func DecodeWAV(wav []byte) ([]float32, int, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, 0, errors.New("audio: not a RIFF/WAVE file")
	}
	var (
		rate, channels, bits int
		foundFmt             bool
	)
	for off := 12; off+8 <= len(wav); {
		id := string(wav[off : off+4])
		size := int(binary.LittleEndian.Uint32(wav[off+4 : off+8]))
		body := wav[off+8:]
		switch id {
		case "fmt ":
			if size < 16 || len(body) < 16 {
				return nil, 0, errors.New("audio: truncated WAV fmt chunk")
			}
			if format := binary.LittleEndian.Uint16(body[0:2]); format != 1 {
				return nil, 0, errors.New("audio: WAV is not integer PCM")
			}
			channels = int(binary.LittleEndian.Uint16(body[2:4]))
			rate = int(binary.LittleEndian.Uint32(body[4:8]))
			bits = int(binary.LittleEndian.Uint16(body[14:16]))
			foundFmt = true
		case "data":
			if !foundFmt {
				return nil, 0, errors.New("audio: WAV data chunk before fmt chunk")
			}
			if bits != wavBitsPerSample {
				return nil, 0, errors.New("audio: only 16-bit WAV is supported")
			}
			end := min(size, len(body))
			return DownmixMono(PCM16ToFloat(body[:end]), channels), rate, nil
		}
		off += 8 + size
		if size%2 != 0 {
			off++
		}
	}
	return nil, 0, errors.New("audio: WAV missing data chunk")
}
