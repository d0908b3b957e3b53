// Package voice records microphone audio, turns it into text and speaks
// replies. Audio is always raw 16 kHz 16-bit little-endian mono PCM.
package voice

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	SampleRate    = 16000
	BitsPerSample = 16
	Channels      = 1
)

var (
	// ErrNoSpeech means the recording was silent or produced no transcript
	ErrNoSpeech = errors.New("no speech detected")
	// ErrNoTool means no supported recorder or player is installed
	ErrNoTool = errors.New("no audio tool available")
)

// Recorder captures a bounded stretch of microphone audio
type Recorder interface {
	Record(ctx context.Context) ([]byte, error)
}

// Transcriber turns PCM into text
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte) (string, error)
}

// Speaker reads text aloud
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// WAV wraps PCM in a canonical 44 byte RIFF header
func WAV(pcm []byte) []byte {
	const blockAlign = Channels * BitsPerSample / 8
	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&buf, binary.LittleEndian, uint16(Channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(SampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(SampleRate*blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(BitsPerSample))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

// RMS is the root mean square amplitude of the samples, in [0, 1]
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[2*i:]))) / math.MaxInt16
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// SilenceThreshold is the RMS under which a recording counts as silence
const SilenceThreshold = 0.01

// Listen records once and transcribes the result
func Listen(ctx context.Context, rec Recorder, tr Transcriber) (string, error) {
	pcm, err := rec.Record(ctx)
	if err != nil {
		return "", err
	}
	if RMS(pcm) < SilenceThreshold {
		return "", ErrNoSpeech
	}
	text, err := tr.Transcribe(ctx, pcm)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}

// ErrBadAudio is returned by DecodeWAV for audio Heimdall cannot transcribe
var ErrBadAudio = errors.New("unsupported audio")

// DecodeWAV returns the PCM samples of a 16 kHz mono 16-bit WAV file. Data
// without a RIFF header is assumed to be raw PCM already.
func DecodeWAV(data []byte) ([]byte, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" {
		if len(data)%2 != 0 {
			return nil, fmt.Errorf("%w: odd number of PCM bytes", ErrBadAudio)
		}
		return data, nil
	}
	if string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: not a WAVE file", ErrBadAudio)
	}

	var haveFmt bool
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := data[off+8:]
		if size > len(body) {
			size = len(body)
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("%w: short fmt chunk", ErrBadAudio)
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			channels := binary.LittleEndian.Uint16(body[2:4])
			rate := binary.LittleEndian.Uint32(body[4:8])
			bits := binary.LittleEndian.Uint16(body[14:16])
			if format != 1 || channels != Channels || rate != SampleRate || bits != BitsPerSample {
				return nil, fmt.Errorf("%w: want %d Hz mono %d-bit PCM, got format %d, %d channels, %d Hz, %d-bit",
					ErrBadAudio, SampleRate, BitsPerSample, format, channels, rate, bits)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("%w: data before fmt chunk", ErrBadAudio)
			}
			return body[:size&^1], nil
		}
		// chunks are word aligned
		off += 8 + size + size%2
	}
	return nil, fmt.Errorf("%w: no data chunk", ErrBadAudio)
}
