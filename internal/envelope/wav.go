package envelope

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-audio/wav"
)

var ErrInvalidWAV = errors.New("invalid wav file")

// ReadWAV decodes an integer PCM WAV file into a Waveform scaled to [-1, 1].
func ReadWAV(path string) (Waveform, error) {
	f, err := os.Open(path)
	if err != nil {
		return Waveform{}, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return Waveform{}, fmt.Errorf("%w: %s", ErrInvalidWAV, path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Waveform{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if buf == nil || buf.Format == nil || buf.Format.NumChannels <= 0 {
		return Waveform{}, fmt.Errorf("%w: %s has no channels", ErrInvalidWAV, path)
	}

	chans := buf.Format.NumChannels
	depth := buf.SourceBitDepth
	if depth <= 0 {
		depth = int(dec.BitDepth)
	}
	if depth < 8 || depth > 32 {
		return Waveform{}, fmt.Errorf("%w: unsupported bit depth %d", ErrInvalidWAV, depth)
	}
	scale := float64(int64(1) << uint(depth-1))
	offset := 0.0
	if depth == 8 {
		// 8-bit PCM is unsigned.
		offset = scale
	}

	frames := len(buf.Data) / chans
	channels := make([][]float64, chans)
	for c := range channels {
		channels[c] = make([]float64, frames)
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < chans; c++ {
			channels[c][i] = (float64(buf.Data[i*chans+c]) - offset) / scale
		}
	}
	return Waveform{SampleRate: buf.Format.SampleRate, Channels: channels}, nil
}

// FromFile reads path and extracts its envelope.
func FromFile(path string, p Params) ([]float32, Waveform, error) {
	w, err := ReadWAV(path)
	if err != nil {
		return nil, Waveform{}, err
	}
	return Extract(w, p), w, nil
}
