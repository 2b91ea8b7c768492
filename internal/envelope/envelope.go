// Package envelope turns a speech waveform into the per-frame mouth
// amplitudes that drive the animation.
package envelope

import (
	"math"
)

const epsilon = 1e-12

// Waveform is decoded PCM audio scaled to [-1, 1], one slice per channel.
type Waveform struct {
	SampleRate int
	Channels   [][]float64
}

// Mono wraps a single channel of samples.
func Mono(sampleRate int, samples []float64) Waveform {
	return Waveform{SampleRate: sampleRate, Channels: [][]float64{samples}}
}

// Len is the number of sample frames (the shortest channel wins).
func (w Waveform) Len() int {
	if len(w.Channels) == 0 {
		return 0
	}
	n := len(w.Channels[0])
	for _, ch := range w.Channels[1:] {
		if len(ch) < n {
			n = len(ch)
		}
	}
	return n
}

// Seconds is the duration of the waveform.
func (w Waveform) Seconds() float64 {
	if w.SampleRate <= 0 {
		return 0
	}
	return float64(w.Len()) / float64(w.SampleRate)
}

// Downmix averages all channels into one.
func (w Waveform) Downmix() []float64 {
	n := w.Len()
	if len(w.Channels) == 1 {
		return w.Channels[0][:n]
	}
	out := make([]float64, n)
	if len(w.Channels) == 0 {
		return out
	}
	scale := 1 / float64(len(w.Channels))
	for i := 0; i < n; i++ {
		var sum float64
		for _, ch := range w.Channels {
			sum += ch[i]
		}
		out[i] = sum * scale
	}
	return out
}

type Params struct {
	Frames int
	FPS    int
	Floor  float64
	Ceil   float64
}

// WindowSize is round(sampleRate / fps), never less than one sample.
func WindowSize(sampleRate, fps int) int {
	if sampleRate <= 0 || fps <= 0 {
		return 1
	}
	size := int(math.Round(float64(sampleRate) / float64(fps)))
	if size < 1 {
		return 1
	}
	return size
}

// Extract returns exactly p.Frames amplitudes in [p.Floor, p.Ceil].
// Frame i covers samples [i*win, (i+1)*win); windows past the end are silent.
func Extract(w Waveform, p Params) []float32 {
	if p.Frames <= 0 {
		return []float32{}
	}
	samples := w.Downmix()
	win := WindowSize(w.SampleRate, p.FPS)

	rms := make([]float64, p.Frames)
	for i := range rms {
		start := i * win
		if start >= len(samples) {
			continue
		}
		end := start + win
		if end > len(samples) {
			end = len(samples)
		}
		rms[i] = windowRMS(samples[start:end])
	}

	lo, hi := rms[0], rms[0]
	for _, v := range rms[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	out := make([]float32, p.Frames)
	span := p.Ceil - p.Floor
	for i, v := range rms {
		norm := 0.0
		if hi > 0 {
			norm = (v - lo) / (hi - lo + epsilon)
		}
		out[i] = float32(clamp(p.Floor+norm*span, p.Floor, p.Ceil))
	}
	return out
}

func windowRMS(window []float64) float64 {
	if len(window) == 0 {
		return 0
	}
	var sum float64
	for _, s := range window {
		sum += s * s
	}
	if sum == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(len(window)))
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Constant is the fallback envelope used when no audio envelope is available.
func Constant(frames int, value float64) []float32 {
	out := make([]float32, max(frames, 0))
	for i := range out {
		out[i] = float32(value)
	}
	return out
}
