package envelope

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractSilentIsFloor(t *testing.T) {
	w := Mono(16000, make([]float64, 32000))
	got := Extract(w, Params{Frames: 24, FPS: 12, Floor: 0.2, Ceil: 1.0})

	require.Len(t, got, 24)
	for _, v := range got {
		assert.Equal(t, float32(0.2), v)
	}
}

func TestExtractZeroLength(t *testing.T) {
	got := Extract(Mono(16000, nil), Params{Frames: 10, FPS: 12, Floor: 0.15, Ceil: 1.0})
	require.Len(t, got, 10)
	for _, v := range got {
		assert.Equal(t, float32(0.15), v)
	}
}

func TestExtractNoFrames(t *testing.T) {
	assert.Empty(t, Extract(Mono(16000, []float64{1, 1}), Params{Frames: 0, FPS: 12, Floor: 0, Ceil: 1}))
}

func TestExtractLengthIndependentOfDuration(t *testing.T) {
	p := Params{Frames: 18, FPS: 12, Floor: 0.15, Ceil: 1.0}
	for _, seconds := range []float64{0.1, 1.5, 10} {
		n := int(seconds * 8000)
		samples := make([]float64, n)
		for i := range samples {
			samples[i] = math.Sin(float64(i) / 10)
		}
		assert.Len(t, Extract(Mono(8000, samples), p), 18, "duration %v", seconds)
	}
}

func TestExtractShortWaveformPadsWithFloor(t *testing.T) {
	// 1000 samples/s at 10 fps: 100-sample windows, audio covers 3 frames.
	samples := make([]float64, 300)
	for i := range samples {
		samples[i] = 0.5
	}
	got := Extract(Mono(1000, samples), Params{Frames: 6, FPS: 10, Floor: 0.2, Ceil: 1.0})

	require.Len(t, got, 6)
	for i := 0; i < 3; i++ {
		assert.InDelta(t, 1.0, got[i], 1e-6)
	}
	for i := 3; i < 6; i++ {
		assert.Equal(t, float32(0.2), got[i])
	}
}

func TestExtractTimeOrder(t *testing.T) {
	// Loudness rises per window: quiet, medium, loud.
	samples := make([]float64, 0, 300)
	for _, amp := range []float64{0.1, 0.4, 0.8} {
		for i := 0; i < 100; i++ {
			samples = append(samples, amp)
		}
	}
	got := Extract(Mono(1000, samples), Params{Frames: 3, FPS: 10, Floor: 0, Ceil: 1})

	assert.InDelta(t, 0.0, got[0], 1e-6)
	assert.Greater(t, got[1], got[0])
	assert.InDelta(t, 1.0, got[2], 1e-6)
}

func TestExtractWindowRounds(t *testing.T) {
	assert.Equal(t, 1333, WindowSize(16000, 12))
	assert.Equal(t, 1838, WindowSize(22050, 12))
	assert.Equal(t, 1, WindowSize(0, 12))
}

func TestExtractBoundsProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		n := rng.Intn(20000)
		samples := make([]float64, n)
		for i := range samples {
			samples[i] = (rng.Float64()*2 - 1) * rng.Float64() * 4
		}
		p := Params{Frames: 1 + rng.Intn(40), FPS: 12, Floor: 0.15, Ceil: 1.0}
		got := Extract(Mono(16000, samples), p)

		require.Len(t, got, p.Frames)
		for _, v := range got {
			assert.GreaterOrEqual(t, v, float32(p.Floor))
			assert.LessOrEqual(t, v, float32(p.Ceil))
		}
	}
}

func TestExtractDeterministic(t *testing.T) {
	samples := []float64{0.1, -0.3, 0.7, 0.2, -0.9, 0.0, 0.4, 0.4}
	p := Params{Frames: 4, FPS: 4, Floor: 0.15, Ceil: 1}
	assert.Equal(t, Extract(Mono(8, samples), p), Extract(Mono(8, samples), p))
}

func TestDownmixAveragesChannels(t *testing.T) {
	w := Waveform{SampleRate: 4, Channels: [][]float64{{1, 1, 0}, {-1, 0, 0, 5}}}
	assert.Equal(t, []float64{0, 0.5, 0}, w.Downmix())
	assert.Equal(t, 3, w.Len())
}

func writeWAV(t *testing.T, path string, sampleRate, channels int, data []int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
}

func TestFromFileSilentWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reply.wav")
	writeWAV(t, path, 16000, 1, make([]int, 32000))

	amps, w, err := FromFile(path, Params{Frames: 24, FPS: 12, Floor: 0.2, Ceil: 1.0})
	require.NoError(t, err)
	assert.Equal(t, 16000, w.SampleRate)
	assert.InDelta(t, 2.0, w.Seconds(), 1e-9)
	require.Len(t, amps, 24)
	for _, v := range amps {
		assert.Equal(t, float32(0.2), v)
	}
}

func TestReadWAVScalesStereo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stereo.wav")
	writeWAV(t, path, 8000, 2, []int{16384, -16384, 32767, 0})

	w, err := ReadWAV(path)
	require.NoError(t, err)
	require.Len(t, w.Channels, 2)
	assert.InDelta(t, 0.5, w.Channels[0][0], 1e-4)
	assert.InDelta(t, -0.5, w.Channels[1][0], 1e-4)
	assert.InDelta(t, 1.0, w.Channels[0][1], 1e-4)
}

func TestReadWAVRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	require.NoError(t, os.WriteFile(path, []byte("not a riff file at all"), 0o644))
	_, err := ReadWAV(path)
	assert.Error(t, err)
}
