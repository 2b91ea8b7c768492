// Package media combines captured frames and the reply audio into a video.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"replybot/internal/utils"
)

var (
	ErrEncoderNotFound = errors.New("encoder binary not found")
	ErrEncoderFailed   = errors.New("encoder failed")
)

// CommandRunner matches utils.RunCommand.
type CommandRunner func(ctx context.Context, stdin io.Reader, name string, args ...string) (string, error)

type MuxRequest struct {
	FramePattern string // e.g. dir/frame_%03d.png
	AudioPath    string
	FPS          int
	OutputPath   string
}

// Muxer shells out to ffmpeg.
type Muxer struct {
	Binary      string
	ProbeBinary string
	run         CommandRunner
	lookPath    func(string) (string, error)
}

func NewMuxer(binary, probeBinary string) *Muxer {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	if strings.TrimSpace(probeBinary) == "" {
		probeBinary = "ffprobe"
	}
	return &Muxer{
		Binary:      binary,
		ProbeBinary: probeBinary,
		run:         utils.RunCommand,
		lookPath:    exec.LookPath,
	}
}

// WithCommandRunner allows injecting a custom command runner for tests.
func (m *Muxer) WithCommandRunner(r CommandRunner) *Muxer {
	if r != nil {
		m.run = r
	}
	return m
}

func (m *Muxer) WithLookPath(f func(string) (string, error)) *Muxer {
	if f != nil {
		m.lookPath = f
	}
	return m
}

// Args builds the ffmpeg argument list writing to out.
func Args(req MuxRequest, out string) []string {
	return []string{
		"-y",
		"-framerate", strconv.Itoa(req.FPS),
		"-i", req.FramePattern,
		"-i", req.AudioPath,
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-shortest",
		out,
	}
}

func tempSibling(path string) string {
	return filepath.Join(filepath.Dir(path), ".mux-"+filepath.Base(path))
}

// Mux encodes into a temp sibling and renames it onto OutputPath only when
// ffmpeg exits cleanly. On any failure no file is left at OutputPath.
func (m *Muxer) Mux(ctx context.Context, req MuxRequest) error {
	if req.FPS <= 0 {
		return fmt.Errorf("mux: fps must be positive (got %d)", req.FPS)
	}
	if strings.TrimSpace(req.OutputPath) == "" {
		return errors.New("mux: output path is required")
	}
	bin, err := m.lookPath(m.Binary)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrEncoderNotFound, m.Binary, err)
	}

	_ = os.Remove(req.OutputPath)
	tmp := tempSibling(req.OutputPath)
	_ = os.Remove(tmp)

	utils.Info("mux start", "out", req.OutputPath, "fps", req.FPS)
	output, err := m.run(ctx, nil, bin, Args(req, tmp)...)
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %v: %s", ErrEncoderFailed, err, lastLines(output, 5))
	}
	if !utils.NonEmptyFile(tmp) {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: no output produced", ErrEncoderFailed)
	}
	if err := os.Rename(tmp, req.OutputPath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrEncoderFailed, err)
	}
	return nil
}

// ExpectedDuration is the length ffmpeg's -shortest policy yields.
func ExpectedDuration(frames, fps int, audioSeconds float64) float64 {
	if fps <= 0 || frames <= 0 {
		return 0
	}
	return math.Min(float64(frames)/float64(fps), math.Max(audioSeconds, 0))
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
