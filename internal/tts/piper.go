// Package tts wraps the speech engine that turns reply text into a WAV file.
package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"replybot/internal/utils"
)

// Synthesizer writes speech for text to outPath.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, outPath string) error
}

// CommandRunner matches utils.RunCommand so tests can stub the process.
type CommandRunner func(ctx context.Context, stdin io.Reader, name string, args ...string) (string, error)

var ErrEmptyOutput = errors.New("tts produced no audio")

// Piper drives the piper CLI: text on stdin, WAV to --output_file.
type Piper struct {
	Binary          string
	Model           string
	ConfigFile      string
	SentenceSilence float64
	Run             CommandRunner
}

func NewPiper(binary, model, configFile string, sentenceSilence float64) *Piper {
	if binary == "" {
		binary = "piper"
	}
	return &Piper{
		Binary:          binary,
		Model:           model,
		ConfigFile:      configFile,
		SentenceSilence: sentenceSilence,
		Run:             utils.RunCommand,
	}
}

func (p *Piper) args(out string) []string {
	args := []string{}
	if p.Model != "" {
		args = append(args, "--model", p.Model)
	}
	if p.ConfigFile != "" {
		args = append(args, "-c", p.ConfigFile)
	}
	if p.SentenceSilence > 0 {
		args = append(args, "--sentence-silence", strconv.FormatFloat(p.SentenceSilence, 'f', -1, 64))
	}
	return append(args, "--output_file", out)
}

// Synthesize renders into a temp sibling and renames it over outPath on success.
func (p *Piper) Synthesize(ctx context.Context, text, outPath string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("tts: empty text")
	}
	if err := utils.EnsureDir(filepath.Dir(outPath)); err != nil {
		return err
	}
	tmp := strings.TrimSuffix(outPath, filepath.Ext(outPath)) + ".tmp.wav"
	_ = os.Remove(tmp)

	run := p.Run
	if run == nil {
		run = utils.RunCommand
	}
	utils.Info("tts synthesize", "out", outPath, "words", len(strings.Fields(text)))
	if output, err := run(ctx, strings.NewReader(text+"\n"), p.Binary, p.args(tmp)...); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("piper: %w: %s", err, strings.TrimSpace(output))
	}
	if !utils.NonEmptyFile(tmp) {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %s", ErrEmptyOutput, tmp)
	}
	if err := os.Rename(tmp, outPath); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
