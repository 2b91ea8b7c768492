package render

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"replybot/internal/envelope"
	"replybot/internal/utils"
)

// ErrNotReady means the page never signalled readiness within the timeout.
var ErrNotReady = errors.New("renderer not ready")

const (
	DebugDumpFile = "debug_page_dump.html"
	FramePattern  = "frame_%03d.png"
)

// Browser launches renderer sessions. amps must be visible to the page
// as window.MOUTH_AMPS before any of its scripts run.
type Browser interface {
	Open(ctx context.Context, pageURL string, amps []float32) (Session, error)
}

type Session interface {
	WaitReady(ctx context.Context, selector string) error
	Screenshot(ctx context.Context) ([]byte, error)
	AdvanceFrame(ctx context.Context) error
	PageSource(ctx context.Context) (string, error)
	Close() error
}

type Options struct {
	FrameCount       int
	FPS              int
	ReadyTimeout     time.Duration
	SettleDelay      time.Duration
	RootSelector     string
	DefaultAmplitude float64
}

type Driver struct {
	Browser Browser
	Opts    Options
	// Sleep waits between frames; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

func NewDriver(browser Browser, opts Options) *Driver {
	if opts.RootSelector == "" {
		opts.RootSelector = ".robot-svg"
	}
	if opts.DefaultAmplitude == 0 {
		opts.DefaultAmplitude = DefaultAmplitude
	}
	return &Driver{Browser: browser, Opts: opts, Sleep: sleepContext}
}

func FrameName(i int) string {
	return fmt.Sprintf(FramePattern, i)
}

func FileURL(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

// Capture loads pagePath and writes frame_000.png.. into outDir.
// A readiness timeout is fatal; an empty first frame returns 0 frames and
// leaves a page dump behind. Later frame failures are skipped and the
// remaining frames keep contiguous numbering.
func (d *Driver) Capture(ctx context.Context, pagePath, outDir string, amps []float32) (int, error) {
	frameCount := d.Opts.FrameCount
	amps = fitAmplitudes(amps, frameCount, d.Opts.DefaultAmplitude)
	if err := utils.EnsureDir(outDir); err != nil {
		return 0, err
	}
	removeStaleFrames(outDir)

	pageURL, err := FileURL(pagePath)
	if err != nil {
		return 0, err
	}
	log := utils.With("page", pageURL)
	log.Info("renderer open", "frames", frameCount, "fps", d.Opts.FPS)

	sess, err := d.Browser.Open(ctx, pageURL, amps)
	if err != nil {
		return 0, fmt.Errorf("open renderer: %w", err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			log.Warn("renderer close failed", "error", cerr)
		}
	}()

	readyCtx, cancel := context.WithTimeout(ctx, d.Opts.ReadyTimeout)
	err = sess.WaitReady(readyCtx, d.Opts.RootSelector)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	if err := d.sleep(ctx, d.Opts.SettleDelay); err != nil {
		return 0, err
	}

	first, err := sess.Screenshot(ctx)
	if err == nil && len(first) > 0 {
		err = os.WriteFile(filepath.Join(outDir, FrameName(0)), first, 0o644)
	}
	if err != nil || len(first) == 0 {
		d.dumpPage(ctx, sess, outDir)
		log.Warn("first frame empty; capture abandoned", "error", err)
		return 0, nil
	}
	captured := 1

	interval := time.Second / time.Duration(max(d.Opts.FPS, 1))
	for i := 1; i < frameCount; i++ {
		if err := sess.AdvanceFrame(ctx); err != nil {
			log.Debug("advance hook failed", "frame", i, "error", err)
		}
		if err := d.sleep(ctx, interval); err != nil {
			return captured, err
		}
		img, err := sess.Screenshot(ctx)
		if err != nil || len(img) == 0 {
			log.Warn("frame skipped", "frame", i, "error", err)
			continue
		}
		if err := os.WriteFile(filepath.Join(outDir, FrameName(captured)), img, 0o644); err != nil {
			log.Warn("frame write failed", "frame", i, "error", err)
			continue
		}
		captured++
	}
	log.Info("frames captured", "count", captured, "dir", outDir)
	return captured, nil
}

func (d *Driver) sleep(ctx context.Context, dur time.Duration) error {
	if d.Sleep == nil {
		return sleepContext(ctx, dur)
	}
	return d.Sleep(ctx, dur)
}

func (d *Driver) dumpPage(ctx context.Context, sess Session, outDir string) {
	src, err := sess.PageSource(ctx)
	if err != nil {
		utils.Warn("page dump failed", "error", err)
		return
	}
	path := filepath.Join(outDir, DebugDumpFile)
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		utils.Warn("page dump write failed", "path", path, "error", err)
		return
	}
	utils.Info("page dump written", "path", path)
}

func removeStaleFrames(dir string) {
	matches, _ := filepath.Glob(filepath.Join(dir, "frame_*.png"))
	for _, m := range matches {
		_ = os.Remove(m)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// fitAmplitudes returns exactly n values. An empty envelope becomes constant;
// a short one is padded with its last value and a long one is truncated.
func fitAmplitudes(amps []float32, n int, fallback float64) []float32 {
	if len(amps) == 0 {
		return envelope.Constant(n, fallback)
	}
	if len(amps) == n {
		return amps
	}
	utils.Warn("envelope length differs from frame count", "envelope", len(amps), "frames", n)
	out := make([]float32, n)
	copied := copy(out, amps)
	for i := copied; i < n; i++ {
		out[i] = amps[len(amps)-1]
	}
	return out
}
