package render

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"replybot/internal/utils"
)

const hideWebdriver = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`

// ChromeBrowser launches a local Chrome through the DevTools protocol.
type ChromeBrowser struct {
	Headless bool
	Width    int
	Height   int
	ExecPath string
}

func (b ChromeBrowser) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", b.Headless),
		chromedp.WindowSize(max(b.Width, 1), max(b.Height, 1)),
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("lang", "en-US"),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("allow-file-access-from-files", true),
	)
	if b.Headless {
		opts = append(opts,
			chromedp.Flag("use-gl", "swiftshader"),
			chromedp.Flag("enable-unsafe-swiftshader", true),
			chromedp.DisableGPU,
		)
	}
	if b.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.ExecPath))
	}
	return opts
}

// AmplitudeScript assigns amps to window.MOUTH_AMPS.
func AmplitudeScript(amps []float32) (string, error) {
	data, err := json.Marshal(amps)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("window.MOUTH_AMPS = %s;", data), nil
}

// Open starts a browser, registers the amplitude script for every new
// document and navigates to pageURL.
func (b ChromeBrowser) Open(ctx context.Context, pageURL string, amps []float32) (Session, error) {
	script, err := AmplitudeScript(amps)
	if err != nil {
		return nil, fmt.Errorf("encode amplitudes: %w", err)
	}

	// The browser lives until Close, not until ctx is done.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), b.allocatorOptions()...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithErrorf(utils.Logf))
	s := &chromeSession{tabCtx: tabCtx, cancelTab: cancelTab, cancelAlloc: cancelAlloc}

	// The first Run starts the browser and must use the tab context itself,
	// otherwise a deadline on ctx would kill the browser when it fires.
	if err := chromedp.Run(tabCtx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	err = s.run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			for _, src := range []string{hideWebdriver, script} {
				if _, err := page.AddScriptToEvaluateOnNewDocument(src).Do(ctx); err != nil {
					return err
				}
			}
			return nil
		}),
		chromedp.Navigate(pageURL),
	)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("navigate %s: %w", pageURL, err)
	}
	return s, nil
}

type chromeSession struct {
	tabCtx      context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
}

// run executes actions in the tab, bounded by ctx's deadline and cancellation.
func (s *chromeSession) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.tabCtx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (s *chromeSession) WaitReady(ctx context.Context, selector string) error {
	var complete bool
	return s.run(ctx,
		chromedp.Poll(`document.readyState === "complete"`, &complete),
		chromedp.WaitReady(selector, chromedp.ByQuery),
	)
}

func (s *chromeSession) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *chromeSession) AdvanceFrame(ctx context.Context) error {
	var ok bool
	return s.run(ctx, chromedp.Evaluate(`(window.advanceFrame && window.advanceFrame(), true)`, &ok))
}

func (s *chromeSession) PageSource(ctx context.Context) (string, error) {
	var src string
	err := s.run(ctx, chromedp.Evaluate(`document.documentElement ? document.documentElement.outerHTML : ""`, &src))
	return src, err
}

func (s *chromeSession) Close() error {
	err := chromedp.Cancel(s.tabCtx)
	s.cancelTab()
	s.cancelAlloc()
	return err
}
