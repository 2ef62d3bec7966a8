// Package renderer drives the browser that renders one sub-job.
package renderer

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"

	v0 "framepipe/internal/contracts/render/v0"
	"framepipe/internal/models"
	"framepipe/internal/pkg/logger"
)

// Renderer renders the frames of one sub-job and returns once the render
// page reports completion.
type Renderer interface {
	Render(ctx context.Context, job models.SubJob) error
}

// Options configures the browser launched per sub-job.
type Options struct {
	BaseURL      string
	DoneSelector string
	Headless     bool
	WindowWidth  int
	WindowHeight int
	// BrowserPath overrides chromedp's Chrome lookup when set.
	BrowserPath string
}

// Chrome renders sub-jobs in a dedicated Chrome process per call, so
// workers never share browser state.
type Chrome struct {
	opts Options
	log  *logger.Logger
}

// NewChrome creates a Chrome renderer.
func NewChrome(opts Options, log *logger.Logger) *Chrome {
	if opts.DoneSelector == "" {
		opts.DoneSelector = v0.DefaultDoneSelector
	}
	if opts.WindowWidth <= 0 || opts.WindowHeight <= 0 {
		opts.WindowWidth, opts.WindowHeight = 400, 200
	}
	return &Chrome{opts: opts, log: log.WithComponent("renderer")}
}

func (c *Chrome) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", c.opts.Headless),
		chromedp.WindowSize(c.opts.WindowWidth, c.opts.WindowHeight),
		chromedp.Flag("use-cmd-decoder", "passthrough"),
	)
	if c.opts.BrowserPath != "" {
		opts = append(opts, chromedp.ExecPath(c.opts.BrowserPath))
	}
	return opts
}

// Render opens a fresh browser, loads the render page for job and blocks
// until the done marker appears. There is no timeout: only ctx ending
// (process shutdown) stops the wait, which also kills the browser.
func (c *Chrome) Render(ctx context.Context, job models.SubJob) error {
	target, err := v0.RenderURL(c.opts.BaseURL, job)
	if err != nil {
		return err
	}
	log := c.log.WithRenderJob(job.Scene, job.Format).WithFields(map[string]any{
		"start_frame": job.StartFrame,
		"end_frame":   job.EndFrame,
	})

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, c.allocatorOptions()...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, args ...any) {
			log.Debug("browser error", "detail", fmt.Sprintf(format, args...))
		}),
	)
	defer cancelBrowser()

	if err := chromedp.Run(browserCtx, chromedp.Navigate(target)); err != nil {
		return fmt.Errorf("navigate %s: %w", target, err)
	}
	log.Debug("render page loaded", "url", target)

	// done is closed by the page action once the marker is in the DOM.
	done := make(chan struct{})
	waitErr := make(chan error, 1)
	go func() {
		err := chromedp.Run(browserCtx,
			chromedp.WaitReady(c.opts.DoneSelector, chromedp.ByQuery),
			chromedp.ActionFunc(func(context.Context) error {
				close(done)
				return nil
			}),
		)
		if err != nil {
			waitErr <- err
		}
	}()

	select {
	case <-done:
		return nil
	case err := <-waitErr:
		return fmt.Errorf("wait for %s: %w", c.opts.DoneSelector, err)
	case <-ctx.Done():
		return ctx.Err()
	}
}
