package feed

import (
	"context"
	"time"

	"github.com/chromedp/chromedp"
)

const (
	// browserTimeout bounds a single page render.
	browserTimeout = 60 * time.Second
)

// Browser renders JS-heavy pages headlessly and extracts their visible text.
// Listing pages on modern career sites render client-side only; a plain GET
// returns an empty shell.
type Browser struct {
	timeout time.Duration
}

// NewBrowser creates a headless browser wrapper.
func NewBrowser() *Browser {
	return &Browser{timeout: browserTimeout}
}

// SetTimeout overrides the default render timeout.
func (b *Browser) SetTimeout(d time.Duration) {
	b.timeout = d
}

// FetchText navigates to url and returns the rendered body text.
func (b *Browser) FetchText(ctx context.Context, url string) (string, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-sync", true),
		chromedp.WindowSize(1280, 900),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()
	timeoutCtx, timeoutCancel := context.WithTimeout(taskCtx, b.timeout)
	defer timeoutCancel()

	var text string
	err := chromedp.Run(timeoutCtx,
		chromedp.Navigate(url),
		// Give client-side frameworks a moment to populate the listing DOM.
		chromedp.Sleep(2*time.Second),
		chromedp.Text("body", &text, chromedp.ByQuery),
	)
	if err != nil {
		return "", err
	}
	return text, nil
}
