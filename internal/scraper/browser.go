package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// PageState is a snapshot of the browser's current page.
type PageState struct {
	URL  string
	HTML string
}

// Browser is the minimal set of interactions the scraper needs from a real
// browser: navigate, type, click, and read back the rendered DOM. The permit
// site builds its result list with postbacks, so a plain HTTP client cannot
// drive it.
type Browser interface {
	Navigate(ctx context.Context, url string) error
	// WaitReady blocks until the current document has settled, e.g. after a
	// click triggered a postback navigation.
	WaitReady(ctx context.Context) error
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	// FillInFrames and ClickInFrames search every frame of the page, not just
	// the top document. The login form on some deployments lives in an iframe.
	FillInFrames(ctx context.Context, selector, value string) error
	ClickInFrames(ctx context.Context, selector string) error
	// ClickText clicks the first control whose visible label contains text.
	ClickText(ctx context.Context, text string) error
	Page(ctx context.Context) (PageState, error)
	Close() error
}

// ChromeConfig controls the headless browser session.
type ChromeConfig struct {
	Headless  bool
	UserAgent string
}

// ChromeBrowser drives one persistent Chrome tab via chromedp. A single tab
// holds the login session cookies across every step of a run.
type ChromeBrowser struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewChromeBrowser launches Chrome and opens the tab used for the whole run.
func NewChromeBrowser(cfg ChromeConfig) (*ChromeBrowser, error) {
	opts := chromedp.DefaultExecAllocatorOptions[:]
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	opts = append(opts,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	warmup := chromedp.Tasks{network.Enable()}
	if cfg.UserAgent != "" {
		warmup = append(warmup, emulation.SetUserAgentOverride(cfg.UserAgent))
	}
	if err := chromedp.Run(browserCtx, warmup); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}
	return &ChromeBrowser{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// Close tears down the tab and the browser process.
func (b *ChromeBrowser) Close() error {
	b.browserCancel()
	b.allocCancel()
	return nil
}

func (b *ChromeBrowser) Navigate(ctx context.Context, url string) error {
	return b.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500*time.Millisecond),
	)
}

func (b *ChromeBrowser) WaitReady(ctx context.Context) error {
	return b.run(ctx,
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500*time.Millisecond),
	)
}

func (b *ChromeBrowser) Fill(ctx context.Context, selector, value string) error {
	return b.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

func (b *ChromeBrowser) Click(ctx context.Context, selector string) error {
	return b.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
}

// FillInFrames is Fill with a DOM search that descends into same-process
// child frames, where ByQuery only sees the top document.
func (b *ChromeBrowser) FillInFrames(ctx context.Context, selector, value string) error {
	return b.run(ctx,
		chromedp.WaitVisible(selector, chromedp.BySearch),
		chromedp.Clear(selector, chromedp.BySearch),
		chromedp.SendKeys(selector, value, chromedp.BySearch),
	)
}

func (b *ChromeBrowser) ClickInFrames(ctx context.Context, selector string) error {
	return b.run(ctx,
		chromedp.WaitVisible(selector, chromedp.BySearch),
		chromedp.Click(selector, chromedp.BySearch),
	)
}

func (b *ChromeBrowser) ClickText(ctx context.Context, text string) error {
	return b.run(ctx, chromedp.Click(textClickExpr(text), chromedp.BySearch))
}

func (b *ChromeBrowser) Page(ctx context.Context) (PageState, error) {
	var state PageState
	err := b.run(ctx,
		chromedp.Location(&state.URL),
		chromedp.OuterHTML("html", &state.HTML, chromedp.ByQuery),
	)
	return state, err
}

// run executes actions against the persistent tab while honoring the caller's
// context. Canceling the derived context interrupts the actions without
// closing the tab, so the login session survives a step timeout.
func (b *ChromeBrowser) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(b.browserCtx)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

// textClickExpr builds an XPath union matching links, buttons, and submit
// inputs whose visible label contains text.
func textClickExpr(text string) string {
	return fmt.Sprintf(
		`//*[self::a or self::button][contains(normalize-space(.), %q)] | //input[(@type="submit" or @type="button") and contains(@value, %q)]`,
		text, text,
	)
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
