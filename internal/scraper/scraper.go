// Package scraper drives a headless browser through the permit site: sign in,
// run the search, walk the paginated results, and persist each permit detail
// page it can reach.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"permitwatch/internal/clock"
	"permitwatch/internal/config"
	"permitwatch/internal/metrics"
	"permitwatch/internal/progress"
	"permitwatch/internal/store"
)

// Config bounds one scrape and carries the site coordinates.
type Config struct {
	LoginURL    string
	SearchURL   string
	Username    string
	Password    string
	SearchQuery string
	Selectors   config.SelectorConfig
	MaxPages    int
	MaxItems    int
	PagePause   time.Duration
	NavTimeout  time.Duration
	StepTimeout time.Duration
}

// CoordResolver resolves permit coordinates from page content or an address.
type CoordResolver interface {
	Resolve(ctx context.Context, pageHTML, address string) (lat, lon float64, ok bool)
}

// ThumbnailFetcher builds and stores a permit thumbnail, returning its
// artifact key.
type ThumbnailFetcher interface {
	FetchThumbnail(ctx context.Context, permitNumber string, lat, lon float64) (string, error)
}

// PermitWriter is the slice of the record store the scraper needs.
type PermitWriter interface {
	UpsertPermit(ctx context.Context, p store.Permit) error
}

// Result summarizes one scrape.
type Result struct {
	Pages  int
	Links  int
	Items  int
	Errors int
}

// Scraper walks the permit site and persists what it finds.
type Scraper struct {
	cfg      Config
	browser  Browser
	resolver CoordResolver
	thumbs   ThumbnailFetcher
	permits  PermitWriter
	clock    clock.Clock
	emitter  progress.Emitter
	logger   *zap.Logger
}

// NewScraper assembles a Scraper. A nil emitter discards progress events and
// a nil clock falls back to the system clock.
func NewScraper(
	cfg Config,
	browser Browser,
	resolver CoordResolver,
	thumbs ThumbnailFetcher,
	permits PermitWriter,
	clk clock.Clock,
	emitter progress.Emitter,
	logger *zap.Logger,
) *Scraper {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if emitter == nil {
		emitter = progress.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scraper{
		cfg:      cfg,
		browser:  browser,
		resolver: resolver,
		thumbs:   thumbs,
		permits:  permits,
		clock:    clk,
		emitter:  emitter,
		logger:   logger,
	}
}

// Run executes one scrape. A failed login degrades to an anonymous session
// and failed search controls degrade to reading the page as-is, because the
// public search still returns results either way. Only an unreachable search
// page aborts. Item failures are isolated; the error count lands in the
// Result.
func (s *Scraper) Run(ctx context.Context, runID uuid.UUID) (Result, error) {
	var res Result

	if err := s.login(ctx); err != nil {
		s.logger.Warn("login failed, continuing with anonymous session", zap.Error(err))
	}
	if err := s.navigate(ctx, s.cfg.SearchURL); err != nil {
		return res, fmt.Errorf("open search page: %w", err)
	}
	if err := s.search(ctx); err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		s.logger.Warn("search controls failed, collecting results as-is", zap.Error(err))
	}

	links, err := s.collectLinks(ctx, runID, &res)
	if err != nil {
		return res, err
	}
	res.Links = len(links)

	s.visitAll(ctx, runID, links, &res)
	return res, ctx.Err()
}

func (s *Scraper) login(ctx context.Context) error {
	if s.cfg.Username == "" || s.cfg.Password == "" {
		s.logger.Info("no credentials configured, scraping anonymously")
		return nil
	}
	if err := s.navigate(ctx, s.cfg.LoginURL); err != nil {
		return err
	}
	doc, err := s.currentDoc(ctx)
	if err != nil {
		return err
	}
	if err := s.fillFirst(ctx, doc, s.cfg.Selectors.UsernameFields, s.cfg.Username); err != nil {
		return fmt.Errorf("username field: %w", err)
	}
	if err := s.fillFirst(ctx, doc, s.cfg.Selectors.PasswordFields, s.cfg.Password); err != nil {
		return fmt.Errorf("password field: %w", err)
	}
	if err := s.clickAny(ctx, doc, s.cfg.Selectors.SubmitControls, s.cfg.Selectors.SubmitTexts); err != nil {
		return fmt.Errorf("submit sign-in: %w", err)
	}
	return s.waitReady(ctx)
}

func (s *Scraper) search(ctx context.Context) error {
	if err := s.fill(ctx, s.cfg.Selectors.SearchField, s.cfg.SearchQuery); err != nil {
		return fmt.Errorf("search field: %w", err)
	}
	if err := s.click(ctx, s.cfg.Selectors.SearchButton); err != nil {
		return fmt.Errorf("search button: %w", err)
	}
	return s.waitReady(ctx)
}

// collectLinks walks the paginated result list and returns the unique detail
// links in discovery order, deduplicated by href across the whole run.
func (s *Scraper) collectLinks(ctx context.Context, runID uuid.UUID, res *Result) ([]Link, error) {
	seen := make(map[string]struct{})
	var links []Link

	for page := 1; page <= s.cfg.MaxPages; page++ {
		state, err := s.pageState(ctx)
		if err != nil {
			return links, fmt.Errorf("read results page %d: %w", page, err)
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(state.HTML))
		if err != nil {
			return links, fmt.Errorf("parse results page %d: %w", page, err)
		}

		added := 0
		for _, link := range CollectLinks(doc, state.URL, s.cfg.Selectors.ResultsLinks) {
			if _, dup := seen[link.Href]; dup {
				continue
			}
			seen[link.Href] = struct{}{}
			links = append(links, link)
			added++
		}
		res.Pages = page
		metrics.ObservePage()
		metrics.ObserveLinks(added)
		s.emit(progress.Event{
			RunID: progress.UUIDToBytes(runID),
			Stage: progress.StagePageDone,
			Page:  page,
			Links: added,
		})

		target, ok := FindNextTarget(doc, s.cfg.Selectors.NextControls, s.cfg.Selectors.NextTexts)
		if !ok {
			break
		}
		if err := s.clickNext(ctx, target); err != nil {
			s.logger.Debug("pagination stopped", zap.Int("page", page), zap.Error(err))
			break
		}
		if err := s.waitReady(ctx); err != nil {
			return links, err
		}
		if err := s.pause(ctx); err != nil {
			return links, err
		}
	}
	return links, nil
}

func (s *Scraper) visitAll(ctx context.Context, runID uuid.UUID, links []Link, res *Result) {
	limit := len(links)
	if s.cfg.MaxItems > 0 && limit > s.cfg.MaxItems {
		limit = s.cfg.MaxItems
	}
	for _, link := range links[:limit] {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		permitNumber, err := s.visitDetail(ctx, link)
		evt := progress.Event{
			RunID:        progress.UUIDToBytes(runID),
			PermitNumber: permitNumber,
			URL:          link.Href,
			Dur:          time.Since(start),
		}
		if err != nil {
			res.Errors++
			metrics.ObserveItem("error")
			evt.Stage = progress.StageItemError
			evt.Note = err.Error()
			s.emit(evt)
			s.logger.Warn("permit item failed", zap.String("url", link.Href), zap.Error(err))
			continue
		}
		res.Items++
		metrics.ObserveItem("ok")
		evt.Stage = progress.StageItemDone
		s.emit(evt)
	}
}

// visitDetail loads one detail page, resolves coordinates, generates the
// thumbnail when possible, and upserts the permit. A page without a permit
// number falls back to the result link's label.
func (s *Scraper) visitDetail(ctx context.Context, link Link) (string, error) {
	if err := s.navigate(ctx, link.Href); err != nil {
		return "", err
	}
	state, err := s.pageState(ctx)
	if err != nil {
		return "", err
	}
	d, err := ParseDetails(state.HTML, s.cfg.Selectors)
	if err != nil {
		return "", fmt.Errorf("parse detail page: %w", err)
	}
	if d.PermitNumber == "" {
		d.PermitNumber = link.Label
	}
	if d.PermitNumber == "" {
		return "", errors.New("no permit number on page or link")
	}

	p := store.Permit{
		PermitNumber: d.PermitNumber,
		Address:      d.Address,
		Details: map[string]any{
			"permit_number": d.PermitNumber,
			"address":       d.Address,
			"owner":         d.Owner,
			"raw_text":      d.RawText,
		},
		ScrapedAt: s.clock.Now(),
	}

	if lat, lon, ok := s.resolver.Resolve(ctx, state.HTML, d.Address); ok {
		p.Lat, p.Lon = &lat, &lon
		key, thumbErr := s.thumbs.FetchThumbnail(ctx, d.PermitNumber, lat, lon)
		if thumbErr != nil {
			s.logger.Warn("thumbnail failed",
				zap.String("permit", d.PermitNumber), zap.Error(thumbErr))
		} else {
			p.ThumbnailPath = key
		}
	}

	if err := s.permits.UpsertPermit(ctx, p); err != nil {
		return d.PermitNumber, fmt.Errorf("upsert permit %s: %w", d.PermitNumber, err)
	}
	return d.PermitNumber, nil
}

// fillFirst types value into the first candidate selector present in the top
// document. When none matches there, each candidate is retried with a search
// that descends into embedded frames, where some deployments nest the form.
func (s *Scraper) fillFirst(ctx context.Context, doc *goquery.Document, candidates []string, value string) error {
	for _, selector := range candidates {
		if doc.Find(selector).Length() == 0 {
			continue
		}
		return s.fill(ctx, selector, value)
	}
	var lastErr error
	for _, selector := range candidates {
		stepCtx, cancel := s.step(ctx)
		err := s.browser.FillInFrames(stepCtx, selector, value)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if lastErr != nil {
		return fmt.Errorf("no frame matched any of %v: %w", candidates, lastErr)
	}
	return fmt.Errorf("no element matched any of %v", candidates)
}

// clickAny tries the selector controls in the top document, then inside
// embedded frames, then falls back to matching controls by visible text.
func (s *Scraper) clickAny(ctx context.Context, doc *goquery.Document, controls, texts []string) error {
	for _, selector := range controls {
		if doc.Find(selector).Length() == 0 {
			continue
		}
		return s.click(ctx, selector)
	}
	var lastErr error
	for _, selector := range controls {
		stepCtx, cancel := s.step(ctx)
		err := s.browser.ClickInFrames(stepCtx, selector)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	for _, text := range texts {
		stepCtx, cancel := s.step(ctx)
		err := s.browser.ClickText(stepCtx, text)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if lastErr != nil {
		return lastErr
	}
	return errors.New("no clickable control configured")
}

func (s *Scraper) clickNext(ctx context.Context, target NextTarget) error {
	if target.Selector != "" {
		return s.click(ctx, target.Selector)
	}
	stepCtx, cancel := s.step(ctx)
	defer cancel()
	return s.browser.ClickText(stepCtx, target.Text)
}

func (s *Scraper) currentDoc(ctx context.Context) (*goquery.Document, error) {
	state, err := s.pageState(ctx)
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromReader(strings.NewReader(state.HTML))
}

func (s *Scraper) navigate(ctx context.Context, url string) error {
	navCtx, cancel := s.nav(ctx)
	defer cancel()
	return s.browser.Navigate(navCtx, url)
}

func (s *Scraper) waitReady(ctx context.Context) error {
	navCtx, cancel := s.nav(ctx)
	defer cancel()
	return s.browser.WaitReady(navCtx)
}

func (s *Scraper) fill(ctx context.Context, selector, value string) error {
	stepCtx, cancel := s.step(ctx)
	defer cancel()
	return s.browser.Fill(stepCtx, selector, value)
}

func (s *Scraper) click(ctx context.Context, selector string) error {
	stepCtx, cancel := s.step(ctx)
	defer cancel()
	return s.browser.Click(stepCtx, selector)
}

func (s *Scraper) pageState(ctx context.Context) (PageState, error) {
	stepCtx, cancel := s.step(ctx)
	defer cancel()
	return s.browser.Page(stepCtx)
}

func (s *Scraper) nav(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.NavTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.NavTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *Scraper) step(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.StepTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.StepTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *Scraper) pause(ctx context.Context) error {
	if s.cfg.PagePause <= 0 {
		return nil
	}
	timer := time.NewTimer(s.cfg.PagePause)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scraper) emit(evt progress.Event) {
	evt.TS = s.clock.Now()
	s.emitter.Emit(evt)
}
