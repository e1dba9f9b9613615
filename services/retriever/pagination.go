package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"docketfetch/lib/ratelimit"
)

// CaseTab is the slice of tab behavior pagination needs from the case
// details tab.
type CaseTab interface {
	URL(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	Eval(ctx context.Context, expr string, out any) error
}

// nextControlSelectors is the discovery ladder for the next-page
// control, exact pager markup first.
var nextControlSelectors = []string{
	`a.PagerHyperlinkStyle[href*="__doPostBack"][title*="Next"]`,
	`a[href*="__doPostBack"][title*="Next"]`,
	`a[title="Next Page"]`,
	`a.PagerHyperlinkStyle[href*="__doPostBack"]`,
	`input[type="submit"][value*="Next"]`,
}

var postbackRegex = regexp.MustCompile(`__doPostBack\(\s*'([^']*)'\s*,\s*'([^']*)'\s*\)`)

type nextControl struct {
	selector string
	target   string
	argument string
}

// findNextControl locates a usable next-page control, rejecting disabled
// ones. ok is false when the last page has been reached.
func findNextControl(doc *goquery.Document) (nextControl, bool) {
	for _, selector := range nextControlSelectors {
		var (
			ctl   nextControl
			found bool
		)
		doc.Find(selector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			if _, disabled := sel.Attr("disabled"); disabled {
				return true
			}
			if class, _ := sel.Attr("class"); strings.Contains(class, "aspNetDisabled") {
				return true
			}
			ctl = nextControl{selector: selector}
			href, _ := sel.Attr("href")
			if m := postbackRegex.FindStringSubmatch(href); m != nil {
				ctl.target, ctl.argument = m[1], m[2]
			}
			found = true
			return false
		})
		if found {
			return ctl, true
		}
	}
	return nextControl{}, false
}

// PageSnapshot captures enough of a page to tell whether pagination
// actually changed it. WebForms postbacks keep the URL stable, so the
// document listing itself participates in the comparison.
type PageSnapshot struct {
	URL           string
	DocumentCount int
	FirstDocument string
}

func takeSnapshot(doc *goquery.Document, url string) PageSnapshot {
	snap := PageSnapshot{URL: url}
	links := FindDocumentLinks(doc)
	snap.DocumentCount = len(links)
	if len(links) > 0 {
		snap.FirstDocument = links[0].ID + "|" + links[0].RetrievalParams
	}
	return snap
}

type PaginatorOptions struct {
	// MinInterval is the floor between page advances, independent of the
	// request limiter.
	MinInterval time.Duration
	// Retries bounds confirmation polls after the trigger fires.
	Retries int
	// ConfirmDelay is the base wait before checking whether the page
	// changed; it ramps linearly per attempt.
	ConfirmDelay time.Duration
}

func (o *PaginatorOptions) applyDefaults() {
	if o.MinInterval <= 0 {
		o.MinInterval = 10 * time.Second
	}
	if o.Retries <= 0 {
		o.Retries = 3
	}
	if o.ConfirmDelay <= 0 {
		o.ConfirmDelay = 2 * time.Second
	}
}

// Paginator advances the case tab through the portal's paged document
// grid via the WebForms postback mechanism, pacing itself under the
// shared request limiter.
type Paginator struct {
	limiter     *ratelimit.Limiter
	opts        PaginatorOptions
	lastAdvance time.Time
}

func NewPaginator(limiter *ratelimit.Limiter, opts PaginatorOptions) *Paginator {
	opts.applyDefaults()
	return &Paginator{limiter: limiter, opts: opts}
}

// Advance moves the case tab to the next page and returns the parsed new
// page. ErrNoMorePages means the grid is exhausted; ErrNavigationStalled
// means the trigger fired but the page never changed.
func (p *Paginator) Advance(ctx context.Context, tab CaseTab) (*goquery.Document, error) {
	ctx, span := tracer.Start(ctx, "Paginator.Advance")
	defer span.End()

	url, err := tab.URL(ctx)
	if err != nil {
		return nil, err
	}
	html, err := tab.HTML(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	ctl, ok := findNextControl(doc)
	if !ok {
		return nil, ErrNoMorePages
	}
	prev := takeSnapshot(doc, url)

	if err := p.pace(ctx); err != nil {
		return nil, err
	}

	// The postback fires exactly once per limiter stamp. A slow server
	// gets more polls, never a second navigation.
	if err := p.trigger(ctx, tab, ctl); err != nil {
		return nil, fmt.Errorf("triggering next page: %w", err)
	}

	for attempt := 0; attempt < p.opts.Retries; attempt++ {
		delay := p.opts.ConfirmDelay * time.Duration(attempt+1)
		if err := sleepCtx(ctx, delay); err != nil {
			return nil, err
		}

		next, snap, err := p.currentPage(ctx, tab)
		if err != nil {
			slog.Debug("pagination confirm poll failed", "attempt", attempt+1, "err", err)
			continue
		}
		if snap != prev {
			p.lastAdvance = time.Now()
			return next, nil
		}
	}
	return nil, ErrNavigationStalled
}

// pace blocks until both the shared limiter and the inter-page floor
// allow another portal request.
func (p *Paginator) pace(ctx context.Context) error {
	if !p.lastAdvance.IsZero() {
		if wait := p.opts.MinInterval - time.Since(p.lastAdvance); wait > 0 {
			if err := sleepCtx(ctx, wait); err != nil {
				return err
			}
		}
	}
	for !p.limiter.Allow() {
		if err := sleepCtx(ctx, p.limiter.NextSlot()+time.Second); err != nil {
			return err
		}
	}
	p.limiter.Record()
	return nil
}

func (p *Paginator) trigger(ctx context.Context, tab CaseTab, ctl nextControl) error {
	if ctl.target != "" {
		expr := fmt.Sprintf("__doPostBack(%q, %q)", ctl.target, ctl.argument)
		return tab.Eval(ctx, expr, nil)
	}
	var clicked bool
	expr := fmt.Sprintf(
		`(() => { const el = document.querySelector(%q); if (el && !el.disabled) { el.click(); return true } return false })()`,
		ctl.selector)
	if err := tab.Eval(ctx, expr, &clicked); err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("next control %q not clickable", ctl.selector)
	}
	return nil
}

func (p *Paginator) currentPage(ctx context.Context, tab CaseTab) (*goquery.Document, PageSnapshot, error) {
	url, err := tab.URL(ctx)
	if err != nil {
		return nil, PageSnapshot{}, err
	}
	html, err := tab.HTML(ctx)
	if err != nil {
		return nil, PageSnapshot{}, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, PageSnapshot{}, err
	}
	return doc, takeSnapshot(doc, url), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
