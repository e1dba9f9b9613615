package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"docketfetch/lib/browser"
)

// ViewerTab is the slice of browser tab behavior the coordinator needs.
// *browser.Tab satisfies it; tests substitute fakes.
type ViewerTab interface {
	ID() string
	WaitReady(ctx context.Context) error
	URL(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	Cookies(ctx context.Context) ([]*http.Cookie, error)
	Gone() <-chan struct{}
	Close(ctx context.Context) error
}

// TabOpener opens viewer tabs.
type TabOpener interface {
	OpenTab(ctx context.Context, url string) (ViewerTab, error)
}

// BrowserOpener adapts lib/browser to the TabOpener interface.
type BrowserOpener struct {
	Browser *browser.Browser
}

func (o BrowserOpener) OpenTab(ctx context.Context, url string) (ViewerTab, error) {
	return o.Browser.OpenTab(ctx, url)
}

type CoordinatorOptions struct {
	// DocumentTimeout bounds how long one viewer gets to produce a
	// resource before it is written off.
	DocumentTimeout time.Duration
	// MaxViewers caps concurrently open viewer tabs.
	MaxViewers int
	// ScanRetries and ScanInterval control re-probing a viewer whose
	// document renders late.
	ScanRetries  int
	ScanInterval time.Duration
}

func (o *CoordinatorOptions) applyDefaults() {
	if o.DocumentTimeout <= 0 {
		o.DocumentTimeout = 30 * time.Second
	}
	if o.MaxViewers <= 0 {
		o.MaxViewers = 1
	}
	if o.ScanRetries <= 0 {
		o.ScanRetries = 3
	}
	if o.ScanInterval <= 0 {
		o.ScanInterval = 2 * time.Second
	}
}

// Coordinator owns viewer tab lifecycle and download execution. All
// interaction goes through Dispatch with one of the Request types; the
// page loop never touches tabs or the downloader directly.
type Coordinator struct {
	tabs      TabOpener
	downloads *Downloader
	opts      CoordinatorOptions
	slots     chan struct{}

	mu          sync.Mutex
	caseFolder  string
	sessionKeys map[string]bool
	pending     map[string]*pendingDocument
}

type pendingDocument struct {
	resolved bool
	report   chan extractionReport
}

type extractionReport struct {
	succeeded   bool
	resourceURL string
	errText     string
	cookies     []*http.Cookie
}

func NewCoordinator(tabs TabOpener, downloads *Downloader, opts CoordinatorOptions) *Coordinator {
	opts.applyDefaults()
	return &Coordinator{
		tabs:        tabs,
		downloads:   downloads,
		opts:        opts,
		slots:       make(chan struct{}, opts.MaxViewers),
		caseFolder:  "unknown_case",
		sessionKeys: make(map[string]bool),
		pending:     make(map[string]*pendingDocument),
	}
}

// Dispatch executes a coordinator request. The reply type depends on the
// request: CheckDocumentExistsRequest yields ExistsResult,
// OpenViewerRequest yields DocumentResult, the rest yield nil. A request
// type outside the known set is an error, never a silent no-op.
func (c *Coordinator) Dispatch(ctx context.Context, req Request) (any, error) {
	switch r := req.(type) {
	case SetCaseFolderRequest:
		c.setCaseFolder(r)
		return nil, nil
	case CheckDocumentExistsRequest:
		c.mu.Lock()
		folder := c.caseFolder
		c.mu.Unlock()
		return c.downloads.Exists(ctx, folder, r.ID)
	case OpenViewerRequest:
		return c.openViewer(ctx, r), nil
	case ReportExtractionRequest:
		c.resolvePending(r.TabID, extractionReport{
			succeeded:   r.Succeeded,
			resourceURL: r.ResourceURL,
			errText:     r.Error,
		})
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownRequest, req)
	}
}

func (c *Coordinator) setCaseFolder(r SetCaseFolderRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.caseFolder = r.Name
	if r.ClearSession {
		c.sessionKeys = make(map[string]bool)
	}
}

func (c *Coordinator) openViewer(ctx context.Context, r OpenViewerRequest) (result DocumentResult) {
	ctx, span := tracer.Start(ctx, "Coordinator.openViewer")
	defer span.End()
	span.SetAttributes(attribute.String("document.id", r.Descriptor.ID))

	start := time.Now()
	result = DocumentResult{Descriptor: r.Descriptor}
	defer func() { result.Took = time.Since(start) }()

	c.mu.Lock()
	folder := c.caseFolder
	key := r.Descriptor.SessionKey(folder)
	if c.sessionKeys[key] {
		c.mu.Unlock()
		result.Skipped = true
		result.Reason = "already handled this session"
		return result
	}
	c.mu.Unlock()

	select {
	case c.slots <- struct{}{}:
	case <-ctx.Done():
		result.Err = ctx.Err()
		return result
	}
	defer func() { <-c.slots }()

	tab, err := c.tabs.OpenTab(ctx, r.URL)
	if err != nil {
		result.Err = fmt.Errorf("%w: %v", ErrTabCreationFailed, err)
		span.RecordError(result.Err)
		return result
	}

	pend := &pendingDocument{
		report: make(chan extractionReport, 1),
	}
	c.mu.Lock()
	c.pending[tab.ID()] = pend
	c.mu.Unlock()

	scanCtx, cancelScan := context.WithCancel(ctx)
	go c.scanViewer(scanCtx, tab)

	timer := time.NewTimer(c.opts.DocumentTimeout)
	defer func() {
		timer.Stop()
		cancelScan()
		c.mu.Lock()
		delete(c.pending, tab.ID())
		c.mu.Unlock()
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tab.Close(closeCtx); err != nil {
			slog.Debug("failed to close viewer tab", "tab", tab.ID(), "err", err)
		}
	}()

	select {
	case rep := <-pend.report:
		if !rep.succeeded {
			msg := rep.errText
			if msg == "" {
				msg = "extraction failed"
			}
			result.Err = fmt.Errorf("%w: %s", ErrExtractionNotFound, msg)
			span.RecordError(result.Err)
			return result
		}
		path, duplicate, err := c.downloads.Save(ctx, r.Descriptor, folder, rep.resourceURL, rep.cookies)
		if err != nil {
			result.Err = err
			span.RecordError(err)
			return result
		}
		c.mu.Lock()
		c.sessionKeys[key] = true
		c.mu.Unlock()
		result.Path = path
		if duplicate {
			result.Skipped = true
			result.Reason = "already downloaded previously"
		} else {
			result.Downloaded = true
		}
		return result
	case <-tab.Gone():
		result.Err = fmt.Errorf("%w: viewer tab closed", ErrDocumentTimeout)
		return result
	case <-timer.C:
		result.Err = ErrDocumentTimeout
		return result
	case <-ctx.Done():
		result.Err = ctx.Err()
		return result
	}
}

// scanViewer waits for the viewer to settle, then probes it for the
// document resource, retrying for content that renders late. The outcome
// travels through the same reporting path external probers use, so a
// pending document resolves at most once no matter who reports first.
func (c *Coordinator) scanViewer(ctx context.Context, tab ViewerTab) {
	if err := tab.WaitReady(ctx); err != nil {
		c.resolvePending(tab.ID(), extractionReport{errText: "viewer never finished loading: " + err.Error()})
		return
	}

	for attempt := 0; attempt < c.opts.ScanRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.opts.ScanInterval):
			case <-ctx.Done():
				return
			}
		}
		pageURL, err := tab.URL(ctx)
		if err != nil {
			continue
		}
		html, err := tab.HTML(ctx)
		if err != nil {
			continue
		}
		if resourceURL, ok := FindResourceURL(pageURL, html); ok {
			cookies, err := tab.Cookies(ctx)
			if err != nil {
				slog.Warn("failed to read viewer cookies", "tab", tab.ID(), "err", err)
			}
			c.resolvePending(tab.ID(), extractionReport{
				succeeded:   true,
				resourceURL: resourceURL,
				cookies:     cookies,
			})
			return
		}
	}
	c.resolvePending(tab.ID(), extractionReport{errText: "no document resource found"})
}

// resolvePending delivers a report for the tab's pending document.
// Reports after the first, or for tabs with nothing pending, are
// dropped.
func (c *Coordinator) resolvePending(tabID string, rep extractionReport) bool {
	c.mu.Lock()
	pend, ok := c.pending[tabID]
	if ok && pend.resolved {
		ok = false
	}
	if ok {
		pend.resolved = true
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	pend.report <- rep
	return true
}

// PendingCount reports how many viewer tabs are awaiting extraction.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
