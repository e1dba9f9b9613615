package retriever

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mazen160/go-random"

	"docketfetch/lib/ratelimit"
	"docketfetch/services/retriever/db"
)

// Status is a point-in-time snapshot of a run.
type Status struct {
	Running    bool      `json:"running"`
	Case       string    `json:"case"`
	Page       int       `json:"page"`
	Discovered int       `json:"discovered"`
	Downloaded int       `json:"downloaded"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"started_at"`
}

// PersistedRunState survives process restarts so an interrupted run is
// visible and its pacing settings carry over.
type PersistedRunState struct {
	Active           bool      `json:"active"`
	Case             string    `json:"case"`
	Page             int       `json:"page"`
	Processed        int       `json:"processed"`
	Debug            bool      `json:"debug"`
	BaseClickDelayMs int       `json:"base_click_delay_ms"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Service runs the full retrieval pipeline for one case tab: discover
// links, pace requests, hand each document to the coordinator, paginate,
// and stop at the guard rails.
type Service struct {
	cfg         Config
	limiter     *ratelimit.Limiter
	coordinator *Coordinator
	paginator   *Paginator

	mu     sync.Mutex
	cancel context.CancelFunc
	status Status
}

// NewService wires the pipeline. history may be nil to run without
// cross-run duplicate detection.
func NewService(cfg Config, tabs TabOpener, history *db.Queries) *Service {
	cfg.ApplyDefaults()
	limiter := ratelimit.New(cfg.RateCeiling, cfg.RateWindow())

	maxViewers := cfg.MaxViewers
	if cfg.Debug {
		maxViewers = 1
	}
	downloader := NewDownloader(cfg.DownloadDir, history)
	if cfg.DedupeStrategy == DedupeOff {
		downloader.SetDedupe(false)
	}
	if cfg.Debug {
		if err := downloader.DumpExchangesTo(filepath.Join(cfg.StateDir, "exchanges")); err != nil {
			slog.Warn("failed to enable exchange capture", "err", err)
		}
	}
	coordinator := NewCoordinator(tabs, downloader, CoordinatorOptions{
		DocumentTimeout: cfg.DocumentTimeout(),
		MaxViewers:      maxViewers,
	})
	paginator := NewPaginator(limiter, PaginatorOptions{
		MinInterval: cfg.PageInterval(),
		Retries:     cfg.PageRetries,
	})

	return &Service{
		cfg:         cfg,
		limiter:     limiter,
		coordinator: coordinator,
		paginator:   paginator,
	}
}

// Coordinator exposes the coordinator for direct dispatch, mainly from
// the CLI's one-off subcommands.
func (s *Service) Coordinator() *Coordinator { return s.coordinator }

// Status returns a copy of the current run counters.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Stop cancels a running pipeline. It is a no-op when idle.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// Run walks the case tab through every page of its document grid,
// downloading each document once. It blocks until the grid is exhausted,
// a guard rail trips, pagination stalls out, or Stop is called.
func (s *Service) Run(ctx context.Context, tab CaseTab) error {
	s.mu.Lock()
	if s.status.Running {
		s.mu.Unlock()
		return errors.New("a run is already active")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.status = Status{Running: true, StartedAt: time.Now()}
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.status.Running = false
		s.cancel = nil
		s.mu.Unlock()
		s.clearState()
	}()

	if prev, ok := s.loadState(); ok && prev.Active {
		slog.Info("previous run did not finish cleanly",
			"case", prev.Case, "page", prev.Page, "processed", prev.Processed)
	}

	ctx, span := tracer.Start(ctx, "Service.Run")
	defer span.End()

	url, err := tab.URL(ctx)
	if err != nil {
		return err
	}
	doc, _, err := s.paginator.currentPage(ctx, tab)
	if err != nil {
		return err
	}

	folder := CaseFolder(doc, url)
	defendant := DefendantName(doc)
	s.mu.Lock()
	s.status.Case = folder
	s.mu.Unlock()

	if _, err := s.coordinator.Dispatch(ctx, SetCaseFolderRequest{Name: folder, ClearSession: true}); err != nil {
		return err
	}
	slog.Info("starting document run",
		"case", folder, "defendant", defendant, "debug", s.cfg.Debug)

	processed := make(map[string]bool)
	total := 0
	for page := 1; ; page++ {
		s.mu.Lock()
		s.status.Page = page
		s.mu.Unlock()
		s.saveState(folder, page, total)

		links := FindDocumentLinks(doc)
		if s.cfg.Debug {
			links = debugSubset(links)
		}
		slog.Info("scanning page", "page", page, "documents", len(links))

		for i, d := range links {
			if err := ctx.Err(); err != nil {
				return err
			}
			if total >= s.cfg.MaxDocuments {
				slog.Warn("document guard rail reached, stopping run", "limit", s.cfg.MaxDocuments)
				return nil
			}
			s.processDocument(ctx, folder, d, processed)
			total++
			if i < len(links)-1 {
				if err := s.humanDelay(ctx); err != nil {
					return err
				}
			}
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		if page >= s.cfg.MaxPages {
			slog.Warn("page guard rail reached, stopping run", "limit", s.cfg.MaxPages)
			return nil
		}
		next, err := s.paginator.Advance(ctx, tab)
		if errors.Is(err, ErrNoMorePages) {
			break
		}
		if err != nil {
			return fmt.Errorf("advancing past page %d: %w", page, err)
		}
		doc = next
	}

	st := s.Status()
	onRecord, err := s.coordinator.downloads.HistoryCount(ctx, folder)
	if err != nil {
		slog.Warn("failed to count case history", "err", err)
	}
	slog.Info("run complete",
		"case", st.Case,
		"downloaded", st.Downloaded,
		"skipped", st.Skipped,
		"failed", st.Failed,
		"on_record", onRecord)
	return nil
}

// processDocument takes one discovered link through dedupe, pacing and
// the coordinator. Failures are counted, not fatal; one broken document
// never ends the run.
func (s *Service) processDocument(ctx context.Context, folder string, d DocumentDescriptor, processed map[string]bool) {
	s.mu.Lock()
	s.status.Discovered++
	s.mu.Unlock()

	key := d.SessionKey(folder)
	if processed[key] {
		s.count(DocumentResult{Skipped: true, Reason: "duplicate link on page"}, d)
		return
	}
	processed[key] = true

	if d.ID != "unknown" {
		rep, err := s.coordinator.Dispatch(ctx, CheckDocumentExistsRequest{ID: d.ID})
		if err == nil {
			if exists, ok := rep.(ExistsResult); ok && exists.Exists {
				s.count(DocumentResult{Skipped: true, Reason: "already downloaded"}, d)
				return
			}
		}
	}

	if err := s.pace(ctx); err != nil {
		return
	}
	if err := s.humanDelay(ctx); err != nil {
		return
	}

	rep, err := s.coordinator.Dispatch(ctx, OpenViewerRequest{Descriptor: d, URL: ViewerURL(d)})
	if err != nil {
		s.count(DocumentResult{Err: err}, d)
		return
	}
	result, ok := rep.(DocumentResult)
	if !ok {
		s.count(DocumentResult{Err: fmt.Errorf("unexpected coordinator reply %T", rep)}, d)
		return
	}
	s.count(result, d)
}

func (s *Service) count(result DocumentResult, d DocumentDescriptor) {
	s.mu.Lock()
	switch {
	case result.Downloaded:
		s.status.Downloaded++
	case result.Skipped:
		s.status.Skipped++
	default:
		s.status.Failed++
	}
	s.mu.Unlock()

	switch {
	case result.Downloaded:
		slog.Info("downloaded document", "id", d.ID, "title", d.Title, "path", result.Path, "took", result.Took)
	case result.Skipped:
		slog.Info("skipped document", "id", d.ID, "title", d.Title, "reason", result.Reason)
	default:
		slog.Error("document failed", "id", d.ID, "title", d.Title, "err", result.Err)
	}
}

// pace blocks until the shared limiter admits another portal request.
func (s *Service) pace(ctx context.Context) error {
	for !s.limiter.Allow() {
		wait := s.limiter.NextSlot() + time.Second
		slog.Info("rate ceiling reached, waiting", "wait", wait.Round(time.Second))
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
	s.limiter.Record()
	return nil
}

// humanDelay sleeps a randomized interval so the click cadence does not
// look mechanical.
func (s *Service) humanDelay(ctx context.Context) error {
	n, err := random.IntRange(s.cfg.DelayMinMs, s.cfg.DelayMaxMs)
	if err != nil {
		n = s.cfg.DelayMinMs
	}
	return sleepCtx(ctx, time.Duration(s.cfg.BaseClickDelayMs+n)*time.Millisecond)
}

// debugSubset keeps the first and last document of a page, which is
// enough to validate discovery, extraction and naming end to end.
func debugSubset(links []DocumentDescriptor) []DocumentDescriptor {
	if len(links) <= 2 {
		return links
	}
	return []DocumentDescriptor{links[0], links[len(links)-1]}
}

func (s *Service) statePath() string {
	return filepath.Join(s.cfg.StateDir, "runstate.json")
}

func (s *Service) saveState(caseFolder string, page, processed int) {
	st := PersistedRunState{
		Active:           true,
		Case:             caseFolder,
		Page:             page,
		Processed:        processed,
		Debug:            s.cfg.Debug,
		BaseClickDelayMs: s.cfg.BaseClickDelayMs,
		UpdatedAt:        time.Now(),
	}
	buf, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(s.statePath(), buf, 0o644); err != nil {
		slog.Warn("failed to persist run state", "err", err)
	}
}

func (s *Service) loadState() (PersistedRunState, bool) {
	buf, err := os.ReadFile(s.statePath())
	if err != nil {
		return PersistedRunState{}, false
	}
	var st PersistedRunState
	if err := json.Unmarshal(buf, &st); err != nil {
		return PersistedRunState{}, false
	}
	return st, true
}

func (s *Service) clearState() {
	if err := os.Remove(s.statePath()); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to clear run state", "err", err)
	}
}
