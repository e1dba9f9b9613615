package retriever

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/codes"

	"docketfetch/lib/restyutil"
	"docketfetch/lib/telemetry"
	"docketfetch/services/retriever/db"
)

var pdfMagic = []byte("%PDF")

// Downloader fetches extracted document resources over the portal
// session's cookies and lands them under a per-case folder. A sqlite
// history table backs cross-run duplicate detection.
type Downloader struct {
	client  *resty.Client
	baseDir string
	history *db.Queries
	dedupe  bool
}

// NewDownloader creates a downloader rooted at baseDir. history may be
// nil, which disables the cross-run duplicate layer.
func NewDownloader(baseDir string, history *db.Queries) *Downloader {
	client := resty.New()
	client.SetTimeout(30 * time.Second)
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy("hcdistrictclerk.com", "www.hcdistrictclerk.com"))
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	telemetry.InstrumentResty(client, "services/retriever:downloader")

	return &Downloader{
		client:  client,
		baseDir: baseDir,
		history: history,
		dedupe:  true,
	}
}

// SetDedupe toggles the id-based duplicate layers, the on-disk folder
// scan and the history lookup. Recording downloads is unaffected.
func (d *Downloader) SetDedupe(enabled bool) {
	d.dedupe = enabled
}

// DumpExchangesTo captures every fetch this downloader performs into
// per-exchange files under dir. Used by debug runs.
func (d *Downloader) DumpExchangesTo(dir string) error {
	out, err := restyutil.NewFilesystemOutput(dir)
	if err != nil {
		return err
	}
	restyutil.DumpExchanges(d.client, out)
	return nil
}

// Save fetches resourceURL and writes it as
// <baseDir>/<caseFolder>/<id> <title>.pdf, uniquifying the name if the
// file already exists. Documents whose id already appears in the
// download history are discarded instead of saved.
func (d *Downloader) Save(ctx context.Context, desc DocumentDescriptor, caseFolder, resourceURL string, cookies []*http.Cookie) (string, bool, error) {
	ctx, span := tracer.Start(ctx, "Downloader.Save")
	defer span.End()

	resp, err := d.client.R().
		SetContext(ctx).
		SetCookies(cookies).
		SetDoNotParseResponse(true).
		Get(resourceURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", false, fmt.Errorf("%w: %v", ErrDownloadInterrupted, err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != http.StatusOK {
		err := fmt.Errorf("%w: resource returned status %d", ErrDownloadInterrupted, resp.StatusCode())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", false, err
	}

	dir := filepath.Join(d.baseDir, caseFolder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, err
	}
	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return "", false, err
	}
	defer os.Remove(tmp.Name())

	head := make([]byte, 4)
	n, _ := io.ReadFull(body, head)
	if n < len(pdfMagic) || !bytes.Equal(head[:len(pdfMagic)], pdfMagic) {
		tmp.Close()
		err := fmt.Errorf("%w: resource is not a document file", ErrExtractionNotFound)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", false, err
	}
	if _, err := tmp.Write(head[:n]); err != nil {
		tmp.Close()
		return "", false, err
	}
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		err = fmt.Errorf("%w: %v", ErrDownloadInterrupted, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", false, err
	}
	if err := tmp.Close(); err != nil {
		return "", false, err
	}

	// Late duplicate check, covering a racing download of the same
	// document that finished while this one was in flight.
	if d.dedupe && d.history != nil && desc.ID != "unknown" {
		prior, err := d.history.ListByDocumentID(ctx, desc.ID)
		if err != nil {
			span.RecordError(err)
		} else if len(prior) > 0 {
			slog.Debug("discarding duplicate download",
				"document_id", desc.ID, "existing", prior[0].Path)
			return prior[0].Path, true, nil
		}
	}

	path := uniquePath(filepath.Join(dir, documentFilename(desc)))
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", false, err
	}

	if d.history != nil {
		err := d.history.RecordDownload(ctx, db.RecordDownloadParams{
			DocumentID:   desc.ID,
			Title:        desc.Title,
			CaseFolder:   caseFolder,
			Path:         path,
			DownloadedAt: time.Now().Unix(),
		})
		if err != nil {
			span.RecordError(err)
			slog.Warn("failed to record download in history", "err", err)
		}
	}
	return path, false, nil
}

// Exists reports whether a document with this id was already saved for
// the case, checking both the on-disk folder and the download history.
// With dedupe off it always reports false.
func (d *Downloader) Exists(ctx context.Context, caseFolder, id string) (ExistsResult, error) {
	if !d.dedupe || id == "" || id == "unknown" {
		return ExistsResult{}, nil
	}

	var result ExistsResult
	entries, err := os.ReadDir(filepath.Join(d.baseDir, caseFolder))
	if err != nil && !os.IsNotExist(err) {
		return ExistsResult{}, err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, id+" ") || strings.HasPrefix(name, id+".") || name == id {
			result.Exists = true
			result.Matching = append(result.Matching, name)
		}
	}

	if d.history != nil {
		prior, err := d.history.ListByDocumentID(ctx, id)
		if err != nil {
			return result, err
		}
		for _, p := range prior {
			result.Exists = true
			result.Matching = append(result.Matching, p.Path)
		}
	}
	return result, nil
}

// HistoryCount reports how many downloads the history holds for the
// case, zero when no history is attached.
func (d *Downloader) HistoryCount(ctx context.Context, caseFolder string) (int64, error) {
	if d.history == nil {
		return 0, nil
	}
	return d.history.CountForCase(ctx, caseFolder)
}

// documentFilename renders the save-time name. Links with no id fall
// back to a timestamped name so they never collide.
func documentFilename(desc DocumentDescriptor) string {
	if desc.ID == "unknown" {
		return fmt.Sprintf("document_%d.pdf", time.Now().UnixMilli())
	}
	title := desc.Title
	if title == "" {
		title = "Document_" + desc.ID
	}
	return fmt.Sprintf("%s %s.pdf", desc.ID, title)
}

func uniquePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, n, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
