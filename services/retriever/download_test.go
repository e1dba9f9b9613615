package retriever

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"docketfetch/lib/testutil"
	"docketfetch/services/retriever/db"
)

var testPDF = []byte("%PDF-1.4\nfake document body\n%%EOF\n")

func servePDF(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write(testPDF)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDownloaderSaveNaming(t *testing.T) {
	srv := servePDF(t)
	base := t.TempDir()
	d := NewDownloader(base, nil)

	desc := DocumentDescriptor{ID: "123456789", Title: "Motion to Dismiss"}
	path, skipped, err := d.Save(context.Background(), desc, "456789", srv.URL, nil)
	require.NoError(t, err)
	require.False(t, skipped)
	require.Equal(t, filepath.Join(base, "456789", "123456789 Motion to Dismiss.pdf"), path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, testPDF, content)
}

func TestDownloaderUniquifiesCollisions(t *testing.T) {
	srv := servePDF(t)
	base := t.TempDir()
	d := NewDownloader(base, nil)
	desc := DocumentDescriptor{ID: "123456789", Title: "Answer"}

	first, _, err := d.Save(context.Background(), desc, "456789", srv.URL, nil)
	require.NoError(t, err)
	second, _, err := d.Save(context.Background(), desc, "456789", srv.URL, nil)
	require.NoError(t, err)

	require.Equal(t, filepath.Join(base, "456789", "123456789 Answer.pdf"), first)
	require.Equal(t, filepath.Join(base, "456789", "123456789 Answer (1).pdf"), second)
}

func TestDownloaderForwardsCookies(t *testing.T) {
	var gotSession string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("ASP.NET_SessionId"); err == nil {
			gotSession = c.Value
		}
		w.Write(testPDF)
	}))
	t.Cleanup(srv.Close)

	d := NewDownloader(t.TempDir(), nil)
	cookies := []*http.Cookie{{Name: "ASP.NET_SessionId", Value: "abc123"}}
	_, _, err := d.Save(context.Background(), DocumentDescriptor{ID: "111111111", Title: "x"}, "c", srv.URL, cookies)
	require.NoError(t, err)
	require.Equal(t, "abc123", gotSession)
}

func TestDownloaderRejectsNonDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>session expired</html>"))
	}))
	t.Cleanup(srv.Close)

	d := NewDownloader(t.TempDir(), nil)
	_, _, err := d.Save(context.Background(), DocumentDescriptor{ID: "111111111", Title: "x"}, "c", srv.URL, nil)
	require.ErrorIs(t, err, ErrExtractionNotFound)
}

func TestDownloaderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	d := NewDownloader(t.TempDir(), nil)
	_, _, err := d.Save(context.Background(), DocumentDescriptor{ID: "111111111", Title: "x"}, "c", srv.URL, nil)
	require.ErrorIs(t, err, ErrDownloadInterrupted)
}

func TestDownloaderHistoryDedupe(t *testing.T) {
	result, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "retriever",
		DbSchema: db.Schema,
	})
	defer cleanup()

	srv := servePDF(t)
	d := NewDownloader(t.TempDir(), db.New(result.DB))
	desc := DocumentDescriptor{ID: "123456789", Title: "Original Petition"}

	first, skipped, err := d.Save(context.Background(), desc, "456789", srv.URL, nil)
	require.NoError(t, err)
	require.False(t, skipped)

	second, skipped, err := d.Save(context.Background(), desc, "456789", srv.URL, nil)
	require.NoError(t, err)
	require.True(t, skipped)
	require.Equal(t, first, second)

	exists, err := d.Exists(context.Background(), "456789", "123456789")
	require.NoError(t, err)
	require.True(t, exists.Exists)

	// The discarded duplicate never reached the history.
	n, err := d.HistoryCount(context.Background(), "456789")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestDownloaderDedupeOff(t *testing.T) {
	result, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "retriever",
		DbSchema: db.Schema,
	})
	defer cleanup()

	srv := servePDF(t)
	base := t.TempDir()
	dir := filepath.Join(base, "456789")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "123456789 Old Copy.pdf"), testPDF, 0o644))

	d := NewDownloader(base, db.New(result.DB))
	d.SetDedupe(false)
	desc := DocumentDescriptor{ID: "123456789", Title: "Original Petition"}

	// Neither the on-disk copy nor a history row suppresses anything.
	exists, err := d.Exists(context.Background(), "456789", "123456789")
	require.NoError(t, err)
	require.False(t, exists.Exists)

	first, skipped, err := d.Save(context.Background(), desc, "456789", srv.URL, nil)
	require.NoError(t, err)
	require.False(t, skipped)

	second, skipped, err := d.Save(context.Background(), desc, "456789", srv.URL, nil)
	require.NoError(t, err)
	require.False(t, skipped)
	require.NotEqual(t, first, second)

	exists, err = d.Exists(context.Background(), "456789", "123456789")
	require.NoError(t, err)
	require.False(t, exists.Exists)
}

func TestDownloaderExistsOnDisk(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "456789")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "123456789 Old Copy.pdf"), testPDF, 0o644))

	d := NewDownloader(base, nil)
	exists, err := d.Exists(context.Background(), "456789", "123456789")
	require.NoError(t, err)
	require.True(t, exists.Exists)
	require.Equal(t, []string{"123456789 Old Copy.pdf"}, exists.Matching)

	missing, err := d.Exists(context.Background(), "456789", "999999999")
	require.NoError(t, err)
	require.False(t, missing.Exists)
}
