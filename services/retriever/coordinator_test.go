package retriever

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeViewerTab struct {
	id      string
	url     string
	html    string
	cookies []*http.Cookie
	gone    chan struct{}
	// blockReady makes WaitReady hang until the context dies, simulating
	// a viewer that never settles.
	blockReady bool

	mu     sync.Mutex
	closed bool
}

func newFakeViewerTab(id, url, html string) *fakeViewerTab {
	return &fakeViewerTab{id: id, url: url, html: html, gone: make(chan struct{})}
}

func (f *fakeViewerTab) ID() string { return f.id }

func (f *fakeViewerTab) WaitReady(ctx context.Context) error {
	if f.blockReady {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (f *fakeViewerTab) URL(ctx context.Context) (string, error)  { return f.url, nil }
func (f *fakeViewerTab) HTML(ctx context.Context) (string, error) { return f.html, nil }

func (f *fakeViewerTab) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	return f.cookies, nil
}

func (f *fakeViewerTab) Gone() <-chan struct{} { return f.gone }

func (f *fakeViewerTab) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeViewerTab) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeOpener struct {
	mu     sync.Mutex
	opened []*fakeViewerTab
	make   func(url string) *fakeViewerTab
	err    error
}

func (o *fakeOpener) OpenTab(ctx context.Context, url string) (ViewerTab, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	tab := o.make(url)
	o.opened = append(o.opened, tab)
	return tab, nil
}

func (o *fakeOpener) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.opened)
}

func newTestCoordinator(t *testing.T, opener TabOpener, base string) *Coordinator {
	t.Helper()
	c := NewCoordinator(opener, NewDownloader(base, nil), CoordinatorOptions{
		DocumentTimeout: 5 * time.Second,
		ScanRetries:     1,
		ScanInterval:    time.Millisecond,
	})
	_, err := c.Dispatch(context.Background(), SetCaseFolderRequest{Name: "456789", ClearSession: true})
	require.NoError(t, err)
	return c
}

func openViewer(t *testing.T, c *Coordinator, d DocumentDescriptor) DocumentResult {
	t.Helper()
	rep, err := c.Dispatch(context.Background(), OpenViewerRequest{Descriptor: d, URL: ViewerURL(d)})
	require.NoError(t, err)
	result, ok := rep.(DocumentResult)
	require.True(t, ok)
	return result
}

func TestCoordinatorDownloadsDocument(t *testing.T) {
	srv := servePDF(t)
	viewerHTML := `<html><body><iframe src="` + srv.URL + `/GetFile?doc=1"></iframe></body></html>`
	opener := &fakeOpener{make: func(url string) *fakeViewerTab {
		return newFakeViewerTab("tab-1", url, viewerHTML)
	}}
	base := t.TempDir()
	c := newTestCoordinator(t, opener, base)

	result := openViewer(t, c, DocumentDescriptor{ID: "123456789", Title: "Motion to Dismiss"})
	require.NoError(t, result.Err)
	require.True(t, result.Downloaded)
	require.Equal(t, filepath.Join(base, "456789", "123456789 Motion to Dismiss.pdf"), result.Path)
	require.True(t, opener.opened[0].isClosed())
	require.Zero(t, c.PendingCount())
}

func TestCoordinatorSessionDedupe(t *testing.T) {
	srv := servePDF(t)
	viewerHTML := `<html><body><iframe src="` + srv.URL + `/GetFile?doc=1"></iframe></body></html>`
	opener := &fakeOpener{make: func(url string) *fakeViewerTab {
		return newFakeViewerTab("tab-1", url, viewerHTML)
	}}
	c := newTestCoordinator(t, opener, t.TempDir())
	d := DocumentDescriptor{ID: "123456789", Title: "Motion to Dismiss"}

	first := openViewer(t, c, d)
	require.True(t, first.Downloaded)

	second := openViewer(t, c, d)
	require.True(t, second.Skipped)
	require.Equal(t, 1, opener.openCount())
}

func TestCoordinatorTabCreationFailed(t *testing.T) {
	opener := &fakeOpener{err: errors.New("browser refused")}
	c := newTestCoordinator(t, opener, t.TempDir())

	result := openViewer(t, c, DocumentDescriptor{ID: "123456789", Title: "x"})
	require.ErrorIs(t, result.Err, ErrTabCreationFailed)
}

func TestCoordinatorExtractionNotFound(t *testing.T) {
	opener := &fakeOpener{make: func(url string) *fakeViewerTab {
		return newFakeViewerTab("tab-1", url, "<html><body><p>loading...</p></body></html>")
	}}
	c := newTestCoordinator(t, opener, t.TempDir())

	result := openViewer(t, c, DocumentDescriptor{ID: "123456789", Title: "x"})
	require.ErrorIs(t, result.Err, ErrExtractionNotFound)
	require.True(t, opener.opened[0].isClosed())
}

func TestCoordinatorDocumentTimeout(t *testing.T) {
	opener := &fakeOpener{make: func(url string) *fakeViewerTab {
		tab := newFakeViewerTab("tab-1", url, "")
		tab.blockReady = true
		return tab
	}}
	c := NewCoordinator(opener, NewDownloader(t.TempDir(), nil), CoordinatorOptions{
		DocumentTimeout: 50 * time.Millisecond,
	})

	result := openViewer(t, c, DocumentDescriptor{ID: "123456789", Title: "x"})
	require.ErrorIs(t, result.Err, ErrDocumentTimeout)
	require.Zero(t, c.PendingCount())
	require.True(t, opener.opened[0].isClosed())
}

func TestCoordinatorExternalReport(t *testing.T) {
	srv := servePDF(t)
	opener := &fakeOpener{make: func(url string) *fakeViewerTab {
		tab := newFakeViewerTab("tab-9", url, "")
		tab.blockReady = true
		return tab
	}}
	c := newTestCoordinator(t, opener, t.TempDir())

	done := make(chan DocumentResult, 1)
	go func() {
		done <- openViewer(t, c, DocumentDescriptor{ID: "123456789", Title: "Reported"})
	}()

	require.Eventually(t, func() bool { return c.PendingCount() == 1 },
		time.Second, 5*time.Millisecond)

	_, err := c.Dispatch(context.Background(), ReportExtractionRequest{
		TabID:       "tab-9",
		Succeeded:   true,
		ResourceURL: srv.URL + "/GetFile?doc=9",
	})
	require.NoError(t, err)

	result := <-done
	require.NoError(t, result.Err)
	require.True(t, result.Downloaded)

	// A second report for the same tab finds nothing pending and is
	// dropped rather than resolving anything twice.
	_, err = c.Dispatch(context.Background(), ReportExtractionRequest{TabID: "tab-9", Succeeded: false})
	require.NoError(t, err)
}

func TestCoordinatorTabGone(t *testing.T) {
	opener := &fakeOpener{make: func(url string) *fakeViewerTab {
		tab := newFakeViewerTab("tab-1", url, "")
		tab.blockReady = true
		return tab
	}}
	c := newTestCoordinator(t, opener, t.TempDir())

	done := make(chan DocumentResult, 1)
	go func() {
		done <- openViewer(t, c, DocumentDescriptor{ID: "123456789", Title: "x"})
	}()
	require.Eventually(t, func() bool { return opener.openCount() == 1 },
		time.Second, 5*time.Millisecond)
	close(opener.opened[0].gone)

	result := <-done
	require.ErrorIs(t, result.Err, ErrDocumentTimeout)
}

type bogusRequest struct{}

func (bogusRequest) coordinatorRequest() {}

func TestCoordinatorUnknownRequest(t *testing.T) {
	c := newTestCoordinator(t, &fakeOpener{}, t.TempDir())
	_, err := c.Dispatch(context.Background(), bogusRequest{})
	require.ErrorIs(t, err, ErrUnknownRequest)
}
