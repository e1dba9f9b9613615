package restyutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

type memoryOutput struct {
	mu      sync.Mutex
	entries map[string]string
}

func (m *memoryOutput) Write(id string, contents string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[id] = contents
}

func serveText(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Served-By", "yes")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDumpExchanges(t *testing.T) {
	srv := serveText(t, "hello world")
	out := &memoryOutput{entries: map[string]string{}}

	client := resty.New()
	DumpExchanges(client, out)

	_, err := client.R().Get(srv.URL)
	require.NoError(t, err)

	require.Len(t, out.entries, 1)
	dump := out.entries["1"]
	require.Contains(t, dump, "GET "+srv.URL)
	require.Contains(t, dump, "X-Served-By: yes")
	require.Contains(t, dump, "hello world")
}

func TestDumpExchangesStreamedBody(t *testing.T) {
	srv := serveText(t, "streamed payload")
	out := &memoryOutput{entries: map[string]string{}}

	client := resty.New()
	DumpExchanges(client, out)

	res, err := client.R().SetDoNotParseResponse(true).Get(srv.URL)
	require.NoError(t, err)
	body := res.RawBody()
	_, err = io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, body.Close())

	// The streamed body is not buffered; the dump still records the
	// exchange and says why the body is absent.
	require.Len(t, out.entries, 1)
	dump := out.entries["1"]
	require.Contains(t, dump, "200 "+srv.URL)
	require.Contains(t, dump, "(body not captured: response streamed to caller)")
}
