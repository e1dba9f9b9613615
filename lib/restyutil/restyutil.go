// Package restyutil dumps full request/response exchanges from a resty
// client for offline inspection. It exists for debug runs: when a portal
// page stops yielding documents, the captured wire traffic shows why.
package restyutil

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
)

// ExchangeOutput receives one formatted exchange per completed request.
type ExchangeOutput interface {
	Write(id string, contents string)
}

// FilesystemOutput writes each exchange to its own file under a
// directory, which is recreated empty on construction.
type FilesystemOutput struct {
	directory string
}

func NewFilesystemOutput(dir string) (FilesystemOutput, error) {
	if err := os.RemoveAll(dir); err != nil {
		return FilesystemOutput{}, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return FilesystemOutput{}, err
	}
	return FilesystemOutput{directory: dir}, nil
}

func (o FilesystemOutput) Write(id string, contents string) {
	err := os.WriteFile(filepath.Join(o.directory, id), []byte(contents), 0o600)
	if err != nil {
		slog.Warn("failed to write exchange dump", "id", id, "err", err)
	}
}

// DumpExchanges hooks a resty client so every completed response is
// formatted and handed to output. A nil output is a no-op.
func DumpExchanges(client *resty.Client, output ExchangeOutput) {
	if output == nil {
		return
	}
	var counter uint64
	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		id := strconv.FormatUint(atomic.AddUint64(&counter, 1), 10)
		output.Write(id, formatExchange(res))
		slog.Debug("captured http exchange",
			"id", id, "method", res.Request.Method, "url", res.Request.URL)
		return nil
	})
}

const exchangeTemplate = `---- REQUEST ----

%s %s

%s

---- RESPONSE ----

%s %s

%s

%s`

func formatExchange(res *resty.Response) string {
	responseURL := res.Request.URL
	if redirected, err := res.RawResponse.Location(); err == nil {
		responseURL = redirected.String()
	}
	// Streamed responses (SetDoNotParseResponse) leave the buffered body
	// empty; the dump says so instead of printing nothing.
	body := res.String()
	if body == "" {
		body = "(body not captured: response streamed to caller)"
	}
	return fmt.Sprintf(
		exchangeTemplate,
		res.Request.Method, res.Request.URL,
		formatHeaders(res.Request.RawRequest.Header),
		strconv.Itoa(res.StatusCode()), responseURL,
		formatHeaders(res.Header()),
		body,
	)
}

func formatHeaders(headers http.Header) string {
	var out strings.Builder
	for k, vals := range headers {
		for _, v := range vals {
			fmt.Fprintf(&out, "%s: %s\n", k, v)
		}
	}
	return strings.TrimSuffix(out.String(), "\n")
}
