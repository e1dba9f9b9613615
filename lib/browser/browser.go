// Package browser wraps the Chrome DevTools protocol for driving portal
// pages: attaching to the case tab, opening transient viewer tabs,
// evaluating script in page context, and harvesting session cookies for
// authenticated downloads.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/mafredri/cdp/rpcc"
)

type Browser struct {
	devtoolsURL string
	dt          *devtool.DevTools
}

// Connect points at a running Chrome instance's DevTools endpoint
// (e.g. http://127.0.0.1:9222) and verifies it responds.
func Connect(ctx context.Context, devtoolsURL string) (*Browser, error) {
	dt := devtool.New(devtoolsURL)
	_, err := dt.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("devtools endpoint %s unreachable: %w", devtoolsURL, err)
	}
	return &Browser{devtoolsURL: devtoolsURL, dt: dt}, nil
}

// OpenTab creates a new browser tab at url and attaches to it.
func (b *Browser) OpenTab(ctx context.Context, url string) (*Tab, error) {
	target, err := b.dt.CreateURL(ctx, url)
	if err != nil {
		return nil, err
	}
	tab, err := b.attach(ctx, target)
	if err != nil {
		_ = b.dt.Close(ctx, target)
		return nil, err
	}
	return tab, nil
}

// AttachMatching attaches to the first existing page target whose URL
// contains match. Used to pick up the already-open case details tab.
func (b *Browser) AttachMatching(ctx context.Context, match string) (*Tab, error) {
	targets, err := b.dt.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range targets {
		if t.Type != devtool.Page {
			continue
		}
		if match == "" || strings.Contains(t.URL, match) {
			return b.attach(ctx, t)
		}
	}
	return nil, fmt.Errorf("no open tab matching %q", match)
}

func (b *Browser) attach(ctx context.Context, target *devtool.Target) (*Tab, error) {
	conn, err := rpcc.DialContext(ctx, target.WebSocketDebuggerURL)
	if err != nil {
		return nil, err
	}
	client := cdp.NewClient(conn)
	if err := client.Page.Enable(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	if err := client.Network.Enable(ctx, nil); err != nil {
		conn.Close()
		return nil, err
	}

	tab := &Tab{
		dt:     b.dt,
		target: target,
		conn:   conn,
		client: client,
		gone:   make(chan struct{}),
	}
	go tab.monitor()
	return tab, nil
}

// Tab is an attached browser tab. The rpcc connection survives in-tab
// navigations; it drops only when the tab itself goes away.
type Tab struct {
	dt     *devtool.DevTools
	target *devtool.Target
	conn   *rpcc.Conn
	client *cdp.Client
	gone   chan struct{}
}

func (t *Tab) ID() string { return string(t.target.ID) }

// Gone is closed when the tab's connection drops, which happens when the
// tab is closed from outside this process.
func (t *Tab) Gone() <-chan struct{} { return t.gone }

// monitor watches a page event stream purely to learn when the
// connection dies.
func (t *Tab) monitor() {
	defer close(t.gone)
	stream, err := t.client.Page.LoadEventFired(context.Background())
	if err != nil {
		return
	}
	defer stream.Close()
	for {
		if _, err := stream.Recv(); err != nil {
			return
		}
	}
}

// Eval evaluates expr in the page context and unmarshals its value into
// out. Pass nil to discard the result.
func (t *Tab) Eval(ctx context.Context, expr string, out any) error {
	reply, err := t.client.Runtime.Evaluate(ctx, runtime.NewEvaluateArgs(expr).SetReturnByValue(true))
	if err != nil {
		return err
	}
	if reply.ExceptionDetails != nil {
		return fmt.Errorf("script exception: %s", reply.ExceptionDetails.Text)
	}
	if out == nil || reply.Result.Value == nil {
		return nil
	}
	return json.Unmarshal(reply.Result.Value, out)
}

// URL reports the tab's current location.
func (t *Tab) URL(ctx context.Context) (string, error) {
	var href string
	err := t.Eval(ctx, "window.location.href", &href)
	return href, err
}

// HTML returns the full serialized document.
func (t *Tab) HTML(ctx context.Context) (string, error) {
	var html string
	err := t.Eval(ctx, "document.documentElement.outerHTML", &html)
	return html, err
}

// WaitReady polls until document.readyState reaches "complete". Polling
// is used instead of the load event because attach can happen after the
// event already fired.
func (t *Tab) WaitReady(ctx context.Context) error {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		var state string
		err := t.Eval(ctx, "document.readyState", &state)
		if err == nil && state == "complete" {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.gone:
			return fmt.Errorf("tab closed while waiting for load")
		case <-ticker.C:
		}
	}
}

// Navigate loads url in this tab.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	_, err := t.client.Page.Navigate(ctx, page.NewNavigateArgs(url))
	return err
}

// Cookies returns the browser's cookies for the tab's current URL, in a
// form an http client can replay.
func (t *Tab) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	href, err := t.URL(ctx)
	if err != nil {
		return nil, err
	}
	reply, err := t.client.Network.GetCookies(ctx, &network.GetCookiesArgs{
		URLs: []string{href},
	})
	if err != nil {
		return nil, err
	}
	cookies := make([]*http.Cookie, 0, len(reply.Cookies))
	for _, c := range reply.Cookies {
		cookies = append(cookies, &http.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
		})
	}
	return cookies, nil
}

// Close detaches and closes the tab. Safe to call after the tab is
// already gone.
func (t *Tab) Close(ctx context.Context) error {
	err := t.dt.Close(ctx, t.target)
	t.conn.Close()
	if err != nil && !strings.Contains(err.Error(), "No such target") {
		return err
	}
	return nil
}
