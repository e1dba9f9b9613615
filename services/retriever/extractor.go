package retriever

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var rawPDFURLRegex = regexp.MustCompile(`https?://[^\s"'<>]+\.pdf[^\s"'<>]*`)

// FindResourceURL locates the downloadable document inside a rendered
// viewer page. Extraction methods run in order of reliability: the
// browser's native PDF viewer, the portal's nested ViewFilePage frame,
// generic frames and plugin elements, plain anchors, and finally a raw
// scan of the markup.
func FindResourceURL(pageURL, html string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false
	}

	// The native viewer means the tab URL itself is the document.
	if doc.Find("pdf-viewer").Length() > 0 {
		return pageURL, true
	}
	if emb := doc.Find(`embed[type="application/pdf"]`).First(); emb.Length() > 0 {
		if v, _ := emb.Attr("src"); v == "" || v == "about:blank" || v == pageURL {
			return pageURL, true
		}
	}

	if u, ok := frameResource(doc, pageURL, `iframe[src*="ViewFilePage"]`); ok {
		return u, true
	}
	for _, probe := range []struct{ sel, attr string }{
		{`iframe[src*=".pdf"]`, "src"},
		{`iframe[src*="GetFile"]`, "src"},
		{`embed[src*=".pdf"]`, "src"},
		{`embed[src*="GetFile"]`, "src"},
		{`object[data*=".pdf"]`, "data"},
		{`object[data*="GetFile"]`, "data"},
	} {
		sel := doc.Find(probe.sel).First()
		if v, exists := sel.Attr(probe.attr); exists {
			if u, ok := resolveResource(pageURL, v); ok {
				return u, true
			}
		}
	}

	var anchorURL string
	doc.Find(`a[href*=".pdf"], a[href*="GetFile"], a[download]`).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if u, ok := resolveResource(pageURL, href); ok {
			anchorURL = u
			return false
		}
		return true
	})
	if anchorURL != "" {
		return anchorURL, true
	}

	if m := rawPDFURLRegex.FindString(html); m != "" {
		return m, true
	}
	return "", false
}

func frameResource(doc *goquery.Document, pageURL, selector string) (string, bool) {
	src, exists := doc.Find(selector).First().Attr("src")
	if !exists {
		return "", false
	}
	return resolveResource(pageURL, src)
}

// resolveResource turns a possibly relative element reference into an
// absolute URL, rejecting javascript: pseudo links and empty values.
func resolveResource(pageURL, ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" || ref == "#" || strings.HasPrefix(strings.ToLower(ref), "javascript:") {
		return "", false
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return ref, true
	}
	u, err := base.Parse(ref)
	if err != nil {
		return "", false
	}
	return u.String(), true
}
