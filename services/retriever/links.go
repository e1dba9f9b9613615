package retriever

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"docketfetch/lib/htmlutil"
	"docketfetch/lib/textutil"
)

const viewerBaseURL = "https://www.hcdistrictclerk.com/Edocs/Public/ViewFilePage.aspx"

// documentLinkSelectors is a ladder from the exact markup the portal
// serves today down to looser shapes, so a cosmetic markup change
// degrades discovery instead of zeroing it.
var documentLinkSelectors = []string{
	`a.dcoLink[href*="OpenImageViewerConf"]`,
	`a[href*="OpenImageViewerConf"]`,
	`a[onclick*="OpenImageViewerConf"]`,
	`a[href*="ViewFilePage.aspx"]`,
}

var documentIDRegex = regexp.MustCompile(`\d{8,}`)

// FindDocumentLinks scans a case details document for viewer links and
// returns one descriptor per link, in DOM order. Repeated links to the
// same document are kept: the session-key check downstream turns them
// into visible skips instead of silently collapsing them here.
func FindDocumentLinks(doc *goquery.Document) []DocumentDescriptor {
	var sel *goquery.Selection
	for _, s := range documentLinkSelectors {
		sel = doc.Find(s)
		if sel.Length() > 0 {
			break
		}
	}
	if sel == nil || sel.Length() == 0 {
		return nil
	}

	var out []DocumentDescriptor
	sel.Each(func(_ int, link *goquery.Selection) {
		d, ok := extractDocumentInfo(link)
		if !ok {
			return
		}
		out = append(out, d)
	})
	return out
}

// extractDocumentInfo pulls the document id, a usable title and the
// viewer parameters out of one link element.
func extractDocumentInfo(link *goquery.Selection) (DocumentDescriptor, bool) {
	href, _ := link.Attr("href")
	onclick, _ := link.Attr("onclick")
	call := href
	if !strings.Contains(call, "OpenImageViewerConf") {
		call = onclick
	}

	params, ok := parseViewerParams(call)
	if !ok {
		// A plain viewer href still works, its query string is the params.
		if i := strings.Index(href, "ViewFilePage.aspx?"); i >= 0 {
			params = href[i+len("ViewFilePage.aspx?"):]
			ok = true
		}
	}
	if !ok {
		return DocumentDescriptor{}, false
	}

	text := htmlutil.CleanText(link)
	id := "unknown"
	for _, candidate := range []string{text, href, onclick, params} {
		if m := documentIDRegex.FindString(candidate); m != "" {
			id = m
			break
		}
	}

	title := documentTitle(link, text, id)
	return DocumentDescriptor{ID: id, Title: title, RetrievalParams: params}, true
}

func documentTitle(link *goquery.Selection, text, id string) string {
	raw, _ := link.Attr("title")
	if raw == "" && text != "" && text != id {
		raw = text
	}
	if raw == "" {
		// Sibling cells in the same grid row usually carry the document
		// description when the link itself is bare.
		for _, cell := range htmlutil.RowCells(link) {
			if cell == "" || cell == text || documentIDRegex.MatchString(cell) {
				continue
			}
			raw = cell
			break
		}
	}
	raw = textutil.StripTrailingDate(raw)
	raw = textutil.SanitizeFilename(raw, 80)
	if raw == "" {
		raw = fmt.Sprintf("Document_%s", id)
	}
	return raw
}

// parseViewerParams extracts the first argument of an
// OpenImageViewerConf(...) call. The argument list is split at top-level
// commas only, honoring quotes and nested parens, because the query
// string itself may contain encoded commas.
func parseViewerParams(s string) (string, bool) {
	i := strings.Index(s, "OpenImageViewerConf")
	if i < 0 {
		return "", false
	}
	s = s[i:]
	open := strings.IndexByte(s, '(')
	if open < 0 {
		return "", false
	}
	s = s[open+1:]

	var (
		depth int
		quote byte
		arg   strings.Builder
	)
	for j := 0; j < len(s); j++ {
		c := s[j]
		switch {
		case quote != 0:
			if c == quote && (j == 0 || s[j-1] != '\\') {
				quote = 0
			} else {
				arg.WriteByte(c)
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '(':
			depth++
			arg.WriteByte(c)
		case c == ')':
			if depth == 0 {
				return cleanViewerParams(arg.String())
			}
			depth--
			arg.WriteByte(c)
		case c == ',' && depth == 0:
			return cleanViewerParams(arg.String())
		default:
			arg.WriteByte(c)
		}
	}
	return "", false
}

func cleanViewerParams(s string) (string, bool) {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `'"`)
	if s == "" {
		return "", false
	}
	return s, true
}

// ViewerURL builds the standalone viewer page address for a document.
func ViewerURL(d DocumentDescriptor) string {
	return viewerBaseURL + "?" + d.RetrievalParams
}
