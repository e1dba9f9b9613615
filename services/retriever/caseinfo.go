package retriever

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"docketfetch/lib/htmlutil"
	"docketfetch/lib/textutil"
)

// caseNumberSelectors cover the ids the portal has used for the case
// number label across revisions.
var caseNumberSelectors = []string{
	`span#ctl00_ContentPlaceHolder1_lblCaseNumber`,
	`span#lblCaseNumber`,
	`span[id*="CaseNumber"]`,
	`span[id*="CaseNo"]`,
}

var (
	titleCaseRegex = regexp.MustCompile(`(?i)case\s*(?:no\.?|number)?\s*:?\s*(\d{4}-\d+|\d+)`)
	digitRunRegex  = regexp.MustCompile(`\d+`)
	sevenRunRegex  = regexp.MustCompile(`\d{7}`)
)

// CaseNumber determines the case number for the page, trying the
// labelled span, then the document title, then the page URL. The result
// is normalized to a single digit run: a seven digit run wins when one
// is present, otherwise the last run in the raw value is used, so
// "2023-456789" yields "456789" rather than a concatenation of the year
// and the sequence.
func CaseNumber(doc *goquery.Document, pageURL string) string {
	for _, s := range caseNumberSelectors {
		sel := doc.Find(s).First()
		if sel.Length() == 0 {
			continue
		}
		if n := normalizeCaseNumber(htmlutil.CleanText(sel)); n != "" {
			return n
		}
	}

	title := htmlutil.CleanText(doc.Find("title").First())
	if m := titleCaseRegex.FindStringSubmatch(title); m != nil {
		if n := normalizeCaseNumber(m[1]); n != "" {
			return n
		}
	}

	if u, err := url.Parse(pageURL); err == nil {
		for _, key := range []string{"CaseNumber", "casenumber", "Case"} {
			if v := u.Query().Get(key); v != "" {
				if n := normalizeCaseNumber(v); n != "" {
					return n
				}
			}
		}
	}

	return "unknown_case"
}

func normalizeCaseNumber(raw string) string {
	if m := sevenRunRegex.FindString(raw); m != "" {
		return m
	}
	runs := digitRunRegex.FindAllString(raw, -1)
	if len(runs) == 0 {
		return ""
	}
	return runs[len(runs)-1]
}

// defendantSelectors mirror the ladder used for the case number.
var defendantSelectors = []string{
	`span#ctl00_ContentPlaceHolder1_lblDefendantName`,
	`span#lblDefendantName`,
	`span[id*="Defendant"]`,
}

var (
	defendantTextRegex = regexp.MustCompile(`(?i)\bdefendant\s*:\s*([A-Za-z][A-Za-z'.\-]*(?:[ ,]+[A-Za-z][A-Za-z'.\-]*){0,3})`)
	titleVsRegex       = regexp.MustCompile(`(?i)\bvs\.?\s+([A-Za-z][A-Za-z'.\-]*(?:[ ,]+[A-Za-z][A-Za-z'.\-]*){0,3})`)
)

// DefendantName returns the defendant as "Last, First", falling back to
// "Unknown, Unknown" when the page carries no usable name. The ladder
// runs labelled span, grid label cell, free text "Defendant: ..." and
// finally the "... vs. ..." style page title.
func DefendantName(doc *goquery.Document) string {
	for _, s := range defendantSelectors {
		sel := doc.Find(s).First()
		if sel.Length() == 0 {
			continue
		}
		if n := formatDefendant(htmlutil.CleanText(sel)); n != "" {
			return n
		}
	}

	// Grid fallback: the cell following a "Defendant" label cell.
	var name string
	doc.Find("td, th").EachWithBreak(func(_ int, cell *goquery.Selection) bool {
		if !textutil.MatchName(htmlutil.CleanText(cell), []string{"defendant"}) {
			return true
		}
		name = formatDefendant(htmlutil.CleanText(cell.Next()))
		return name == ""
	})
	if name != "" {
		return name
	}

	if m := defendantTextRegex.FindStringSubmatch(htmlutil.CleanText(doc.Find("body"))); m != nil {
		if n := formatDefendant(m[1]); n != "" {
			return n
		}
	}

	title := htmlutil.CleanText(doc.Find("title").First())
	if m := titleVsRegex.FindStringSubmatch(title); m != nil {
		if n := formatDefendant(m[1]); n != "" {
			return n
		}
	}

	return "Unknown, Unknown"
}

func formatDefendant(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "defendant") {
		return ""
	}
	if strings.Contains(raw, ",") {
		return raw
	}
	parts := strings.Fields(raw)
	if len(parts) < 2 {
		return ""
	}
	last := parts[len(parts)-1]
	first := strings.Join(parts[:len(parts)-1], " ")
	return last + ", " + first
}

// CaseFolder is the directory name downloads for this case live under:
// the defendant followed by the case number, sanitized for the
// filesystem, e.g. "Doe, John 2023123".
func CaseFolder(doc *goquery.Document, pageURL string) string {
	return textutil.SanitizeFilename(DefendantName(doc)+" "+CaseNumber(doc, pageURL), 80)
}
