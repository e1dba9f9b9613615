package htmlutil

import (
	"bytes"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

var innerWhitespace = regexp.MustCompile(`\s\s+`)

func removeNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) {
			newStr.WriteRune(c)
		}
	}
	return newStr.String()
}

// CleanText returns the visible text of a selection with non-printable
// characters removed and inner whitespace collapsed.
func CleanText(sel *goquery.Selection) string {
	var raw strings.Builder
	for _, node := range sel.Nodes {
		raw.WriteString(GetText(node))
	}
	text := removeNonPrintable(raw.String())
	text = strings.Trim(text, " \t\n")
	return innerWhitespace.ReplaceAllString(text, " ")
}

// RowCells returns the text of every td in the row containing sel,
// in document order. Empty when sel has no tr ancestor.
func RowCells(sel *goquery.Selection) []string {
	row := sel.Closest("tr")
	if row.Length() == 0 {
		return nil
	}
	var cells []string
	row.Find("td").Each(func(_ int, td *goquery.Selection) {
		cells = append(cells, CleanText(td))
	})
	return cells
}
