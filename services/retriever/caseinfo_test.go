package retriever

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCaseNumberFromLabel(t *testing.T) {
	doc := parsePage(t, `
<html><body>
  <span id="ctl00_ContentPlaceHolder1_lblCaseNumber">202312345</span>
</body></html>`)
	require.Equal(t, "2023123", CaseNumber(doc, ""))
}

func TestCaseNumberFromTitle(t *testing.T) {
	doc := parsePage(t, `
<html><head><title>Case 2023-456789 Details</title></head><body></body></html>`)

	// The year prefix must not bleed into the number; only the sequence
	// run is kept.
	require.Equal(t, "456789", CaseNumber(doc, ""))
}

func TestCaseNumberFromURL(t *testing.T) {
	doc := parsePage(t, `<html><body></body></html>`)
	got := CaseNumber(doc, "https://www.hcdistrictclerk.com/Edocs/Public/CaseDetails.aspx?CaseNumber=0456789")
	require.Equal(t, "0456789", got)
}

func TestCaseNumberUnknown(t *testing.T) {
	doc := parsePage(t, `<html><head><title>Search Results</title></head><body></body></html>`)
	require.Equal(t, "unknown_case", CaseNumber(doc, "https://example.com/page"))
}

func TestDefendantName(t *testing.T) {
	for _, tt := range []struct {
		name string
		html string
		want string
	}{
		{
			name: "labelled span already formatted",
			html: `<span id="lblDefendantName">DOE, JOHN</span>`,
			want: "DOE, JOHN",
		},
		{
			name: "labelled span first last",
			html: `<span id="lblDefendantName">John Doe</span>`,
			want: "Doe, John",
		},
		{
			name: "grid label cell",
			html: `<table><tr><td>Defendant</td><td>SMITH, JANE</td></tr></table>`,
			want: "SMITH, JANE",
		},
		{
			name: "free text label",
			html: `<div>Defendant: SMITH, JANE</div>`,
			want: "SMITH, JANE",
		},
		{
			name: "free text label first last",
			html: `<div>Status: Active</div> <div>Defendant: Jane Smith</div>`,
			want: "Smith, Jane",
		},
		{
			name: "missing",
			html: `<div>nothing here</div>`,
			want: "Unknown, Unknown",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			doc := parsePage(t, "<html><body>"+tt.html+"</body></html>")
			require.Equal(t, tt.want, DefendantName(doc))
		})
	}
}

func TestDefendantNameFromTitle(t *testing.T) {
	doc := parsePage(t, `
<html><head><title>The State of Texas vs. DOE, JOHN - Case Details</title></head><body></body></html>`)
	require.Equal(t, "DOE, JOHN", DefendantName(doc))
}

func TestCaseFolder(t *testing.T) {
	doc := parsePage(t, `
<html><body>
  <span id="lblCaseNumber">202312345</span>
  <span id="lblDefendantName">John Doe</span>
</body></html>`)
	require.Equal(t, "Doe, John 2023123", CaseFolder(doc, ""))
}

func TestCaseFolderUnknownDefendant(t *testing.T) {
	doc := parsePage(t, `
<html><head><title>Case 2023-456789 Details</title></head><body></body></html>`)
	require.Equal(t, "Unknown, Unknown 456789", CaseFolder(doc, ""))
}
