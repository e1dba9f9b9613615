package retriever

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindResourceURL(t *testing.T) {
	const viewerURL = "https://www.hcdistrictclerk.com/Edocs/Public/ViewFilePage.aspx?GetDocumentImage=123"

	for _, tt := range []struct {
		name string
		html string
		want string
		ok   bool
	}{
		{
			name: "native pdf viewer means the page itself",
			html: `<html><body><pdf-viewer src="about:blank"></pdf-viewer></body></html>`,
			want: viewerURL,
			ok:   true,
		},
		{
			name: "nested viewer frame",
			html: `<html><body><iframe src="/Edocs/Public/ViewFilePage.aspx?inner=1"></iframe></body></html>`,
			want: "https://www.hcdistrictclerk.com/Edocs/Public/ViewFilePage.aspx?inner=1",
			ok:   true,
		},
		{
			name: "pdf iframe",
			html: `<html><body><iframe src="/files/doc.pdf"></iframe></body></html>`,
			want: "https://www.hcdistrictclerk.com/files/doc.pdf",
			ok:   true,
		},
		{
			name: "embed element",
			html: `<html><body><embed src="https://cdn.example.com/GetFile?id=9"></embed></body></html>`,
			want: "https://cdn.example.com/GetFile?id=9",
			ok:   true,
		},
		{
			name: "object element",
			html: `<html><body><object data="/files/scan.pdf"></object></body></html>`,
			want: "https://www.hcdistrictclerk.com/files/scan.pdf",
			ok:   true,
		},
		{
			name: "anchor",
			html: `<html><body><a href="/download/GetFile?doc=5">download</a></body></html>`,
			want: "https://www.hcdistrictclerk.com/download/GetFile?doc=5",
			ok:   true,
		},
		{
			name: "raw markup scan",
			html: `<html><body><script>var u = "https://files.example.com/a.pdf?sig=x";</script></body></html>`,
			want: "https://files.example.com/a.pdf?sig=x",
			ok:   true,
		},
		{
			name: "javascript pseudo links are rejected",
			html: `<html><body><a href="javascript:openPdf()" download>x</a></body></html>`,
			ok:   false,
		},
		{
			name: "nothing found",
			html: `<html><body><p>loading...</p></body></html>`,
			ok:   false,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FindResourceURL(viewerURL, tt.html)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestFindResourceURLPrefersViewerFrame(t *testing.T) {
	html := `<html><body>
	  <iframe src="/Edocs/Public/ViewFilePage.aspx?inner=1"></iframe>
	  <a href="/other/file.pdf">alternate</a>
	</body></html>`
	got, ok := FindResourceURL("https://www.hcdistrictclerk.com/viewer", html)
	require.True(t, ok)
	require.Equal(t, "https://www.hcdistrictclerk.com/Edocs/Public/ViewFilePage.aspx?inner=1", got)
}
