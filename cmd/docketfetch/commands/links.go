package commands

import (
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"docketfetch/lib/browser"
	"docketfetch/lib/osutil"
	"docketfetch/lib/serviceutil"
	"docketfetch/services/retriever"
)

var linksConfig *string

func init() {
	linksConfig = linksCmd.Flags().String("config", "config.json5", "The retriever config file to load.")
	rootCmd.AddCommand(linksCmd)
}

var linksCmd = &cobra.Command{
	Use:   "links",
	Short: "Lists the document links discovered on the open case details tab without downloading anything.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(*linksConfig)
		ctx := osutil.SignalContext(cmd.Context())

		b, err := browser.Connect(ctx, cfg.DevtoolsURL)
		if err != nil {
			serviceutil.Fatal("failed to connect to browser devtools", err)
		}
		caseTab, err := b.AttachMatching(ctx, cfg.CaseURLMatch)
		if err != nil {
			serviceutil.Fatal("failed to find the case details tab", err)
		}

		url, err := caseTab.URL(ctx)
		if err != nil {
			serviceutil.Fatal("failed to read tab location", err)
		}
		html, err := caseTab.HTML(ctx)
		if err != nil {
			serviceutil.Fatal("failed to read case page", err)
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			serviceutil.Fatal("failed to parse case page", err)
		}

		links := retriever.FindDocumentLinks(doc)

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetTitle("Case %s (%s)", retriever.CaseNumber(doc, url), retriever.DefendantName(doc))
		t.AppendHeader(table.Row{"Document ID", "Title", "Viewer URL"})
		for _, d := range links {
			t.AppendRow(table.Row{d.ID, d.Title, retriever.ViewerURL(d)})
		}
		t.Render()
	},
}
