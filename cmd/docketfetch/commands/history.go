package commands

import (
	"context"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"docketfetch/lib/serviceutil"
)

var (
	historyConfig *string
	historyLimit  *int64
)

func init() {
	historyConfig = historyCmd.Flags().String("config", "config.json5", "The retriever config file to load.")
	historyLimit = historyCmd.Flags().Int64("limit", 50, "Maximum number of entries to show.")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history [--limit <n>]",
	Short: "Shows the most recent entries in the download history.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(*historyConfig)
		queries := openHistory(cfg.HistoryDB)

		downloads, err := queries.ListRecent(context.Background(), *historyLimit)
		if err != nil {
			serviceutil.Fatal("failed to read download history", err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Downloaded", "Case", "Document ID", "Title", "Path"})
		for _, d := range downloads {
			t.AppendRow(table.Row{
				time.Unix(d.DownloadedAt, 0).Format(time.DateTime),
				d.CaseFolder,
				d.DocumentID,
				d.Title,
				d.Path,
			})
		}
		t.Render()
	},
}
