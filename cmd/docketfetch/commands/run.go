package commands

import (
	"database/sql"
	"errors"
	"os"
	"strings"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"docketfetch/lib/browser"
	"docketfetch/lib/configutil"
	"docketfetch/lib/osutil"
	"docketfetch/lib/serviceutil"
	"docketfetch/services/retriever"
	"docketfetch/services/retriever/db"
)

var (
	runConfig *string
	runDebug  *bool
)

func init() {
	runConfig = runCmd.Flags().String("config", "config.json5", "The retriever config file to load.")
	runDebug = runCmd.Flags().Bool("debug", false, "Process only the first and last document of each page.")
	rootCmd.AddCommand(runCmd)
}

func loadConfig(path string) retriever.Config {
	cfg, err := configutil.ReadConfig[retriever.Config](path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		serviceutil.Fatal("failed to read config", err)
	}
	cfg.ApplyDefaults()
	return cfg
}

func openHistory(path string) *db.Queries {
	sqlite, err := sql.Open("sqlite", path)
	if err != nil {
		serviceutil.Fatal("failed to open download history", err)
	}
	_, err = sqlite.Exec(db.Schema)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		serviceutil.Fatal("failed to initialize download history", err)
	}
	return db.New(sqlite)
}

var runCmd = &cobra.Command{
	Use:   "run [--config <path/to/config.json5>] [--debug]",
	Short: "Runs the retrieval pipeline against the open case details tab.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(*runConfig)
		if *runDebug {
			cfg.Debug = true
		}

		ctx := osutil.SignalContext(cmd.Context())

		b, err := browser.Connect(ctx, cfg.DevtoolsURL)
		if err != nil {
			serviceutil.Fatal("failed to connect to browser devtools", err)
		}
		caseTab, err := b.AttachMatching(ctx, cfg.CaseURLMatch)
		if err != nil {
			serviceutil.Fatal("failed to find the case details tab", err)
		}

		history := openHistory(cfg.HistoryDB)
		service := retriever.NewService(cfg, retriever.BrowserOpener{Browser: b}, history)
		if err := service.Run(ctx, caseTab); err != nil {
			serviceutil.Fatal("retrieval run failed", err)
		}
	},
}
