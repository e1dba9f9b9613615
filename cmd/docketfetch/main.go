package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"docketfetch/cmd/docketfetch/commands"
	"docketfetch/lib/telemetry"
)

func main() {
	telemetry.InitSlog(false)
	ctx := context.Background()

	tel, err := telemetry.SetupFromEnv(ctx, "docketfetch")
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("no telemetry.json5 found, telemetry disabled")
	} else if err != nil {
		slog.Warn("telemetry setup failed, continuing without it", "err", err)
	} else {
		// Flush batched spans before the process exits.
		defer func() {
			if err := tel.Shutdown(context.Background()); err != nil {
				slog.Warn("failed to shut down telemetry", "err", err)
			}
		}()
	}

	commands.ExecuteContext(ctx)
}
