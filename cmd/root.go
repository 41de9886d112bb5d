// Package cmd implements the folio command-line interface.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/foliolabs/folio/internal/config"
	"github.com/foliolabs/folio/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "folio",
	Short: "Personal site backend: content embedding and grounded chat",
	Long: `folio serves the personal-site backend API: a content embedding
index over PostgreSQL/pgvector and a retrieval-grounded chat assistant
backed by Gemini.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// bootstrap loads .env (best effort), the config, and the logger.
func bootstrap() (*config.Config, *slog.Logger, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(log.Config{
		Level: parseLevel(cfg.LogLevel),
		JSON:  cfg.LogJSON,
	})
	return cfg, logger, nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
