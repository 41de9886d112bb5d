package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/foliolabs/folio/db"
	"github.com/foliolabs/folio/internal/config"
	"github.com/foliolabs/folio/internal/content"
	"github.com/foliolabs/folio/internal/embed"
	"github.com/foliolabs/folio/internal/gemini"
	"github.com/foliolabs/folio/internal/index"
	"github.com/foliolabs/folio/internal/postgres"
)

var syncCmd = &cobra.Command{
	Use:   "sync [type id]",
	Short: "Re-chunk and re-embed content into the vector index",
	Long: `Without arguments, sync sweeps every entity of every type. With a
type and id (for example "sync project 42"), only that entity is
re-indexed.`,
	Args: cobra.RangeArgs(0, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd.Context(), args)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [type]",
	Short: "Show per-entity index freshness",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd.Context(), args)
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
}

// newIndexer builds the indexer stack shared by sync and status.
// Read-only commands pass withGemini=false and never reach the
// provider.
func newIndexer(ctx context.Context, cfg *config.Config, logger *slog.Logger, withGemini bool) (*index.Indexer, func(), error) {
	if err := db.Migrate(cfg.ConnURL(), logger); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := postgres.Connect(ctx, cfg.ConnURL())
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	contentStore, err := content.NewStore(pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	indexStore, err := index.NewStore(pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	var embedder embed.Embedder = noEmbed{}
	if withGemini {
		if err := cfg.RequireGemini(); err != nil {
			pool.Close()
			return nil, nil, err
		}
		client, err := gemini.New(ctx, gemini.Config{
			APIKey:        cfg.GeminiAPIKey,
			EmbedderModel: cfg.EmbedderModel,
		}, logger)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		embedder = client
	}

	ix, err := index.NewIndexer(contentStore, indexStore, embedder, cfg.MaxChunkLen, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return ix, pool.Close, nil
}

// noEmbed backs read-only commands that must never reach the provider.
type noEmbed struct{}

func (noEmbed) Embed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("embedding is not available: no API key configured")
}

func runSync(parent context.Context, args []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ix, closeFn, err := newIndexer(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer closeFn()

	if len(args) == 2 {
		typ, err := content.ParseSourceType(args[0])
		if err != nil {
			return err
		}
		if err := ix.SyncOne(ctx, typ, args[1]); err != nil {
			return err
		}
		fmt.Printf("Synced %s %s\n", typ, args[1])
		return nil
	}
	if len(args) == 1 {
		return fmt.Errorf("sync takes either no arguments or a type and an id")
	}

	report, err := ix.SyncAll(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Synced %d/%d entities in %s\n", report.Synced, report.Total, report.Duration.Round(time.Millisecond))
	for _, f := range report.Failures {
		fmt.Printf("  FAILED %s %s: %s\n", f.SourceType, f.SourceID, f.Err)
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d entities failed to sync", report.Failed)
	}
	return nil
}

func runStatus(parent context.Context, args []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ix, closeFn, err := newIndexer(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer closeFn()

	var types []content.SourceType
	if len(args) == 1 {
		typ, err := content.ParseSourceType(args[0])
		if err != nil {
			return err
		}
		types = append(types, typ)
	}

	statuses, err := ix.StatusReport(ctx, types...)
	if err != nil {
		return err
	}

	fmt.Printf("%-12s %-24s %-4s %-9s %s\n", "TYPE", "ID", "LANG", "STATE", "CHUNKS")
	for _, st := range statuses {
		fmt.Printf("%-12s %-24s %-4s %-9s %d\n",
			st.SourceType, st.SourceID, st.Language, st.State, st.ChunkCount)
	}
	return nil
}
