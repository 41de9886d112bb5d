package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/foliolabs/folio/db"
	"github.com/foliolabs/folio/internal/api"
	"github.com/foliolabs/folio/internal/chat"
	"github.com/foliolabs/folio/internal/content"
	"github.com/foliolabs/folio/internal/fusion"
	"github.com/foliolabs/folio/internal/gemini"
	"github.com/foliolabs/folio/internal/index"
	"github.com/foliolabs/folio/internal/notify"
	"github.com/foliolabs/folio/internal/postgres"
	"github.com/foliolabs/folio/internal/search"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	if err := cfg.RequireGemini(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.Migrate(cfg.ConnURL(), logger); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	pool, err := postgres.Connect(ctx, cfg.ConnURL())
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer pool.Close()

	ai, err := gemini.New(ctx, gemini.Config{
		APIKey:          cfg.GeminiAPIKey,
		EmbedderModel:   cfg.EmbedderModel,
		GenerativeModel: cfg.GenerativeModel,
		Temperature:     cfg.Temperature,
		MaxOutputTokens: cfg.MaxOutputTokens,
	}, logger)
	if err != nil {
		return err
	}

	contentStore, err := content.NewStore(pool, logger)
	if err != nil {
		return err
	}
	indexStore, err := index.NewStore(pool, logger)
	if err != nil {
		return err
	}
	sessionStore, err := chat.NewStore(pool, logger)
	if err != nil {
		return err
	}

	indexer, err := index.NewIndexer(contentStore, indexStore, ai, cfg.MaxChunkLen, logger)
	if err != nil {
		return err
	}
	searcher, err := search.NewSearcher(indexStore, contentStore, logger)
	if err != nil {
		return err
	}
	fuser, err := fusion.NewFuser(contentStore, cfg.SiteBaseURL, logger)
	if err != nil {
		return err
	}

	orchestrator, err := chat.NewOrchestrator(
		sessionStore, ai, searcher, fuser, ai,
		api.TokenAuth(), notify.NewWebhook(cfg.WebhookURL, logger), logger,
		chat.WithDailyLimit(cfg.DailyLimit),
		chat.WithRetrieval(cfg.TopK, cfg.MinSimilarity),
	)
	if err != nil {
		return err
	}

	srv, err := api.NewServer(api.Config{
		ListenAddr:  cfg.ListenAddr,
		CORSOrigins: cfg.CORSOrigins,
		TrustProxy:  cfg.TrustProxy,
		AdminToken:  cfg.AdminToken,
		RateBurst:   cfg.RateBurst,
	}, orchestrator, indexer, searcher, pool.Ping, logger)
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}
