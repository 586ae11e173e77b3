package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gwi.com/classroom-messaging/internal/api"
	"gwi.com/classroom-messaging/internal/config"
	"gwi.com/classroom-messaging/internal/core"
	"gwi.com/classroom-messaging/internal/metrics"
	"gwi.com/classroom-messaging/internal/ratelimit"
	"gwi.com/classroom-messaging/internal/realtime"
	"gwi.com/classroom-messaging/internal/store"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "server",
		Short:         "Classroom messaging gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "optional config file (yaml, json or toml)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create the message schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrate()
		},
	})
	return root
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := config.NewLogger(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func migrate() error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	// Opening a SQL backend applies the schema.
	db, err := store.Open(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	logger.Info("Schema is up to date", zap.String("driver", cfg.Database.Driver))
	return db.Close()
}

func serve() error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	backends := map[core.Provider]core.Backend{}
	var moderator core.Moderator = core.DisabledModerator{}
	if cfg.PrimaryEnabled() {
		client := openai.NewClient(cfg.OpenAI.APIKey)
		backends[core.ProviderPrimary] = core.NewOpenAIBackend(client)
		if cfg.ModerationActive() {
			moderator = core.NewOpenAIModerator(client, cfg.Moderation.Model)
		}
	}
	if cfg.GoogleEnabled() {
		gemini, err := core.NewGeminiBackend(ctx, cfg.Gemini.APIKey, logger)
		if err != nil {
			return err
		}
		defer gemini.Close()
		backends[core.ProviderGoogle] = gemini
	}
	if cfg.Moderation.Enabled && !cfg.ModerationActive() {
		logger.Warn("MODERATION_ENABLED is set but OPENAI_API_KEY is missing, moderation stays off")
	}
	if !cfg.GenerationEnabled() {
		logger.Warn("No generation provider configured, aiMode requests will not be answered")
	}

	limiter := ratelimit.New(ratelimit.Config{
		Window:        cfg.RateLimit.Window,
		MaxRequests:   cfg.RateLimit.MaxRequests,
		BucketSize:    cfg.RateLimit.BucketSize,
		RefillRate:    cfg.RateLimit.RefillRate,
		SweepInterval: cfg.RateLimit.SweepInterval,
	})

	var (
		publisher realtime.Publisher = realtime.NopPublisher{}
		ws        api.WebsocketServer
		hub       *realtime.Hub
	)
	if cfg.Realtime.Enabled {
		hub = realtime.NewHub(core.NewThreadAccess(db, logger), logger)
		publisher = hub
		ws = hub
	}

	gateway := core.NewGateway(core.GatewayDeps{
		Store:             db,
		Publisher:         publisher,
		Moderator:         moderator,
		Router:            core.NewRouter(backends, cfg.Model),
		Limiter:           limiter,
		Assembler:         core.NewContextAssembler(db, cfg.Generation.HistoryLimit, cfg.Generation.MaxTokens, cfg.Generation.Temperature),
		Metrics:           metrics.NewCollector(),
		Logger:            logger,
		GenerationTimeout: cfg.Generation.Timeout,
	})

	apiHandler := api.NewAPIHandler(gateway, cfg.JWT.Secret, limiter, ws, logger)
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.HTTP.Port),
		Handler:     api.NewRouter(apiHandler),
		ReadTimeout: 15 * time.Second,
		// Leaves room for the assistant reply that runs before the send responds.
		WriteTimeout: cfg.Generation.Timeout + 15*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return limiter.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("Starting server",
			zap.String("addr", srv.Addr),
			zap.String("database", cfg.Database.Driver),
			zap.Bool("primary_provider", cfg.PrimaryEnabled()),
			zap.Bool("google_provider", cfg.GoogleEnabled()),
			zap.Bool("moderation", cfg.ModerationActive()),
			zap.Bool("realtime", cfg.Realtime.Enabled))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("could not listen on %s: %w", srv.Addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if hub != nil {
			hub.Close()
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server exiting gracefully")
	return nil
}
