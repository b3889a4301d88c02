package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"server/internal/adapter/repo"
	"server/internal/engine"
	"server/internal/http/handlers"
	httpapi "server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/notify"
	"server/internal/providers/translate"
	"server/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	store, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize storage")
	}

	translator := translate.NewGeminiClient(translate.Options{
		APIKey:  cfg.GeminiAPIKey,
		BaseURL: cfg.GeminiBaseURL,
		Model:   cfg.GeminiModel,
		Logger:  &logger,
	})

	jobs := repo.NewJobRepository(dbpool)
	projects := repo.NewProjectRepository(dbpool)
	subs := repo.NewSubscriptionRepository(dbpool)
	assets := repo.NewAssetRepository(dbpool)
	errorLogs := repo.NewErrorLogRepository(dbpool)

	hub := notify.NewHub(logger)

	executor := engine.New(engine.Deps{
		Jobs:       jobs,
		Projects:   projects,
		Subs:       subs,
		Assets:     assets,
		ErrorLogs:  errorLogs,
		Store:      store,
		Translator: translator,
		Notifier:   hub,
		Logger:     logger,
	}, engine.Options{
		MaxRetries:  cfg.MaxRetries,
		BaseDelay:   cfg.BaseDelay,
		BackoffMult: cfg.BackoffMult,
		JobCost:     cfg.JobCost,
	})

	app := &handlers.App{
		Config:   cfg,
		Logger:   logger,
		Jobs:     jobs,
		Projects: projects,
		Subs:     subs,
		Assets:   assets,
		Store:    store,
		Runner:   executor,
		Hub:      hub,
	}

	router := httpapi.NewRouter(app)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
