package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"genproxy/internal/adapter/repo"
	"genproxy/internal/http/handlers"
	httpapi "genproxy/internal/http/httpapi"
	"genproxy/internal/infra"
	"genproxy/internal/providers/higgsfield"
	"genproxy/internal/scheduler"
	"genproxy/internal/storage"
	"genproxy/internal/webhook"
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

	tasks := repo.NewTaskRepository(dbpool)
	accounts := repo.NewAccountRepository(dbpool)
	clients := repo.NewClientRepository(dbpool)

	files, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init file storage")
	}

	provider := higgsfield.NewClient(higgsfield.Options{
		BaseURL: cfg.ProviderBaseURL,
		Logger:  &logger,
		Files:   files,
	})

	dispatcher := webhook.NewDispatcher(tasks, clients, webhook.Config{
		MaxAttempts: cfg.WebhookMaxAttempts,
		RetryBase:   cfg.WebhookRetryBase,
	}, logger)
	defer dispatcher.Close()

	pool := scheduler.NewAccountPool(accounts, scheduler.PoolConfig{
		CooldownBase: cfg.CooldownBase,
		CooldownMax:  cfg.CooldownMax,
	}, logger)
	executor := scheduler.NewExecutor(tasks, pool, provider, dispatcher, cfg.MaxSubmitAttempts, logger)
	reconciler := scheduler.NewReconciler(tasks, pool, provider, dispatcher, scheduler.ReconcilerConfig{
		PollConcurrency: cfg.PollConcurrency,
		TaskTimeout:     cfg.TaskTimeout,
	}, cfg.MaxSubmitAttempts, logger)
	driver := scheduler.NewDriver(tasks, pool, executor, reconciler, scheduler.DriverConfig{
		TickInterval:        cfg.TickInterval,
		AccountSyncInterval: cfg.AccountSyncInterval,
	}, logger)

	if err := driver.Recover(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to recover scheduler state")
	}
	if err := dispatcher.Recover(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to recover pending webhooks")
	}

	service := scheduler.NewService(driver, tasks, pool, provider, logger)

	app := handlers.NewApp(service, clients, files, logger)
	router := httpapi.NewRouter(app, cfg, logger)
	server := infra.NewHTTPServer(cfg, router)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	go func() {
		if err := driver.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Fatal().Err(err).Msg("scheduler stopped")
		}
	}()

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancelRun()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
