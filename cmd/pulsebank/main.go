// Package main запускает HTTP-сервер сервиса подбора доноров.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/pulsebank/internal/chat"
	"github.com/mmeshcher/pulsebank/internal/config"
	"github.com/mmeshcher/pulsebank/internal/handler"
	"github.com/mmeshcher/pulsebank/internal/metrics"
	"github.com/mmeshcher/pulsebank/internal/repository"
	"github.com/mmeshcher/pulsebank/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := openRepository(cfg)
	if err != nil {
		sugar.Fatalw("donor directory initialization error", "error", err.Error())
	}

	collector, err := metrics.NewCollector(nil)
	if err != nil {
		sugar.Fatalw("metrics initialization error", "error", err.Error())
	}

	var chatClient service.ChatClient
	if cfg.ChatAPIKey != "" {
		chatClient = chat.NewClient(cfg.ChatEndpoint, cfg.ChatAPIKey)
	} else {
		sugar.Warn("CHAT_API_KEY is not set, chat endpoint is disabled")
	}

	svc := service.NewService(repo, chatClient, collector, cfg.StatsInterval)
	defer svc.Close()

	h := handler.NewHandler(svc, logger, collector)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Фоновое обновление метрики активных доноров
	g.Go(func() error {
		svc.StartDonorStatsUpdates(ctx)
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting pulsebank server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

// openRepository выбирает PostgreSQL при заданном DATABASE_URI, иначе справочник в памяти.
func openRepository(cfg *config.Config) (service.Repository, error) {
	if cfg.DatabaseURI != "" {
		return repository.NewPostgresRepository(cfg.DatabaseURI)
	}

	if cfg.DonorsFile == "" {
		return repository.NewMemoryRepository(), nil
	}

	donors, err := repository.LoadDonorsYAML(cfg.DonorsFile, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("load donors: %w", err)
	}
	return repository.NewMemoryRepository(donors...), nil
}
