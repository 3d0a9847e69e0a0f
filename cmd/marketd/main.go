package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/finsim/marketd/internal/config"
	"github.com/finsim/marketd/internal/market"
	"github.com/finsim/marketd/internal/market/book"
	"github.com/finsim/marketd/internal/market/projection"
	"github.com/finsim/marketd/internal/market/registry"
	"github.com/finsim/marketd/internal/server"
	"github.com/finsim/marketd/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	zapLogger, err := logger.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	// Read side: projection store and the builder that maintains it.
	store := projection.NewStore()
	builder := projection.NewBuilder(store, zapLogger)

	// Write side: one shared order-id sequence, lazy book creation with the
	// projection consumer wired at creation time.
	seq := &book.Sequence{}
	reg := registry.New(seq, builder.Attach, zapLogger)

	svc := market.NewService(reg, store, zapLogger)
	srv := server.NewServer(zapLogger, svc, cfg.Projection)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router(),
	}

	go func() {
		zapLogger.Info("starting HTTP server", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		zapLogger.Error("shutdown failed", zap.Error(err))
	}
}
