package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/comigor/relaychat/internal/chat"
	"github.com/comigor/relaychat/internal/config"
	"github.com/comigor/relaychat/internal/llm"
	"github.com/comigor/relaychat/internal/logger"
	"github.com/comigor/relaychat/internal/ratelimit"
	"github.com/comigor/relaychat/internal/relay"
	"github.com/comigor/relaychat/internal/server"
	"github.com/comigor/relaychat/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.L.Warn("failed to load .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.L.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.L.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	client := llm.NewClient(cfg.LLM)
	engine := relay.NewEngine(client, st, relay.Options{
		Timeout:        cfg.LLM.Timeout,
		FallbackPacing: cfg.Relay.FallbackPacing,
		ReadBuffer:     cfg.Relay.ReadBuffer,
	})
	svc := chat.NewService(st, engine, client, cfg.Chat, cfg.Image)

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Requests > 0 {
		window := ratelimit.NewFixedWindow(cfg.RateLimit.Window)
		sweeper, err := ratelimit.NewSweeper(window, cfg.RateLimit.SweepSchedule)
		if err != nil {
			return err
		}
		sweeper.Start()
		defer sweeper.Stop()
		limiter = ratelimit.NewLimiter(window, cfg.RateLimit.Requests)
	}

	srv := server.New(cfg.Server, svc, limiter)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
