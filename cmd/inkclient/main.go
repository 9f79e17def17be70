package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/inklay/inklay/cmd/config"
	"github.com/inklay/inklay/lib/canvas"
	"github.com/inklay/inklay/lib/eventloop"
	"github.com/inklay/inklay/lib/geom"
	"github.com/inklay/inklay/lib/inksync"
	"github.com/inklay/inklay/lib/lifecycle"
	"github.com/inklay/inklay/lib/meetpage"
)

func main() {
	slogger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	config, err := config.Load()
	if err != nil {
		slogger.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	slogger.Info("client configuration", "config", config)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner, err := meetpage.NewCDPRunner(ctx, config.DevtoolsURL, slogger)
	if err != nil {
		slogger.Error("failed to attach to browser", "err", err)
		os.Exit(1)
	}
	defer runner.Close()

	page := meetpage.NewPage(runner, slogger)
	if config.PageURL != "" {
		if err := page.Visit(ctx, config.PageURL); err != nil {
			slogger.Error("failed to open conference page", "err", err)
			os.Exit(1)
		}
	}
	if err := page.WaitJoined(ctx); err != nil {
		slogger.Error("meeting never became ready", "err", err)
		os.Exit(1)
	}
	if err := page.CaptureConsole(ctx); err != nil {
		slogger.Warn("console capture unavailable", "err", err)
	}

	loop := eventloop.New()
	defer loop.Stop()

	overlay := canvas.New(slogger)
	client := inksync.New(loop, overlay, inksync.Options{
		MaxReconnectAttempts: config.MaxReconnectAttempts,
		ReconnectDelay:       config.ReconnectDelay,
		ResizeDebounce:       config.ResizeDebounce,
		Logger:               slogger,
	})
	guard := lifecycle.NewGuard(loop, slogger, overlay, client,
		lifecycle.NewDispatcher(loop), lifecycle.NewDispatcher(loop))

	viewport := geom.Viewport{Width: config.ViewportWidth, Height: config.ViewportHeight}
	if err := page.InstallOverlay(ctx, guard, config.RelayURL, viewport); err != nil {
		slogger.Error("overlay install failed", "err", err)
		os.Exit(1)
	}

	<-ctx.Done()
	slogger.Info("shutdown signal received")
	guard.Teardown()
}
