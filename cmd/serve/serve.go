// Package serve runs the HTTP server, the SSE hub and the change listener.
package serve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	api "github.com/mindtrack/mindtrack-go/internal/api/v1"
	"github.com/mindtrack/mindtrack-go/internal/conf"
	"github.com/mindtrack/mindtrack-go/internal/datastore"
	"github.com/mindtrack/mindtrack-go/internal/dedupcache"
	"github.com/mindtrack/mindtrack-go/internal/listener"
	"github.com/mindtrack/mindtrack-go/internal/logging"
	"github.com/mindtrack/mindtrack-go/internal/observability/metrics"
	"github.com/mindtrack/mindtrack-go/internal/sampling"
	"github.com/mindtrack/mindtrack-go/internal/suggestionhub"
)

const shutdownTimeout = 10 * time.Second

// Command creates the serve command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MindTrack service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(settings)
		},
	}
}

func runServer(settings *conf.Settings) error {
	logging.Init(settings.WebServer.Debug)
	logger := logging.ForService("server")
	if settings.Main.Log.Enabled {
		fileLogger, closeLog, err := logging.NewFileLogger(
			settings.Main.Log.Path, settings.Main.Name, slog.LevelInfo)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer func() { _ = closeLog() }()
		logger = fileLogger
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := datastore.New(settings)
	if store == nil {
		return fmt.Errorf("no database backend enabled")
	}
	if err := store.Open(); err != nil {
		return fmt.Errorf("opening datastore: %w", err)
	}
	defer func() { _ = store.Close() }()
	if err := store.EnsureNotifyTrigger(); err != nil {
		return err
	}

	m := metrics.New()

	cache := dedupcache.New(dedupcache.Config{
		MaxRecent:     settings.Cache.MaxRecent,
		SequenceTTL:   settings.Cache.SequenceTTL,
		BlobTTL:       settings.Cache.BlobTTL,
		MinSimilarity: settings.Sampling.FingerprintMinSim,
	}, logging.ForService("dedupcache"))

	decider := sampling.New(sampling.Config{
		MaxHashDistance:     settings.Sampling.MaxHashDistance,
		StructuralThreshold: settings.Sampling.StructuralThreshold,
		ThumbnailWidth:      settings.Sampling.ThumbnailWidth,
	}, store, cache, logging.ForService("sampling"), m)

	hub := suggestionhub.New(suggestionhub.Config{
		HeartbeatInterval: settings.SSE.HeartbeatInterval,
		ClientBuffer:      settings.SSE.ClientBuffer,
	}, logging.ForService("suggestionhub"), m)
	go hub.Run(ctx)

	if settings.Listener.Enabled {
		minBackoff, maxBackoff := settings.ListenerBackoff()
		l := listener.New(listener.Config{
			DSN:         settings.Listener.DSN,
			Channel:     settings.Listener.Channel,
			PollTimeout: settings.Listener.PollTimeout,
			MinBackoff:  minBackoff,
			MaxBackoff:  maxBackoff,
		}, store, hub, logging.ForService("listener"), m)
		go l.Run(ctx)
	} else {
		logger.Warn("change listener disabled, streams will only carry heartbeats")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("http request",
				"method", v.Method, "uri", v.URI,
				"status", v.Status, "latency", v.Latency)
			return nil
		},
	}))

	api.New(e, settings, store, decider, cache, hub, m, logging.ForService("api"))

	addr := net.JoinHostPort(settings.WebServer.Host, settings.WebServer.Port)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", addr)
		errCh <- e.Start(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down http server: %w", err)
		}
	}
	return nil
}
