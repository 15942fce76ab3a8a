package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/marketcalls/openalgo-stream/internal/config"
	"github.com/marketcalls/openalgo-stream/internal/connection"
	"github.com/marketcalls/openalgo-stream/internal/database"
	"github.com/marketcalls/openalgo-stream/internal/mirror"
	"github.com/marketcalls/openalgo-stream/internal/recorder"
	"github.com/marketcalls/openalgo-stream/internal/stream"
	"github.com/marketcalls/openalgo-stream/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/streamd.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting streamd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"ws_url", cfg.Server.WSURL,
		"confirm_subscriptions", cfg.Session.ConfirmSubscriptions,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Create the streaming session
	session := stream.NewSession(sessionConfig(cfg), logger)
	defer session.Close()

	if err := session.Connect(ctx, ""); err != nil {
		logger.Error("initial connect failed", "error", err)
		os.Exit(1)
	}

	// Optional sinks consume the update feed through a fan-out.
	var sinks []chan<- stream.Update

	var rec *recorder.Recorder
	if cfg.Recorder.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Recorder.Database.Host,
			"port", cfg.Recorder.Database.Port,
			"database", cfg.Recorder.Database.Name,
		)

		pool, err := database.Connect(ctx, cfg.Recorder.Database)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		recInput := make(chan stream.Update, cfg.Session.UpdateBufferSize)
		sinks = append(sinks, recInput)

		rec = recorder.New(recorder.Config{
			BatchSize:     cfg.Recorder.BatchSize,
			FlushInterval: cfg.Recorder.FlushInterval,
		}, recInput, pool, logger)

		if err := rec.Start(ctx); err != nil {
			logger.Error("failed to start recorder", "error", err)
			os.Exit(1)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			rec.Stop(stopCtx)
		}()
	}

	var mir *mirror.Mirror
	if cfg.Mirror.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Mirror.Addr,
			Password: cfg.Mirror.Password,
			DB:       cfg.Mirror.DB,
		})
		defer rdb.Close()

		mirInput := make(chan stream.Update, cfg.Session.UpdateBufferSize)
		sinks = append(sinks, mirInput)

		mir = mirror.New(mirror.Config{KeyTTL: cfg.Mirror.KeyTTL}, mirInput, rdb, logger)
		if err := mir.Start(ctx); err != nil {
			logger.Error("failed to start mirror", "error", err)
			os.Exit(1)
		}
		defer mir.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		fanOut(gctx, session.Updates(), sinks, logger)
		return nil
	})

	// Health server
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Health.Port),
		Handler: createHealthHandler(cfg.Health.Path, session, rec, mir),
	}

	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Health.Port, "path", cfg.Health.Path)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return healthServer.Shutdown(shutdownCtx)
	})

	logger.Info("streamd running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d%s", cfg.Health.Port, cfg.Health.Path),
	)

	if err := g.Wait(); err != nil {
		logger.Error("streamd exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("streamd stopped")
}

// sessionConfig maps the file configuration onto the session.
func sessionConfig(cfg *config.StreamConfig) stream.Config {
	return stream.Config{
		InstanceID: cfg.Instance.ID,
		Conn: connection.Config{
			URL:         cfg.Server.WSURL,
			APIKey:      cfg.Server.APIKey,
			ConfirmAuth: cfg.Session.ConfirmSubscriptions,
			AckTimeout:  cfg.Session.AckTimeout,
			AuthGrace:   cfg.Session.AuthGrace,
			Client: connection.ClientConfig{
				HandshakeTimeout: cfg.Session.HandshakeTimeout,
				WriteTimeout:     cfg.Session.WriteTimeout,
				BufferSize:       cfg.Session.MessageBufferSize,
				StaleAfter:       cfg.Session.StaleAfter,
			},
		},
		Confirm:           cfg.Session.ConfirmSubscriptions,
		AckTimeout:        cfg.Session.AckTimeout,
		DefaultDepthLevel: cfg.Session.DefaultDepthLevel,
		UpdateBufferSize:  cfg.Session.UpdateBufferSize,
	}
}

// fanOut copies session updates to every sink. Sinks that fall behind
// drop updates rather than stall the feed.
func fanOut(ctx context.Context, in <-chan stream.Update, sinks []chan<- stream.Update, logger *slog.Logger) {
	defer func() {
		for _, sink := range sinks {
			close(sink)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-in:
			if !ok {
				return
			}
			for _, sink := range sinks {
				select {
				case sink <- u:
				default:
					logger.Warn("sink buffer full, dropping update", "key", u.Key.String())
				}
			}
		}
	}
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(path string, session *stream.Session, rec *recorder.Recorder, mir *mirror.Mirror) http.Handler {
	if path == "" {
		path = "/health"
	}

	mux := http.NewServeMux()

	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		stats := session.Stats()

		health := struct {
			Status     string         `json:"status"`
			Session    stream.Stats   `json:"session"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Session:    stats,
			Components: make(map[string]any),
		}

		if stats.State != "open" {
			health.Status = "degraded"
		}

		if rec != nil {
			rs := rec.Stats()
			health.Components["recorder"] = map[string]int64{
				"inserts": rs.Inserts,
				"flushes": rs.Flushes,
				"errors":  rs.Errors,
			}
			if rs.Errors > 0 {
				health.Status = "degraded"
			}
		}

		if mir != nil {
			health.Components["mirror"] = map[string]int64{
				"writes": mir.Writes(),
				"errors": mir.Errors(),
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		subs := session.ListActive()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"count":         len(subs),
			"subscriptions": subs,
		})
	})

	return mux
}
