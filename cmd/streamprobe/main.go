// streamprobe connects to an OpenAlgo WebSocket server, subscribes to
// the given instruments, and streams admitted ticks to the console.
// Usage: go run ./cmd/streamprobe --config configs/streamd.local.yaml --symbols NSE:RELIANCE,NSE:SBIN --mode 2
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/marketcalls/openalgo-stream/internal/config"
	"github.com/marketcalls/openalgo-stream/internal/connection"
	"github.com/marketcalls/openalgo-stream/internal/model"
	"github.com/marketcalls/openalgo-stream/internal/stream"
)

func main() {
	configPath := flag.String("config", "configs/streamd.local.yaml", "path to config file")
	symbols := flag.String("symbols", "NSE:RELIANCE", "comma-separated EXCHANGE:SYMBOL pairs")
	mode := flag.Int("mode", 1, "subscription mode (1=ltp, 2=quote, 3=depth)")
	depthLevel := flag.Int("depth", 0, "depth level for mode 3 (0 uses the default)")
	verbose := flag.Bool("verbose", false, "print full tick JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Load config
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	m, err := model.ParseMode(*mode)
	if err != nil {
		logger.Error("invalid mode", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	session := stream.NewSession(stream.Config{
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
	}, logger)
	defer session.Close()

	if err := session.Connect(ctx, ""); err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}

	for _, pair := range strings.Split(*symbols, ",") {
		exchange, symbol, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok {
			logger.Error("invalid symbol pair, want EXCHANGE:SYMBOL", "pair", pair)
			os.Exit(1)
		}

		key := model.NewKey(symbol, exchange, m)
		if err := session.Subscribe(ctx, key, *depthLevel); err != nil {
			logger.Error("subscribe failed", "key", key.String(), "error", err)
			os.Exit(1)
		}
		logger.Info("subscribed", "key", key.String())
	}

	fmt.Println("streaming; Ctrl-C to stop")

	for {
		select {
		case <-ctx.Done():
			logger.Info("probe stopped")
			return
		case u := <-session.Updates():
			if *verbose {
				data, _ := json.Marshal(u.Tick)
				fmt.Printf("%s %s %s\n", u.ReceivedAt.Format("15:04:05.000"), u.Key.String(), data)
				continue
			}
			fmt.Printf("%s %-24s ltp=%g\n", u.ReceivedAt.Format("15:04:05.000"), u.Key.String(), u.Tick.LTP)
		}
	}
}
