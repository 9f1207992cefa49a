// Package main provides a command-line subscriber for the gitping live
// notification stream.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gitping-dev/gitping/pkg/client"
	"github.com/gitping-dev/gitping/pkg/logger"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		serverAddr = flag.String("addr", "localhost:8080", "server address")
		repository = flag.String("repo", "*", "repository to subscribe to (owner/name, or * for all)")
		eventTypes = flag.String("events", "", "comma-separated list of event types to subscribe to")
		useTLS     = flag.Bool("tls", false, "use TLS (wss://)")
		verbose    = flag.Bool("verbose", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := logger.New(os.Stderr, level)

	scheme := "ws"
	if *useTLS {
		scheme = "wss"
	}

	var types []string
	if *eventTypes != "" {
		for _, t := range strings.Split(*eventTypes, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, t)
			}
		}
	}

	c, err := client.New(client.Config{
		ServerURL:  fmt.Sprintf("%s://%s/ws", scheme, *serverAddr),
		Repository: *repository,
		EventTypes: types,
		Logger:     log,
		MaxBackoff: 30 * time.Second,
		OnNotification: func(n client.Notification) {
			ts := n.Timestamp.Local().Format(time.TimeOnly)
			if n.Text != "" {
				fmt.Printf("[%s] %s %s\n%s\n", ts, n.Type, n.Repository, n.Text)
			} else {
				fmt.Printf("[%s] %s %s (delivery %s)\n", ts, n.Type, n.Repository, n.DeliveryID)
			}
		},
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return c.Start(ctx)
}
