// Package main implements gitping, a GitHub webhook listener that relays
// push notifications to a Telegram chat and exposes a live WebSocket
// stream of processed events.
package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/net/websocket"

	"github.com/gitping-dev/gitping/internal/config"
	"github.com/gitping-dev/gitping/pkg/dedup"
	"github.com/gitping-dev/gitping/pkg/hub"
	"github.com/gitping-dev/gitping/pkg/logger"
	"github.com/gitping-dev/gitping/pkg/notify"
	"github.com/gitping-dev/gitping/pkg/security"
	"github.com/gitping-dev/gitping/pkg/telegram"
	"github.com/gitping-dev/gitping/pkg/webhook"
)

const (
	readTimeout     = 10 * time.Second
	writeTimeout    = 10 * time.Second
	idleTimeout     = 120 * time.Second
	shutdownTimeout = 10 * time.Second
)

var (
	configPath  = flag.String("config", "", "Path to optional YAML config file")
	addr        = flag.String("addr", "", "HTTP service address (overrides config)")
	letsencrypt = flag.Bool("letsencrypt", false, "Use Let's Encrypt for automatic TLS certificates")
	leDomains   = flag.String("le-domains", "", "Comma-separated list of domains for Let's Encrypt certificates")
	leCacheDir  = flag.String("le-cache-dir", "./.letsencrypt", "Cache directory for Let's Encrypt certificates")
	leEmail     = flag.String("le-email", "", "Contact email for Let's Encrypt notifications")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	log := logger.New(os.Stderr, logger.ParseLevel(cfg.LogLevel))

	if err := run(cfg, log); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := hub.NewHub(log)
	go h.Run(ctx)

	cache := dedup.New(cfg.CacheMaxSize, cfg.CacheWindow, cfg.CacheSweepInterval, log)
	tg := telegram.New(cfg.TelegramToken, log)
	notifier := notify.New(cache, tg, cfg.TelegramChatID, h, log)

	ipValidator, err := security.NewGitHubIPValidator(cfg.RequireGitHubIP)
	if err != nil {
		return fmt.Errorf("github ip validator: %w", err)
	}

	verifier := webhook.NewVerifier(cfg.WebhookSecret)
	rateLimiter := security.NewRateLimiter(cfg.RateLimit, time.Minute)
	defer rateLimiter.Stop()
	connLimiter := security.NewConnectionLimiter(cfg.MaxConnsPerIP, cfg.MaxConnsTotal, log)
	defer connLimiter.Stop()

	mux := http.NewServeMux()
	mux.Handle("/webhook", webhook.NewHandler(verifier, notifier, ipValidator, log))
	mux.HandleFunc("/health", healthHandler(notifier))
	mux.HandleFunc("/test-telegram", testTelegramHandler(tg, cfg.TelegramChatID))
	wsHandler := hub.NewWebSocketHandler(h, connLimiter, log)
	mux.Handle("/ws", websocket.Handler(wsHandler.Handle))

	handler := security.Middleware(rateLimiter, log)(mux)

	server := &http.Server{
		Addr:           cfg.Addr,
		Handler:        handler,
		ReadTimeout:    readTimeout,
		WriteTimeout:   writeTimeout,
		IdleTimeout:    idleTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	// Graceful shutdown: stop accepting work, let in-flight deliveries
	// finish, then tear down the cache sweep.
	done := make(chan struct{})
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		log.Info("shutting down server")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("server shutdown error", "error", err)
		}

		h.Stop()
		h.Wait()
		cancel()
		notifier.Close()
		close(done)
	}()

	if *letsencrypt {
		err = serveLetsEncrypt(server, log)
	} else {
		log.Warn("TLS not enabled; use -letsencrypt or a TLS-terminating proxy in production")
		log.Info("starting HTTP server", "addr", cfg.Addr)
		err = server.ListenAndServe()
	}

	if err != nil && err != http.ErrServerClosed {
		return err
	}

	<-done
	log.Info("server stopped")
	return nil
}

func serveLetsEncrypt(server *http.Server, log *slog.Logger) error {
	if *leDomains == "" {
		return fmt.Errorf("Let's Encrypt requires -le-domains to be specified")
	}

	domains := strings.Split(*leDomains, ",")
	for i := range domains {
		domains[i] = strings.TrimSpace(domains[i])
	}

	if err := os.MkdirAll(*leCacheDir, 0o700); err != nil {
		return fmt.Errorf("create Let's Encrypt cache directory: %w", err)
	}

	certManager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(*leCacheDir),
		Email:      *leEmail,
	}

	server.Addr = ":443"
	server.TLSConfig = &tls.Config{
		GetCertificate: certManager.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}

	// Port 80 must be reachable from the internet for ACME challenges
	go func() {
		challengeServer := &http.Server{
			Addr:        ":80",
			Handler:     certManager.HTTPHandler(nil),
			ReadTimeout: readTimeout,
		}
		log.Info("starting HTTP server on :80 for Let's Encrypt ACME challenges")
		if err := challengeServer.ListenAndServe(); err != nil {
			log.Warn("HTTP ACME server error; certificate issuance may fail", "error", err)
		}
	}()

	log.Info("starting HTTPS server with Let's Encrypt", "domains", domains)
	return server.ListenAndServeTLS("", "")
}

// healthHandler reports liveness plus the dedup cache snapshot.
func healthHandler(notifier *notify.Notifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck // Best effort response
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"cache":     notifier.CacheStats(),
		})
	}
}

// testTelegramHandler probes the bot API and sends a test message.
func testTelegramHandler(tg *telegram.Client, chatID int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "application/json")

		if !tg.TestConnection(r.Context()) {
			w.WriteHeader(http.StatusBadGateway)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "telegram connection test failed"}) //nolint:errcheck
			return
		}

		msg := fmt.Sprintf("gitping test message (%s)", time.Now().UTC().Format(time.RFC3339))
		if err := tg.Send(r.Context(), chatID, msg, ""); err != nil {
			w.WriteHeader(http.StatusBadGateway)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": err.Error()}) //nolint:errcheck
			return
		}

		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true}) //nolint:errcheck
	}
}
