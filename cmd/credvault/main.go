// Command credvault runs the credential session broker: session lifecycle
// API, transparent credential-injecting proxy, and git bundle exchange.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/credvault/credvault/internal/api"
	"github.com/credvault/credvault/internal/config"
	"github.com/credvault/credvault/internal/gitbundle"
	"github.com/credvault/credvault/internal/proxy"
	"github.com/credvault/credvault/internal/registry"
	"github.com/credvault/credvault/internal/session"
)

func main() {
	configPath := flag.String("config", "", "Config file (YAML); env vars override")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Logger isn't up yet.
		os.Stderr.WriteString("credvault: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := newLogger(cfg.Debug)
	if err != nil {
		os.Stderr.WriteString("credvault: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("credvault starting", zap.String("addr", cfg.ListenAddr))

	reg, err := registry.Load(cfg.CredentialsFile)
	if err != nil {
		log.Fatal("failed to load credentials", zap.Error(err))
	}
	log.Info("credentials loaded",
		zap.Int("services", len(reg.Services())),
		zap.Strings("names", reg.Services()),
	)

	if cfg.LegacyKey != "" {
		log.Warn("legacy static key enabled; it grants all services with no expiry and is deprecated in favor of sessions")
	}

	sessions := session.NewStore()
	forwarder := proxy.NewForwarder(reg, cfg.UpstreamTimeout, log.Named("proxy"))

	gitRunner, err := gitbundle.NewRunner(cfg.GitTimeout)
	if err != nil {
		log.Fatal("git unavailable", zap.Error(err))
	}
	reviewer, ghAvailable := gitbundle.NewCLIReviewer(cfg.ReviewTimeout)
	if ghAvailable {
		log.Info("hosting CLI found; review creation enabled")
	} else {
		log.Warn("hosting CLI not found; pushes will return manual review instructions")
	}
	exchange := gitbundle.NewExchange(gitRunner, reviewer, gitbundle.Options{
		WorkDir:    cfg.WorkspaceDir,
		CloneDepth: cfg.CloneDepth,
	}, log.Named("gitbundle"))

	handlers := api.NewHandlers(api.HandlersConfig{
		Sessions:    sessions,
		Registry:    reg,
		Forwarder:   forwarder,
		Exchange:    exchange,
		LegacyKey:   cfg.LegacyKey,
		ExternalURL: cfg.ExternalURL,
		DefaultTTL:  cfg.DefaultSessionTTL,
		Logger:      log.Named("api"),
	})

	server := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     api.NewRouter(handlers, log.Named("http")),
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: bundle fetches and slow upstreams stream for
		// longer than any fixed cap; per-operation timeouts bound them.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn("shutdown incomplete", zap.Error(err))
	}
	log.Info("shutdown complete")
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
