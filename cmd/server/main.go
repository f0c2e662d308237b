package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/org/credcore/internal/api"
	"github.com/org/credcore/internal/app"
	"github.com/org/credcore/internal/auth"
	"github.com/org/credcore/internal/config"
)

func main() {
	cfgFile := flag.String("config", "", "path to config file (default $CREDCORE_CONFIG or config.yaml)")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	flag.Parse()

	cfg, err := config.Load(*cfgFile, *envFile)
	if err != nil {
		// Logging is not configured yet; the default logger writes JSON to stderr.
		log.Fatal().Err(err).Msg("failed to load config")
	}
	cfg.ConfigureLogging()

	ctx := context.Background()
	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise services")
	}
	defer a.Close()

	verifier, err := newVerifier(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure authentication")
	}

	srv := api.NewServer(a, verifier, api.Config{
		ListenAddr:  cfg.ListenAddr,
		TLSCertFile: cfg.TLSCertFile,
		TLSKeyFile:  cfg.TLSKeyFile,
		RateRPS:     cfg.RateLimit.RPS,
		RateBurst:   cfg.RateLimit.Burst,
	})

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Str("storage", cfg.Storage.Driver).
		Bool("breach_enabled", cfg.Breach.Enabled).Msg("server started")
	<-quit

	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
}

// newVerifier uses the configured secret. Outside production a missing
// secret is replaced by an ephemeral one and a development token is printed.
func newVerifier(cfg *config.Config) (*auth.Verifier, error) {
	secret := cfg.Auth.JWTSecret
	if secret == "" && !cfg.Production() {
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			return nil, fmt.Errorf("generating ephemeral jwt secret: %w", err)
		}
		secret = hex.EncodeToString(raw)
		tok, err := auth.Issue(secret, cfg.Auth.Issuer, cfg.Auth.Audience,
			auth.Principal{Actor: "dev", TenantID: "default"}, 12*time.Hour)
		if err != nil {
			return nil, err
		}
		log.Warn().Msg("auth.jwt_secret is not set, using an ephemeral secret")
		fmt.Fprintf(os.Stderr, "development token (tenant=default, 12h):\n%s\n", tok)
	}
	return auth.NewVerifier(secret, cfg.Auth.Issuer, cfg.Auth.Audience)
}
