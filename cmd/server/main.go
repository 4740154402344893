// Command server runs the Cliperton licensing backend: it receives Stripe
// checkout webhooks, issues and emails license keys, and answers validation
// and lookup requests from the desktop app and the purchase success page.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v82"

	"github.com/cliperton/cliperton-backend/internal/config"
	httpapi "github.com/cliperton/cliperton-backend/internal/http"
	"github.com/cliperton/cliperton-backend/internal/mail"
	"github.com/cliperton/cliperton-backend/internal/observability"
	"github.com/cliperton/cliperton-backend/internal/repo"
	"github.com/cliperton/cliperton-backend/internal/store"
	"github.com/cliperton/cliperton-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

const shutdownGrace = 10 * time.Second

func main() {
	// .env is a local-dev convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		c, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := shutdownOTel(c); err != nil {
			log.Warn().Err(err).Msg("otel shutdown error")
		}
	}()

	stripe.Key = cfg.Stripe.SecretKey

	st, attempts, err := buildStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("store setup failed")
	}

	var mailer mail.Mailer
	if cfg.Mail.Enabled {
		// Replies go to the sender address unless a dedicated reply-to is set.
		replyTo := sysutil.FirstNonEmpty(cfg.Mail.ReplyTo, cfg.Mail.From)
		mailer = mail.NewSMTPMailer(cfg.Mail.Host, cfg.Mail.Port, cfg.Mail.Username, cfg.Mail.Password, cfg.Mail.From, replyTo)
	} else {
		mailer = mail.NoopMailer{}
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, st, attempts, mailer, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("store", cfg.StoreBackend).
			Bool("mail", cfg.Mail.Enabled).
			Str("version", version).
			Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	log.Info().Msg("server stopped")
}

// buildStore constructs the configured persistence backend. Both backends
// satisfy LicenseStore and AttemptLog; the file backend mirrors the original
// JSON-on-disk layout while sqlite is the operational default for busier
// deployments.
func buildStore(cfg config.Config) (store.LicenseStore, store.AttemptLog, error) {
	switch cfg.StoreBackend {
	case config.StoreBackendSQLite:
		db, err := repo.OpenSQLite(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		if err := repo.AutoMigrate(db); err != nil {
			return nil, nil, err
		}
		gs := store.NewGormStore(db)
		return gs, gs, nil
	default:
		fs := store.NewFileStore(cfg.StoreDir)
		return fs, fs, nil
	}
}
