package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/sigrelay/internal/adapters/http"
	wssignal "github.com/dkeye/sigrelay/internal/adapters/signal"
	"github.com/dkeye/sigrelay/internal/app"
	"github.com/dkeye/sigrelay/internal/app/orch"
	"github.com/dkeye/sigrelay/internal/app/throttle"
	"github.com/dkeye/sigrelay/internal/auth"
	"github.com/dkeye/sigrelay/internal/config"
	"github.com/dkeye/sigrelay/internal/metrics"
	"github.com/dkeye/sigrelay/internal/store"
	"github.com/dkeye/sigrelay/internal/turn"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if cfg.Mode == "release" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("Server exited gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	users, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer users.Close()

	tokens, err := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}
	authSvc := auth.NewService(tokens, users)

	reg := app.NewRegistry()
	guard := throttle.NewGuard(throttle.Config{
		MaxConnectionsPerSource: cfg.Limits.MaxConnectionsPerIP,
		MessagesPerMinute:       cfg.Limits.MessagesPerMinute,
		MaxAuthFailures:         cfg.Limits.MaxAuthFailures,
		AuthLockout:             cfg.Limits.AuthLockout,
	})

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg, reg.Stats)

	o := &orch.Orchestrator{
		Registry:    reg,
		Policy:      app.SimplePolicy{},
		Auth:        authSvc,
		Admission:   guard,
		Metrics:     m,
		AuthTimeout: cfg.WS.AuthTimeout,
	}
	ctl := wssignal.NewSignalWSController(o, guard, wssignal.Options{
		ReadLimit:  cfg.WS.ReadLimit,
		WriteWait:  cfg.WS.WriteWait,
		PongWait:   cfg.WS.PongWait,
		PingPeriod: cfg.WS.PingPeriod,
		SendBuffer: cfg.WS.SendBuffer,
	})

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Registry: reg,
		Signal:   ctl,
		Auth:     authSvc,
		TURN: turn.NewIssuer(turn.Config{
			Secret:   cfg.TURN.Secret,
			URLs:     cfg.TURN.URLs,
			TTL:      cfg.TURN.TTL,
			STUNURLs: cfg.TURN.STUNURLs,
		}),
		Metrics: promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}),
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Bool("tls", cfg.TLSEnabled()).Msg("Signaling server started")
		var err error
		if cfg.TLSEnabled() {
			err = srv.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return guard.Run(gctx, time.Minute)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})
	return g.Wait()
}
