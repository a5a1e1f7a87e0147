package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/alerta-link/alertalink/internal/config"
	"github.com/alerta-link/alertalink/internal/engine"
	"github.com/alerta-link/alertalink/internal/server"
)

// version is stamped by the build; "dev" for local runs.
var version = "dev"

func main() {
	// Logging setup
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	var (
		addr    string
		verbose bool
	)
	flag.StringVar(&addr, "addr", "", "Listen address (overrides LISTEN_ADDR)")
	flag.BoolVar(&verbose, "v", false, "Verbose logging")
	flag.Parse()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("configuration invalid")
	}
	if addr != "" {
		cfg.ListenAddr = addr
	}
	if verbose || cfg.Verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if err := run(cfg); err != nil {
		log.Error().Err(err).Msg("run failed")
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	e, err := engine.New(cfg, log.Logger)
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}
	e.Version = version
	defer e.Close()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.New(e, cfg, log.Logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// SIGHUP re-verifies and swaps the model artifact without a restart.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if err := e.ReloadModel(); err != nil {
				log.Warn().Err(err).Msg("model reload failed, previous artifact kept")
			} else {
				log.Info().Msg("model artifact reloaded")
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Str("version", version).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-stop:
		log.Info().Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}
