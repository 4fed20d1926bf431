package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joshsymonds/gmailtriage/internal/auth"
	"github.com/joshsymonds/gmailtriage/internal/batch"
	"github.com/joshsymonds/gmailtriage/internal/config"
	"github.com/joshsymonds/gmailtriage/internal/dispatch"
	"github.com/joshsymonds/gmailtriage/internal/rate"
	"github.com/joshsymonds/gmailtriage/internal/runtime"
	"github.com/joshsymonds/gmailtriage/internal/server"
	"github.com/joshsymonds/gmailtriage/internal/store"
)

type serverConfig struct {
	configPath string
	addr       string
}

func main() {
	cfg := parseServerFlags()
	if err := run(cfg); err != nil {
		runtime.DefaultLogger("info").Error("triage-server failed", "error", err)
		os.Exit(1)
	}
}

func parseServerFlags() serverConfig {
	configPath := flag.String("config", config.DefaultPath(), "config file")
	addr := flag.String("addr", "", "listen address; empty uses the config value")
	flag.Parse()
	return serverConfig{configPath: *configPath, addr: *addr}
}

func run(cfg serverConfig) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	settings, err := config.Load(cfg.configPath)
	if err != nil {
		return err
	}
	log := runtime.DefaultLogger(settings.LogLevel)

	st, err := store.NewSQLiteStore(settings.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	authn, err := runtime.NewAuthenticator(settings.Auth.Mode, settings.Auth.Dir,
		settings.Auth.CredentialsPath, settings.Auth.TokenPath, settings.Gmail.CallTimeout, log)
	if err != nil {
		return err
	}
	// Shared by every request.
	limiter := rate.New(settings.Gmail.RPS)

	connect := func(ctx context.Context) (server.Processor, error) {
		client, err := authn.Authenticate(ctx)
		if err != nil {
			return nil, err
		}
		d := dispatch.NewDispatcher(client, limiter, log)
		d.DryRun = settings.DryRun
		proc := batch.NewProcessor(client, st, d, log)
		proc.Concurrency = settings.Gmail.Concurrency
		return proc, nil
	}

	app := server.New(server.Config{
		Verifier:    auth.Verifier{Users: st},
		Connect:     connect,
		Log:         log,
		Timeout:     settings.Server.RequestTimeout,
		BaseContext: ctx,
	})

	addr := settings.Server.Addr
	if cfg.addr != "" {
		addr = cfg.addr
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", addr)
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
