package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joshsymonds/gmailtriage/internal/config"
	"github.com/joshsymonds/gmailtriage/internal/credential"
	"github.com/joshsymonds/gmailtriage/internal/ingest"
	"github.com/joshsymonds/gmailtriage/internal/rate"
	"github.com/joshsymonds/gmailtriage/internal/runtime"
	"github.com/joshsymonds/gmailtriage/internal/store"
)

type ingestConfig struct {
	configPath string
	limit      int
	stash      bool
}

func main() {
	cfg := parseIngestFlags()
	if err := run(cfg); err != nil {
		runtime.DefaultLogger("info").Error("triage-ingest failed", "error", err)
		os.Exit(1)
	}
}

func parseIngestFlags() ingestConfig {
	configPath := flag.String("config", config.DefaultPath(), "config file")
	limit := flag.Int("limit", 0, "inbox messages to read; 0 uses the config value")
	stash := flag.Bool("stash-password", false, "save a newly generated password in the system keyring")
	flag.Parse()

	return ingestConfig{configPath: *configPath, limit: *limit, stash: *stash}
}

func run(cfg ingestConfig) error {
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
	client, err := authn.Authenticate(ctx)
	if err != nil {
		return fmt.Errorf("create gmail client: %w", err)
	}

	svc := ingest.NewService(client, st, rate.New(settings.Gmail.RPS), log)
	svc.Limit = settings.Ingest.Limit
	if cfg.limit > 0 {
		svc.Limit = cfg.limit
	}
	if cfg.stash || settings.Ingest.StashPasswords {
		stash, err := credential.Open(settings.Ingest.KeyringDir)
		if err != nil {
			return err
		}
		svc.Secrets = stash
	}

	res, err := svc.Run(ctx)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	fmt.Printf("ingested %d messages for %s (%d skipped)\n", res.Stored, res.Identity, res.Skipped)
	if res.Password != "" {
		fmt.Printf("endpoint password for %s: %s\n", res.Identity, res.Password)
	}
	return nil
}
