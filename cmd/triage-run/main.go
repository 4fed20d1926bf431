package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joshsymonds/gmailtriage/internal/batch"
	"github.com/joshsymonds/gmailtriage/internal/config"
	"github.com/joshsymonds/gmailtriage/internal/dispatch"
	"github.com/joshsymonds/gmailtriage/internal/rate"
	"github.com/joshsymonds/gmailtriage/internal/rules"
	"github.com/joshsymonds/gmailtriage/internal/runtime"
	"github.com/joshsymonds/gmailtriage/internal/store"
)

type runConfig struct {
	configPath  string
	rulesPath   string
	inline      string
	identity    string
	dryRun      bool
	concurrency int
}

// errInvalidRules has already been reported on stdout.
var errInvalidRules = errors.New("invalid rule set")

func main() {
	cfg := parseRunFlags()
	if err := run(cfg); err != nil {
		if !errors.Is(err, errInvalidRules) {
			runtime.DefaultLogger("info").Error("triage-run failed", "error", err)
		}
		os.Exit(1)
	}
}

func parseRunFlags() runConfig {
	configPath := flag.String("config", config.DefaultPath(), "config file")
	rulesPath := flag.String("rules", "", "rule-set JSON file, - for stdin")
	identity := flag.String("identity", "", "mailbox identity; defaults to the authenticated profile")
	dryRun := flag.Bool("dry-run", false, "evaluate and report; skip modifications")
	concurrency := flag.Int("concurrency", 0, "emails dispatched at once; 0 uses the config value")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [rule-set JSON]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	return runConfig{
		configPath:  *configPath,
		rulesPath:   *rulesPath,
		inline:      flag.Arg(0),
		identity:    *identity,
		dryRun:      *dryRun,
		concurrency: *concurrency,
	}
}

func run(cfg runConfig) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	settings, err := config.Load(cfg.configPath)
	if err != nil {
		return err
	}
	log := runtime.DefaultLogger(settings.LogLevel)

	raw, err := readRules(cfg)
	if err != nil {
		return err
	}
	rs, err := rules.Validate(raw)
	if err != nil {
		var verr *rules.ValidationError
		if errors.As(err, &verr) {
			_ = json.NewEncoder(os.Stdout).Encode(map[string]any{"status": false, "message": verr.Message})
			return errInvalidRules
		}
		return err
	}

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

	d := dispatch.NewDispatcher(client, rate.New(settings.Gmail.RPS), log)
	d.DryRun = cfg.dryRun || settings.DryRun
	proc := batch.NewProcessor(client, st, d, log)
	proc.Concurrency = settings.Gmail.Concurrency
	if cfg.concurrency > 0 {
		proc.Concurrency = cfg.concurrency
	}

	out, err := proc.Run(ctx, cfg.identity, rs)
	if err != nil {
		return fmt.Errorf("run batch: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func readRules(cfg runConfig) ([]byte, error) {
	switch {
	case cfg.rulesPath == "-":
		return io.ReadAll(os.Stdin)
	case cfg.rulesPath != "":
		b, err := os.ReadFile(cfg.rulesPath)
		if err != nil {
			return nil, fmt.Errorf("read rules: %w", err)
		}
		return b, nil
	case cfg.inline != "":
		return []byte(cfg.inline), nil
	default:
		return nil, errors.New("no rule set given: pass -rules or a JSON argument")
	}
}
