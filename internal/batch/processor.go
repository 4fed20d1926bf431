// Package batch runs a validated rule-set over every cached email of one
// mailbox and collects what was done.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/joshsymonds/gmailtriage/internal/dispatch"
	"github.com/joshsymonds/gmailtriage/internal/gmail"
	"github.com/joshsymonds/gmailtriage/internal/model"
	"github.com/joshsymonds/gmailtriage/internal/rules"
)

// ErrProcessingFailed wraps every failure of Run after validation: mailbox,
// store and dispatch errors alike.
var ErrProcessingFailed = errors.New("processing failed")

// EmailSource yields the cached emails of a mailbox owner.
type EmailSource interface {
	FetchEmailsForUser(ctx context.Context, identity string) ([]model.Email, error)
}

// Processor is one batch runner. Dispatcher must share Client.
type Processor struct {
	Client     gmail.Client
	Store      EmailSource
	Dispatcher *dispatch.Dispatcher
	Log        *slog.Logger
	Clock      func() time.Time
	// Concurrency bounds the number of emails dispatched at once. Values
	// below 2 dispatch sequentially.
	Concurrency int
}

// NewProcessor wires a Processor with a sequential default.
func NewProcessor(client gmail.Client, store EmailSource, d *dispatch.Dispatcher, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Processor{
		Client:      client,
		Store:       store,
		Dispatcher:  d,
		Log:         logger,
		Clock:       time.Now,
		Concurrency: 1,
	}
}

type pending struct {
	email model.Email
	fired []rules.Rule
}

// Run applies rs to the emails of identity. An empty identity is resolved
// from the mailbox profile. The result holds one report list per email that
// fired at least one rule; no match yields an empty, non-nil aggregate.
func (p *Processor) Run(ctx context.Context, identity string, rs rules.RuleSet) ([][]model.ActionReport, error) {
	base := p.Log
	if base == nil {
		base = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	log := base.With(slog.String("run_id", uuid.NewString()))

	if identity == "" {
		if err := p.Dispatcher.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrProcessingFailed, err)
		}
		addr, err := p.Client.Profile(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: resolve mailbox: %w", ErrProcessingFailed, err)
		}
		identity = addr
	}
	log = log.With(slog.String("identity", identity))

	emails, err := p.Store.FetchEmailsForUser(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch emails: %w", ErrProcessingFailed, err)
	}
	log.Info("processing emails", "count", len(emails), "rules", len(rs.Rules), "predicate", rs.Predicate)

	matcher := rules.NewMatcher(rules.NewEvaluator(p.clock()))
	var (
		work      []pending
		needLabel bool
	)
	for _, email := range emails {
		fired := matcher.Fire(email, rs)
		if len(fired) == 0 {
			continue
		}
		for _, r := range fired {
			if hasAction(r, rules.MoveMessage) {
				needLabel = true
			}
		}
		work = append(work, pending{email: email, fired: fired})
	}

	out := make([][]model.ActionReport, 0, len(work))
	if len(work) == 0 {
		log.Info("no emails matched")
		return out, nil
	}

	var candidates []gmail.Label
	if needLabel {
		candidates, err = p.Dispatcher.LoadCandidates(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrProcessingFailed, err)
		}
	}

	results := make([][]model.ActionReport, len(work))
	dispatchOne := func(ctx context.Context, i int) error {
		w := work[i]
		reports := make([]model.ActionReport, 0, len(w.fired))
		for _, r := range w.fired {
			report, err := p.Dispatcher.Dispatch(ctx, w.email, r.Actions, candidates)
			if err != nil {
				return err
			}
			reports = append(reports, report)
		}
		results[i] = reports
		return nil
	}

	if p.Concurrency < 2 {
		for i := range work {
			if err := dispatchOne(ctx, i); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrProcessingFailed, err)
			}
		}
	} else {
		wp := pool.New().WithContext(ctx).WithMaxGoroutines(p.Concurrency).WithCancelOnError().WithFirstError()
		for i := range work {
			i := i
			wp.Go(func(ctx context.Context) error { return dispatchOne(ctx, i) })
		}
		if err := wp.Wait(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrProcessingFailed, err)
		}
	}

	for _, reports := range results {
		if len(reports) > 0 {
			out = append(out, reports)
		}
	}
	log.Info("processed emails", "matched", len(out))
	return out, nil
}

func (p *Processor) clock() func() time.Time {
	if p.Clock == nil {
		return time.Now
	}
	return p.Clock
}

func hasAction(r rules.Rule, a rules.Action) bool {
	for _, x := range r.Actions {
		if x == a {
			return true
		}
	}
	return false
}
