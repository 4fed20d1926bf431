// Package dispatch applies the actions of a fired rule to a Gmail message.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"

	"github.com/joshsymonds/gmailtriage/internal/gmail"
	"github.com/joshsymonds/gmailtriage/internal/model"
	"github.com/joshsymonds/gmailtriage/internal/rate"
	"github.com/joshsymonds/gmailtriage/internal/rules"
)

// ErrNoAvailableLabel is returned for move_message when the mailbox has no
// label outside gmail.ReservedLabels.
var ErrNoAvailableLabel = errors.New("no available label")

// Dispatcher issues one Gmail mutation per action.
type Dispatcher struct {
	Client  gmail.Client
	Limiter rate.Limiter
	Logger  *slog.Logger
	// Pick returns a uniformly random index in [0, n).
	Pick func(n int) int
	// DryRun builds reports without calling Modify.
	DryRun bool
}

// NewDispatcher constructs a Dispatcher with a math/rand picker.
func NewDispatcher(client gmail.Client, limiter rate.Limiter, logger *slog.Logger) *Dispatcher {
	if limiter == nil {
		limiter = rate.None{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Dispatcher{
		Client:  client,
		Limiter: limiter,
		Logger:  logger,
		Pick:    rand.IntN,
	}
}

// CandidateLabels drops the reserved system labels from labels.
func CandidateLabels(labels []gmail.Label) []gmail.Label {
	out := make([]gmail.Label, 0, len(labels))
	for _, l := range labels {
		if _, reserved := gmail.ReservedLabels[l.ID]; reserved {
			continue
		}
		out = append(out, l)
	}
	return out
}

// LoadCandidates fetches the mailbox labels once and filters them for use by
// every Dispatch call of a batch.
func (d *Dispatcher) LoadCandidates(ctx context.Context) ([]gmail.Label, error) {
	if err := d.Limiter.Wait(ctx); err != nil {
		return nil, err
	}
	labels, err := d.Client.ListLabels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	return CandidateLabels(labels), nil
}

// Dispatch runs actions against email in order. candidates is the label
// snapshot for move_message. On failure the report holds the actions already
// applied; those mutations stay in effect.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	email model.Email,
	actions []rules.Action,
	candidates []gmail.Label,
) (model.ActionReport, error) {
	report := model.ActionReport{
		EmailID:      email.ID,
		From:         email.From,
		Subject:      email.Subject,
		MovedActions: make([]string, 0, len(actions)),
	}
	logger := d.Logger.With(
		slog.String("message_id", email.ID),
		slog.String("from", email.From),
		slog.String("subject", email.Subject),
	)
	logger.InfoContext(ctx, "performing actions", slog.Int("count", len(actions)))

	for _, action := range actions {
		var (
			ops   gmail.ModifyOps
			entry string
		)
		switch action {
		case rules.MarkAsRead:
			ops.RemoveLabels = []gmail.LabelID{gmail.LabelUnread}
			entry = model.ReportRead
		case rules.MarkAsUnread:
			ops.AddLabels = []gmail.LabelID{gmail.LabelUnread}
			entry = model.ReportUnread
		case rules.MoveMessage:
			if len(candidates) == 0 {
				return report, fmt.Errorf("move message %s: %w", email.ID, ErrNoAvailableLabel)
			}
			label := candidates[d.pick(len(candidates))]
			ops.AddLabels = []gmail.LabelID{label.ID}
			entry = label.Name
		default:
			return report, fmt.Errorf("message %s: unknown action %q", email.ID, action)
		}

		if err := d.apply(ctx, gmail.MessageID(email.ID), ops); err != nil {
			return report, fmt.Errorf("%s message %s: %w", action, email.ID, err)
		}
		report.MovedActions = append(report.MovedActions, entry)
		logger.InfoContext(ctx, "action applied",
			slog.String("action", string(action)),
			slog.String("result", entry),
			slog.Bool("dry_run", d.DryRun),
		)
	}
	return report, nil
}

func (d *Dispatcher) apply(ctx context.Context, id gmail.MessageID, ops gmail.ModifyOps) error {
	if d.DryRun {
		return nil
	}
	if err := d.Limiter.Wait(ctx); err != nil {
		return err
	}
	return d.Client.Modify(ctx, id, ops)
}

func (d *Dispatcher) pick(n int) int {
	if d.Pick == nil {
		return rand.IntN(n)
	}
	return d.Pick(n)
}
