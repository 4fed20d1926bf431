// internal/runtime/googleapi.go adapts *gmail.Service to the triage Client.
package runtime

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	gc "github.com/joshsymonds/gmailtriage/internal/gmail"
)

const (
	// DefaultCallTimeout bounds a single Gmail API request.
	DefaultCallTimeout = 30 * time.Second
	// maxReadAttempts includes the first try.
	maxReadAttempts = 4
	me              = "me"
)

type googleClient struct {
	svc     *gmail.Service
	timeout time.Duration
	backoff gax.Backoff
}

// NewGoogleAPIClient wraps svc. A non-positive timeout selects
// DefaultCallTimeout.
func NewGoogleAPIClient(svc *gmail.Service, timeout time.Duration) gc.Client {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &googleClient{
		svc:     svc,
		timeout: timeout,
		backoff: gax.Backoff{Initial: 500 * time.Millisecond, Max: 8 * time.Second, Multiplier: 2},
	}
}

func (g *googleClient) Profile(ctx context.Context) (string, error) {
	var addr string
	err := g.read(ctx, func(ctx context.Context) error {
		p, err := g.svc.Users.GetProfile(me).Context(ctx).Do()
		if err != nil {
			return err
		}
		addr = p.EmailAddress
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("get profile: %w", err)
	}
	return addr, nil
}

func (g *googleClient) ListLabels(ctx context.Context) ([]gc.Label, error) {
	var out []gc.Label
	err := g.read(ctx, func(ctx context.Context) error {
		lr, err := g.svc.Users.Labels.List(me).Context(ctx).Do()
		if err != nil {
			return err
		}
		out = make([]gc.Label, 0, len(lr.Labels))
		for _, l := range lr.Labels {
			out = append(out, gc.Label{ID: gc.LabelID(l.Id), Name: l.Name, Type: l.Type})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	return out, nil
}

// Modify is issued once. A failed mutation may still have been applied
// server side, so it is reported rather than replayed.
func (g *googleClient) Modify(ctx context.Context, id gc.MessageID, ops gc.ModifyOps) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req := &gmail.ModifyMessageRequest{}
	if len(ops.AddLabels) > 0 {
		req.AddLabelIds = labelStrings(ops.AddLabels)
	}
	if len(ops.RemoveLabels) > 0 {
		req.RemoveLabelIds = labelStrings(ops.RemoveLabels)
	}
	if _, err := g.svc.Users.Messages.Modify(me, string(id), req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("modify message %s: %w", id, err)
	}
	return nil
}

func (g *googleClient) ListInbox(ctx context.Context, max int) ([]gc.MessageID, error) {
	var ids []gc.MessageID
	err := g.read(ctx, func(ctx context.Context) error {
		res, err := g.svc.Users.Messages.List(me).LabelIds(string(gc.LabelInbox)).MaxResults(int64(max)).Context(ctx).Do()
		if err != nil {
			return err
		}
		ids = make([]gc.MessageID, 0, len(res.Messages))
		for _, m := range res.Messages {
			ids = append(ids, gc.MessageID(m.Id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list inbox: %w", err)
	}
	return ids, nil
}

func (g *googleClient) GetRaw(ctx context.Context, id gc.MessageID) (gc.RawMessage, error) {
	var msg *gmail.Message
	err := g.read(ctx, func(ctx context.Context) error {
		m, err := g.svc.Users.Messages.Get(me, string(id)).Format("raw").Context(ctx).Do()
		if err != nil {
			return err
		}
		msg = m
		return nil
	})
	if err != nil {
		return gc.RawMessage{}, fmt.Errorf("get message %s: %w", id, err)
	}
	data, err := decodeRaw(msg.Raw)
	if err != nil {
		return gc.RawMessage{}, fmt.Errorf("decode message %s: %w", id, err)
	}
	return gc.RawMessage{ID: id, InternalDate: msg.InternalDate, Data: data}, nil
}

// read runs an idempotent call with a per-attempt timeout, retrying
// transient failures.
func (g *googleClient) read(ctx context.Context, call func(context.Context) error) error {
	return gax.Invoke(ctx, func(ctx context.Context, _ gax.CallSettings) error {
		ctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		return call(ctx)
	}, gax.WithRetry(func() gax.Retryer {
		return &readRetryer{backoff: g.backoff, max: maxReadAttempts}
	}))
}

type readRetryer struct {
	backoff  gax.Backoff
	attempts int
	max      int
}

func (r *readRetryer) Retry(err error) (time.Duration, bool) {
	r.attempts++
	if r.attempts >= r.max || !Transient(err) {
		return 0, false
	}
	return r.backoff.Pause(), true
}

// Transient reports whether err is worth retrying: rate limiting, server
// errors and per-call deadlines.
func Transient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	return gerr.Code == http.StatusTooManyRequests || gerr.Code >= http.StatusInternalServerError
}

func decodeRaw(s string) ([]byte, error) {
	if data, err := base64.URLEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawURLEncoding.DecodeString(s)
}

func labelStrings(ids []gc.LabelID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
