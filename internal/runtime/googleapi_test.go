package runtime

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	gc "github.com/joshsymonds/gmailtriage/internal/gmail"
)

func newTestClient(t *testing.T, h http.Handler) *googleClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	svc, err := gmail.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	g := NewGoogleAPIClient(svc, time.Second).(*googleClient)
	g.backoff = gax.Backoff{Initial: time.Millisecond, Max: 2 * time.Millisecond, Multiplier: 1}
	return g
}

func TestProfileRetriesTransient(t *testing.T) {
	var calls atomic.Int32
	g := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/users/me/profile") {
			http.NotFound(w, r)
			return
		}
		if calls.Add(1) < 3 {
			http.Error(w, `{"error":{"code":503,"message":"backend"}}`, http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"emailAddress":"me@example.com"}`)
	}))

	addr, err := g.Profile(context.Background())
	if err != nil {
		t.Fatalf("profile failed: %v", err)
	}
	if addr != "me@example.com" {
		t.Fatalf("addr = %q", addr)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestReadGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	g := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":{"code":429,"message":"slow down"}}`, http.StatusTooManyRequests)
	}))

	if _, err := g.ListLabels(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if calls.Load() != maxReadAttempts {
		t.Fatalf("expected %d attempts, got %d", maxReadAttempts, calls.Load())
	}
}

func TestReadDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	g := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":{"code":404,"message":"nope"}}`, http.StatusNotFound)
	}))

	if _, err := g.GetRaw(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestModifyIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	g := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":{"code":500,"message":"oops"}}`, http.StatusInternalServerError)
	}))

	err := g.Modify(context.Background(), "m1", gc.ModifyOps{RemoveLabels: []gc.LabelID{gc.LabelUnread}})
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("modify attempted %d times", calls.Load())
	}
}

func TestModifySendsLabels(t *testing.T) {
	var body string
	g := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/users/me/messages/m1/modify") {
			http.NotFound(w, r)
			return
		}
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		fmt.Fprint(w, `{"id":"m1"}`)
	}))

	if err := g.Modify(context.Background(), "m1", gc.ModifyOps{AddLabels: []gc.LabelID{"Label_1"}}); err != nil {
		t.Fatalf("modify failed: %v", err)
	}
	if !strings.Contains(body, `"addLabelIds":["Label_1"]`) {
		t.Fatalf("unexpected request body %s", body)
	}
	if strings.Contains(body, "removeLabelIds") {
		t.Fatalf("empty remove list was sent: %s", body)
	}
}

func TestGetRawDecodes(t *testing.T) {
	msg := "From: a@b.com\r\nSubject: hi\r\n\r\nbody"
	g := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("format") != "raw" {
			http.Error(w, "format", http.StatusBadRequest)
			return
		}
		fmt.Fprintf(w, `{"id":"m1","internalDate":"1700000000000","raw":%q}`, base64.URLEncoding.EncodeToString([]byte(msg)))
	}))

	raw, err := g.GetRaw(context.Background(), "m1")
	if err != nil {
		t.Fatalf("get raw: %v", err)
	}
	if string(raw.Data) != msg {
		t.Fatalf("data = %q", raw.Data)
	}
	if raw.InternalDate != 1700000000000 {
		t.Fatalf("internal date = %d", raw.InternalDate)
	}
}

func TestListInboxQuery(t *testing.T) {
	g := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("labelIds") != "INBOX" || q.Get("maxResults") != "10" {
			http.Error(w, "query", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"messages":[{"id":"a"},{"id":"b"}]}`)
	}))

	ids, err := g.ListInbox(context.Background(), 10)
	if err != nil {
		t.Fatalf("list inbox: %v", err)
	}
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("ids = %v", ids)
	}
}

func TestTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate", &googleapi.Error{Code: 429}, true},
		{"unavailable", &googleapi.Error{Code: 503}, true},
		{"wrapped", fmt.Errorf("list: %w", &googleapi.Error{Code: 500}), true},
		{"forbidden", &googleapi.Error{Code: 403}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			if got := Transient(tc.err); got != tc.want {
				t.Fatalf("Transient = %v want %v", got, tc.want)
			}
		})
	}
}

func TestDecodeRawUnpadded(t *testing.T) {
	got, err := decodeRaw(base64.RawURLEncoding.EncodeToString([]byte("ab")))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(got) != "ab" {
		t.Fatalf("decoded %q", got)
	}
}
