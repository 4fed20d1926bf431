package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/joshsymonds/gmailtriage/internal/auth"
	"github.com/joshsymonds/gmailtriage/internal/batch"
	"github.com/joshsymonds/gmailtriage/internal/model"
	"github.com/joshsymonds/gmailtriage/internal/rules"
	"github.com/joshsymonds/gmailtriage/internal/runtime"
)

type fakeVerifier map[string]string

func (f fakeVerifier) VerifyCredentials(ctx context.Context, username, password string) error {
	_ = ctx
	if pw, ok := f[username]; ok && pw == password {
		return nil
	}
	return auth.ErrInvalidCredentials
}

type fakeProcessor struct {
	out   [][]model.ActionReport
	err   error
	calls int
	got   rules.RuleSet
}

func (f *fakeProcessor) Run(ctx context.Context, identity string, rs rules.RuleSet) ([][]model.ActionReport, error) {
	_ = ctx
	_ = identity
	f.calls++
	f.got = rs
	return f.out, f.err
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const validBody = `{"predicate":"All","rules":[{"conditions":[{"field":"from","predicate":"equals","value":"a@b.com"}],"actions":["mark_as_read"]}]}`

func newRequest(body, user, pass string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/process_emails/process", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		token := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
		req.Header.Set("Authorization", "Basic "+token)
	}
	return req
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func testApp(proc *fakeProcessor, connectErr error) Config {
	return Config{
		Verifier: fakeVerifier{"me@example.com": "pw"},
		Connect: func(ctx context.Context) (Processor, error) {
			_ = ctx
			if connectErr != nil {
				return nil, connectErr
			}
			return proc, nil
		},
		Log: slogDiscard(),
	}
}

func TestProcessSuccess(t *testing.T) {
	proc := &fakeProcessor{out: [][]model.ActionReport{{
		{EmailID: "1", From: "a@b.com", Subject: "hi", MovedActions: []string{"READ"}},
	}}}
	app := New(testApp(proc, nil))

	resp, err := app.Test(newRequest(validBody, "me@example.com", "pw"))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decode(t, resp)
	if body["message"] != "Emails processed successfully" {
		t.Fatalf("message = %v", body["message"])
	}
	output, ok := body["output"].([]any)
	if !ok || len(output) != 1 {
		t.Fatalf("output = %#v", body["output"])
	}
	report := output[0].([]any)[0].(map[string]any)
	if report["email_id"] != "1" || report["from_email"] != "a@b.com" {
		t.Fatalf("report = %#v", report)
	}
	if proc.got.Predicate != rules.All || len(proc.got.Rules) != 1 {
		t.Fatalf("processor got %+v", proc.got)
	}
}

func TestProcessEmptyOutputIsList(t *testing.T) {
	proc := &fakeProcessor{out: [][]model.ActionReport{}}
	app := New(testApp(proc, nil))

	resp, err := app.Test(newRequest(validBody, "me@example.com", "pw"))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	body := decode(t, resp)
	if out, ok := body["output"].([]any); !ok || len(out) != 0 {
		t.Fatalf("expected empty list output, got %#v", body["output"])
	}
}

func TestProcessRejectsBadCredentials(t *testing.T) {
	tests := []struct {
		name       string
		user, pass string
	}{
		{"missing", "", ""},
		{"wrong-password", "me@example.com", "nope"},
		{"unknown-user", "ghost@example.com", "pw"},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			proc := &fakeProcessor{}
			app := New(testApp(proc, nil))
			resp, err := app.Test(newRequest(validBody, tc.user, tc.pass))
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			if resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("status = %d", resp.StatusCode)
			}
			if proc.calls != 0 {
				t.Fatalf("processor ran without credentials")
			}
		})
	}
}

func TestProcessValidationError(t *testing.T) {
	proc := &fakeProcessor{}
	app := New(testApp(proc, nil))

	resp, err := app.Test(newRequest(`{"predicate":"Sometimes","rules":[]}`, "me@example.com", "pw"))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decode(t, resp)
	if body["status"] != false || body["message"] != "Invalid predicate value. Must be 'All' or 'Any'." {
		t.Fatalf("body = %#v", body)
	}
	if proc.calls != 0 {
		t.Fatalf("processor ran on invalid payload")
	}
}

func TestProcessMailboxAuthFailure(t *testing.T) {
	proc := &fakeProcessor{}
	app := New(testApp(proc, fmt.Errorf("%w: token expired", runtime.ErrAuthFailed)))

	resp, err := app.Test(newRequest(validBody, "me@example.com", "pw"))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if proc.calls != 0 {
		t.Fatalf("processor ran after auth failure")
	}
}

func TestProcessFailure(t *testing.T) {
	proc := &fakeProcessor{err: fmt.Errorf("%w: fetch emails: disk full", batch.ErrProcessingFailed)}
	app := New(testApp(proc, nil))

	resp, err := app.Test(newRequest(validBody, "me@example.com", "pw"))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decode(t, resp)
	if body["error"] != "Something went wrong." || body["output"] != "ERROR" {
		t.Fatalf("body = %#v", body)
	}
}

func TestProcessConnectFailure(t *testing.T) {
	app := New(testApp(&fakeProcessor{}, errors.New("dial tcp: timeout")))
	resp, err := app.Test(newRequest(validBody, "me@example.com", "pw"))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	app := New(testApp(&fakeProcessor{}, nil))
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body := decode(t, resp); body["status"] != "ok" {
		t.Fatalf("body = %#v", body)
	}
}

type slowVerifier struct{}

func (slowVerifier) VerifyCredentials(ctx context.Context, username, password string) error {
	_ = username
	_ = password
	<-ctx.Done()
	return ctx.Err()
}

func TestBasicAuthLookupHonorsTimeout(t *testing.T) {
	proc := &fakeProcessor{}
	cfg := testApp(proc, nil)
	cfg.Verifier = slowVerifier{}
	cfg.Timeout = 20 * time.Millisecond
	app := New(cfg)

	resp, err := app.Test(newRequest(validBody, "me@example.com", "pw"), 2000)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if proc.calls != 0 {
		t.Fatalf("processor ran after failed lookup")
	}
}

func TestBasicAuthLookupStopsWithBaseContext(t *testing.T) {
	base, cancel := context.WithCancel(context.Background())
	cancel()
	proc := &fakeProcessor{}
	cfg := testApp(proc, nil)
	cfg.Verifier = slowVerifier{}
	cfg.BaseContext = base
	app := New(cfg)

	resp, err := app.Test(newRequest(validBody, "me@example.com", "pw"), 2000)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
