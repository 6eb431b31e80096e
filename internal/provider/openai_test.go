package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"hyfa/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOpenAI(url string, retries int) *OpenAI {
	o := NewOpenAI(OpenAIConfig{
		Endpoint:   url,
		AuthToken:  "secret",
		MaxRetries: retries,
		Timeout:    5 * time.Second,
		Logger:     testLogger(),
	})
	o.backoff = func(int) time.Duration { return time.Millisecond }
	return o
}

func completion(content string) string {
	data, _ := json.Marshal(oaiResponse{Choices: []oaiChoice{{Message: oaiMessage{Role: "assistant", Content: content}, FinishReason: "stop"}}})
	return string(data)
}

func TestOpenAI_GenerateSendsContextThenPrompt(t *testing.T) {
	var got oaiRequest
	var method, contentType, auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		contentType = r.Header.Get("Content-Type")
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		io.WriteString(w, completion("hello back"))
	}))
	defer srv.Close()

	o := newTestOpenAI(srv.URL, -1)
	reply, err := o.Generate(context.Background(), "and now?", []domain.ConversationMessage{
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAssistant, Content: "hello"},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if reply != "hello back" {
		t.Fatalf("expected 'hello back', got %q", reply)
	}
	if method != http.MethodPost || contentType != "application/json" {
		t.Fatalf("unexpected request %s %s", method, contentType)
	}
	if auth != "Bearer secret" {
		t.Fatalf("expected bearer auth, got %q", auth)
	}

	if got.Stream || got.IncludeFunctionsInfo {
		t.Fatalf("stream and function info must be off: %+v", got)
	}
	want := []oaiMessage{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "user", Content: "and now?"},
	}
	if !reflect.DeepEqual(got.Messages, want) {
		t.Fatalf("messages = %+v, want %+v", got.Messages, want)
	}
}

func TestOpenAI_GenerateIncludeFlags(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Errorf("decode request: %v", err)
		}
		io.WriteString(w, completion("ok"))
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{Endpoint: srv.URL, Model: "m1", IncludeRetrievalInfo: true, MaxRetries: -1, Logger: testLogger()})
	if _, err := o.Generate(context.Background(), "q", nil); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	want := map[string]any{
		"model":                   "m1",
		"include_retrieval_info":  true,
		"include_functions_info":  false,
		"include_guardrails_info": false,
	}
	for key, val := range want {
		if raw[key] != val {
			t.Errorf("%s = %v, want %v", key, raw[key], val)
		}
	}
}

func TestOpenAI_GenerateStripsThinking(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, completion("<think>\nreasoning here\n</think>\n\n  The answer.  "))
	}))
	defer srv.Close()

	reply, err := newTestOpenAI(srv.URL, -1).Generate(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if reply != "The answer." {
		t.Fatalf("expected 'The answer.', got %q", reply)
	}
}

func TestStripThinking(t *testing.T) {
	tests := []struct{ in, want string }{
		{"plain", "plain"},
		{"inline </think> stays", "inline </think> stays"},
		{"a\n</think>\ndone", "done"},
	}
	for _, tt := range tests {
		if got := stripThinking(tt.in); got != tt.want {
			t.Errorf("stripThinking(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOpenAI_GenerateNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	_, err := newTestOpenAI(srv.URL, -1).Generate(context.Background(), "q", nil)
	if !errors.Is(err, ErrNoChoices) {
		t.Fatalf("expected ErrNoChoices, got %v", err)
	}
}

func TestOpenAI_GenerateClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestOpenAI(srv.URL, 3).Generate(context.Background(), "q", nil)
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected a 401 error, got %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("client errors must not be retried, got %d calls", n)
	}
}

func TestOpenAI_GenerateRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, completion("finally"))
	}))
	defer srv.Close()

	reply, err := newTestOpenAI(srv.URL, 3).Generate(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if reply != "finally" {
		t.Fatalf("expected 'finally', got %q", reply)
	}
	if n := calls.Load(); n != 3 {
		t.Fatalf("expected 3 calls, got %d", n)
	}
}

func TestOpenAI_GenerateGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestOpenAI(srv.URL, 2).Generate(context.Background(), "q", nil)
	var re *retryableError
	if !errors.As(err, &re) {
		t.Fatalf("expected a retryable error, got %v", err)
	}
	if n := calls.Load(); n != 3 {
		t.Fatalf("expected 3 calls, got %d", n)
	}
}

func TestOpenAI_Healthy(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusMethodNotAllowed)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	o := newTestOpenAI(srv.URL, -1)
	if err := o.Healthy(context.Background()); err != nil {
		t.Fatalf("405 means the endpoint is reachable: %v", err)
	}

	for _, code := range []int32{http.StatusForbidden, http.StatusBadGateway} {
		status.Store(code)
		if err := o.Healthy(context.Background()); err == nil {
			t.Fatalf("expected error for status %d", code)
		}
	}
}
