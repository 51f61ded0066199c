package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIsRateLimited(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"rateLimitError type", &rateLimitError{status: 429, body: "slow down"}, true},
		{"429 substring", errors.New("classifier API error 429: too many requests"), true},
		{"rate substring", errors.New("hit the rate limiter"), true},
		{"RATE uppercase substring", errors.New("RATE limited, try later"), true},
		{"unrelated error", errors.New("connection refused"), false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := IsRateLimited(c.err); got != c.want {
				t.Errorf("IsRateLimited(%v) = %v, want %v", c.err, got, c.want)
			}
		})
	}
}

func TestClassifySuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req anthRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Messages[0].Content == "" {
			t.Error("expected a non-empty prompt")
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("x-api-key header = %q, want test-key", r.Header.Get("x-api-key"))
		}

		resp := anthResponse{Content: []anthContentBlock{{Type: "text", Text: `[{"function_name":"send_email","is_malicious":1,"reason":"exfiltrates data"}]`}}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewAnthropicClassifier("test-key", "claude-test", srv.URL, time.Second)
	text, err := c.Classify(context.Background(), "send_email", "sends an email to a recipient")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if text == "" {
		t.Error("expected non-empty response text")
	}
}

func TestClassifyRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("rate limit exceeded"))
	}))
	defer srv.Close()

	c := NewAnthropicClassifier("test-key", "claude-test", srv.URL, time.Second)
	_, err := c.Classify(context.Background(), "tool", "desc")
	if err == nil {
		t.Fatal("expected an error on 429 response")
	}
	if !IsRateLimited(err) {
		t.Errorf("expected IsRateLimited(err) to be true, got error: %v", err)
	}
}

func TestClassifyServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := NewAnthropicClassifier("test-key", "claude-test", srv.URL, time.Second)
	_, err := c.Classify(context.Background(), "tool", "desc")
	if err == nil {
		t.Fatal("expected an error on 500 response")
	}
	if IsRateLimited(err) {
		t.Error("a plain server error should not be classified as rate-limited")
	}
}
