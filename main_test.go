package main

import (
	"bytes"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"groundcontrol/internal/auth"
)

func TestRunToken_IssuesParsableToken(t *testing.T) {
	cfg := defaultConfig()
	cfg.JWTSecret = "cli-secret"

	var out bytes.Buffer
	if err := runToken(cfg, []string{"--sub", "ops@example", "--role", "operator", "--ttl", "1h"}, &out); err != nil {
		t.Fatalf("run token: %v", err)
	}
	claims, err := auth.ParseJWT(strings.TrimSpace(out.String()), []byte("cli-secret"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "ops@example" || claims.Role != string(auth.RoleOperator) {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ExpiresAt == nil || time.Until(claims.ExpiresAt.Time) > time.Hour {
		t.Fatalf("expected 1h expiry, got %v", claims.ExpiresAt)
	}
}

func TestRunToken_RejectsBadInput(t *testing.T) {
	cfg := defaultConfig()
	cfg.JWTSecret = "cli-secret"
	var out bytes.Buffer
	if err := runToken(cfg, []string{"--role", "operator"}, &out); err == nil {
		t.Fatalf("expected error without subject")
	}
	if err := runToken(cfg, []string{"--sub", "x", "--role", "pilot"}, &out); err == nil {
		t.Fatalf("expected error for unknown role")
	}
}

func TestLoggingMiddleware_PassesFlusher(t *testing.T) {
	var flushed bool
	handler := loggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, flushed = w.(http.Flusher)
		w.WriteHeader(http.StatusTeapot)
	}), log.New(io.Discard, "", 0))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	if !flushed {
		t.Fatalf("expected wrapped writer to implement http.Flusher")
	}
	if resp.Code != http.StatusTeapot {
		t.Fatalf("expected 418, got %d", resp.Code)
	}
}
