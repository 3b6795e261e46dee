package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type mockDB struct {
	pingFunc func(ctx context.Context) error
}

func (m *mockDB) Ping(ctx context.Context) error {
	if m.pingFunc != nil {
		return m.pingFunc(ctx)
	}
	return nil
}

func TestHealth_OK(t *testing.T) {
	var hadDeadline bool
	h := New(&mockDB{pingFunc: func(ctx context.Context) error {
		_, hadDeadline = ctx.Deadline()
		return nil
	}}, "http://localhost:3000")
	req := httptest.NewRequest("GET", "/api/health", nil)
	rec := httptest.NewRecorder()

	h.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var resp healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || resp.Database != "ok" {
		t.Errorf("expected ok/ok, got %q/%q", resp.Status, resp.Database)
	}
	if !hadDeadline {
		t.Error("ping should run with a deadline")
	}
}

func TestHealth_Unhealthy(t *testing.T) {
	h := New(&mockDB{
		pingFunc: func(ctx context.Context) error {
			return errors.New("dial tcp 10.0.0.5:5432: connection refused")
		},
	}, "http://localhost:3000")

	req := httptest.NewRequest("GET", "/api/health", nil)
	rec := httptest.NewRecorder()

	h.Health(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "10.0.0.5") {
		t.Errorf("driver error leaked into the response: %s", rec.Body.String())
	}
	var resp healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "unhealthy" || resp.Database != "unreachable" {
		t.Errorf("expected unhealthy/unreachable, got %q/%q", resp.Status, resp.Database)
	}
}

func TestHealth_HungDatabaseTimesOut(t *testing.T) {
	h := New(&mockDB{pingFunc: func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Second):
			return nil
		}
	}}, "http://localhost:3000")

	rec := httptest.NewRecorder()
	start := time.Now()
	h.Health(rec, httptest.NewRequest("GET", "/api/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("health check took %s", elapsed)
	}
}
