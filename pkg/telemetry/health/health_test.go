package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"mercator-hq/indexretain/pkg/config"
)

func TestNew(t *testing.T) {
	if c := New(0); c.checkTimeout != 5*time.Second {
		t.Errorf("default timeout = %v, want 5s", c.checkTimeout)
	}
	if c := New(time.Second); c.checkTimeout != time.Second {
		t.Errorf("timeout = %v, want 1s", c.checkTimeout)
	}
}

func TestChecker_Register(t *testing.T) {
	c := New(time.Second)
	c.RegisterCheck("b", func(ctx context.Context) error { return nil })
	c.RegisterReport("a", func(ctx context.Context) (map[string]any, error) { return nil, nil })

	if diff := cmp.Diff([]string{"a", "b"}, c.ListChecks()); diff != "" {
		t.Errorf("checks mismatch (-want +got):\n%s", diff)
	}

	c.UnregisterCheck("a")
	if diff := cmp.Diff([]string{"b"}, c.ListChecks()); diff != "" {
		t.Errorf("checks mismatch (-want +got):\n%s", diff)
	}
}

func TestChecker_CheckReadiness(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]ReportFunc
		wantStatus string
	}{
		{
			name:       "no checks",
			wantStatus: "ready",
		},
		{
			name: "all healthy",
			checks: map[string]ReportFunc{
				"index:a": func(ctx context.Context) (map[string]any, error) {
					return map[string]any{"pending_intents": 0}, nil
				},
			},
			wantStatus: "ready",
		},
		{
			name: "one failing",
			checks: map[string]ReportFunc{
				"index:a": func(ctx context.Context) (map[string]any, error) { return nil, nil },
				"index:b": func(ctx context.Context) (map[string]any, error) {
					return nil, errors.New("store closed")
				},
			},
			wantStatus: "degraded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(time.Second)
			for name, check := range tt.checks {
				c.RegisterReport(name, check)
			}

			status := c.CheckReadiness(context.Background())
			if status.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", status.Status, tt.wantStatus)
			}
			if len(status.Checks) != len(tt.checks) {
				t.Errorf("got %d results, want %d", len(status.Checks), len(tt.checks))
			}
		})
	}
}

func TestChecker_Timeout(t *testing.T) {
	c := New(20 * time.Millisecond)
	c.RegisterCheck("slow", func(ctx context.Context) error {
		time.Sleep(time.Second)
		return nil
	})

	status := c.CheckReadiness(context.Background())
	r := status.Checks["slow"]
	if r.Status != "unhealthy" || r.Message != ErrCheckTimeout.Error() {
		t.Errorf("slow check = %+v, want timeout", r)
	}
}

func TestMount(t *testing.T) {
	c := New(time.Second)
	c.RegisterReport("index:a", func(ctx context.Context) (map[string]any, error) {
		return map[string]any{"pending_intents": 2}, nil
	})

	mux := http.NewServeMux()
	Mount(mux, c, config.HealthConfig{LivenessPath: "/healthz", ReadinessPath: "/readyz"})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("liveness code = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("readiness code = %d, want 200", rec.Code)
	}

	var body HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode readiness body: %v", err)
	}
	if got := body.Checks["index:a"].Details["pending_intents"]; got != float64(2) {
		t.Errorf("pending_intents = %v, want 2", got)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/readyz", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST code = %d, want 405", rec.Code)
	}
}

func TestReadinessHandler_Degraded(t *testing.T) {
	c := New(time.Second)
	c.RegisterCheck("index:a", func(ctx context.Context) error { return errors.New("down") })

	rec := httptest.NewRecorder()
	c.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", rec.Code)
	}
}
