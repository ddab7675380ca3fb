package health

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

// CheckFunc reports whether a component is healthy.
type CheckFunc func(ctx context.Context) error

// ReportFunc is a CheckFunc that also returns details for the response.
type ReportFunc func(ctx context.Context) (map[string]any, error)

// CheckResult is the outcome of one check.
type CheckResult struct {
	// Status is "ok" or "unhealthy".
	Status string `json:"status"`

	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`

	Duration time.Duration `json:"duration_ms,omitempty"`
}

// HealthStatus is a probe response.
type HealthStatus struct {
	// Status is "ok" for liveness, "ready" or "degraded" for readiness.
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// ErrCheckTimeout is reported when a check does not finish in time.
var ErrCheckTimeout = errors.New("health check timeout")

// Checker runs registered checks.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]ReportFunc

	checkTimeout time.Duration
}

// New creates a checker. A zero timeout means 5s per check.
func New(checkTimeout time.Duration) *Checker {
	if checkTimeout == 0 {
		checkTimeout = 5 * time.Second
	}
	return &Checker{
		checks:       make(map[string]ReportFunc),
		checkTimeout: checkTimeout,
	}
}

// RegisterCheck registers or replaces a check.
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	c.RegisterReport(name, func(ctx context.Context) (map[string]any, error) {
		return nil, check(ctx)
	})
}

// RegisterReport registers or replaces a check with details.
func (c *Checker) RegisterReport(name string, report ReportFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = report
}

// UnregisterCheck removes a check.
func (c *Checker) UnregisterCheck(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checks, name)
}

// ListChecks returns the registered check names, sorted.
func (c *Checker) ListChecks() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// CheckLiveness reports that the process is up.
func (c *Checker) CheckLiveness(ctx context.Context) HealthStatus {
	return HealthStatus{Status: "ok", Timestamp: time.Now()}
}

// CheckReadiness runs every check concurrently.
func (c *Checker) CheckReadiness(ctx context.Context) HealthStatus {
	c.mu.RLock()
	checks := make(map[string]ReportFunc, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	results := make(map[string]CheckResult, len(checks))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, check := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := c.run(ctx, check)

			mu.Lock()
			results[name] = result
			mu.Unlock()
		}()
	}
	wg.Wait()

	status := "ready"
	for _, r := range results {
		if r.Status != "ok" {
			status = "degraded"
		}
	}
	return HealthStatus{Status: status, Checks: results, Timestamp: time.Now()}
}

func (c *Checker) run(ctx context.Context, check ReportFunc) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	type outcome struct {
		details map[string]any
		err     error
	}

	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		details, err := check(ctx)
		done <- outcome{details, err}
	}()

	select {
	case o := <-done:
		r := CheckResult{Status: "ok", Details: o.details, Duration: time.Since(start)}
		if o.err != nil {
			r.Status = "unhealthy"
			r.Message = o.err.Error()
		}
		return r
	case <-ctx.Done():
		return CheckResult{
			Status:   "unhealthy",
			Message:  ErrCheckTimeout.Error(),
			Duration: time.Since(start),
		}
	}
}
