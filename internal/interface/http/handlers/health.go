// Package handlers holds the reusable pieces of the HTTP surface: health
// checks, token authentication and the gateway webhook payload.
package handlers

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

// HealthChecker backs /health and /ready.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
}

// HealthCheckFunc checks one dependency; nil means healthy.
type HealthCheckFunc func(ctx context.Context) error

// Pinger is satisfied by the Postgres connection and the Redis client.
type Pinger interface {
	Ping(ctx context.Context) error
}

func NewPingCheck(p Pinger) HealthCheckFunc { return p.Ping }

// HealthStatus is the /health body.
type HealthStatus struct {
	Healthy   bool                   `json:"healthy"`
	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// CompositeHealthChecker runs the registered dependency checks concurrently,
// each under its own timeout. Stores that were not configured are simply
// never registered.
type CompositeHealthChecker struct {
	version string
	started time.Time

	mu      sync.RWMutex
	checks  map[string]HealthCheckFunc
	timeout time.Duration
}

func NewCompositeHealthChecker(version string) *CompositeHealthChecker {
	return &CompositeHealthChecker{
		version: version,
		started: time.Now(),
		checks:  map[string]HealthCheckFunc{},
		timeout: 3 * time.Second,
	}
}

// SetTimeout bounds each check. Non-positive values are ignored.
func (c *CompositeHealthChecker) SetTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.timeout = d
	c.mu.Unlock()
}

// AddCheck registers or replaces the check called name.
func (c *CompositeHealthChecker) AddCheck(name string, check HealthCheckFunc) {
	c.mu.Lock()
	c.checks[name] = check
	c.mu.Unlock()
}

func (c *CompositeHealthChecker) Check(ctx context.Context) HealthStatus {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	slices.Sort(names)
	fns := make([]HealthCheckFunc, len(names))
	for i, name := range names {
		fns[i] = c.checks[name]
	}
	timeout := c.timeout
	c.mu.RUnlock()

	results := make([]CheckResult, len(names))
	var g errgroup.Group
	for i, check := range fns {
		i, check := i, check
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			err := check(pctx)
			results[i] = CheckResult{
				Healthy:  err == nil,
				Message:  "OK",
				Duration: time.Since(start).Round(time.Millisecond).String(),
			}
			if err != nil {
				results[i].Message = err.Error()
			}
			// Failures are reported in the body, not as a group error.
			return nil
		})
	}
	_ = g.Wait()

	status := HealthStatus{
		Healthy:   true,
		Message:   "All checks passed",
		Checks:    make(map[string]CheckResult, len(names)),
		Uptime:    time.Since(c.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   c.version,
	}
	if len(names) == 0 {
		status.Message = "No health checks registered"
		return status
	}

	var failed []string
	for i, name := range names {
		status.Checks[name] = results[i]
		if !results[i].Healthy {
			failed = append(failed, name)
		}
	}
	if len(failed) > 0 {
		status.Healthy = false
		status.Message = "Some checks failed: " + strings.Join(failed, ", ")
	}
	return status
}
