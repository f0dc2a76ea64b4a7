// Package health runs component probes for the /health endpoint.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// DefaultTimeout bounds a single probe.
const DefaultTimeout = 10 * time.Second

// Check represents a health check result.
type Check struct {
	Status    Status         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// CheckFunc produces one check result.
type CheckFunc func(context.Context) Check

// Probe turns an error-returning probe into a CheckFunc. The probe runs
// with timeout and its latency is reported.
func Probe(timeout time.Duration, probe func(context.Context) error) CheckFunc {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return func(ctx context.Context) Check {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		start := time.Now()
		err := probe(ctx)
		check := Check{
			Status:    StatusHealthy,
			Timestamp: time.Now(),
			Details:   map[string]any{"latency_ms": time.Since(start).Milliseconds()},
		}
		if err != nil {
			check.Status = StatusUnhealthy
			check.Details["error"] = err.Error()
		}
		return check
	}
}

// Checker performs health checks.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewChecker creates a new health checker.
func NewChecker() *Checker {
	return &Checker{
		checks: make(map[string]CheckFunc),
	}
}

// RegisterCheck registers a health check function.
func (c *Checker) RegisterCheck(name string, checkFunc CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = checkFunc
}

// Names returns the registered check names, sorted.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckHealth runs all registered checks concurrently.
func (c *Checker) CheckHealth(ctx context.Context) map[string]Check {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, fn := range c.checks {
		checks[name] = fn
	}
	c.mu.RUnlock()

	var (
		mu      sync.Mutex
		results = make(map[string]Check, len(checks))
		g       errgroup.Group
	)
	for name, fn := range checks {
		g.Go(func() error {
			check := fn(ctx)
			mu.Lock()
			results[name] = check
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Handler returns an HTTP handler for health checks.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := c.CheckHealth(r.Context())

		overallStatus := StatusHealthy
		for _, check := range results {
			if check.Status == StatusUnhealthy {
				overallStatus = StatusUnhealthy
				break
			}
		}

		response := struct {
			Status    Status           `json:"status"`
			Checks    map[string]Check `json:"checks"`
			Timestamp time.Time        `json:"timestamp"`
		}{
			Status:    overallStatus,
			Checks:    results,
			Timestamp: time.Now(),
		}

		w.Header().Set("Content-Type", "application/json")
		if overallStatus == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		// Headers are already sent; nothing useful to do with an error.
		_ = json.NewEncoder(w).Encode(response)
	}
}

// ReadinessHandler returns a simple readiness check handler.
func ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	}
}

// LivenessHandler returns a simple liveness check handler.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("alive\n"))
	}
}
