// Package health exposes liveness and readiness probes over HTTP.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/astanek/livechat-relay/pkg/logger"
)

// Check is a single dependency probe. Nil means healthy.
type Check interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckFunc adapts a plain function into a Check.
type CheckFunc struct {
	name string
	fn   func(context.Context) error
}

// NewCheckFunc creates a named Check from a function.
func NewCheckFunc(name string, fn func(context.Context) error) *CheckFunc {
	return &CheckFunc{name: name, fn: fn}
}

func (c *CheckFunc) Name() string                    { return c.name }
func (c *CheckFunc) Check(ctx context.Context) error { return c.fn(ctx) }

// CheckResult is the outcome of one probe execution.
type CheckResult struct {
	Name    string
	Healthy bool
	Error   string
	Latency time.Duration
}

// Status aggregates the results of a probe run.
type Status struct {
	Healthy bool
	Checks  []CheckResult
}

// Checker runs liveness and readiness checks. Liveness answers "should
// the process be restarted", readiness "can it take traffic".
type Checker struct {
	mu        sync.RWMutex
	liveness  []Check
	readiness []Check

	timeout time.Duration
	log     logger.Logger
}

// Option configures a Checker.
type Option func(*Checker)

// WithTimeout bounds each individual check. Default is 5 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *Checker) { c.timeout = d }
}

// WithLogger sets the logger used for failed checks.
func WithLogger(l logger.Logger) Option {
	return func(c *Checker) { c.log = l }
}

// New creates a Checker with no checks registered. A Checker with no
// checks reports healthy.
func New(opts ...Option) *Checker {
	c := &Checker{timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddLivenessCheck registers a liveness probe.
func (c *Checker) AddLivenessCheck(check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.liveness = append(c.liveness, check)
}

// AddReadinessCheck registers a readiness probe.
func (c *Checker) AddReadinessCheck(check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readiness = append(c.readiness, check)
}

// CheckLiveness runs all liveness checks.
func (c *Checker) CheckLiveness(ctx context.Context) (Status, error) {
	c.mu.RLock()
	checks := c.liveness
	c.mu.RUnlock()
	return c.run(ctx, checks)
}

// CheckReadiness runs all readiness checks.
func (c *Checker) CheckReadiness(ctx context.Context) (Status, error) {
	c.mu.RLock()
	checks := c.readiness
	c.mu.RUnlock()
	return c.run(ctx, checks)
}

// run executes checks concurrently and aggregates the outcome.
func (c *Checker) run(ctx context.Context, checks []Check) (Status, error) {
	status := Status{Healthy: true, Checks: make([]CheckResult, len(checks))}
	if len(checks) == 0 {
		return status, nil
	}

	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Add(1)
		go func(idx int, chk Check) {
			defer wg.Done()
			status.Checks[idx] = c.execute(ctx, chk)
		}(i, check)
	}
	wg.Wait()

	var failed []string
	for _, result := range status.Checks {
		if !result.Healthy {
			status.Healthy = false
			failed = append(failed, result.Name)
		}
	}
	if !status.Healthy {
		return status, fmt.Errorf("health checks failed: %v", failed)
	}
	return status, nil
}

func (c *Checker) execute(parent context.Context, check Check) CheckResult {
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	start := time.Now()
	err := check.Check(ctx)
	result := CheckResult{
		Name:    check.Name(),
		Healthy: err == nil,
		Latency: time.Since(start),
	}
	if err != nil {
		result.Error = err.Error()
		if c.log != nil {
			c.log.Warn("Health check failed",
				logger.StringField("check", check.Name()),
				logger.ErrorField(err),
				logger.DurationField("latency", result.Latency))
		}
	}
	return result
}
