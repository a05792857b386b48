// Package readiness runs dependency checks in two modes: blocking startup
// checks that gate job processing, and single-shot probes for the status
// endpoint.
package readiness

import (
	"context"
	"time"

	"loopcard/internal/pkg/logger"
	"loopcard/internal/pkg/retry"
)

// ProbeTimeout is the per-check deadline in probe mode.
const ProbeTimeout = 2 * time.Second

// Check is one dependency probe plus its startup retry tuning.
type Check struct {
	Name   string
	Policy retry.Policy
	Probe  func(ctx context.Context) error
}

// Result is the outcome of one probe invocation. Results are recomputed on
// every call and never cached.
type Result struct {
	Name    string `json:"name"`
	Ready   bool   `json:"ready"`
	Detail  string `json:"detail,omitempty"`
	Elapsed int64  `json:"elapsed_ms"`
}

// Startup runs the checks sequentially with their full retry policies.
// The first check that exhausts its attempts aborts the boot: the process
// must not begin accepting jobs against a dead dependency.
func Startup(ctx context.Context, log *logger.Logger, checks []Check) error {
	log = log.WithComponent("readiness")

	for _, c := range checks {
		start := time.Now()
		log.Info("startup check", "dependency", c.Name,
			"attempts", c.Policy.Attempts,
			"timeout", c.Policy.Timeout.String(),
		)

		if err := retry.Do(ctx, c.Name, c.Policy, c.Probe); err != nil {
			return err
		}

		log.Info("startup check passed", "dependency", c.Name,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return nil
}

// ProbeAll runs every check once with a short deadline. A failing check does
// not prevent the others from running; the aggregate is ready only when all
// pass.
func ProbeAll(ctx context.Context, checks []Check) (ready bool, results []Result) {
	ready = true
	results = make([]Result, 0, len(checks))

	for _, c := range checks {
		start := time.Now()
		err := retry.Do(ctx, c.Name, c.Policy.Once(ProbeTimeout), c.Probe)

		r := Result{
			Name:    c.Name,
			Ready:   err == nil,
			Elapsed: time.Since(start).Milliseconds(),
		}
		if err != nil {
			r.Detail = err.Error()
			ready = false
		}
		results = append(results, r)
	}
	return ready, results
}
