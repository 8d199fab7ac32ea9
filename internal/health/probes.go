package health

import (
	"context"
	"sync"
	"time"
)

type CheckResult struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// Checker is one readiness dependency (database ping, redis ping).
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// ProbeRunner runs readiness checks with a per-run timeout and caches the
// combined result briefly so probe storms do not hammer dependencies.
type ProbeRunner struct {
	timeout  time.Duration
	cacheTTL time.Duration
	checkers []Checker

	mu       sync.Mutex
	cachedAt time.Time
	cachedOK bool
	cached   []CheckResult
}

func NewProbeRunner(timeout, cacheTTL time.Duration, checkers ...Checker) *ProbeRunner {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if cacheTTL < 0 {
		cacheTTL = 0
	}
	return &ProbeRunner{timeout: timeout, cacheTTL: cacheTTL, checkers: checkers}
}

func (p *ProbeRunner) Ready(ctx context.Context) (bool, []CheckResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cacheTTL > 0 && time.Since(p.cachedAt) < p.cacheTTL && p.cached != nil {
		return p.cachedOK, p.cached
	}

	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	results := make([]CheckResult, 0, len(p.checkers))
	ok := true
	for _, checker := range p.checkers {
		result := CheckResult{Name: checker.Name, Healthy: true}
		if err := checker.Check(runCtx); err != nil {
			result.Healthy = false
			result.Error = err.Error()
			ok = false
		}
		results = append(results, result)
	}

	p.cachedAt = time.Now()
	p.cachedOK = ok
	p.cached = results
	return ok, results
}
