package loadgen

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Config drives a synthetic traffic run against a portal instance.
type Config struct {
	BaseURL     string
	Profile     string
	Duration    time.Duration
	RPS         int
	Concurrency int
	Seed        int64
}

type Result struct {
	TotalRequests int
	Failures      int
	StatusClasses map[string]int
	Elapsed       time.Duration
}

var profileTargets = map[string][]string{
	"health":    {"/health/live", "/health/ready"},
	"auth":      {"/auth/login", "/api/v1/session"},
	"shipments": {"/api/v1/shipments/", "/api/v1/shipments/statuses", "/api/v1/dashboard/kpis"},
	"mixed": {
		"/health/live",
		"/health/ready",
		"/auth/login",
		"/api/v1/session",
		"/api/v1/shipments/",
		"/api/v1/shipments/statuses",
	},
}

func normalizeProfile(profile string) string {
	p := strings.ToLower(strings.TrimSpace(profile))
	if p == "" {
		return "mixed"
	}
	return p
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}

// Run fires paced requests at the configured profile's endpoints until the
// duration elapses or the context is cancelled. Non-2xx/3xx/4xx responses
// and transport errors count as failures; 4xx is expected traffic here
// because unauthenticated probes of protected endpoints return 401.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	targets, ok := profileTargets[normalizeProfile(cfg.Profile)]
	if !ok {
		return nil, fmt.Errorf("unknown load profile %q", cfg.Profile)
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 10 * time.Second
	}

	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	client := &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	var mu sync.Mutex
	res := &Result{StatusClasses: map[string]int{}}
	work := make(chan string)

	var wg sync.WaitGroup
	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for target := range work {
				class, failed := fire(runCtx, client, cfg.BaseURL+target)
				mu.Lock()
				res.TotalRequests++
				res.StatusClasses[class]++
				if failed {
					res.Failures++
				}
				mu.Unlock()
			}
		}()
	}

	start := time.Now()
	ticker := time.NewTicker(time.Second / time.Duration(cfg.RPS))
	defer ticker.Stop()

feed:
	for {
		select {
		case <-runCtx.Done():
			break feed
		case <-ticker.C:
			select {
			case work <- targets[rng.Intn(len(targets))]:
			case <-runCtx.Done():
				break feed
			}
		}
	}
	close(work)
	wg.Wait()

	res.Elapsed = time.Since(start)
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	return res, nil
}

func fire(ctx context.Context, client *http.Client, url string) (class string, failed bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "other", true
	}
	resp, err := client.Do(req)
	if err != nil {
		return "other", true
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	c := classifyStatusClass(resp.StatusCode)
	return c, c == "5xx" || c == "other"
}
