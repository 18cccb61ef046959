package health

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/emirsalihagic/miniERP-sub001/internal/common"
)

const defaultProbeTimeout = 500 * time.Millisecond

// draining flips to true when the process starts shutting down so load
// balancers stop routing before the listener closes.
var draining atomic.Bool

// SetReady toggles the process-wide readiness flag.
func SetReady(ready bool) {
	draining.Store(!ready)
}

// Probe is one named readiness dependency.
type Probe struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingProbe checks a pinger such as the Postgres pool.
func PingProbe(name string, p Pinger, timeout time.Duration) Probe {
	return Probe{Name: name, Timeout: timeout, Check: func(ctx context.Context) error {
		if p == nil {
			return errors.New("not configured")
		}
		return p.Ping(ctx)
	}}
}

// RedisProbe checks a Redis client.
func RedisProbe(client *redis.Client, timeout time.Duration) Probe {
	return Probe{Name: "redis", Timeout: timeout, Check: func(ctx context.Context) error {
		if client == nil {
			return errors.New("not configured")
		}
		return client.Ping(ctx).Err()
	}}
}

// Handler serves the liveness and readiness endpoints.
type Handler struct {
	Probes []Probe
}

type checkResult struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

type readiness struct {
	Status string                 `json:"status"`
	Checks map[string]checkResult `json:"checks,omitempty"`
}

// Live reports that the process is up.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready runs every probe concurrently and answers 503 while draining or when
// any probe fails.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if draining.Load() {
		common.JSON(w, http.StatusServiceUnavailable, readiness{Status: "draining"})
		return
	}
	if len(h.Probes) == 0 {
		common.JSON(w, http.StatusServiceUnavailable, readiness{Status: "unconfigured"})
		return
	}

	results := make([]checkResult, len(h.Probes))
	var wg sync.WaitGroup
	for i, probe := range h.Probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = run(r.Context(), probe)
		}()
	}
	wg.Wait()

	body := readiness{Status: "ok", Checks: make(map[string]checkResult, len(results))}
	code := http.StatusOK
	for i, res := range results {
		body.Checks[h.Probes[i].Name] = res
		if res.Status != "ok" {
			body.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	common.JSON(w, code, body)
}

func run(ctx context.Context, probe Probe) checkResult {
	timeout := probe.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	var err error
	if probe.Check == nil {
		err = errors.New("no check")
	} else {
		err = probe.Check(ctx)
	}
	res := checkResult{Status: "ok", LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = "fail"
		res.Error = err.Error()
	}
	return res
}
