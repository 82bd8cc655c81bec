package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"
)

// HealthStatus is the overall or per-check state reported by /health.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// CheckFunc probes one dependency. It must return promptly once ctx is done.
type CheckFunc func(ctx context.Context) error

// Thresholds above which the service reports itself degraded. Denied
// verdicts are a normal outcome and never count.
const (
	degradedDesyncRate    = 0.05 // desyncs and channel errors per session
	degradedIntegrityRate = 0.01 // replayed or forged records per link
	checkTimeout          = 2 * time.Second
)

// HealthCheck runs registered checks and folds in collector counters.
type HealthCheck struct {
	mu        sync.RWMutex
	checks    map[string]CheckFunc
	collector *Collector
	started   time.Time
	version   string
}

// HealthResponse is the body served on /health.
type HealthResponse struct {
	Status    HealthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Version   string                 `json:"version,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Sessions  *SessionHealth         `json:"sessions,omitempty"`
	Links     *LinkHealth            `json:"links,omitempty"`
}

// CheckResult is the outcome of one CheckFunc.
type CheckResult struct {
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
	Latency string       `json:"latency"`
}

// SessionHealth summarizes authentication sessions.
type SessionHealth struct {
	Active     uint64  `json:"active"`
	Total      uint64  `json:"total"`
	Accepted   uint64  `json:"accepted"`
	Denied     uint64  `json:"denied"`
	DesyncRate float64 `json:"desync_rate"`
}

// LinkHealth summarizes encrypted backend links.
type LinkHealth struct {
	Accepted      uint64  `json:"accepted"`
	Rejected      uint64  `json:"rejected"`
	Requests      uint64  `json:"requests"`
	IntegrityRate float64 `json:"integrity_failure_rate"`
}

// NewHealthCheck returns a HealthCheck with no checks. collector may be nil.
func NewHealthCheck(collector *Collector, version string) *HealthCheck {
	return &HealthCheck{
		checks:    make(map[string]CheckFunc),
		collector: collector,
		started:   time.Now(),
		version:   version,
	}
}

// AddCheck registers or replaces the check called name.
func (h *HealthCheck) AddCheck(name string, check CheckFunc) {
	h.mu.Lock()
	h.checks[name] = check
	h.mu.Unlock()
}

func (h *HealthCheck) RemoveCheck(name string) {
	h.mu.Lock()
	delete(h.checks, name)
	h.mu.Unlock()
}

// Check runs every registered check concurrently, each bounded by a short
// timeout, and derives the overall status. A failing check makes the
// service unhealthy; elevated desync or integrity-failure rates only
// degrade it.
func (h *HealthCheck) Check(ctx context.Context) HealthResponse {
	h.mu.RLock()
	checks := make(map[string]CheckFunc, len(h.checks))
	for name, fn := range h.checks {
		checks[name] = fn
	}
	h.mu.RUnlock()

	resp := HealthResponse{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now(),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Version:   h.version,
		Checks:    make(map[string]CheckResult, len(checks)),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, fn := range checks {
		wg.Go(func() {
			res := runCheck(ctx, fn)
			mu.Lock()
			resp.Checks[name] = res
			mu.Unlock()
		})
	}
	wg.Wait()

	for _, res := range resp.Checks {
		if res.Status == HealthStatusUnhealthy {
			resp.Status = HealthStatusUnhealthy
		}
	}

	if h.collector != nil {
		snap := h.collector.Snapshot()
		resp.Sessions = &SessionHealth{
			Active:     snap.SessionsActive,
			Total:      snap.SessionsTotal,
			Accepted:   snap.VerdictsAccepted,
			Denied:     snap.VerdictsDenied,
			DesyncRate: ratio(snap.Desyncs+snap.ChannelErrors, snap.SessionsTotal),
		}
		resp.Links = &LinkHealth{
			Accepted:      snap.LinksAccepted,
			Rejected:      snap.LinksRejected,
			Requests:      snap.RequestsServed,
			IntegrityRate: ratio(snap.ReplaysBlocked+snap.DecryptErrors, snap.LinksAccepted),
		}
		degraded := resp.Sessions.DesyncRate > degradedDesyncRate ||
			resp.Links.IntegrityRate > degradedIntegrityRate
		if degraded && resp.Status == HealthStatusHealthy {
			resp.Status = HealthStatusDegraded
		}
	}
	return resp
}

func runCheck(ctx context.Context, fn CheckFunc) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	res := CheckResult{Status: HealthStatusHealthy, Latency: time.Since(start).String()}
	if err != nil {
		res.Status = HealthStatusUnhealthy
		res.Message = err.Error()
	}
	return res
}

func ratio(n, d uint64) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// Handler serves the full HealthResponse. Degraded still answers 200.
func (h *HealthCheck) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := h.Check(r.Context())
		code := http.StatusOK
		if resp.Status == HealthStatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	})
}

// LivenessHandler answers 200 whenever the process can serve HTTP.
func (h *HealthCheck) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})
}

// ReadinessHandler answers 200 unless a check fails.
func (h *HealthCheck) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := h.Check(r.Context())
		ready := resp.Status != HealthStatusUnhealthy
		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, struct {
			Status HealthStatus `json:"status"`
			Ready  bool         `json:"ready"`
		}{resp.Status, ready})
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenerCheck fails while addr reports no bound address, for example
// before a backend has started listening or after it has shut down.
func ListenerCheck(addr func() net.Addr) CheckFunc {
	return func(context.Context) error {
		if addr() == nil {
			return errors.New("not listening")
		}
		return nil
	}
}
