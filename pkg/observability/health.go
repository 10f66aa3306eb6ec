package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

const readinessTimeout = 5 * time.Second

// HealthStatus is the readiness report
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus is the result of one dependency check
type DependencyStatus struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// DegradedError marks a check that works but is under pressure
type DegradedError struct {
	Reason string
}

func (e *DegradedError) Error() string { return e.Reason }

type dependency struct {
	name     string
	required bool
	check    func(context.Context) error
}

// HealthChecker reports liveness and readiness of the service dependencies
type HealthChecker struct {
	version string

	mu   sync.RWMutex
	deps []dependency
}

// NewHealthChecker creates a checker for postgres (required) and redis
// (optional: it only backs caching and rate limiting). Either may be nil.
func NewHealthChecker(db *sql.DB, redisClient *redis.Client) *HealthChecker {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		version = info.Main.Version
	}
	h := &HealthChecker{version: version}
	if db != nil {
		h.Register("database", true, databaseCheck(db))
	}
	if redisClient != nil {
		h.Register("redis", false, func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}
	return h
}

// Register adds a dependency check. A failing required dependency makes the
// service unhealthy; a failing optional one only degrades it.
func (h *HealthChecker) Register(name string, required bool, check func(context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deps = append(h.deps, dependency{name: name, required: required, check: check})
}

func databaseCheck(db *sql.DB) func(context.Context) error {
	return func(ctx context.Context) error {
		var one int
		if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
			return err
		}
		stats := db.Stats()
		if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
			return &DegradedError{Reason: "connection pool exhausted"}
		}
		return nil
	}
}

// Check runs every registered dependency check concurrently
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	h.mu.RLock()
	deps := append([]dependency(nil), h.deps...)
	h.mu.RUnlock()

	results := make([]DependencyStatus, len(deps))
	var g errgroup.Group
	for i, dep := range deps {
		g.Go(func() error {
			start := time.Now()
			err := dep.check(ctx)
			results[i] = DependencyStatus{
				Status:    StatusHealthy,
				LatencyMS: time.Since(start).Milliseconds(),
				Timestamp: start,
			}
			var degraded *DegradedError
			switch {
			case err == nil:
			case errors.As(err, &degraded):
				results[i].Status = StatusDegraded
				results[i].Message = degraded.Reason
			default:
				results[i].Status = StatusUnhealthy
				results[i].Message = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(deps)),
	}
	for i, dep := range deps {
		res := results[i]
		status.Dependencies[dep.name] = res
		switch {
		case res.Status == StatusUnhealthy && dep.required:
			status.Status = StatusUnhealthy
		case res.Status != StatusHealthy && status.Status == StatusHealthy:
			status.Status = StatusDegraded
		}
	}
	return status
}

// Liveness always returns 200 while the process is serving
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, HealthStatus{Status: StatusHealthy, Timestamp: time.Now(), Version: h.version})
}

// Readiness returns 503 only when a required dependency is down
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, status)
}

func writeHealth(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

// RegisterHealthRoutes registers health check endpoints
func RegisterHealthRoutes(mux *http.ServeMux, checker *HealthChecker) {
	mux.HandleFunc("/health", checker.Readiness)
	mux.HandleFunc("/health/live", checker.Liveness)
	mux.HandleFunc("/health/ready", checker.Readiness)
}
