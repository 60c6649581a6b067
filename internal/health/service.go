// Package health reports the status of the registry's dependencies: the document
// store, Redis (locks and ledger stream) and the ledger anchor.
package health

import (
	"context"
	"runtime"
	"time"

	"ogcr-registry/internal/infrastructure/database"
	"ogcr-registry/internal/infrastructure/ledger"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"

	DepConnected = "connected"
	DepError     = "error"
	DepDisabled  = "disabled"
)

// Result is the body of GET /health.
type Result struct {
	Status       string               `json:"status"`
	Runtime      RuntimeInfo          `json:"runtime"`
	Dependencies map[string]DepStatus `json:"dependencies"`
}

type RuntimeInfo struct {
	UptimeSeconds int64  `json:"uptimeSeconds"`
	HeapMB        int    `json:"heapMB"`
	Goroutines    int    `json:"goroutines"`
	Platform      string `json:"platform"`
	GoVersion     string `json:"goVersion"`
}

type DepStatus struct {
	Status string `json:"status"`
	PingMs *int64 `json:"pingMs"`
	Error  string `json:"error,omitempty"`
}

// Service pings each configured dependency. A nil Redis client is reported as
// disabled rather than failing: Redis is optional for a single-instance registry.
type Service struct {
	DB      *gorm.DB
	Redis   *redis.Client
	Ledger  ledger.Anchor
	Started time.Time
	// Timeout bounds each ping; 0 means 2s.
	Timeout time.Duration
}

func (s *Service) Collect(ctx context.Context) Result {
	res := Result{Status: StatusOK, Dependencies: map[string]DepStatus{}}

	var dbPing func(context.Context) error
	if s.DB != nil {
		dbPing = func(context.Context) error { return database.Ping(s.DB) }
	}
	var redisPing func(context.Context) error
	if s.Redis != nil {
		redisPing = func(ctx context.Context) error { return s.Redis.Ping(ctx).Err() }
	}
	var ledgerPing func(context.Context) error
	if s.Ledger != nil {
		ledgerPing = s.Ledger.Healthy
	}

	res.Dependencies["database"] = s.check(ctx, dbPing, true)
	res.Dependencies["redis"] = s.check(ctx, redisPing, false)
	res.Dependencies["ledger"] = s.check(ctx, ledgerPing, true)
	for _, d := range res.Dependencies {
		if d.Status == DepError {
			res.Status = StatusDegraded
		}
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	uptime := int64(0)
	if !s.Started.IsZero() {
		uptime = int64(time.Since(s.Started).Seconds())
	}
	res.Runtime = RuntimeInfo{
		UptimeSeconds: uptime,
		HeapMB:        int(m.HeapInuse / 1024 / 1024),
		Goroutines:    runtime.NumGoroutine(),
		Platform:      runtime.GOOS + " (" + runtime.GOARCH + ")",
		GoVersion:     runtime.Version(),
	}
	return res
}

// check runs one ping. A missing required dependency is an error; a missing optional
// one is disabled.
func (s *Service) check(ctx context.Context, ping func(context.Context) error, required bool) DepStatus {
	if ping == nil {
		if required {
			return DepStatus{Status: DepError, Error: "not configured"}
		}
		return DepStatus{Status: DepDisabled}
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if err := ping(ctx); err != nil {
		return DepStatus{Status: DepError, Error: err.Error()}
	}
	ms := time.Since(start).Milliseconds()
	return DepStatus{Status: DepConnected, PingMs: &ms}
}
