package monitoring

import (
	"context"
	"errors"
	"sync"
	"time"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
)

// HealthChecker answers readiness probes. Checks run on demand; the gateway
// calls CheckAll from its /ready handler.
type HealthChecker struct {
	mu     sync.RWMutex
	checks []healthCheck
}

type healthCheck struct {
	name    string
	check   func(ctx context.Context) error
	timeout time.Duration
}

// HealthStatus is the serialized probe result.
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{}
}

func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, healthCheck{name: name, check: check, timeout: timeout})
}

// AddStoreCheck probes the signaling store with a read of a known-absent
// document. ErrCallNotFound means the round trip worked.
func (h *HealthChecker) AddStoreCheck(store ports.CallRepository) {
	h.AddCheck("store", func(ctx context.Context) error {
		_, err := store.GetCall(ctx, "health-probe")
		if err != nil && !errors.Is(err, domain.ErrCallNotFound) {
			return err
		}
		return nil
	}, 2*time.Second)
}

func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := make([]healthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]string, len(checks)),
	}

	for _, c := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := c.check(checkCtx)
		cancel()

		if err != nil {
			status.Status = "unhealthy"
			status.Checks[c.name] = err.Error()
		} else {
			status.Checks[c.name] = "healthy"
		}
	}
	return status
}
