package core

import (
	"context"
	"time"
)

// HealthChecker is implemented by stores that depend on an external
// connection. CheckHealth fails every live query when the connection is gone.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// RunHealthChecks pings the store once per interval until ctx is cancelled.
// Stores without an external connection return immediately.
func (s *Service) RunHealthChecks(ctx context.Context, interval time.Duration) {
	checker, ok := s.store.(HealthChecker)
	if !ok || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	healthy := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := checker.CheckHealth(ctx)
			switch {
			case err != nil && healthy:
				s.logger.Error("record store unreachable; live queries failed", "error", err)
			case err == nil && !healthy:
				s.logger.Info("record store reachable again")
			}
			healthy = err == nil
		}
	}
}
