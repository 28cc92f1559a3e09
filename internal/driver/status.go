package driver

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/agenthands/mnemo/pkg/logger"
)

// Status caches store reachability so a down store is probed once per reset
// instead of on every call. Check verifies connectivity the first time it is
// asked and trusts that answer until Invalidate.
type Status struct {
	mu      sync.Mutex
	driver  GraphDriver
	checked bool
	ok      bool
	logger  *zap.Logger
}

func NewStatus(d GraphDriver) *Status {
	return &Status{
		driver: d,
		logger: logger.Get(),
	}
}

func (s *Status) Check(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.checked {
		return s.ok
	}

	err := s.driver.VerifyConnectivity(ctx)
	s.checked = true
	s.ok = err == nil
	if err != nil {
		s.logger.Error("graph store unreachable", zap.Error(err))
	}
	return s.ok
}

func (s *Status) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checked = false
	s.ok = false
}
