package grant

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scheduler drives ReapExpired on a fixed interval, hourly by default.
// Authenticate also reaps any expired grant it touches, so the scheduler
// only has to catch grants nobody presents a token for anymore.
type Scheduler struct {
	mu       sync.RWMutex
	manager  *Manager
	sessions interface{ DeleteExpired() (int64, error) }
	interval time.Duration
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

const defaultReapInterval = time.Hour

// NewScheduler creates a reap scheduler. sessions may be nil if expired
// session rows are cleaned up elsewhere.
func NewScheduler(m *Manager, sessions interface{ DeleteExpired() (int64, error) }, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		manager:  m,
		sessions: sessions,
		interval: defaultReapInterval,
		logger:   logger,
	}
}

// SetInterval overrides the reap cadence. Must be called before Start.
func (s *Scheduler) SetInterval(d time.Duration) {
	s.mu.Lock()
	s.interval = d
	s.mu.Unlock()
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	interval := s.interval
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

// Stop cancels the loop and waits for the in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (s *Scheduler) tick() {
	deleted, err := s.manager.ReapExpired()
	if err != nil {
		s.logger.Error("reap expired grants", "error", err)
	} else if deleted > 0 {
		s.logger.Info("reaped expired grants", "count", deleted)
	}

	if s.sessions != nil {
		if n, err := s.sessions.DeleteExpired(); err != nil {
			s.logger.Error("delete expired sessions", "error", err)
		} else if n > 0 {
			s.logger.Info("deleted expired sessions", "count", n)
		}
	}
}
