// Package background runs periodic maintenance alongside the HTTP server.
package background

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/tessera/internal/metrics"
)

// Pinger is anything that can report storage reachability
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// StorageMonitor periodically checks storage, exports the result as a gauge
// and logs transitions between up and down.
type StorageMonitor struct {
	pinger   Pinger
	recorder metrics.Recorder
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	up       *bool
}

// NewStorageMonitor creates a new storage monitor
func NewStorageMonitor(pinger Pinger, recorder metrics.Recorder, logger *slog.Logger, interval time.Duration) *StorageMonitor {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &StorageMonitor{
		pinger:   pinger,
		recorder: recorder,
		logger:   logger,
		interval: interval,
		timeout:  5 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start checks immediately and then on every tick until Stop or ctx ends
func (m *StorageMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.check(ctx)

	for {
		select {
		case <-ticker.C:
			m.check(ctx)
		case <-m.stopCh:
			m.logger.Info("storage monitor stopped")
			return
		case <-ctx.Done():
			m.logger.Info("storage monitor context cancelled")
			return
		}
	}
}

func (m *StorageMonitor) check(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.pinger.HealthCheck(checkCtx)
	up := err == nil
	m.recorder.RecordStorageUp(up)

	if m.up != nil && *m.up == up {
		return
	}
	m.up = &up

	if up {
		m.logger.Info("storage reachable")
	} else {
		m.logger.Error("storage unreachable", slog.Any("error", err))
	}
}

// Stop signals the monitor to stop
func (m *StorageMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}
