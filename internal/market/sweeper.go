package market

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Start launches the expiry sweeper when a sweep interval is configured.
// Lazy expiry on read applies regardless.
func (m *Manager) Start(ctx context.Context) {
	if m.cfg.SweepInterval <= 0 {
		zap.L().Info("Listing sweeper disabled, expiry is evaluated on read")
		return
	}
	m.stopChan = make(chan struct{})
	m.doneChan = make(chan struct{})
	go m.sweepLoop(ctx)

	zap.L().Info("Listing sweeper started", zap.Duration("sweep_interval", m.cfg.SweepInterval))
}

// Stop halts the sweeper and waits for the in-flight sweep to finish.
func (m *Manager) Stop() {
	if m.stopChan == nil {
		return
	}
	zap.L().Info("Stopping listing sweeper")
	close(m.stopChan)
	<-m.doneChan
	m.stopChan = nil
	zap.L().Info("Listing sweeper stopped")
}

func (m *Manager) sweepLoop(ctx context.Context) {
	defer close(m.doneChan)

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep(ctx)
		case <-m.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) sweep(ctx context.Context) {
	n, err := m.SweepExpired(ctx)
	if err != nil {
		zap.L().Error("Listing sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		zap.L().Info("Expired listings swept", zap.Int("count", n))
	}
}
