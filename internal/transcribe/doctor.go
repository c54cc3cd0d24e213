package transcribe

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultProbeTTL bounds how long a successful probe is trusted.
const DefaultProbeTTL = 5 * time.Minute

type doctorRunner interface {
	RunDoctor(ctx context.Context) (*Capabilities, error)
}

// CachedDoctor remembers the last successful capability probe. /health reads
// it with Peek; Watch keeps it fresh in the background.
type CachedDoctor struct {
	runner doctorRunner
	ttl    time.Duration
	logger *slog.Logger

	mu      sync.RWMutex
	cached  *Capabilities
	lastErr error
}

func NewCachedDoctor(runner doctorRunner, logger *slog.Logger) *CachedDoctor {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedDoctor{runner: runner, ttl: DefaultProbeTTL, logger: logger}
}

// Get returns the cached probe while it is younger than the TTL and probes
// again otherwise.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	if caps := d.fresh(); caps != nil {
		return caps, nil
	}
	return d.Refresh(ctx)
}

func (d *CachedDoctor) fresh() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		return d.cached
	}
	return nil
}

// Peek never probes.
func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// LastError is the error of the most recent probe, nil after a success.
func (d *CachedDoctor) LastError() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastErr
}

// Refresh probes now. When the probe fails and an earlier result exists, the
// earlier result is returned without error.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	caps, err := d.runner.RunDoctor(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastErr = err
	if err != nil {
		d.logger.Warn("doctor probe failed", "error", err)
		if d.cached != nil {
			return d.cached, nil
		}
		return nil, err
	}
	d.cached = caps
	return caps, nil
}

// Watch re-probes every interval until ctx is done. It blocks.
func (d *CachedDoctor) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = d.ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Refresh(ctx)
		}
	}
}

func (d *CachedDoctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.lastErr = nil
	d.mu.Unlock()
}
