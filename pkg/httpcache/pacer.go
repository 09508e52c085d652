package httpcache

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// hostPacer spaces out consecutive requests to the same host.
type hostPacer struct {
	last     map[string]time.Time
	locks    map[string]*sync.Mutex
	mu       sync.Mutex
	minDelay time.Duration
}

func newHostPacer(minDelay time.Duration) *hostPacer {
	return &hostPacer{
		minDelay: minDelay,
		last:     make(map[string]time.Time),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (p *hostPacer) lock(host string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[host]
	if !ok {
		l = &sync.Mutex{}
		p.locks[host] = l
	}
	return l
}

// Wait blocks until host may be contacted again or ctx is done.
func (p *hostPacer) Wait(ctx context.Context, host string, logger *slog.Logger) error {
	if p == nil || p.minDelay <= 0 || host == "" {
		return nil
	}

	l := p.lock(host)
	l.Lock()
	defer l.Unlock()

	p.mu.Lock()
	last, seen := p.last[host]
	p.mu.Unlock()

	if seen {
		if wait := p.minDelay - time.Since(last); wait > 0 {
			logger.DebugContext(ctx, "host pacing pause", "host", host, "wait", wait)
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
	}

	p.mu.Lock()
	p.last[host] = time.Now()
	p.mu.Unlock()
	return nil
}
