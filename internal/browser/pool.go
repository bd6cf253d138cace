package browser

import (
	"context"
	"fmt"
	"sync"
)

// Pool bounds how many browser sessions run at once. Each Acquire launches
// a fresh session that belongs to the caller until Close is called on it.
type Pool struct {
	mu     sync.Mutex
	config Config
	sem    chan struct{}
	open   map[*Session]struct{}
	closed bool
	launch func(Config) (*Session, error)
}

// NewPool creates a pool with config.PoolSize slots.
func NewPool(config Config) *Pool {
	if config.PoolSize < 1 {
		config.PoolSize = 1
	}

	return &Pool{
		config: config,
		sem:    make(chan struct{}, config.PoolSize),
		open:   make(map[*Session]struct{}),
		launch: Launch,
	}
}

// Acquire waits for a free slot and launches a session in it. Closing the
// session frees the slot.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		<-p.sem
		return nil, fmt.Errorf("pool is closed")
	}

	s, err := p.launch(p.config)
	if err != nil {
		<-p.sem
		return nil, err
	}

	p.mu.Lock()
	p.open[s] = struct{}{}
	p.mu.Unlock()

	s.onClose = func() {
		p.mu.Lock()
		delete(p.open, s)
		p.mu.Unlock()
		<-p.sem
	}
	return s, nil
}

// Close closes every session still checked out and rejects new ones.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	sessions := make([]*Session, 0, len(p.open))
	for s := range p.open {
		sessions = append(sessions, s)
	}
	p.mu.Unlock()

	var lastErr error
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Size returns the pool size.
func (p *Pool) Size() int {
	return cap(p.sem)
}

// PoolStats reports slot usage.
type PoolStats struct {
	Size   int  `json:"size"`
	InUse  int  `json:"in_use"`
	Closed bool `json:"closed"`
}

// Stats returns pool statistics.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return PoolStats{
		Size:   cap(p.sem),
		InUse:  len(p.sem),
		Closed: p.closed,
	}
}
