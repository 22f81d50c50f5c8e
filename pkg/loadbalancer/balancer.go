package loadbalancer

import "sync"

// RoundRobin hands out backend base URLs in rotation. The gateway uses it to
// spread statement uploads across reconciliation replicas when more than one
// is configured.
type RoundRobin struct {
	backends []string
	mu       sync.Mutex
	current  int
}

func NewRoundRobin(backends []string) *RoundRobin {
	return &RoundRobin{backends: backends}
}

func (rr *RoundRobin) Next() string {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	backend := rr.backends[rr.current]
	rr.current = (rr.current + 1) % len(rr.backends)
	return backend
}
