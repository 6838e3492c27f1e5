package evm

import (
	"fmt"
	"sync"

	"github.com/gaslift/facilitator/internal/chains"
	"github.com/gaslift/facilitator/internal/circuitbreaker"
	"github.com/gaslift/facilitator/internal/metrics"
)

// Pool lazily dials and caches one Client per supported chain.
type Pool struct {
	mu       sync.Mutex
	clients  map[int64]*Client
	rpcURLs  map[string]string // chain name -> RPC URL override
	breakers *circuitbreaker.Manager
	metrics  *metrics.Metrics
}

// NewPool builds a client pool. rpcURLs maps legacy chain names to endpoint
// overrides; chains absent from the map use their default endpoints.
func NewPool(rpcURLs map[string]string, breakers *circuitbreaker.Manager, m *metrics.Metrics) *Pool {
	return &Pool{
		clients:  make(map[int64]*Client),
		rpcURLs:  rpcURLs,
		breakers: breakers,
		metrics:  m,
	}
}

// Client returns the client for a chain, dialing on first use.
func (p *Pool) Client(chain chains.Chain) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[chain.ID]; ok {
		return c, nil
	}

	c, err := Dial(chain, p.rpcURLs[chain.Name], p.breakers, p.metrics)
	if err != nil {
		return nil, fmt.Errorf("evm: pool dial %s: %w", chain.Name, err)
	}
	p.clients[chain.ID] = c
	return c, nil
}

// Close releases every dialed client. Safe to call once at shutdown.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, c := range p.clients {
		c.Close()
		delete(p.clients, id)
	}
	return nil
}
