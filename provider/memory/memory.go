// Package memory is the default optcache provider: an unbounded map that
// never evicts. TTLs are ignored because optcache entries do not expire.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	pr "github.com/unkn0wn-root/optcache/provider"
)

type Provider struct {
	mu sync.RWMutex
	m  map[string][]byte
}

var (
	_ pr.Provider = (*Provider)(nil)
	_ pr.Clearer  = (*Provider)(nil)
)

func New() *Provider {
	return &Provider{m: make(map[string][]byte)}
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.RLock()
	b, ok := p.m[key]
	p.mu.RUnlock()
	return b, ok, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, _ int64, _ time.Duration) (bool, error) {
	p.mu.Lock()
	p.m[key] = value
	p.mu.Unlock()
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	delete(p.m, key)
	p.mu.Unlock()
	return nil
}

// Clear removes every optcache key. Other keys are left alone.
func (p *Provider) Clear(_ context.Context) error {
	p.mu.Lock()
	for k := range p.m {
		if strings.HasPrefix(k, pr.KeyPrefix) {
			delete(p.m, k)
		}
	}
	p.mu.Unlock()
	return nil
}

// Len reports the number of stored keys.
func (p *Provider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.m)
}

func (p *Provider) Close(_ context.Context) error {
	p.mu.Lock()
	p.m = make(map[string][]byte)
	p.mu.Unlock()
	return nil
}
