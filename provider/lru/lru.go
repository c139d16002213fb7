// Package lru bounds an optcache store by entry count with
// hashicorp/golang-lru. The least recently used namespace is evicted first;
// an evicted namespace reads as a miss and is refetched.
package lru

import (
	"context"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	pr "github.com/unkn0wn-root/optcache/provider"
)

type Provider struct {
	c *lru.Cache[string, []byte]
}

var (
	_ pr.Provider = (*Provider)(nil)
	_ pr.Clearer  = (*Provider)(nil)
)

type Config struct {
	MaxEntries int
	// OnEvict is called whenever a key leaves the cache, including Del and Close.
	OnEvict func(key string)
}

func New(cfg Config) (*Provider, error) {
	var (
		c   *lru.Cache[string, []byte]
		err error
	)
	if cfg.OnEvict != nil {
		c, err = lru.NewWithEvict[string, []byte](cfg.MaxEntries, func(k string, _ []byte) { cfg.OnEvict(k) })
	} else {
		c, err = lru.New[string, []byte](cfg.MaxEntries)
	}
	if err != nil {
		return nil, err
	}
	return &Provider{c: c}, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, ok := p.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	return b, true, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, _ int64, _ time.Duration) (bool, error) {
	p.c.Add(key, value)
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.c.Remove(key)
	return nil
}

// Clear evicts every optcache key, firing OnEvict for each.
func (p *Provider) Clear(_ context.Context) error {
	for _, k := range p.c.Keys() {
		if strings.HasPrefix(k, pr.KeyPrefix) {
			p.c.Remove(k)
		}
	}
	return nil
}

// Len reports the number of resident keys.
func (p *Provider) Len() int { return p.c.Len() }

func (p *Provider) Close(_ context.Context) error {
	p.c.Purge()
	return nil
}
