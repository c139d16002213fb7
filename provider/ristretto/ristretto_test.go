package ristretto

import (
	"context"
	"testing"

	"github.com/unkn0wn-root/optcache/provider/providertest"
)

func TestContract(t *testing.T) {
	p, err := New(Config{NumCounters: 1e4, MaxCost: 1 << 20, BufferItems: 64})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close(context.Background())
	providertest.Run(t, p)
}

func TestInvalidConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error for zero config")
	}
}

func TestUnexpectedShapeSelfHeals(t *testing.T) {
	p, err := New(Config{NumCounters: 1e4, MaxCost: 1 << 20, BufferItems: 64})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close(context.Background())

	p.c.Set("ns:odd", "not-bytes", 1)
	p.c.Wait()
	if _, ok, _ := p.Get(context.Background(), "ns:odd"); ok {
		t.Fatalf("non-[]byte value must read as a miss")
	}
}

func TestCostByBytesRejectsOversizedEntry(t *testing.T) {
	ctx := context.Background()
	p, err := New(Config{NumCounters: 1e4, MaxCost: 64, BufferItems: 64, CostByBytes: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close(ctx)

	// the store passes cost 1; the provider must charge the real size
	ok, err := p.Set(ctx, "ns:transactions", make([]byte, 128), 1, 0)
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if ok {
		if _, hit, _ := p.Get(ctx, "ns:transactions"); hit {
			t.Fatalf("entry larger than the byte budget must not stay resident")
		}
	}
}
