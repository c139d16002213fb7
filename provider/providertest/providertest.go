// Package providertest checks the provider contract against any
// implementation.
package providertest

import (
	"bytes"
	"context"
	"testing"
	"time"

	pr "github.com/unkn0wn-root/optcache/provider"
)

// Run exercises miss, byte-for-byte round trip, overwrite and delete, and
// Clear when the provider implements provider.Clearer.
func Run(t *testing.T, p pr.Provider) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := p.Get(ctx, "ns:missing"); err != nil || ok {
		t.Fatalf("miss expected, ok=%v err=%v", ok, err)
	}

	payload := []byte{0, 1, 2, 0xFF, 'O', 'P', 'T', 'C'}
	if ok, err := p.Set(ctx, "ns:a", payload, 1, 0); err != nil || !ok {
		t.Fatalf("Set: ok=%v err=%v", ok, err)
	}
	got, ok, err := p.Get(ctx, "ns:a")
	if err != nil || !ok {
		t.Fatalf("Get after Set: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("not transparent: got %x want %x", got, payload)
	}

	if ok, err := p.Set(ctx, "ns:a", []byte("v2"), 1, time.Hour); err != nil || !ok {
		t.Fatalf("overwrite: ok=%v err=%v", ok, err)
	}
	got, ok, _ = p.Get(ctx, "ns:a")
	if !ok || string(got) != "v2" {
		t.Fatalf("overwrite not visible: ok=%v got=%q", ok, got)
	}

	if err := p.Del(ctx, "ns:a"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, ok, _ := p.Get(ctx, "ns:a"); ok {
		t.Fatalf("Get after Del should miss")
	}
	if err := p.Del(ctx, "ns:never-set"); err != nil {
		t.Fatalf("Del of missing key must be a no-op, got %v", err)
	}

	if cl, ok := p.(pr.Clearer); ok {
		runClear(t, p, cl)
	}
}

func runClear(t *testing.T, p pr.Provider, cl pr.Clearer) {
	t.Helper()
	ctx := context.Background()
	keys := []string{pr.KeyPrefix + "accounts", pr.KeyPrefix + "account|id=1"}
	for _, k := range keys {
		if ok, err := p.Set(ctx, k, []byte("v"), 1, 0); err != nil || !ok {
			t.Fatalf("Set %s: ok=%v err=%v", k, ok, err)
		}
	}
	if err := cl.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	for _, k := range keys {
		if _, ok, _ := p.Get(ctx, k); ok {
			t.Fatalf("%s survived Clear", k)
		}
	}
	if err := cl.Clear(ctx); err != nil {
		t.Fatalf("Clear of an empty provider: %v", err)
	}
}
