package seqstore

import (
	"context"
	"sync"
	"time"
)

type localEntry struct {
	seq     uint64
	touched time.Time
}

// Local keeps sequences in-process (default).
//
// A cleanup loop prunes keys idle for longer than the retention. Pruning is
// invisible to readers: a missing key reports the highest sequence ever
// pruned (the floor), and its next Bump continues above it. A snapshot taken
// before the prune therefore still matches until the next write, and never
// matches after one.
type Local struct {
	mu    sync.RWMutex
	seqs  map[string]localEntry
	floor uint64
	now   func() time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

var _ SeqStore = (*Local)(nil)

type LocalOptions struct {
	CleanupInterval time.Duration // 0 => no background sweep
	Retention       time.Duration // 0 => keys are never pruned
	Now             func() time.Time
}

func NewLocal(cleanupInterval, retention time.Duration) *Local {
	return NewLocalWith(LocalOptions{CleanupInterval: cleanupInterval, Retention: retention})
}

func NewLocalWith(opts LocalOptions) *Local {
	s := &Local{
		seqs: make(map[string]localEntry),
		now:  opts.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.CleanupInterval > 0 && opts.Retention > 0 {
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go s.sweep(opts.CleanupInterval, opts.Retention)
	}
	return s
}

func (s *Local) sweep(every, retention time.Duration) {
	defer s.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.Cleanup(retention)
		case <-s.stopCh:
			return
		}
	}
}

func (s *Local) Snapshot(_ context.Context, k string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seqLocked(k), nil
}

// SnapshotMany acquires the read lock once and reads all requested keys.
func (s *Local) SnapshotMany(_ context.Context, ks []string) (map[string]uint64, error) {
	out := make(map[string]uint64, len(ks))
	s.mu.RLock()
	for _, k := range ks {
		out[k] = s.seqLocked(k)
	}
	s.mu.RUnlock()
	return out, nil
}

func (s *Local) seqLocked(k string) uint64 {
	if e, ok := s.seqs[k]; ok {
		return e.seq
	}
	return s.floor
}

func (s *Local) Bump(_ context.Context, k string) (uint64, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.seqLocked(k) + 1
	s.seqs[k] = localEntry{seq: next, touched: now}
	return next, nil
}

// Cleanup prunes keys not bumped within retention and raises the floor to
// the highest pruned sequence.
func (s *Local) Cleanup(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := s.now().Add(-retention)

	s.mu.Lock()
	for k, e := range s.seqs {
		if e.touched.Before(cutoff) {
			if e.seq > s.floor {
				s.floor = e.seq
			}
			delete(s.seqs, k)
		}
	}
	s.mu.Unlock()
}

// Len reports the number of tracked keys.
func (s *Local) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seqs)
}

func (s *Local) Close(_ context.Context) error {
	s.once.Do(func() {
		if s.stopCh != nil {
			close(s.stopCh)
			s.wg.Wait()
		}
	})
	return nil
}
