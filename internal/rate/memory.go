package rate

import (
	"context"
	"sync"
	"time"
)

// Decision is the outcome of one consume attempt.
type Decision struct {
	Allowed   bool
	Remaining int
	// RetryAfter is the time until the bucket refills. Zero when allowed.
	RetryAfter time.Duration
}

// Store takes one token from the bucket named key.
type Store interface {
	Take(ctx context.Context, key string, p Policy) (Decision, error)
}

type bucket struct {
	mu         sync.Mutex
	tokens     int
	nextRefill time.Time
	lastSeen   time.Time
	evicted    bool
}

// MemoryStore keeps buckets in process memory.
type MemoryStore struct {
	buckets sync.Map
	now     func() time.Time
}

// NewMemoryStore returns an empty MemoryStore. now defaults to time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{now: now}
}

// Take consumes a token from key, creating the bucket full on first use.
func (s *MemoryStore) Take(_ context.Context, key string, p Policy) (Decision, error) {
	for {
		b := s.load(key, p)

		b.mu.Lock()
		if b.evicted {
			// Lost a race with Sweep; the next load creates a fresh bucket.
			b.mu.Unlock()
			continue
		}
		d := b.take(s.now(), p)
		b.mu.Unlock()
		return d, nil
	}
}

func (s *MemoryStore) load(key string, p Policy) *bucket {
	if v, ok := s.buckets.Load(key); ok {
		return v.(*bucket)
	}
	now := s.now()
	fresh := &bucket{tokens: p.Capacity, nextRefill: now.Add(p.Period), lastSeen: now}
	v, _ := s.buckets.LoadOrStore(key, fresh)
	return v.(*bucket)
}

func (b *bucket) take(now time.Time, p Policy) Decision {
	if !now.Before(b.nextRefill) {
		b.tokens = p.Capacity
		missed := now.Sub(b.nextRefill)/p.Period + 1
		b.nextRefill = b.nextRefill.Add(missed * p.Period)
	}
	b.lastSeen = now

	if b.tokens <= 0 {
		return Decision{RetryAfter: b.nextRefill.Sub(now)}
	}
	b.tokens--
	return Decision{Allowed: true, Remaining: b.tokens}
}

// Sweep drops buckets not used within idle and returns how many it removed.
func (s *MemoryStore) Sweep(idle time.Duration) int {
	now := s.now()
	removed := 0
	s.buckets.Range(func(k, v any) bool {
		b := v.(*bucket)
		b.mu.Lock()
		if now.Sub(b.lastSeen) > idle {
			b.evicted = true
			s.buckets.CompareAndDelete(k, b)
			removed++
		}
		b.mu.Unlock()
		return true
	})
	return removed
}

// Len returns the number of live buckets.
func (s *MemoryStore) Len() int {
	n := 0
	s.buckets.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// StartSweeper runs Sweep(idle) every interval until ctx is done.
func (s *MemoryStore) StartSweeper(ctx context.Context, every, idle time.Duration) {
	if every <= 0 {
		return
	}
	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Sweep(idle)
			}
		}
	}()
}
