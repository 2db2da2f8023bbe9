package recog

import (
	"context"
	"sync"
)

// Slot is the process-wide "active recognition" register. At most one
// recognition holds it; acquiring it cancels whatever held it before.
type Slot struct {
	mu     sync.Mutex
	holder *Lease
	// gen counts Acquire and CancelActive calls. Releasing does not bump it.
	gen uint64
}

// Lease is one holder's claim on the slot.
type Lease struct {
	slot   *Slot
	owner  string
	gen    uint64
	cancel context.CancelFunc
}

// NewSlot returns an empty slot.
func NewSlot() *Slot { return &Slot{} }

// Acquire cancels and clears the current holder, if any, and registers owner
// as the new one. The returned context is cancelled when the lease is
// preempted by a later Acquire or by CancelActive.
func (s *Slot) Acquire(parent context.Context, owner string) (context.Context, *Lease) {
	ctx, l, _ := s.acquire(parent, owner, 0, false)
	return ctx, l
}

// AcquireSince acquires the slot like Acquire, but only if nobody acquired
// or cancelled it after generation gen was observed. A run that continues
// over several leases uses it so that it never preempts a newer
// recognition. ok is false, and the slot untouched, otherwise.
func (s *Slot) AcquireSince(parent context.Context, owner string, gen uint64) (ctx context.Context, l *Lease, ok bool) {
	return s.acquire(parent, owner, gen, true)
}

func (s *Slot) acquire(parent context.Context, owner string, gen uint64, check bool) (context.Context, *Lease, bool) {
	s.mu.Lock()
	if check && s.gen != gen {
		s.mu.Unlock()
		return nil, nil, false
	}
	s.gen++
	ctx, cancel := context.WithCancel(parent)
	l := &Lease{slot: s, owner: owner, gen: s.gen, cancel: cancel}
	prev := s.holder
	s.holder = l
	s.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}
	return ctx, l, true
}

// CancelActive cancels and clears the current holder and returns the new
// generation.
func (s *Slot) CancelActive() uint64 {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	prev := s.holder
	s.holder = nil
	s.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}
	return gen
}

// Owner reports the current holder.
func (s *Slot) Owner() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.holder == nil {
		return "", false
	}
	return s.holder.owner, true
}

// Release clears the slot if l still holds it. The lease context is
// released either way. Safe to call more than once.
func (l *Lease) Release() {
	l.slot.mu.Lock()
	if l.slot.holder == l {
		l.slot.holder = nil
	}
	l.slot.mu.Unlock()
	l.cancel()
}
