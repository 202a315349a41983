// Package timer provides the scheduling abstraction the router's pending-ARP
// drop timers, RIP route aging/GC, and periodic RIP update timers run on.
//
// The router's scheduling model is single-threaded cooperative: every
// callback observes router state as of its invocation and runs to completion
// before the next one starts. Real wall-clock timers fire on their own
// goroutine, so Real serializes delivery through a caller-supplied mutex.
// Manual never spawns a goroutine at all; tests drive it by calling Advance.
package timer

import (
	"sync"
	"time"
)

// Handle identifies a scheduled callback so it can be canceled later.
// The zero Handle is never issued by Schedule* and is safe to Cancel (no-op).
type Handle uint64

// Timer schedules callbacks to run at a future time, either once or on a
// fixed period, and supports canceling a previously scheduled callback.
// Implementations must guard against a callback firing after Cancel raced it:
// Cancel only prevents callbacks that have not yet started running.
type Timer interface {
	// ScheduleOnce arranges for fn to run once after d elapses.
	ScheduleOnce(d time.Duration, fn func()) Handle
	// SchedulePeriodic arranges for fn to run every d, starting after the first d.
	SchedulePeriodic(d time.Duration, fn func()) Handle
	// Cancel stops a previously scheduled callback. Canceling an already-fired
	// one-shot, or an unknown/zero Handle, is a no-op.
	Cancel(h Handle)
	// Now returns the timer's notion of current time.
	Now() time.Time
}

// Real wraps time.AfterFunc, delivering every callback while
// holding Mu so the router's cooperative single-threaded model holds even
// though the underlying timers fire on their own goroutines.
type Real struct {
	Mu   *sync.Mutex
	mu   sync.Mutex
	next uint64
	live map[Handle]func()
}

// NewReal constructs a Real timer that serializes callback delivery through mu.
// If mu is nil, Real allocates its own mutex (useful when the caller has no
// shared state to protect and only wants serialized delivery among timers).
func NewReal(mu *sync.Mutex) *Real {
	r := &Real{Mu: mu, live: make(map[Handle]func())}
	if r.Mu == nil {
		r.Mu = &r.mu
	}
	return r
}

func (r *Real) alloc(fn func()) Handle {
	r.mu.Lock()
	r.next++
	h := Handle(r.next)
	r.live[h] = fn
	r.mu.Unlock()
	return h
}

func (r *Real) fire(h Handle) {
	r.mu.Lock()
	fn, ok := r.live[h]
	r.mu.Unlock()
	if !ok {
		return // canceled before firing.
	}
	r.Mu.Lock()
	defer r.Mu.Unlock()
	// Re-check presence under the caller's lock: Cancel may have raced us
	// between the read above and acquiring Mu.
	r.mu.Lock()
	_, stillLive := r.live[h]
	r.mu.Unlock()
	if stillLive {
		fn()
	}
}

func (r *Real) ScheduleOnce(d time.Duration, fn func()) Handle {
	h := r.alloc(fn)
	time.AfterFunc(d, func() {
		r.fire(h)
		r.mu.Lock()
		delete(r.live, h)
		r.mu.Unlock()
	})
	return h
}

func (r *Real) SchedulePeriodic(d time.Duration, fn func()) Handle {
	var h Handle
	var t *time.Timer
	var tick func()
	tick = func() {
		r.fire(h)
		r.mu.Lock()
		_, stillLive := r.live[h]
		r.mu.Unlock()
		if stillLive {
			t.Reset(d)
		}
	}
	h = r.alloc(fn)
	t = time.AfterFunc(d, tick)
	return h
}

func (r *Real) Cancel(h Handle) {
	r.mu.Lock()
	delete(r.live, h)
	r.mu.Unlock()
}

func (r *Real) Now() time.Time { return time.Now() }

// scheduled is one pending callback on a Manual clock.
type scheduled struct {
	at     time.Time
	period time.Duration // zero for one-shot
	fn     func()
	live   bool
}

// Manual is a fake clock for deterministic tests of route aging, pending-ARP
// expiry, and RIP timers: nothing fires until Advance is called.
type Manual struct {
	now     time.Time
	next    Handle
	pending map[Handle]*scheduled
}

// NewManual constructs a Manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start, pending: make(map[Handle]*scheduled)}
}

func (m *Manual) ScheduleOnce(d time.Duration, fn func()) Handle {
	m.next++
	h := m.next
	m.pending[h] = &scheduled{at: m.now.Add(d), fn: fn, live: true}
	return h
}

func (m *Manual) SchedulePeriodic(d time.Duration, fn func()) Handle {
	m.next++
	h := m.next
	m.pending[h] = &scheduled{at: m.now.Add(d), period: d, fn: fn, live: true}
	return h
}

func (m *Manual) Cancel(h Handle) {
	if s, ok := m.pending[h]; ok {
		s.live = false
		delete(m.pending, h)
	}
}

func (m *Manual) Now() time.Time { return m.now }

// Advance moves the clock forward by d, firing every callback whose
// deadline falls within the new window, in deadline order. Periodic
// callbacks are rescheduled for their next period after firing.
func (m *Manual) Advance(d time.Duration) {
	target := m.now.Add(d)
	for {
		var nextHandle Handle
		var nextSched *scheduled
		found := false
		for h, s := range m.pending {
			if !s.live || s.at.After(target) {
				continue
			}
			if !found || s.at.Before(nextSched.at) {
				nextHandle, nextSched, found = h, s, true
			}
		}
		if !found {
			break
		}
		m.now = nextSched.at
		nextSched.fn()
		if nextSched.period > 0 && nextSched.live {
			nextSched.at = nextSched.at.Add(nextSched.period)
		} else {
			delete(m.pending, nextHandle)
		}
	}
	m.now = target
}
