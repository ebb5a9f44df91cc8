package schedule

import (
	"sync"
	"time"
)

// Debouncer runs fn once the trigger has been quiet for the window.
type Debouncer struct {
	s      Scheduler
	window time.Duration
	fn     func()

	mu   sync.Mutex
	task Task
	gen  uint64
}

// NewDebouncer creates a debouncer.
func NewDebouncer(s Scheduler, window time.Duration, fn func()) *Debouncer {
	return &Debouncer{s: s, window: window, fn: fn}
}

// Trigger (re)starts the window.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.task != nil {
		d.task.Stop()
	}
	d.gen++
	gen := d.gen
	d.task = d.s.AfterFunc(d.window, func() {
		d.mu.Lock()
		if gen != d.gen {
			d.mu.Unlock()
			return
		}
		d.task = nil
		d.mu.Unlock()
		d.fn()
	})
}

// Pending reports whether a run is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.task != nil
}

// Stop cancels a scheduled run. It returns true if one was pending.
func (d *Debouncer) Stop() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.task == nil {
		return false
	}
	d.gen++
	d.task.Stop()
	d.task = nil
	return true
}

// Flush runs a pending call now. It returns false when nothing was pending.
func (d *Debouncer) Flush() bool {
	if !d.Stop() {
		return false
	}
	d.fn()
	return true
}

// Throttle allows one event per interval, leading edge.
type Throttle struct {
	s        Scheduler
	interval time.Duration

	mu   sync.Mutex
	last time.Time
	used bool
}

// NewThrottle creates a throttle.
func NewThrottle(s Scheduler, interval time.Duration) *Throttle {
	return &Throttle{s: s, interval: interval}
}

// Allow reports whether an event may happen now, and records it if so.
func (t *Throttle) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.s.Now()
	if t.used && now.Sub(t.last) < t.interval {
		return false
	}
	t.used = true
	t.last = now
	return true
}

// Step is one stage of a Sequence: wait After since the previous step, then run Fn.
type Step struct {
	After time.Duration
	Fn    func()
}

// Sequence runs steps one after another. Stopping it cancels the remaining steps.
type Sequence struct {
	s Scheduler

	mu      sync.Mutex
	task    Task
	stopped bool
}

// Run starts a sequence of steps.
func Run(s Scheduler, steps ...Step) *Sequence {
	seq := &Sequence{s: s}
	seq.mu.Lock()
	seq.schedule(steps)
	seq.mu.Unlock()
	return seq
}

func (q *Sequence) schedule(steps []Step) {
	if len(steps) == 0 || q.stopped {
		q.task = nil
		return
	}
	step, rest := steps[0], steps[1:]
	q.task = q.s.AfterFunc(step.After, func() {
		q.mu.Lock()
		if q.stopped {
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()

		step.Fn()

		q.mu.Lock()
		q.schedule(rest)
		q.mu.Unlock()
	})
}

// Stop cancels the remaining steps.
func (q *Sequence) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = true
	if q.task != nil {
		q.task.Stop()
		q.task = nil
	}
}

// Done reports whether every step ran or the sequence was stopped.
func (q *Sequence) Done() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopped || q.task == nil
}
