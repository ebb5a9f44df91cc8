package wizard

import (
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gabrielmiguelok/questkit/pkg/schedule"
)

// AutosavePolicy selects when input triggers a save. Either trigger may be
// disabled by leaving its threshold at zero.
type AutosavePolicy struct {
	// Keystrokes is the number of input events on one field that arms a
	// debounced save.
	Keystrokes int
	Debounce   time.Duration

	// Chars is the number of inserted characters, across fields, that
	// saves immediately. Idle saves once input has been quiet that long.
	Chars int
	Idle  time.Duration
}

// DefaultAutosavePolicy counts ten input events per field and saves one
// second after the last of them.
func DefaultAutosavePolicy() AutosavePolicy {
	return AutosavePolicy{Keystrokes: 10, Debounce: time.Second}
}

// JournalAutosavePolicy saves every hundred inserted characters and after
// ten idle seconds.
func JournalAutosavePolicy() AutosavePolicy {
	return AutosavePolicy{Chars: 100, Idle: 10 * time.Second}
}

// AutosavePreset returns the policy registered under name: "keystrokes"
// or "journal".
func AutosavePreset(name string) (AutosavePolicy, bool) {
	switch name {
	case "keystrokes":
		return DefaultAutosavePolicy(), true
	case "journal":
		return JournalAutosavePolicy(), true
	}
	return AutosavePolicy{}, false
}

// Autosaver turns input events into save requests.
type Autosaver struct {
	s      schedule.Scheduler
	policy AutosavePolicy
	save   func()

	mu     sync.Mutex
	counts map[string]int
	bounce map[string]*schedule.Debouncer
	chars  int
	idle   *schedule.Debouncer
}

// NewAutosaver creates an autosaver. save runs on the scheduler when a
// debounced or idle save falls due.
func NewAutosaver(s schedule.Scheduler, policy AutosavePolicy, save func()) *Autosaver {
	a := &Autosaver{
		s:      s,
		policy: policy,
		save:   save,
		counts: make(map[string]int),
		bounce: make(map[string]*schedule.Debouncer),
	}
	if policy.Idle > 0 {
		a.idle = schedule.NewDebouncer(s, policy.Idle, save)
	}
	return a
}

// Record counts one input event on field. It returns true when the caller
// should save right away.
func (a *Autosaver) Record(field, value, previous string) (saveNow bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.policy.Keystrokes > 0 {
		a.counts[field]++
		if a.counts[field] >= a.policy.Keystrokes {
			a.counts[field] = 0
			a.debouncer(field).Trigger()
		}
	}

	if a.idle != nil {
		a.idle.Trigger()
	}

	if a.policy.Chars > 0 {
		if n := utf8.RuneCountInString(value) - utf8.RuneCountInString(previous); n > 0 {
			a.chars += n
		}
		if a.chars >= a.policy.Chars {
			a.chars = 0
			if a.idle != nil {
				a.idle.Stop()
			}
			return true
		}
	}
	return false
}

func (a *Autosaver) debouncer(field string) *schedule.Debouncer {
	d, ok := a.bounce[field]
	if !ok {
		d = schedule.NewDebouncer(a.s, a.policy.Debounce, a.save)
		a.bounce[field] = d
	}
	return d
}

// Count returns the input events counted on field since its last trigger.
func (a *Autosaver) Count(field string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts[field]
}

// Pending reports whether a debounced or idle save is scheduled.
func (a *Autosaver) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, d := range a.bounce {
		if d.Pending() {
			return true
		}
	}
	return a.idle != nil && a.idle.Pending()
}

// Flush cancels the scheduled saves and, when any was pending, runs the
// save once now. It reports whether a save ran.
func (a *Autosaver) Flush() bool {
	a.mu.Lock()
	pending := false
	for _, d := range a.bounce {
		if d.Stop() {
			pending = true
		}
	}
	idle := a.idle
	a.mu.Unlock()

	if idle != nil {
		if pending {
			idle.Stop()
		} else if idle.Flush() {
			return true
		}
	}
	if pending {
		a.save()
	}
	return pending
}

// Stop cancels every scheduled save and resets the counters.
func (a *Autosaver) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, d := range a.bounce {
		d.Stop()
	}
	if a.idle != nil {
		a.idle.Stop()
	}
	a.counts = make(map[string]int)
	a.chars = 0
}
