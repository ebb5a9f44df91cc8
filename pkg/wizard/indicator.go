package wizard

import (
	"sync"
	"time"

	"github.com/gabrielmiguelok/questkit/pkg/schedule"
)

// SavedMessage is the text of the save indicator.
const SavedMessage = "Progress saved!"

// Indicator timings.
const (
	IndicatorFade     = 200 * time.Millisecond
	IndicatorHold     = 1600 * time.Millisecond
	IndicatorInterval = time.Minute
)

// IndicatorPhase is the animation phase of the save indicator.
type IndicatorPhase string

const (
	IndicatorHidden  IndicatorPhase = "hidden"
	IndicatorFadeIn  IndicatorPhase = "fade-in"
	IndicatorVisible IndicatorPhase = "visible"
	IndicatorFadeOut IndicatorPhase = "fade-out"
)

// Indicator is the transient "Progress saved!" notice. It shows at most
// once per interval, leading edge.
type Indicator struct {
	s        schedule.Scheduler
	throttle *schedule.Throttle
	onChange func(IndicatorPhase)

	mu    sync.Mutex
	phase IndicatorPhase
	seq   *schedule.Sequence
}

// NewIndicator creates a hidden indicator. onChange runs on the scheduler
// for every phase after the first; it may be nil.
func NewIndicator(s schedule.Scheduler, interval time.Duration, onChange func(IndicatorPhase)) *Indicator {
	if interval <= 0 {
		interval = IndicatorInterval
	}
	return &Indicator{
		s:        s,
		throttle: schedule.NewThrottle(s, interval),
		onChange: onChange,
		phase:    IndicatorHidden,
	}
}

// Show starts the fade-in, hold, fade-out cycle unless the indicator was
// shown within the interval. The fade-in phase is set synchronously and
// not reported through onChange.
func (i *Indicator) Show() bool {
	if !i.throttle.Allow() {
		return false
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.seq != nil {
		i.seq.Stop()
	}
	i.phase = IndicatorFadeIn
	i.seq = schedule.Run(i.s,
		schedule.Step{After: IndicatorFade, Fn: func() { i.enter(IndicatorVisible) }},
		schedule.Step{After: IndicatorHold, Fn: func() { i.enter(IndicatorFadeOut) }},
		schedule.Step{After: IndicatorFade, Fn: func() { i.enter(IndicatorHidden) }},
	)
	return true
}

func (i *Indicator) enter(p IndicatorPhase) {
	i.mu.Lock()
	i.phase = p
	i.mu.Unlock()
	if i.onChange != nil {
		i.onChange(p)
	}
}

// Phase returns the current phase.
func (i *Indicator) Phase() IndicatorPhase {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.phase
}

// Stop cancels a running cycle and hides the indicator.
func (i *Indicator) Stop() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.seq != nil {
		i.seq.Stop()
		i.seq = nil
	}
	i.phase = IndicatorHidden
}
