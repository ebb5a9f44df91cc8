package client

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func TestBreaker_OpensAfterErrors(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	var transitions []string
	b := NewBreaker(BreakerConfig{
		MaxErrors:    3,
		ResetTimeout: time.Second,
		Now:          clock.Now,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, from.String()+">"+to.String())
		},
	})
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		if err := b.Execute(func() error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("call %d: expected boom, got %v", i, err)
		}
	}
	if b.State() != CircuitOpen {
		t.Fatalf("expected open after 3 errors, got %v", b.State())
	}

	called := false
	if err := b.Execute(func() error { called = true; return nil }); !errors.Is(err, ErrCircuitOpen) || called {
		t.Errorf("expected fast failure while open, got %v (called=%v)", err, called)
	}

	clock.now = clock.now.Add(time.Second)
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Errorf("expected probe to pass, got %v", err)
	}
	if b.State() != CircuitClosed {
		t.Errorf("expected closed after a good probe, got %v", b.State())
	}

	want := []string{"closed>open", "open>half-open", "half-open>closed"}
	if len(transitions) != len(want) {
		t.Fatalf("expected %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], transitions[i])
		}
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b := NewBreaker(BreakerConfig{MaxErrors: 2, ResetTimeout: time.Minute})
	boom := errors.New("boom")

	_ = b.Execute(func() error { return boom })
	_ = b.Execute(func() error { return nil })
	_ = b.Execute(func() error { return boom })
	if b.State() != CircuitClosed {
		t.Errorf("errors separated by a success must not open the circuit")
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := NewBreaker(BreakerConfig{MaxErrors: 1, ResetTimeout: time.Second, Now: clock.Now})

	_ = b.Execute(func() error { return errors.New("x") })
	clock.now = clock.now.Add(2 * time.Second)
	_ = b.Execute(func() error { return errors.New("y") })
	if b.State() != CircuitOpen {
		t.Errorf("expected reopen, got %v", b.State())
	}

	b.Reset()
	if b.State() != CircuitClosed {
		t.Error("Reset should close the circuit")
	}
}
