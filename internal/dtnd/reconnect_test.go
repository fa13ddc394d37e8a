package dtnd

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDelayForFollowsSquareLaw(t *testing.T) {
	initial := 10 * time.Millisecond
	cases := []struct {
		n    int
		want time.Duration
	}{
		{0, 0},
		{1, 10 * time.Millisecond},
		{2, 40 * time.Millisecond},
		{3, 90 * time.Millisecond},
	}
	for _, c := range cases {
		if got := delayFor(c.n, initial); got != c.want {
			t.Errorf("delayFor(%d, %s) = %s, want %s", c.n, initial, got, c.want)
		}
	}
}

func TestReconnectorRunsContinuouslyUntilCanceled(t *testing.T) {
	// max_retries is small so the reset-at-max_retries branch is exercised
	// several times before the test's own timeout cancels the context —
	// Run must never exit on its own while ctx stays alive.
	r := NewReconnector("test", Backoff{
		InitialWait:       time.Millisecond,
		MaxRetries:        3,
		ReconnectionPause: 2 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	attempts := 0
	connect := func(ctx context.Context) error {
		attempts++
		return errors.New("simulated transient failure")
	}

	done := make(chan struct{})
	go func() {
		r.Run(ctx, connect)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after ctx timeout")
	}

	if attempts < 6 {
		t.Fatalf("expected at least 6 connect attempts across multiple max_retries cycles, got %d", attempts)
	}
}

func TestReconnectorSuccessResetsRetries(t *testing.T) {
	r := NewReconnector("test", Backoff{
		InitialWait:       time.Millisecond,
		MaxRetries:        100,
		ReconnectionPause: time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	connect := func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("first attempt fails")
		}
		// second attempt "succeeds": block until ctx is canceled, like a
		// real long-lived connection serve loop would.
		<-ctx.Done()
		return nil
	}

	done := make(chan struct{})
	go func() {
		r.Run(ctx, connect)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after ctx cancellation")
	}
	if calls < 2 {
		t.Fatalf("expected at least 2 connect calls, got %d", calls)
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		Disconnected: "disconnected",
		Connecting:   "connecting",
		Connected:    "connected",
		Draining:     "draining",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
