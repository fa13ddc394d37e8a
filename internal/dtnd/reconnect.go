// Package dtnd implements the two client adapters for the external DTND
// daemon and the reconnection state machine they share.
package dtnd

import (
	"context"
	"errors"
	"log"
	"time"
)

// ErrTransient marks a connection-level failure that should drive
// reconnection backoff; it must never surface to an NNTP client.
var ErrTransient = errors.New("dtnd: transient error")

// ErrPermanent marks a protocol-level failure (malformed frame, unknown
// keys); the offending item is logged and skipped, the channel stays up.
var ErrPermanent = errors.New("dtnd: permanent error")

// State is one of the Reconnector's lifecycle states.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Draining
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Draining:
		return "draining"
	default:
		return "unknown"
	}
}

// Backoff parameterizes the reconnect loop.
type Backoff struct {
	InitialWait       time.Duration
	MaxRetries        int
	ReconnectionPause time.Duration
}

// Reconnector drives connect with a shared backoff formula until ctx is
// canceled or connect succeeds, then exposes State for callers that need
// to check-and-wait on the current connection. One Reconnector instance is
// created per client (Control, Stream); both use the identical formula.
type Reconnector struct {
	name    string
	backoff Backoff

	stateCh chan State
	state   State
}

// NewReconnector builds a Reconnector that logs under the given name
// ("control", "stream") for operator-readable log correlation.
func NewReconnector(name string, backoff Backoff) *Reconnector {
	return &Reconnector{
		name:    name,
		backoff: backoff,
		stateCh: make(chan State, 1),
		state:   Disconnected,
	}
}

func (r *Reconnector) setState(s State) {
	r.state = s
	select {
	case r.stateCh <- s:
	default:
		select {
		case <-r.stateCh:
		default:
		}
		r.stateCh <- s
	}
}

// State returns the Reconnector's last known state.
func (r *Reconnector) State() State {
	return r.state
}

// MarkConnected transitions the Reconnector to Connected. connect callbacks
// call this once their handshake (dial, register, subscribe) succeeds and
// before they block serving the connection, since Run itself cannot observe
// that boundary from outside connect.
func (r *Reconnector) MarkConnected() {
	r.setState(Connected)
}

// Run connects and re-connects forever, calling connect on every attempt.
// Between attempts it sleeps `(retries^2) * initial_wait`; after
// max_retries consecutive failures it sleeps reconnection_pause and resets
// retries to 0. A successful connect resets retries to 0. connect should
// block until the connection is lost (e.g. by serving the read loop) and
// return a non-nil error in that case; Run then immediately re-enters
// Connecting. Run returns only when ctx is canceled.
func (r *Reconnector) Run(ctx context.Context, connect func(ctx context.Context) error) {
	retries := 0
	for {
		if ctx.Err() != nil {
			r.setState(Disconnected)
			return
		}

		delay := delayFor(retries, r.backoff.InitialWait)
		if delay > 0 {
			if !sleepOrDone(ctx, delay) {
				r.setState(Disconnected)
				return
			}
		}

		r.setState(Connecting)
		log.Printf("[DTND:%s] connecting (attempt %d)", r.name, retries+1)
		err := connect(ctx)
		if ctx.Err() != nil {
			r.setState(Draining)
			r.setState(Disconnected)
			return
		}
		if err == nil || r.state == Connected {
			// connect reached Connected (MarkConnected) or returned nil:
			// the attempt succeeded, so a later loss restarts from retries=0
			// and the next attempt is made without delay.
			if err != nil {
				log.Printf("[DTND:%s] connection lost: %v", r.name, err)
			}
			retries = 0
			continue
		}

		log.Printf("[DTND:%s] connect failed: %v", r.name, err)
		retries++
		if retries >= r.backoff.MaxRetries {
			log.Printf("[DTND:%s] giving up after %d retries, pausing %s", r.name, retries, r.backoff.ReconnectionPause)
			if !sleepOrDone(ctx, r.backoff.ReconnectionPause) {
				r.setState(Disconnected)
				return
			}
			retries = 0
		}
	}
}

// delayFor computes (n^2) * initial_wait for the nth attempt; the first attempt (n=0) has zero delay.
func delayFor(n int, initialWait time.Duration) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n*n) * initialWait
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
