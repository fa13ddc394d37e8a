// Package janitor implements the periodic article expiry sweep.
package janitor

import (
	"context"
	"log"
	"time"

	"github.com/go-while/go-newsgate/internal/store"
)

// Janitor deletes articles older than a configured retention window on a
// fixed interval. It never touches SpoolEntries.
type Janitor struct {
	store      *store.Store
	sleep      time.Duration
	expiryTime time.Duration
}

// New builds a Janitor. If expiryTime is zero, Run still ticks but every
// sweep is a no-op.
func New(st *store.Store, sleep, expiryTime time.Duration) *Janitor {
	return &Janitor{store: st, sleep: sleep, expiryTime: expiryTime}
}

// Run sweeps every j.sleep until ctx is canceled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.sleep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := j.Sweep(ctx)
			if err != nil {
				log.Printf("[JANITOR] sweep failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("[JANITOR] expired %d article(s)", n)
			}
		}
	}
}

// Sweep performs one expiry pass, returning the number of articles
// deleted. A zero expiryTime disables expiry entirely.
func (j *Janitor) Sweep(ctx context.Context) (int64, error) {
	if j.expiryTime <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-j.expiryTime)
	return j.store.DeleteArticlesOlderThan(ctx, cutoff)
}
