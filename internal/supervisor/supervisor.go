// Package supervisor brings the backend up in the prescribed order, owns
// the Control and Stream Client handles across reconnects, and coordinates
// graceful shutdown.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/go-while/go-newsgate/internal/config"
	"github.com/go-while/go-newsgate/internal/dtnd"
	"github.com/go-while/go-newsgate/internal/gateway"
	"github.com/go-while/go-newsgate/internal/idmap"
	"github.com/go-while/go-newsgate/internal/ingest"
	"github.com/go-while/go-newsgate/internal/janitor"
	"github.com/go-while/go-newsgate/internal/reconcile"
	"github.com/go-while/go-newsgate/internal/spool"
	"github.com/go-while/go-newsgate/internal/store"
)

// Supervisor owns every long-running task and the transient DTND client
// handles, which are replaced (never mutated) on reconnect.
type Supervisor struct {
	cfg   *config.Config
	store *store.Store

	streamHandle atomic.Value // holds *dtnd.StreamClient, possibly nil-typed
	streamReady  chan struct{}
	readyOnce    sync.Once

	gateway *gateway.Backend
	engine  *spool.Engine

	wg *sync.WaitGroup
}

// New opens the Article Store, reconciles its newsgroup set against
// configuration, and builds the Spool Engine and Backend. It does not yet
// talk to DTND or start any long-running task; call Run for that.
func New(ctx context.Context, cfg *config.Config, wg *sync.WaitGroup) (*Supervisor, error) {
	st, err := store.Open(cfg.Backend.DBURL)
	if err != nil {
		return nil, fmt.Errorf("supervisor: opening store: %w", err)
	}
	if err := st.ReconcileNewsgroups(ctx, cfg.Usenet.Newsgroups); err != nil {
		st.Close()
		return nil, fmt.Errorf("supervisor: reconciling newsgroups: %w", err)
	}

	s := &Supervisor{
		cfg:         cfg,
		store:       st,
		streamReady: make(chan struct{}),
		wg:          wg,
	}
	s.streamHandle.Store((*dtnd.StreamClient)(nil))

	engine := spool.New(st, s.streamHandleFn, spool.Config{
		SenderEmail:          cfg.Usenet.Email,
		NodeID:               cfg.DTND.NodeID,
		DeliveryNotification: cfg.Bundles.DeliveryNotification,
		LifetimeMS:           cfg.Bundles.LifetimeMS(),
		CompressBody:         cfg.Bundles.CompressBody,
	})
	s.engine = engine
	s.gateway = gateway.New(st, engine)
	return s, nil
}

// Store returns the opened Article Store, for callers (e.g. cmd/newsgate)
// that must Close it on shutdown.
func (s *Supervisor) Store() *store.Store { return s.store }

// Backend returns the Backend handed to internal/nntp.NNTPServer.
func (s *Supervisor) Backend() *gateway.Backend { return s.gateway }

// streamHandleFn adapts the atomic handle into a spool.StreamHandle: a
// check-and-wait getter that never blocks on its own.
func (s *Supervisor) streamHandleFn() (spool.Sender, bool) {
	sc, _ := s.streamHandle.Load().(*dtnd.StreamClient)
	if sc == nil {
		return nil, false
	}
	return sc, true
}

// Run performs the startup procedure and blocks until ctx is canceled.
// Each long-running task is launched on wg so the caller can wait for a
// full drain after cancellation.
func (s *Supervisor) Run(ctx context.Context) error {
	control := dtnd.NewControlClient(s.cfg.DTND.Host, s.cfg.DTND.Port, s.cfg.DTND.RESTPath)
	backoff := dtnd.Backoff{
		InitialWait:       s.cfg.Backoff.InitialWait(),
		MaxRetries:        s.cfg.Backoff.Retries(),
		ReconnectionPause: s.cfg.Backoff.ReconnectionPause(),
	}

	if err := s.registerEndpoints(ctx, control, backoff); err != nil {
		return err
	}

	if n, err := s.runIngestion(ctx, control); err != nil {
		log.Printf("[SUPERVISOR] initial ingestion failed: %v", err)
	} else {
		log.Printf("[SUPERVISOR] initial ingestion committed %d article(s)", n)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runStreamSupervisor(ctx, backoff)
	}()

	j := janitor.New(s.store, s.cfg.Janitor.Sleep(), s.cfg.Usenet.ExpiryTime())
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		j.Run(ctx)
	}()

	if err := s.engine.Drain(ctx); err != nil && ctx.Err() == nil {
		log.Printf("[SUPERVISOR] spool drain: %v", err)
	}

	<-ctx.Done()
	return nil
}

// registerEndpoints acquires the Control Client with the reconnection
// supervisor's retry loop and registers every configured group endpoint
// plus the sender endpoint.
func (s *Supervisor) registerEndpoints(ctx context.Context, control *dtnd.ControlClient, backoff dtnd.Backoff) error {
	reconnector := dtnd.NewReconnector("control", backoff)
	registered := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go reconnector.Run(runCtx, func(connectCtx context.Context) error {
		if err := control.Ping(connectCtx); err != nil {
			return err
		}
		reconnector.MarkConnected()
		// report hands the outcome to registerEndpoints, then holds the
		// connection until runCtx is canceled so Run does not reconnect
		// and register a second time.
		report := func(err error) error {
			registered <- err
			<-connectCtx.Done()
			return nil
		}
		for _, group := range s.cfg.Usenet.Newsgroups {
			if err := control.Register(connectCtx, idmap.GroupEndpoint(group)); err != nil {
				return report(err)
			}
		}
		senderURI, err := idmap.EmailToSenderURI(s.cfg.DTND.NodeID, s.cfg.Usenet.Email)
		if err != nil {
			return report(fmt.Errorf("supervisor: addressing sender endpoint: %w", err))
		}
		if err := control.Register(connectCtx, senderURI); err != nil {
			return report(err)
		}
		return report(nil)
	})

	select {
	case err := <-registered:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runIngestion executes the Ingestion Engine once, adapting the Control
// Client's bare bundle-id listing/download into the shapes internal/ingest
// expects.
func (s *Supervisor) runIngestion(ctx context.Context, control *dtnd.ControlClient) (int, error) {
	eng := ingest.New(s.store, s.cfg.Usenet.Newsgroups,
		func(ctx context.Context, substr string) ([]string, error) {
			return control.ListBundles(ctx, substr)
		},
		func(ctx context.Context, bundleID string) (ingest.Bundle, error) {
			b, err := control.Download(ctx, bundleID)
			if err != nil {
				return ingest.Bundle{}, err
			}
			return ingest.Bundle{
				Source:      b.Source,
				Destination: b.Destination,
				Timestamp:   b.Timestamp,
				Subject:     b.Payload.Subject,
				Body:        string(b.Payload.Body),
				References:  b.Payload.References,
			}, nil
		},
	)
	return eng.Run(ctx)
}

// runStreamSupervisor launches the Stream Client supervisor loop: dial,
// publish the handle, hand frames to the Reconciler, and on loss discard
// the handle and reconnect.
func (s *Supervisor) runStreamSupervisor(ctx context.Context, backoff dtnd.Backoff) {
	reconciler := reconcile.New(s.store)
	reconnector := dtnd.NewReconnector("stream", backoff)

	endpoints := make([]string, len(s.cfg.Usenet.Newsgroups))
	for i, g := range s.cfg.Usenet.Newsgroups {
		endpoints[i] = idmap.GroupEndpoint(g)
	}

	reconnector.Run(ctx, func(connectCtx context.Context) error {
		sc, err := dtnd.DialStreamClient(connectCtx, s.cfg.DTND.Host, s.cfg.DTND.Port, s.cfg.DTND.WSPath, endpoints)
		if err != nil {
			return err
		}
		s.streamHandle.Store(sc)
		s.readyOnce.Do(func() { close(s.streamReady) })
		reconnector.MarkConnected()
		defer s.streamHandle.Store((*dtnd.StreamClient)(nil))
		defer sc.Close()

		frames := make(chan reconcile.Frame, 64)
		reconcileDone := make(chan struct{})
		go func() {
			defer close(reconcileDone)
			reconciler.Run(connectCtx, frames)
		}()

		for {
			select {
			case <-connectCtx.Done():
				close(frames)
				<-reconcileDone
				return nil
			case f, ok := <-sc.Frames():
				if !ok {
					close(frames)
					<-reconcileDone
					return fmt.Errorf("%w: stream closed", dtnd.ErrTransient)
				}
				frames <- adaptFrame(f)
			}
		}
	})
}

func adaptFrame(f dtnd.Frame) reconcile.Frame {
	if f.Kind == dtnd.KindStatus {
		return reconcile.Frame{IsText: true, Text: f.Status}
	}
	return reconcile.Frame{Ack: f.Ack}
}

// WaitForStream blocks until the Stream Client has connected at least once
// or ctx is done. Production startup does not call this — NNTP sessions
// read the store directly and tolerate a momentarily absent stream; it
// exists for callers (e.g. integration tests) that need a live stream
// before proceeding.
func (s *Supervisor) WaitForStream(ctx context.Context) error {
	select {
	case <-s.streamReady:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
