// Package reconcile implements the Backchannel Reconciler:
// consuming streaming frames, promoting spooled articles into committed
// Articles upon acknowledgement, and logging remote arrivals and transport
// errors.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-while/go-newsgate/internal/bp7"
	"github.com/go-while/go-newsgate/internal/idmap"
	"github.com/go-while/go-newsgate/internal/models"
	"github.com/go-while/go-newsgate/internal/store"
)

// Frame is the minimal shape the Reconciler needs from an inbound stream
// frame, kept independent of internal/dtnd's Frame/FrameKind so this
// package has no import-cycle-prone dependency on the transport.
type Frame struct {
	IsText bool
	Text   string // only set when IsText
	Ack    bp7.InboundAck
}

// Reconciler consumes frames from a channel and reconciles acknowledged
// bundles against the Article Store.
type Reconciler struct {
	store *store.Store
}

// New builds a Reconciler bound to the store.
func New(st *store.Store) *Reconciler {
	return &Reconciler{store: st}
}

// Run consumes frames until the channel closes or ctx is canceled,
// processing each one in order.
func (r *Reconciler) Run(ctx context.Context, frames <-chan Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			r.handle(ctx, f)
		}
	}
}

func (r *Reconciler) handle(ctx context.Context, f Frame) {
	if f.IsText {
		logStatusLine(f.Text)
		return
	}
	if err := r.HandleAck(ctx, f.Ack); err != nil {
		log.Printf("[RECONCILE] %v", err)
	}
}

func logStatusLine(status string) {
	trimmed := strings.TrimSpace(status)
	switch {
	case strings.HasPrefix(trimmed, "4"):
		log.Printf("[RECONCILE] client error: %s", trimmed)
	case strings.HasPrefix(trimmed, "5"):
		log.Printf("[RECONCILE] server error: %s", trimmed)
	default:
		log.Printf("[RECONCILE] status: %s", trimmed)
	}
}

// HandleAck processes one decoded acknowledgement/arrival.
// On success it returns nil even for the duplicate case — a duplicate is
// the designed dedup path, logged but not an error to the caller.
func (r *Reconciler) HandleAck(ctx context.Context, ack bp7.InboundAck) error {
	messageID, err := idmap.BundleIDToMessageID(ack.BundleID)
	if err != nil {
		return fmt.Errorf("deriving message-id from bundle-id %q: %w", ack.BundleID, err)
	}
	from, err := idmap.SenderURIToEmail(ack.Source)
	if err != nil {
		return fmt.Errorf("deriving sender for %q: %w", ack.BundleID, err)
	}
	group := groupNameFromEndpoint(ack.Destination)

	payload, err := bp7.DecodePayload(ack.Data)
	if err != nil {
		return fmt.Errorf("decoding payload for %q: %w", ack.BundleID, err)
	}

	if _, err := r.store.Group(ctx, group); errors.Is(err, store.ErrNotFound) {
		log.Printf("[RECONCILE] dropping article for unconfigured group %q (bundle %s)", group, ack.BundleID)
		return nil
	} else if err != nil {
		return fmt.Errorf("looking up group %q: %w", group, err)
	}

	article := models.Article{
		Newsgroup:  group,
		From:       from,
		Subject:    payload.Subject,
		Body:       string(payload.Body),
		MessageID:  messageID,
		References: payload.References,
		CreatedAt:  time.Now().UTC(),
	}

	_, err = r.store.InsertArticle(ctx, article)
	if errors.Is(err, store.ErrDuplicate) {
		log.Printf("[RECONCILE] duplicate message-id %q (bundle %s), ignoring", messageID, ack.BundleID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("inserting article %q: %w", messageID, err)
	}

	hash := idmap.SpoolHash(ack.Source, ack.Destination, payload.Subject, string(payload.Body), payload.References)
	deleted, err := r.store.DeleteSpoolEntriesByHash(ctx, hash)
	if err != nil {
		return fmt.Errorf("deleting spool entries for hash %s: %w", hash, err)
	}
	switch deleted {
	case 0:
		log.Printf("[RECONCILE] committed %q with no matching spool entry (remote origin)", messageID)
	case 1:
		log.Printf("[RECONCILE] committed %q and cleared its spool entry", messageID)
	default:
		log.Printf("[RECONCILE] committed %q but cleared %d spool entries (integrity warning)", messageID, deleted)
	}
	return nil
}

func groupNameFromEndpoint(endpoint string) string {
	const suffix = "/~news"
	s := endpoint
	if len(s) >= len("dtn://") && s[:6] == "dtn://" {
		s = s[6:]
	}
	if len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix {
		s = s[:len(s)-len(suffix)]
	}
	return s
}
