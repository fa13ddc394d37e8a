// Package ingest implements the Ingestion Engine: pulling
// remote bundles for every subscribed group at (re)connect, deduplicating
// by canonical message-id, and committing in a single transaction.
package ingest

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-while/go-newsgate/internal/idmap"
	"github.com/go-while/go-newsgate/internal/models"
	"github.com/go-while/go-newsgate/internal/store"
)

// Bundle mirrors dtnd.Bundle without importing that package; ingest reaches
// DTND only through the ListBundleIDsFunc and DownloadFunc it is given.
type Bundle struct {
	Source      string
	Destination string
	Timestamp   int64
	Subject     string
	Body        string
	References  string
}

// ListBundleIDsFunc and DownloadFunc let callers adapt a dtnd.ControlClient
// (whose ListBundles returns bare bundle-ids, not decoded Bundles) into the
// shape Ingestion needs without a direct import cycle.
type ListBundleIDsFunc func(ctx context.Context, substr string) ([]string, error)
type DownloadFunc func(ctx context.Context, bundleID string) (Bundle, error)

// Engine is the Ingestion Engine.
type Engine struct {
	store      *store.Store
	listIDs    ListBundleIDsFunc
	download   DownloadFunc
	newsgroups []string
}

// New builds an Ingestion Engine over the configured newsgroups.
func New(st *store.Store, newsgroups []string, listIDs ListBundleIDsFunc, download DownloadFunc) *Engine {
	return &Engine{store: st, listIDs: listIDs, download: download, newsgroups: newsgroups}
}

// Run executes one ingestion pass: union list_bundles(group) over every
// configured group, skip already-known message-ids, download and decode
// the rest, and commit all new Articles in a single transaction. Returns
// the number of Articles committed.
func (e *Engine) Run(ctx context.Context) (int, error) {
	known, err := e.store.KnownMessageIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("ingest: loading known message-ids: %w", err)
	}

	bundleIDs := make(map[string]bool)
	for _, group := range e.newsgroups {
		ids, err := e.listIDs(ctx, group)
		if err != nil {
			// A transient failure listing one group must not abort the
			// whole cycle; it will be retried on the next ingestion run.
			log.Printf("[INGEST] listing bundles for %q: %v", group, err)
			continue
		}
		for _, id := range ids {
			bundleIDs[id] = true
		}
	}

	var toCommit []models.Article
	for bundleID := range bundleIDs {
		messageID, err := idmap.BundleIDToMessageID(bundleID)
		if err != nil {
			log.Printf("[INGEST] skipping malformed bundle-id %q: %v", bundleID, err)
			continue
		}
		if known[messageID] {
			continue
		}

		bundle, err := e.download(ctx, bundleID)
		if err != nil {
			log.Printf("[INGEST] downloading %q: %v (will retry next cycle)", bundleID, err)
			continue
		}

		from, err := idmap.SenderURIToEmail(bundle.Source)
		if err != nil {
			log.Printf("[INGEST] deriving sender for %q: %v", bundleID, err)
			continue
		}
		group := groupNameFromEndpoint(bundle.Destination)
		if !e.isConfiguredGroup(group) {
			// A bundle whose destination group is not locally configured
			// is silently ignored.
			continue
		}

		toCommit = append(toCommit, models.Article{
			Newsgroup:  group,
			From:       from,
			Subject:    bundle.Subject,
			Body:       bundle.Body,
			MessageID:  messageID,
			References: bundle.References,
			CreatedAt:  timeFromDTN(bundle.Timestamp),
		})
	}

	inserted, err := e.store.InsertArticlesAtomic(ctx, toCommit)
	if err != nil {
		return 0, fmt.Errorf("ingest: committing batch: %w", err)
	}
	return inserted, nil
}

func (e *Engine) isConfiguredGroup(group string) bool {
	for _, g := range e.newsgroups {
		if g == group {
			return true
		}
	}
	return false
}

// groupNameFromEndpoint inverts idmap.GroupEndpoint: "dtn://<group>/~news"
// -> "<group>".
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

// timeFromDTN converts a DTN timestamp (seconds since the DTN epoch, per
// the bundle-id convention) to a UTC time.
func timeFromDTN(ts int64) time.Time {
	return time.Unix(ts, 0).UTC()
}
