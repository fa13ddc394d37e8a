package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-while/go-newsgate/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesSchema(t *testing.T) {
	s := openTestStore(t)
	names, err := s.GroupNames(context.Background())
	if err != nil {
		t.Fatalf("GroupNames: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("expected no newsgroups on fresh store, got %v", names)
	}
}

func TestReconcileNewsgroups(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.ReconcileNewsgroups(ctx, []string{"g.one", "g.two"}); err != nil {
		t.Fatalf("ReconcileNewsgroups: %v", err)
	}
	names, _ := s.GroupNames(ctx)
	if len(names) != 2 {
		t.Fatalf("expected 2 groups, got %v", names)
	}

	// store set must equal config set after reconcile, in both directions
	if err := s.ReconcileNewsgroups(ctx, []string{"g.two", "g.three"}); err != nil {
		t.Fatalf("ReconcileNewsgroups (second pass): %v", err)
	}
	names, _ = s.GroupNames(ctx)
	want := map[string]bool{"g.two": true, "g.three": true}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for _, n := range names {
		if !want[n] {
			t.Errorf("unexpected group %q after reconcile", n)
		}
	}
}

func TestInsertArticleDuplicateMessageID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.ReconcileNewsgroups(ctx, []string{"g.test"}); err != nil {
		t.Fatalf("ReconcileNewsgroups: %v", err)
	}

	a := models.Article{
		Newsgroup: "g.test",
		From:      "alice@example.org",
		Subject:   "hi",
		Body:      "body line",
		MessageID: "<1700000000-7@n1-mail-example.org-alice.dtn>",
		CreatedAt: time.Now().UTC(),
	}
	if _, err := s.InsertArticle(ctx, a); err != nil {
		t.Fatalf("InsertArticle: %v", err)
	}
	_, err := s.InsertArticle(ctx, a)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate on second insert, got %v", err)
	}
}

func TestInsertArticlesAtomicIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.ReconcileNewsgroups(ctx, []string{"g.test"}); err != nil {
		t.Fatalf("ReconcileNewsgroups: %v", err)
	}

	arts := []models.Article{
		{Newsgroup: "g.test", From: "a@x", MessageID: "<1-1@x.dtn>", CreatedAt: time.Now().UTC()},
		{Newsgroup: "g.test", From: "b@x", MessageID: "<2-1@x.dtn>", CreatedAt: time.Now().UTC()},
	}
	n, err := s.InsertArticlesAtomic(ctx, arts)
	if err != nil {
		t.Fatalf("InsertArticlesAtomic: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 inserted, got %d", n)
	}

	// running ingestion twice over the same set must insert zero rows the second time
	n, err = s.InsertArticlesAtomic(ctx, arts)
	if err != nil {
		t.Fatalf("InsertArticlesAtomic (second pass): %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 inserted on second pass, got %d", n)
	}
}

func TestSpoolEntryLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e := models.SpoolEntry{
		Source:      "dtn://n1/mail/example.org/alice",
		Destination: "dtn://g.test/~news",
		Subject:     "hi",
		Body:        "body line",
		Hash:        "deadbeef",
		CreatedAt:   time.Now().UTC(),
	}
	id, err := s.InsertSpoolEntry(ctx, e)
	if err != nil {
		t.Fatalf("InsertSpoolEntry: %v", err)
	}

	entries, err := s.SpoolEntries(ctx)
	if err != nil {
		t.Fatalf("SpoolEntries: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != id {
		t.Fatalf("expected one entry with id %d, got %v", id, entries)
	}

	if err := s.AppendSpoolError(ctx, id, "2026-01-01T00:00:00Z ERROR Failure delivering to DTNd: refused"); err != nil {
		t.Fatalf("AppendSpoolError: %v", err)
	}
	entries, _ = s.SpoolEntries(ctx)
	if entries[0].ErrorLog == "" {
		t.Fatal("expected non-empty error_log after AppendSpoolError")
	}

	deleted, err := s.DeleteSpoolEntriesByHash(ctx, "deadbeef")
	if err != nil {
		t.Fatalf("DeleteSpoolEntriesByHash: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}
	entries, _ = s.SpoolEntries(ctx)
	if len(entries) != 0 {
		t.Fatalf("expected no spool entries remaining, got %v", entries)
	}
}

func TestDeleteArticlesOlderThan(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.ReconcileNewsgroups(ctx, []string{"g.test"}); err != nil {
		t.Fatalf("ReconcileNewsgroups: %v", err)
	}

	old := models.Article{
		Newsgroup: "g.test", From: "a@x", MessageID: "<1-1@x.dtn>",
		CreatedAt: time.Now().UTC().Add(-2 * time.Second),
	}
	fresh := models.Article{
		Newsgroup: "g.test", From: "b@x", MessageID: "<2-1@x.dtn>",
		CreatedAt: time.Now().UTC(),
	}
	if _, err := s.InsertArticle(ctx, old); err != nil {
		t.Fatalf("InsertArticle(old): %v", err)
	}
	if _, err := s.InsertArticle(ctx, fresh); err != nil {
		t.Fatalf("InsertArticle(fresh): %v", err)
	}

	n, err := s.DeleteArticlesOlderThan(ctx, time.Now().UTC().Add(-1*time.Second))
	if err != nil {
		t.Fatalf("DeleteArticlesOlderThan: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 article expired, got %d", n)
	}
}

func TestGroupRangeAndArticleByNum(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.ReconcileNewsgroups(ctx, []string{"g.test", "g.other"}); err != nil {
		t.Fatalf("ReconcileNewsgroups: %v", err)
	}

	// Interleave inserts across two groups: per-group numbering must stay
	// contiguous from 1 regardless of the shared global surrogate id.
	if _, err := s.InsertArticle(ctx, models.Article{Newsgroup: "g.other", From: "x@y", MessageID: "<0-0@o.dtn>"}); err != nil {
		t.Fatalf("InsertArticle: %v", err)
	}
	if _, err := s.InsertArticle(ctx, models.Article{Newsgroup: "g.test", From: "a@x", Subject: "one", MessageID: "<1-1@x.dtn>"}); err != nil {
		t.Fatalf("InsertArticle: %v", err)
	}
	if _, err := s.InsertArticle(ctx, models.Article{Newsgroup: "g.other", From: "x@y", MessageID: "<0-1@o.dtn>"}); err != nil {
		t.Fatalf("InsertArticle: %v", err)
	}
	if _, err := s.InsertArticle(ctx, models.Article{Newsgroup: "g.test", From: "b@x", Subject: "two", MessageID: "<2-1@x.dtn>"}); err != nil {
		t.Fatalf("InsertArticle: %v", err)
	}

	count, low, high, err := s.GroupRange(ctx, "g.test")
	if err != nil {
		t.Fatalf("GroupRange: %v", err)
	}
	if count != 2 || low != 1 || high != 2 {
		t.Fatalf("expected count=2 low=1 high=2, got count=%d low=%d high=%d", count, low, high)
	}

	first, err := s.ArticleByNum(ctx, "g.test", 1)
	if err != nil {
		t.Fatalf("ArticleByNum(1): %v", err)
	}
	if first.Subject != "one" {
		t.Fatalf("expected article 1 to be %q, got %q", "one", first.Subject)
	}
	second, err := s.ArticleByNum(ctx, "g.test", 2)
	if err != nil {
		t.Fatalf("ArticleByNum(2): %v", err)
	}
	if second.Subject != "two" {
		t.Fatalf("expected article 2 to be %q, got %q", "two", second.Subject)
	}

	if _, err := s.ArticleByNum(ctx, "g.test", 3); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for out-of-range article, got %v", err)
	}
}

func TestArticleRangeAndByMessageID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.ReconcileNewsgroups(ctx, []string{"g.test"}); err != nil {
		t.Fatalf("ReconcileNewsgroups: %v", err)
	}
	for i, subj := range []string{"one", "two", "three"} {
		if _, err := s.InsertArticle(ctx, models.Article{
			Newsgroup: "g.test", From: "a@x", Subject: subj,
			MessageID: fmt.Sprintf("<%d-1@x.dtn>", i),
		}); err != nil {
			t.Fatalf("InsertArticle: %v", err)
		}
	}

	arts, err := s.ArticleRange(ctx, "g.test", 2, 3)
	if err != nil {
		t.Fatalf("ArticleRange: %v", err)
	}
	if len(arts) != 2 || arts[0].Subject != "two" || arts[1].Subject != "three" {
		t.Fatalf("unexpected range result: %+v", arts)
	}

	a, err := s.ArticleByMessageID(ctx, "<1-1@x.dtn>")
	if err != nil {
		t.Fatalf("ArticleByMessageID: %v", err)
	}
	if a.Subject != "two" || a.Newsgroup != "g.test" {
		t.Fatalf("unexpected lookup result: %+v", a)
	}

	if _, err := s.ArticleByMessageID(ctx, "<nope@x.dtn>"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGroupsSinceAndArticlesSince(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	cutoff := time.Now().UTC()
	if err := s.ReconcileNewsgroups(ctx, []string{"g.old"}); err != nil {
		t.Fatalf("ReconcileNewsgroups: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	midpoint := time.Now().UTC()
	if err := s.ReconcileNewsgroups(ctx, []string{"g.old", "g.new"}); err != nil {
		t.Fatalf("ReconcileNewsgroups: %v", err)
	}

	names, err := s.GroupsSince(ctx, midpoint)
	if err != nil {
		t.Fatalf("GroupsSince: %v", err)
	}
	if len(names) != 1 || names[0] != "g.new" {
		t.Fatalf("expected only g.new since midpoint, got %v", names)
	}
	all, err := s.GroupsSince(ctx, cutoff)
	if err != nil {
		t.Fatalf("GroupsSince: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected both groups since cutoff, got %v", all)
	}

	if _, err := s.InsertArticle(ctx, models.Article{Newsgroup: "g.old", From: "a@x", MessageID: "<1@x.dtn>"}); err != nil {
		t.Fatalf("InsertArticle: %v", err)
	}
	arts, err := s.ArticlesSince(ctx, []string{"g.old"}, cutoff)
	if err != nil {
		t.Fatalf("ArticlesSince: %v", err)
	}
	if len(arts) != 1 || arts[0].MessageID != "<1@x.dtn>" {
		t.Fatalf("unexpected ArticlesSince result: %+v", arts)
	}
	if none, err := s.ArticlesSince(ctx, []string{"g.new"}, cutoff); err != nil || len(none) != 0 {
		t.Fatalf("expected no articles for g.new, got %v err=%v", none, err)
	}
}
