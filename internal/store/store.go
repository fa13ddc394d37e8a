// Package store implements the Article Store: the single owner of
// persisted state, behind a transactional interface. Store holds one
// shared *sql.DB rather than sharding per newsgroup — this gateway's scale
// does not call for per-group shards.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/go-while/go-newsgate/internal/models"
)

// ErrDuplicate reports a uniqueness violation: for Article inserts this is
// the designed dedup path, not a failure.
var ErrDuplicate = errors.New("store: duplicate")

// ErrNotFound reports that a point lookup found no matching row.
var ErrNotFound = errors.New("store: not found")

// Store wraps a single shared *sql.DB with the gateway's schema and the
// transactional operations every other component uses to read or write it.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at dbURL and ensures
// its schema, applying the PRAGMA tuning for a single-writer WAL-mode
// database.
func Open(dbURL string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbURL+"?_journal_mode=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", dbURL, err)
	}
	db.SetMaxOpenConns(1) // single-writer SQLite: serialize writers onto one connection
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 30000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: applying %q: %w", p, err)
		}
	}
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ensureSchema creates the gateway's tables if they do not already exist.
// There are no migrations/*.sql files to embed in this deployment, so
// schema generation is plain idempotent DDL run at every startup.
func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS newsgroups (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			name        TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			created_at  DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS articles (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			newsgroup_id  INTEGER NOT NULL REFERENCES newsgroups(id) ON DELETE CASCADE,
			from_addr     TEXT NOT NULL,
			subject       TEXT NOT NULL DEFAULT '',
			body          TEXT NOT NULL DEFAULT '',
			message_id    TEXT NOT NULL UNIQUE,
			references_   TEXT NOT NULL DEFAULT '',
			created_at    DATETIME NOT NULL,
			path          TEXT NOT NULL DEFAULT '',
			reply_to      TEXT NOT NULL DEFAULT '',
			organization  TEXT NOT NULL DEFAULT '',
			user_agent    TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_articles_newsgroup_id ON articles(newsgroup_id)`,
		`CREATE TABLE IF NOT EXISTS spool_entries (
			id                     INTEGER PRIMARY KEY AUTOINCREMENT,
			source                 TEXT NOT NULL,
			destination            TEXT NOT NULL,
			subject                TEXT NOT NULL DEFAULT '',
			body                   TEXT NOT NULL DEFAULT '',
			references_            TEXT NOT NULL DEFAULT '',
			delivery_notification  INTEGER NOT NULL DEFAULT 0,
			lifetime               INTEGER NOT NULL DEFAULT 0,
			hash                   TEXT NOT NULL,
			retries                INTEGER NOT NULL DEFAULT 0,
			error_log              TEXT NOT NULL DEFAULT '',
			created_at             DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_spool_entries_hash ON spool_entries(hash)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: schema statement failed: %w", err)
		}
	}
	return nil
}

// ReconcileNewsgroups makes the store's newsgroup set equal to want
//: creates every group in want\have, deletes every
// group in have\want (cascading to its articles via foreign key).
func (s *Store) ReconcileNewsgroups(ctx context.Context, want []string) error {
	have, err := s.GroupNames(ctx)
	if err != nil {
		return err
	}
	haveSet := make(map[string]bool, len(have))
	for _, g := range have {
		haveSet[g] = true
	}
	wantSet := make(map[string]bool, len(want))
	for _, g := range want {
		wantSet[g] = true
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin reconcile tx: %w", err)
	}
	defer tx.Rollback()

	for _, g := range want {
		if haveSet[g] {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO newsgroups (name, description, created_at) VALUES (?, '', ?)`,
			g, time.Now().UTC()); err != nil {
			return fmt.Errorf("store: creating newsgroup %q: %w", g, err)
		}
		log.Printf("[STORE] created newsgroup %q", g)
	}
	for _, g := range have {
		if wantSet[g] {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM newsgroups WHERE name = ?`, g); err != nil {
			return fmt.Errorf("store: deleting newsgroup %q: %w", g, err)
		}
		log.Printf("[STORE] deleted newsgroup %q", g)
	}
	return tx.Commit()
}

// GroupNames returns every configured newsgroup's name.
func (s *Store) GroupNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM newsgroups ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("store: listing newsgroups: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Group looks up a newsgroup by name.
func (s *Store) Group(ctx context.Context, name string) (models.Newsgroup, error) {
	var g models.Newsgroup
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at FROM newsgroups WHERE name = ?`, name,
	).Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Newsgroup{}, ErrNotFound
	}
	if err != nil {
		return models.Newsgroup{}, fmt.Errorf("store: looking up newsgroup %q: %w", name, err)
	}
	return g, nil
}

// KnownMessageIDs returns every message-id currently committed, for the
// Ingestion Engine's dedup pass.
func (s *Store) KnownMessageIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT message_id FROM articles`)
	if err != nil {
		return nil, fmt.Errorf("store: listing message ids: %w", err)
	}
	defer rows.Close()
	known := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		known[id] = true
	}
	return known, rows.Err()
}

// InsertArticle commits a new Article as a single statement outside any
// caller transaction. Returns ErrDuplicate on a message_id uniqueness violation —
// the designed dedup path for both ingestion and the backchannel
// reconciler.
func (s *Store) InsertArticle(ctx context.Context, a models.Article) (int64, error) {
	return s.insertArticle(ctx, s.db, a)
}

func (s *Store) insertArticle(ctx context.Context, exec sqlExecutor, a models.Article) (int64, error) {
	group, err := s.groupWithExec(ctx, exec, a.Newsgroup)
	if err != nil {
		return 0, err
	}
	res, err := exec.ExecContext(ctx,
		`INSERT INTO articles
			(newsgroup_id, from_addr, subject, body, message_id, references_, created_at, path, reply_to, organization, user_agent)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		group.ID, a.From, a.Subject, a.Body, a.MessageID, a.References, a.CreatedAt, a.Path, a.ReplyTo, a.Organization, a.UserAgent)
	if isUniqueViolation(err) {
		return 0, ErrDuplicate
	}
	if err != nil {
		return 0, fmt.Errorf("store: inserting article %q: %w", a.MessageID, err)
	}
	return res.LastInsertId()
}

func (s *Store) groupWithExec(ctx context.Context, exec sqlExecutor, name string) (models.Newsgroup, error) {
	var g models.Newsgroup
	err := exec.QueryRowContext(ctx,
		`SELECT id, name, description, created_at FROM newsgroups WHERE name = ?`, name,
	).Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Newsgroup{}, fmt.Errorf("store: %w: newsgroup %q", ErrNotFound, name)
	}
	if err != nil {
		return models.Newsgroup{}, err
	}
	return g, nil
}

// InsertArticlesAtomic commits every article in arts in a single
// transaction; on any failure the whole batch is abandoned with no
// partial commit. A duplicate within the batch is
// skipped (not an error) and does not count toward the returned total.
func (s *Store) InsertArticlesAtomic(ctx context.Context, arts []models.Article) (inserted int, err error) {
	if len(arts) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin ingestion tx: %w", err)
	}
	defer tx.Rollback()

	for _, a := range arts {
		_, err := s.insertArticle(ctx, tx, a)
		if errors.Is(err, ErrDuplicate) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("store: ingestion batch abandoned: %w", err)
		}
		inserted++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: committing ingestion batch: %w", err)
	}
	return inserted, nil
}

// DeleteArticlesOlderThan deletes articles whose created_at is before cutoff,
// returning the number of rows removed. Called by the expiry sweep.
func (s *Store) DeleteArticlesOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM articles WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: expiring articles: %w", err)
	}
	return res.RowsAffected()
}

// InsertSpoolEntry writes a new SpoolEntry, created on POST.
func (s *Store) InsertSpoolEntry(ctx context.Context, e models.SpoolEntry) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO spool_entries
			(source, destination, subject, body, references_, delivery_notification, lifetime, hash, retries, error_log, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Source, e.Destination, e.Subject, e.Body, e.References, e.DeliveryNotification, e.Lifetime, e.Hash, e.Retries, e.ErrorLog, e.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("store: inserting spool entry: %w", err)
	}
	return res.LastInsertId()
}

// AppendSpoolError appends a timestamped error line to a SpoolEntry's
// error_log.
func (s *Store) AppendSpoolError(ctx context.Context, id int64, line string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE spool_entries SET error_log = error_log || ? WHERE id = ?`,
		line+"\n", id)
	if err != nil {
		return fmt.Errorf("store: appending spool error for id %d: %w", id, err)
	}
	return nil
}

// SpoolEntries returns every SpoolEntry in insertion order, for Drain
// to replay on reconnect.
func (s *Store) SpoolEntries(ctx context.Context) ([]models.SpoolEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, destination, subject, body, references_, delivery_notification, lifetime, hash, retries, error_log, created_at
		 FROM spool_entries ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: listing spool entries: %w", err)
	}
	defer rows.Close()
	var entries []models.SpoolEntry
	for rows.Next() {
		var e models.SpoolEntry
		if err := rows.Scan(&e.ID, &e.Source, &e.Destination, &e.Subject, &e.Body, &e.References,
			&e.DeliveryNotification, &e.Lifetime, &e.Hash, &e.Retries, &e.ErrorLog, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteSpoolEntriesByHash deletes every SpoolEntry matching hash, returning
// the count removed. The Reconciler logs this count: 0 is normal for a
// remotely-originated article, 1 is the successful local-post path,
// anything else is an integrity warning.
func (s *Store) DeleteSpoolEntriesByHash(ctx context.Context, hash string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM spool_entries WHERE hash = ?`, hash)
	if err != nil {
		return 0, fmt.Errorf("store: deleting spool entries for hash %s: %w", hash, err)
	}
	return res.RowsAffected()
}

// NumberedArticle pairs an Article with its per-newsgroup sequence number:
// the global articles.id is a shared surrogate key across every group, so
// the NNTP article number is instead ROW_NUMBER() over each group's rows in
// id order.
type NumberedArticle struct {
	models.Article
	Num int64
}

// GroupRange returns a newsgroup's article count, low, and high water marks
//. An empty group
// reports low=0 high=0 per RFC 3977 §6.1.1.
func (s *Store) GroupRange(ctx context.Context, group string) (count, low, high int64, err error) {
	g, err := s.Group(ctx, group)
	if err != nil {
		return 0, 0, 0, err
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(MIN(rnum), 0), COALESCE(MAX(rnum), 0) FROM (
			SELECT ROW_NUMBER() OVER (ORDER BY id) AS rnum FROM articles WHERE newsgroup_id = ?
		)`, g.ID).Scan(&count, &low, &high)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("store: ranging group %q: %w", group, err)
	}
	return count, low, high, nil
}

// ArticleByNum looks up an article by its per-group sequence number.
func (s *Store) ArticleByNum(ctx context.Context, group string, num int64) (NumberedArticle, error) {
	g, err := s.Group(ctx, group)
	if err != nil {
		return NumberedArticle{}, err
	}
	return s.numberedArticleQuery(ctx,
		`SELECT * FROM (
			SELECT a.id, a.from_addr, a.subject, a.body, a.message_id, a.references_,
				a.created_at, a.path, a.reply_to, a.organization, a.user_agent,
				ROW_NUMBER() OVER (ORDER BY a.id) AS rnum
			FROM articles a WHERE a.newsgroup_id = ?
		) WHERE rnum = ?`, g.ID, num)
}

// ArticleByMessageID looks up an article anywhere in the store by its
// globally unique message-id.
func (s *Store) ArticleByMessageID(ctx context.Context, messageID string) (models.Article, error) {
	var a models.Article
	err := s.db.QueryRowContext(ctx,
		`SELECT a.id, a.from_addr, a.subject, a.body, a.message_id, a.references_, a.created_at, a.path, a.reply_to, a.organization, a.user_agent, n.name
		 FROM articles a JOIN newsgroups n ON n.id = a.newsgroup_id WHERE a.message_id = ?`, messageID,
	).Scan(&a.ID, &a.From, &a.Subject, &a.Body, &a.MessageID, &a.References, &a.CreatedAt, &a.Path, &a.ReplyTo, &a.Organization, &a.UserAgent, &a.Newsgroup)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Article{}, ErrNotFound
	}
	if err != nil {
		return models.Article{}, fmt.Errorf("store: looking up article %q: %w", messageID, err)
	}
	return a, nil
}

func (s *Store) numberedArticleQuery(ctx context.Context, query string, args ...any) (NumberedArticle, error) {
	var na NumberedArticle
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&na.ID, &na.From, &na.Subject, &na.Body, &na.MessageID, &na.References,
		&na.CreatedAt, &na.Path, &na.ReplyTo, &na.Organization, &na.UserAgent, &na.Num)
	if errors.Is(err, sql.ErrNoRows) {
		return NumberedArticle{}, ErrNotFound
	}
	if err != nil {
		return NumberedArticle{}, fmt.Errorf("store: article lookup: %w", err)
	}
	return na, nil
}

// ArticleRange returns every article in group whose sequence number falls
// within [low, high], ordered by number ascending, for OVER/XOVER and
// HDR/XHDR.
func (s *Store) ArticleRange(ctx context.Context, group string, low, high int64) ([]NumberedArticle, error) {
	g, err := s.Group(ctx, group)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT * FROM (
			SELECT a.id, a.from_addr, a.subject, a.body, a.message_id, a.references_,
				a.created_at, a.path, a.reply_to, a.organization, a.user_agent,
				ROW_NUMBER() OVER (ORDER BY a.id) AS rnum
			FROM articles a WHERE a.newsgroup_id = ?
		) WHERE rnum BETWEEN ? AND ? ORDER BY rnum ASC`, g.ID, low, high)
	if err != nil {
		return nil, fmt.Errorf("store: ranging articles in %q: %w", group, err)
	}
	defer rows.Close()
	var out []NumberedArticle
	for rows.Next() {
		var na NumberedArticle
		if err := rows.Scan(&na.ID, &na.From, &na.Subject, &na.Body, &na.MessageID, &na.References,
			&na.CreatedAt, &na.Path, &na.ReplyTo, &na.Organization, &na.UserAgent, &na.Num); err != nil {
			return nil, err
		}
		out = append(out, na)
	}
	return out, rows.Err()
}

// GroupsSince returns the names of newsgroups created at or after since,
// for the NEWGROUPS command.
func (s *Store) GroupsSince(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM newsgroups WHERE created_at >= ? ORDER BY name`, since)
	if err != nil {
		return nil, fmt.Errorf("store: listing new newsgroups: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// ArticlesSince returns every article posted to one of groups (or to any
// configured group, when groups is empty) at or after since, in id order,
// for the NEWNEWS command.
func (s *Store) ArticlesSince(ctx context.Context, groups []string, since time.Time) ([]models.Article, error) {
	query := `SELECT a.message_id, n.name FROM articles a
		JOIN newsgroups n ON n.id = a.newsgroup_id
		WHERE a.created_at >= ?`
	args := []any{since}
	if len(groups) > 0 {
		placeholders := strings.TrimRight(strings.Repeat("?,", len(groups)), ",")
		query += fmt.Sprintf(" AND n.name IN (%s)", placeholders)
		for _, g := range groups {
			args = append(args, g)
		}
	}
	query += ` ORDER BY a.id ASC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: listing new articles: %w", err)
	}
	defer rows.Close()
	var out []models.Article
	for rows.Next() {
		var a models.Article
		if err := rows.Scan(&a.MessageID, &a.Newsgroup); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// sqlExecutor is satisfied by both *sql.DB and *sql.Tx, letting
// insertArticle run either standalone or inside a caller's transaction.
type sqlExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint
// failure, the designed dedup signal.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return strings.Contains(strings.ToUpper(err.Error()), "UNIQUE CONSTRAINT")
}
