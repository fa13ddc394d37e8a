// Package models defines the core data structures for go-newsgate.
package models

import "time"

// Newsgroup is a locally subscribed newsgroup, mirrored from configuration.
type Newsgroup struct {
	ID          int64     `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Article is a committed, NNTP-visible news item.
//
// ID is a global surrogate key shared across every newsgroup, assigned in
// insertion order. It is not the NNTP article number: that number is
// per-newsgroup and is computed separately by the store (see
// store.NumberedArticle) from ID's relative ordering within one group.
type Article struct {
	ID           int64     `json:"id" db:"id"`
	NewsgroupID  int64     `json:"newsgroup_id" db:"newsgroup_id"`
	Newsgroup    string    `json:"newsgroup" db:"-"`
	From         string    `json:"from" db:"from_addr"`
	Subject      string    `json:"subject" db:"subject"`
	Body         string    `json:"body" db:"body"`
	MessageID    string    `json:"message_id" db:"message_id"`
	References   string    `json:"references" db:"references_"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	Path         string    `json:"path" db:"path"`
	ReplyTo      string    `json:"reply_to" db:"reply_to"`
	Organization string    `json:"organization" db:"organization"`
	UserAgent    string    `json:"user_agent" db:"user_agent"`
}

// SpoolEntry is an article posted locally for which DTND has not yet
// returned an acknowledged bundle-id.
type SpoolEntry struct {
	ID                   int64     `json:"id" db:"id"`
	Source               string    `json:"source" db:"source"`
	Destination          string    `json:"destination" db:"destination"`
	Subject              string    `json:"subject" db:"subject"`
	Body                 string    `json:"body" db:"body"`
	References           string    `json:"references" db:"references_"`
	DeliveryNotification bool      `json:"delivery_notification" db:"delivery_notification"`
	Lifetime             int64     `json:"lifetime" db:"lifetime"`
	Hash                 string    `json:"hash" db:"hash"`
	Retries              int       `json:"retries" db:"retries"`
	ErrorLog             string    `json:"error_log" db:"error_log"`
	CreatedAt            time.Time `json:"created_at" db:"created_at"`
}

// ParsedArticle is the result of parsing a raw NNTP POST buffer, before it
// has been addressed (source/destination) or hashed.
type ParsedArticle struct {
	Headers    map[string]string
	Newsgroups []string
	Subject    string
	References string
	Body       string
}
