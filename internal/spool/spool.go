// Package spool implements the Spool Engine: parsing a
// raw posted article, computing its spool hash, and guaranteeing
// at-least-once delivery to DTND across daemon outages.
package spool

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-while/go-newsgate/internal/bp7"
	"github.com/go-while/go-newsgate/internal/idmap"
	"github.com/go-while/go-newsgate/internal/models"
	"github.com/go-while/go-newsgate/internal/store"
)

// Sender abstracts the Stream Client's outbound Send so the engine and its
// tests do not depend on a live WebSocket connection.
type Sender interface {
	Send(frame []byte) error
}

// StreamHandle returns the current Stream Client, or nil/false if the
// stream is not Connected — the Supervisor-owned "check-and-wait" getter.
type StreamHandle func() (Sender, bool)

// Engine is the Spool Engine.
type Engine struct {
	store      *store.Store
	stream     StreamHandle
	senderAddr string // configured local sender email, never taken from the posted article
	nodeID     string

	deliveryNotification bool
	lifetimeMS           int64
	compressBody         bool
}

// Config collects Engine's construction-time parameters.
type Config struct {
	SenderEmail          string
	NodeID               string
	DeliveryNotification bool
	LifetimeMS           int64
	CompressBody         bool
}

// New builds a Spool Engine bound to a store and a Stream Client getter.
func New(st *store.Store, stream StreamHandle, cfg Config) *Engine {
	return &Engine{
		store:                st,
		stream:               stream,
		senderAddr:           cfg.SenderEmail,
		nodeID:               cfg.NodeID,
		deliveryNotification: cfg.DeliveryNotification,
		lifetimeMS:           cfg.LifetimeMS,
		compressBody:         cfg.CompressBody,
	}
}

// Post parses a raw NNTP article buffer (the lines between the POST
// command and the terminating "."), addresses it, writes a SpoolEntry, and
// attempts to send it over the Stream Client. A send failure is logged on
// the entry and is not returned as an error — the entry remains for a
// later Drain.
func (e *Engine) Post(ctx context.Context, lines []string) error {
	parsed, err := parseArticle(lines)
	if err != nil {
		return fmt.Errorf("spool: parsing article: %w", err)
	}
	if len(parsed.Newsgroups) == 0 {
		return fmt.Errorf("spool: no Newsgroups header found in article")
	}
	destinationGroup := parsed.Newsgroups[0]

	source, err := idmap.EmailToSenderURI(e.nodeID, e.senderAddr)
	if err != nil {
		return fmt.Errorf("spool: addressing source: %w", err)
	}
	destination := idmap.GroupEndpoint(destinationGroup)

	hash := idmap.SpoolHash(source, destination, parsed.Subject, parsed.Body, parsed.References)

	entry := models.SpoolEntry{
		Source:               source,
		Destination:          destination,
		Subject:              parsed.Subject,
		Body:                 parsed.Body,
		References:           parsed.References,
		DeliveryNotification: e.deliveryNotification,
		Lifetime:             e.lifetimeMS,
		Hash:                 hash,
		CreatedAt:            time.Now().UTC(),
	}
	id, err := e.store.InsertSpoolEntry(ctx, entry)
	if err != nil {
		return fmt.Errorf("spool: writing spool entry: %w", err)
	}

	if err := e.sendEntry(ctx, source, destination, parsed.Subject, parsed.Body, parsed.References); err != nil {
		line := fmt.Sprintf("%s ERROR Failure delivering to DTNd: %v", time.Now().UTC().Format(time.RFC3339), err)
		if logErr := e.store.AppendSpoolError(ctx, id, line); logErr != nil {
			log.Printf("[SPOOL] failed to append error_log for entry %d: %v", id, logErr)
		}
		log.Printf("[SPOOL] %s", line)
	}
	return nil
}

// Drain reads every SpoolEntry in insertion order, waits for the stream to
// be Connected, and re-sends each with a small yield between sends. Drain
// is idempotent: the reconciler rejects the resulting duplicate
// acknowledgement without error.
func (e *Engine) Drain(ctx context.Context) error {
	entries, err := e.store.SpoolEntries(ctx)
	if err != nil {
		return fmt.Errorf("spool: listing entries to drain: %w", err)
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := e.waitForStream(ctx); err != nil {
			return err
		}
		if err := e.sendEntry(ctx, entry.Source, entry.Destination, entry.Subject, entry.Body, entry.References); err != nil {
			line := fmt.Sprintf("%s ERROR Failure delivering to DTNd: %v", time.Now().UTC().Format(time.RFC3339), err)
			if logErr := e.store.AppendSpoolError(ctx, entry.ID, line); logErr != nil {
				log.Printf("[SPOOL] failed to append error_log for entry %d: %v", entry.ID, logErr)
			}
			log.Printf("[SPOOL] drain: %s", line)
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
	return nil
}

func (e *Engine) waitForStream(ctx context.Context) error {
	for {
		if _, ok := e.stream(); ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (e *Engine) sendEntry(ctx context.Context, source, destination, subject, body, references string) error {
	sender, ok := e.stream()
	if !ok {
		return fmt.Errorf("stream client not connected")
	}
	payload, err := bp7.EncodePayload(subject, body, references, e.compressBody)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	frame, err := bp7.EncodeFrame(source, destination, e.deliveryNotification, e.lifetimeMS, payload)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	return sender.Send(frame)
}

// parseArticle consumes article lines exactly as the NNTP POST buffer is
// handed to the engine: headers until the first empty
// line, dot-stuffing already undone by the caller's line reader, folded
// continuation lines joined onto the previous header.
func parseArticle(lines []string) (models.ParsedArticle, error) {
	headers := make(map[string]string)
	var newsgroups []string
	var subject, references string
	var bodyLines []string
	var currentHeader string
	inHeaders := true

	for _, line := range lines {
		if inHeaders {
			if line == "" {
				inHeaders = false
				continue
			}
			if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
				if currentHeader != "" {
					headers[currentHeader] += " " + strings.TrimSpace(line)
					switch currentHeader {
					case "subject":
						subject = headers[currentHeader]
					case "references":
						references = headers[currentHeader]
					}
				}
				continue
			}
			colon := strings.Index(line, ":")
			if colon == -1 {
				continue
			}
			name := strings.ToLower(strings.TrimSpace(line[:colon]))
			value := strings.TrimSpace(line[colon+1:])
			headers[name] = value
			currentHeader = name
			switch name {
			case "newsgroups":
				for _, g := range strings.Split(value, ",") {
					g = strings.TrimSpace(g)
					if g != "" {
						newsgroups = append(newsgroups, g)
					}
				}
			case "subject":
				subject = value
			case "references":
				references = value
			}
		} else {
			bodyLines = append(bodyLines, line)
		}
	}

	return models.ParsedArticle{
		Headers:    headers,
		Newsgroups: newsgroups,
		Subject:    subject,
		References: references,
		Body:       strings.Join(bodyLines, "\n"),
	}, nil
}
