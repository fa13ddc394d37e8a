package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-while/go-newsgate/internal/nntp"
)

// cmdList implements LIST ACTIVE / LIST NEWSGROUPS (RFC 3977 §7.6).
func (b *Backend) cmdList(ctx context.Context, args []string) nntp.Response {
	variant := "active"
	if len(args) > 0 {
		variant = strings.ToLower(args[0])
	}

	names, err := b.store.GroupNames(ctx)
	if err != nil {
		return nntp.Line("503 program error")
	}

	switch variant {
	case "active":
		lines := make([]string, 0, len(names))
		for _, n := range names {
			_, low, high, err := b.store.GroupRange(ctx, n)
			if err != nil {
				continue
			}
			lines = append(lines, fmt.Sprintf("%s %d %d y", n, high, low))
		}
		return nntp.Multi("215 list of newsgroups follows", lines)
	case "newsgroups":
		lines := make([]string, 0, len(names))
		for _, n := range names {
			g, err := b.store.Group(ctx, n)
			if err != nil {
				continue
			}
			lines = append(lines, fmt.Sprintf("%s %s", n, g.Description))
		}
		return nntp.Multi("215 list of newsgroup descriptions follows", lines)
	default:
		return nntp.Line(fmt.Sprintf("501 Unsupported LIST variant: %s", variant))
	}
}

// cmdNewgroups implements NEWGROUPS (RFC 3977 §7.3): newsgroups created at
// or after the given date/time.
func (b *Backend) cmdNewgroups(ctx context.Context, args []string) nntp.Response {
	if len(args) < 2 {
		return nntp.Line("501 NEWGROUPS requires date and time arguments")
	}
	since, err := parseNNTPDateTime(args[0], args[1])
	if err != nil {
		return nntp.Line("501 " + err.Error())
	}
	names, err := b.store.GroupsSince(ctx, since)
	if err != nil {
		return nntp.Line("503 program error")
	}
	lines := make([]string, 0, len(names))
	for _, n := range names {
		_, low, high, err := b.store.GroupRange(ctx, n)
		if err != nil {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s %d %d y", n, high, low))
	}
	return nntp.Multi("231 New newsgroups follow", lines)
}

// cmdNewnews implements NEWNEWS (RFC 3977 §7.4): message-ids of articles
// posted to a wildmat-matched set of groups at or after a date/time.
func (b *Backend) cmdNewnews(ctx context.Context, args []string) nntp.Response {
	if len(args) < 3 {
		return nntp.Line("501 NEWNEWS requires wildmat, date and time arguments")
	}
	since, err := parseNNTPDateTime(args[1], args[2])
	if err != nil {
		return nntp.Line("501 " + err.Error())
	}
	all, err := b.store.GroupNames(ctx)
	if err != nil {
		return nntp.Line("503 program error")
	}
	groups := wildmatFilter(all, args[0])
	if len(groups) == 0 {
		return nntp.Multi("230 New articles follow", nil)
	}
	arts, err := b.store.ArticlesSince(ctx, groups, since)
	if err != nil {
		return nntp.Line("503 program error")
	}
	lines := make([]string, 0, len(arts))
	for _, a := range arts {
		lines = append(lines, a.MessageID)
	}
	return nntp.Multi("230 New articles follow", lines)
}
