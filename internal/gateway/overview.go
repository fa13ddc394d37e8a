package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-while/go-newsgate/internal/nntp"
	"github.com/go-while/go-newsgate/internal/store"
)

// cmdOver implements OVER/XOVER (RFC 3977 §8.3): a tab-separated overview
// line per article in the requested range.
func (b *Backend) cmdOver(ctx context.Context, args []string, sess *nntp.Session) nntp.Response {
	if sess.Group == "" {
		return nntp.Line("412 No newsgroup selected")
	}
	var rangeArg string
	if len(args) > 0 {
		rangeArg = args[0]
	}
	start, end, err := parseRange(rangeArg, sess.High, sess.Current)
	if errors.Is(err, errNoCurrent) {
		return nntp.Line("420 Current article number is invalid")
	}
	if err != nil {
		return nntp.Line("501 " + err.Error())
	}
	arts, err := b.store.ArticleRange(ctx, sess.Group, start, end)
	if err != nil {
		return nntp.Line("503 program error")
	}
	lines := make([]string, 0, len(arts))
	for _, a := range arts {
		lines = append(lines, formatOverviewLine(a))
	}
	return nntp.Multi("224 Overview information follows", lines)
}

// formatOverviewLine: number\tsubject\tfrom\tdate\tmessage-id\treferences\tbytes\tlines\t
func formatOverviewLine(a store.NumberedArticle) string {
	bodyBytes := len(a.Body)
	bodyLineCount := strings.Count(a.Body, "\n") + 1
	if a.Body == "" {
		bodyLineCount = 0
	}
	return fmt.Sprintf("%d\t%s\t%s\t%s\t%s\t%s\t%d\t%d\t",
		a.Num, a.Subject, a.From, a.CreatedAt.Format(time.RFC1123Z), a.MessageID, a.References, bodyBytes, bodyLineCount)
}

// cmdHdr implements HDR/XHDR (RFC 3977 §8.5) over a fixed set of
// store-backed header fields: articles carry no arbitrary-header storage.
func (b *Backend) cmdHdr(ctx context.Context, args []string, sess *nntp.Session) nntp.Response {
	if len(args) < 1 {
		return nntp.Line("501 HDR command requires a header field argument")
	}
	if sess.Group == "" {
		return nntp.Line("412 No newsgroup selected")
	}
	field := strings.ToLower(args[0])
	var rangeArg string
	if len(args) > 1 {
		rangeArg = args[1]
	}
	start, end, err := parseRange(rangeArg, sess.High, sess.Current)
	if errors.Is(err, errNoCurrent) {
		return nntp.Line("420 Current article number is invalid")
	}
	if err != nil {
		return nntp.Line("501 " + err.Error())
	}
	arts, err := b.store.ArticleRange(ctx, sess.Group, start, end)
	if err != nil {
		return nntp.Line("503 program error")
	}
	lines := make([]string, 0, len(arts))
	for _, a := range arts {
		val, ok := headerValue(a.Article, sess.Group, field)
		if !ok {
			continue
		}
		lines = append(lines, fmt.Sprintf("%d %s", a.Num, val))
	}
	return nntp.Multi(fmt.Sprintf("225 Headers follow for %s", field), lines)
}
