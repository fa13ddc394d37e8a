package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-while/go-newsgate/internal/nntp"
	"github.com/go-while/go-newsgate/internal/store"
)

// articleKind selects what ARTICLE/HEAD/BODY/STAT send back.
type articleKind int

const (
	articleFull articleKind = iota
	articleHead
	articleBody
	articleStat
)

// resolveArticle implements the shared ARTICLE/HEAD/BODY/STAT/CURRENT
// argument handling of RFC 3977 §6.2: no argument means "the current
// article in the selected group"; a bare number means "that number in the
// selected group"; a "<...>" token means "that message-id, anywhere".
func (b *Backend) resolveArticle(ctx context.Context, args []string, sess *nntp.Session) (store.NumberedArticle, string, bool) {
	if len(args) == 0 {
		if sess.Group == "" {
			return store.NumberedArticle{}, "412 No newsgroup selected", false
		}
		if sess.Current == 0 {
			return store.NumberedArticle{}, "420 Current article number is invalid", false
		}
		na, err := b.store.ArticleByNum(ctx, sess.Group, sess.Current)
		if errors.Is(err, store.ErrNotFound) {
			return store.NumberedArticle{}, "423 No such article number in this group", false
		}
		if err != nil {
			return store.NumberedArticle{}, "503 program error", false
		}
		return na, "", true
	}

	arg := args[0]
	if strings.HasPrefix(arg, "<") && strings.HasSuffix(arg, ">") {
		a, err := b.store.ArticleByMessageID(ctx, arg)
		if errors.Is(err, store.ErrNotFound) {
			return store.NumberedArticle{}, "430 No such article found", false
		}
		if err != nil {
			return store.NumberedArticle{}, "503 program error", false
		}
		return store.NumberedArticle{Article: a, Num: 0}, "", true
	}

	num, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return store.NumberedArticle{}, "501 Invalid article number", false
	}
	if sess.Group == "" {
		return store.NumberedArticle{}, "412 No newsgroup selected", false
	}
	na, err := b.store.ArticleByNum(ctx, sess.Group, num)
	if errors.Is(err, store.ErrNotFound) {
		return store.NumberedArticle{}, "423 No such article number in this group", false
	}
	if err != nil {
		return store.NumberedArticle{}, "503 program error", false
	}
	return na, "", true
}

func (b *Backend) cmdArticle(ctx context.Context, args []string, sess *nntp.Session, kind articleKind) nntp.Response {
	na, errStatus, ok := b.resolveArticle(ctx, args, sess)
	if !ok {
		return nntp.Line(errStatus)
	}
	if na.Num > 0 {
		sess.Current = na.Num
	}

	switch kind {
	case articleStat:
		return nntp.Line(fmt.Sprintf("223 %d %s Article retrieved", na.Num, na.MessageID))
	case articleHead:
		return nntp.Multi(fmt.Sprintf("221 %d %s Head follows", na.Num, na.MessageID), headerLines(na.Article, sess.Group))
	case articleBody:
		return nntp.Multi(fmt.Sprintf("222 %d %s Body follows", na.Num, na.MessageID), bodyLines(na.Article))
	default: // articleFull
		lines := append(append(headerLines(na.Article, sess.Group), ""), bodyLines(na.Article)...)
		return nntp.Multi(fmt.Sprintf("220 %d %s Article follows", na.Num, na.MessageID), lines)
	}
}

func (b *Backend) cmdNext(ctx context.Context, sess *nntp.Session) nntp.Response {
	if sess.Group == "" {
		return nntp.Line("412 No newsgroup selected")
	}
	if sess.Current == 0 {
		return nntp.Line("420 Current article number is invalid")
	}
	next := sess.Current + 1
	if next > sess.High {
		return nntp.Line("421 No next article in this group")
	}
	na, err := b.store.ArticleByNum(ctx, sess.Group, next)
	if errors.Is(err, store.ErrNotFound) {
		return nntp.Line("421 No next article in this group")
	}
	if err != nil {
		return nntp.Line("503 program error")
	}
	sess.Current = next
	return nntp.Line(fmt.Sprintf("223 %d %s Article retrieved", na.Num, na.MessageID))
}

func (b *Backend) cmdLast(ctx context.Context, sess *nntp.Session) nntp.Response {
	if sess.Group == "" {
		return nntp.Line("412 No newsgroup selected")
	}
	if sess.Current == 0 {
		return nntp.Line("420 Current article number is invalid")
	}
	prev := sess.Current - 1
	if prev < sess.Low {
		return nntp.Line("422 No previous article in this group")
	}
	na, err := b.store.ArticleByNum(ctx, sess.Group, prev)
	if errors.Is(err, store.ErrNotFound) {
		return nntp.Line("422 No previous article in this group")
	}
	if err != nil {
		return nntp.Line("503 program error")
	}
	sess.Current = prev
	return nntp.Line(fmt.Sprintf("223 %d %s Article retrieved", na.Num, na.MessageID))
}

