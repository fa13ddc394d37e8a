// Package gateway implements internal/nntp.Backend: the glue between the
// Article Store and the Spool Engine that the NNTP Session Handler drives.
package gateway

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/go-while/go-newsgate/internal/nntp"
	"github.com/go-while/go-newsgate/internal/spool"
	"github.com/go-while/go-newsgate/internal/store"
)

// availableCommands is the required reader command set plus
// NEWGROUPS/NEWNEWS/DATE.
var availableCommands = []string{
	"article", "body", "capabilities", "current", "date", "group", "hdr",
	"head", "help", "last", "list", "listgroup", "mode", "newgroups",
	"newnews", "next", "over", "post", "quit", "stat", "xhdr", "xover",
}

// Backend wires an Article Store and a Spool Engine to the NNTP layer.
type Backend struct {
	store *store.Store
	spool *spool.Engine
}

// New builds a gateway Backend.
func New(st *store.Store, sp *spool.Engine) *Backend {
	return &Backend{store: st, spool: sp}
}

// AvailableCommands implements nntp.Backend.
func (b *Backend) AvailableCommands() []string {
	return availableCommands
}

// Post implements nntp.Backend by delegating straight to the Spool Engine.
func (b *Backend) Post(ctx context.Context, lines []string, sess *nntp.Session) error {
	return b.spool.Post(ctx, lines)
}

// Dispatch implements nntp.Backend, routing to one handler per command
// name. Unknown commands (not possible once AvailableCommands is honored
// by the caller) fall through to a 500.
func (b *Backend) Dispatch(ctx context.Context, cmd string, args []string, sess *nntp.Session) nntp.Response {
	switch cmd {
	case "group":
		return b.cmdGroup(ctx, args, sess)
	case "listgroup":
		return b.cmdListGroup(ctx, args, sess)
	case "stat":
		return b.cmdArticle(ctx, args, sess, articleStat)
	case "head":
		return b.cmdArticle(ctx, args, sess, articleHead)
	case "body":
		return b.cmdArticle(ctx, args, sess, articleBody)
	case "article":
		return b.cmdArticle(ctx, args, sess, articleFull)
	case "next":
		return b.cmdNext(ctx, sess)
	case "last":
		return b.cmdLast(ctx, sess)
	case "current":
		return b.cmdArticle(ctx, nil, sess, articleStat)
	case "over", "xover":
		return b.cmdOver(ctx, args, sess)
	case "hdr", "xhdr":
		return b.cmdHdr(ctx, args, sess)
	case "list":
		return b.cmdList(ctx, args)
	case "newgroups":
		return b.cmdNewgroups(ctx, args)
	case "newnews":
		return b.cmdNewnews(ctx, args)
	case "date":
		return b.cmdDate()
	default:
		return nntp.Line(fmt.Sprintf("500 Command not recognized: %s", strings.ToUpper(cmd)))
	}
}

func (b *Backend) cmdGroup(ctx context.Context, args []string, sess *nntp.Session) nntp.Response {
	if len(args) == 0 {
		return nntp.Line("501 GROUP command requires a group name")
	}
	name := args[0]
	count, low, high, err := b.store.GroupRange(ctx, name)
	if err != nil {
		return nntp.Line("411 No such newsgroup")
	}
	sess.Group = name
	sess.Low = low
	sess.High = high
	sess.Current = low
	return nntp.Line(fmt.Sprintf("211 %d %d %d %s", count, low, high, name))
}

func (b *Backend) cmdListGroup(ctx context.Context, args []string, sess *nntp.Session) nntp.Response {
	name := sess.Group
	if len(args) > 0 {
		name = args[0]
	}
	if name == "" {
		return nntp.Line("412 No newsgroup selected")
	}
	count, low, high, err := b.store.GroupRange(ctx, name)
	if err != nil {
		return nntp.Line("411 No such newsgroup")
	}
	sess.Group = name
	sess.Low = low
	sess.High = high
	if count == 0 {
		sess.Current = 0
		return nntp.Multi(fmt.Sprintf("211 0 %d %d %s list follows", low, high, name), nil)
	}
	arts, err := b.store.ArticleRange(ctx, name, low, high)
	if err != nil {
		log.Printf("[GATEWAY] LISTGROUP %s: %v", name, err)
		return nntp.Line("503 program error")
	}
	sess.Current = low
	lines := make([]string, 0, len(arts))
	for _, a := range arts {
		lines = append(lines, strconv.FormatInt(a.Num, 10))
	}
	return nntp.Multi(fmt.Sprintf("211 %d %d %d %s list follows", count, low, high, name), lines)
}

func (b *Backend) cmdDate() nntp.Response {
	return nntp.Line(fmt.Sprintf("111 %s", time.Now().UTC().Format("20060102150405")))
}
