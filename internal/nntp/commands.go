package nntp

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

// errQuit unwinds Handle's read loop on QUIT without being logged as a
// connection error.
var errQuit = errors.New("nntp: quit")

func (c *clientConn) cmdCapabilities(_ []string) error {
	return c.sendMultilineResponse("101 Capability list:", c.serverCapabilities())
}

func (c *clientConn) serverCapabilities() []string {
	caps := []string{"VERSION 2", "READER", "LIST ACTIVE NEWSGROUPS", "OVER", "HDR", "IMPLEMENTATION go-newsgate"}
	if c.session.PostAllowed {
		caps = append(caps, "POST")
	}
	return caps
}

func (c *clientConn) cmdMode(args []string) error {
	if len(args) == 0 {
		return c.sendResponse(501, "MODE command requires an argument")
	}
	switch strings.ToUpper(args[0]) {
	case "READER":
		if c.session.PostAllowed {
			return c.sendResponse(200, "go-newsgate NNTP gateway ready, posting allowed")
		}
		return c.sendResponse(201, "go-newsgate NNTP gateway ready, posting prohibited")
	default:
		return c.sendResponse(500, fmt.Sprintf("Unknown MODE: %s", args[0]))
	}
}

func (c *clientConn) cmdHelp(_ []string) error {
	lines := []string{
		"Commands supported:",
		"  CAPABILITIES, MODE READER, QUIT, HELP",
		"  LIST [ACTIVE|NEWSGROUPS], NEWGROUPS, NEWNEWS, DATE",
		"  GROUP <group>, LISTGROUP [<group>]",
		"  STAT|HEAD|BODY|ARTICLE [<msgid>|<num>], NEXT, LAST, CURRENT",
		"  OVER|XOVER [<range>], HDR|XHDR <field> [<range>]",
		"  POST",
		"",
		"See RFC 3977.",
	}
	return c.sendMultilineResponse("100 Help text follows", lines)
}

func (c *clientConn) cmdQuit(_ []string) error {
	c.sendResponse(205, "Goodbye")
	return errQuit
}

// cmdPost reads a dot-terminated article buffer (textproto.Conn.ReadDotLines
// handles dot-stuffing) and hands it to the Backend.
func (c *clientConn) cmdPost(_ []string) error {
	if !c.session.PostAllowed {
		return c.sendResponse(440, "Posting not allowed")
	}
	if err := c.sendResponse(340, "Send article to be posted. End with <CR-LF>.<CR-LF>"); err != nil {
		return err
	}
	lines, err := c.textConn.ReadDotLines()
	if err != nil {
		return fmt.Errorf("reading posted article: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.server.Backend.Post(ctx, lines, c.session); err != nil {
		log.Printf("[NNTP] session %s: post failed: %v", c.sessionID(), err)
		return c.sendResponse(503, "program error")
	}
	return c.sendResponse(240, "Article received ok")
}
