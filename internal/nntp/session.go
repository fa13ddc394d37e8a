package nntp

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
)

// localHandlers is a static table from command name to handler, keyed by a
// lowercase ASCII string, rather than a growing switch statement. Commands
// not in this table, but named by the Backend's AvailableCommands(), are
// delegated generically to Backend.Dispatch.
var localHandlers = map[string]func(*clientConn, []string) error{
	"capabilities": (*clientConn).cmdCapabilities,
	"mode":         (*clientConn).cmdMode,
	"help":         (*clientConn).cmdHelp,
	"quit":         (*clientConn).cmdQuit,
	"post":         (*clientConn).cmdPost,
}

// clientConn is one accepted TCP connection's state machine.
type clientConn struct {
	conn     net.Conn
	textConn *textproto.Conn
	server   *NNTPServer
	session  *Session

	backendCmds map[string]bool
	emptyRun    int
}

func newClientConn(conn net.Conn, server *NNTPServer) *clientConn {
	backendCmds := make(map[string]bool)
	for _, cmd := range server.Backend.AvailableCommands() {
		backendCmds[strings.ToLower(cmd)] = true
	}
	return &clientConn{
		conn:        conn,
		textConn:    textproto.NewConn(conn),
		server:      server,
		session:     &Session{ID: uuid.NewString(), PostAllowed: true},
		backendCmds: backendCmds,
	}
}

func (c *clientConn) sessionID() string { return c.session.ID }

func (c *clientConn) updateDeadlines() {
	deadline := time.Now().Add(c.server.Config.IdleTimeout)
	c.conn.SetReadDeadline(deadline)
	c.conn.SetWriteDeadline(deadline)
}

// Handle drives the connection until the client disconnects or the
// session is closed (on QUIT or an empty-request flood).
func (c *clientConn) Handle() error {
	defer c.textConn.Close()

	if err := c.sendResponse(200, "go-newsgate NNTP gateway ready, posting allowed"); err != nil {
		return fmt.Errorf("sending welcome: %w", err)
	}

	for {
		c.updateDeadlines()
		line, err := c.textConn.ReadLine()
		if err != nil {
			return fmt.Errorf("reading command: %w", err)
		}

		if strings.TrimSpace(line) == "" {
			c.emptyRun++
			if c.emptyRun > MaxEmptyRequests {
				log.Printf("[NNTP] session %s: closing after %d consecutive empty requests", c.sessionID(), c.emptyRun)
				return fmt.Errorf("empty-request flood")
			}
			c.sendResponse(500, "Empty command")
			continue
		}
		c.emptyRun = 0

		if err := c.handleCommand(line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			return err
		}
	}
}

func (c *clientConn) handleCommand(line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return c.sendResponse(500, "Empty command")
	}
	command := strings.ToLower(parts[0])
	args := parts[1:]
	c.server.Stats.CommandExecuted(strings.ToUpper(command))

	if handler, ok := localHandlers[command]; ok {
		return handler(c, args)
	}
	if c.backendCmds[command] {
		return c.dispatchBackend(command, args)
	}
	return c.sendResponse(500, fmt.Sprintf("Command not recognized: %s", strings.ToUpper(command)))
}

// dispatchBackend delegates command to the Backend and writes whichever
// Response shape it returns.
func (c *clientConn) dispatchBackend(command string, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	resp := c.server.Backend.Dispatch(ctx, command, args, c.session)
	if resp.IsMulti {
		return c.sendMultilineResponse(resp.Status, resp.Lines)
	}
	return c.sendLine(resp.Status)
}

// sendResponse sends a single-line "<code> <message>" response.
func (c *clientConn) sendResponse(code int, message string) error {
	return c.textConn.PrintfLine("%d %s", code, message)
}

// sendLine sends a pre-formatted single status line (e.g. "211 2 1 2 g.test").
func (c *clientConn) sendLine(status string) error {
	return c.textConn.PrintfLine("%s", status)
}

// sendMultilineResponse sends a status line, the data lines, and the
// terminating dot, using textproto's DotWriter for correct dot-stuffing.
func (c *clientConn) sendMultilineResponse(status string, lines []string) error {
	if err := c.sendLine(status); err != nil {
		return err
	}
	dw := c.textConn.DotWriter()
	for _, line := range lines {
		if _, err := fmt.Fprintf(dw, "%s\r\n", line); err != nil {
			dw.Close()
			return err
		}
	}
	return dw.Close()
}

// RemoteAddr returns the remote address of the underlying connection.
func (c *clientConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
