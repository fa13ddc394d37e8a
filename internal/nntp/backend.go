package nntp

import "context"

// Response is the sum type the Backend returns to a dispatched command: a
// single Backend interface paired with a sum-type Response. A Response is
// either a single status line, or a status line followed by a
// dot-terminated multi-line block — IsMulti distinguishes "no body" from
// "body with zero lines" (e.g. an empty LISTGROUP).
type Response struct {
	Status  string
	Lines   []string
	IsMulti bool
}

// Line builds a single-line Response.
func Line(status string) Response {
	return Response{Status: status}
}

// Multi builds a multi-line Response: status line, then lines, then the
// terminating dot.
func Multi(status string, lines []string) Response {
	return Response{Status: status, Lines: lines, IsMulti: true}
}

// Session is the per-connection state the Backend reads and mutates across
// commands: the currently selected group and the reader's position within
// it, plus whether posting is allowed.
type Session struct {
	// ID correlates this session's log lines across its lifetime.
	ID string

	Group       string
	Low, High   int64
	Current     int64
	PostAllowed bool
}

// Backend is the interface the Session Handler (this package) drives: its
// three operations are all a gateway needs to expose.
type Backend interface {
	// AvailableCommands lists every command name (lowercase) this backend
	// can dispatch, used to build the session's static command table.
	AvailableCommands() []string

	// Dispatch executes one command against the Article Store and the
	// session's selected group/position, returning the response to send.
	Dispatch(ctx context.Context, cmd string, args []string, sess *Session) Response

	// Post is invoked once the client terminates a POST's article buffer
	// with a lone ".". A nil error means "240 Article received ok"; any
	// error means "503 program error".
	Post(ctx context.Context, lines []string, sess *Session) error
}
