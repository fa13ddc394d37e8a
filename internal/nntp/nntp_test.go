package nntp

import (
	"context"
	"net"
	"net/textproto"
	"strings"
	"testing"
	"time"
)

type fakeBackend struct {
	commands []string
	posted   [][]string
	postErr  error
}

func (f *fakeBackend) AvailableCommands() []string { return f.commands }

func (f *fakeBackend) Dispatch(ctx context.Context, cmd string, args []string, sess *Session) Response {
	switch cmd {
	case "group":
		sess.Group = args[0]
		return Line("211 0 0 0 " + args[0])
	case "list":
		return Multi("215 list follows", []string{"g.test 0 0 y"})
	default:
		return Line("500 unhandled in test")
	}
}

func (f *fakeBackend) Post(ctx context.Context, lines []string, sess *Session) error {
	f.posted = append(f.posted, lines)
	return f.postErr
}

func newTestPair(t *testing.T, backend Backend) (*textproto.Conn, *clientConn, <-chan struct{}) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	server := &NNTPServer{
		Config:  Config{IdleTimeout: 2 * time.Second, MaxConns: 10},
		Backend: backend,
		Stats:   NewServerStats(),
	}
	conn := newClientConn(serverSide, server)
	done := make(chan struct{})
	go func() {
		conn.Handle()
		close(done)
	}()
	t.Cleanup(func() { clientSide.Close() })
	return textproto.NewConn(clientSide), conn, done
}

func TestWelcomeThenQuit(t *testing.T) {
	backend := &fakeBackend{commands: []string{"group", "list"}}
	client, _, _ := newTestPair(t, backend)

	greeting, err := client.ReadLine()
	if err != nil {
		t.Fatalf("reading greeting: %v", err)
	}
	if !strings.HasPrefix(greeting, "200 ") {
		t.Fatalf("unexpected greeting: %q", greeting)
	}

	if err := client.PrintfLine("QUIT"); err != nil {
		t.Fatalf("sending QUIT: %v", err)
	}
	resp, err := client.ReadLine()
	if err != nil {
		t.Fatalf("reading QUIT response: %v", err)
	}
	if !strings.HasPrefix(resp, "205 ") {
		t.Fatalf("unexpected QUIT response: %q", resp)
	}
}

func TestCapabilitiesListsPost(t *testing.T) {
	backend := &fakeBackend{commands: []string{"group"}}
	client, _, _ := newTestPair(t, backend)
	client.ReadLine() // greeting

	client.PrintfLine("CAPABILITIES")
	status, err := client.ReadLine()
	if err != nil {
		t.Fatalf("reading CAPABILITIES status: %v", err)
	}
	if !strings.HasPrefix(status, "101 ") {
		t.Fatalf("unexpected status: %q", status)
	}
	lines, err := client.ReadDotLines()
	if err != nil {
		t.Fatalf("reading CAPABILITIES body: %v", err)
	}
	found := false
	for _, l := range lines {
		if l == "POST" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected POST capability, got %v", lines)
	}
}

func TestUnknownCommandGetsA500(t *testing.T) {
	backend := &fakeBackend{commands: []string{"group"}}
	client, _, _ := newTestPair(t, backend)
	client.ReadLine() // greeting

	client.PrintfLine("BOGUS")
	resp, err := client.ReadLine()
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	if !strings.HasPrefix(resp, "500 ") {
		t.Fatalf("expected 500, got %q", resp)
	}
}

func TestGroupDelegatesToBackend(t *testing.T) {
	backend := &fakeBackend{commands: []string{"group"}}
	client, _, _ := newTestPair(t, backend)
	client.ReadLine() // greeting

	client.PrintfLine("GROUP g.test")
	resp, err := client.ReadLine()
	if err != nil {
		t.Fatalf("reading GROUP response: %v", err)
	}
	if resp != "211 0 0 0 g.test" {
		t.Fatalf("unexpected GROUP response: %q", resp)
	}
}

func TestPostFlowSuccessAndFailure(t *testing.T) {
	backend := &fakeBackend{commands: []string{"group"}}
	client, _, _ := newTestPair(t, backend)
	client.ReadLine() // greeting

	client.PrintfLine("POST")
	resp, err := client.ReadLine()
	if err != nil {
		t.Fatalf("reading POST invite: %v", err)
	}
	if !strings.HasPrefix(resp, "340 ") {
		t.Fatalf("unexpected POST invite: %q", resp)
	}
	dw := client.DotWriter()
	dw.Write([]byte("Newsgroups: g.test\r\nSubject: hi\r\n\r\nbody\r\n"))
	dw.Close()

	final, err := client.ReadLine()
	if err != nil {
		t.Fatalf("reading POST result: %v", err)
	}
	if !strings.HasPrefix(final, "240 ") {
		t.Fatalf("unexpected POST result: %q", final)
	}
	if len(backend.posted) != 1 {
		t.Fatalf("expected backend.Post to be called once, got %d", len(backend.posted))
	}
}

func TestEmptyRequestFloodClosesSession(t *testing.T) {
	backend := &fakeBackend{commands: []string{"group"}}
	client, _, done := newTestPair(t, backend)
	client.ReadLine() // greeting

	for i := 0; i <= MaxEmptyRequests+1; i++ {
		client.PrintfLine("")
		client.ReadLine()
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected session to close after empty-request flood")
	}
}
