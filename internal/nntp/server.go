// Package nntp implements the NNTP (RFC 3977) Session Handler: it drives a
// Backend over a plain TCP text protocol, stripped of multi-tenant auth,
// TLS peering and upstream fetch — this gateway serves one local group set
// to one set of readers — and built against the Backend interface rather
// than a concrete database.
package nntp

import (
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

const (
	// NNTP protocol constants.
	DOT  = "."
	CR   = "\r"
	LF   = "\n"
	CRLF = CR + LF

	// MaxEmptyRequests is how many consecutive blank command lines a
	// session tolerates before it is closed.
	MaxEmptyRequests = 20
)

// Config controls the listener and per-session behavior.
type Config struct {
	Addr        string // e.g. ":1190"
	MaxConns    int
	IdleTimeout time.Duration
}

// NNTPServer is the TCP front for a Backend.
type NNTPServer struct {
	Config   Config
	Backend  Backend
	Listener net.Listener
	Stats    *ServerStats

	shutdown chan struct{}
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
}

// NewNNTPServer builds an NNTPServer bound to backend, coordinating its
// goroutines on mainWG so the caller can wait for clean shutdown.
func NewNNTPServer(backend Backend, cfg Config, mainWG *sync.WaitGroup) (*NNTPServer, error) {
	if backend == nil {
		return nil, fmt.Errorf("nntp: backend cannot be nil")
	}
	if mainWG == nil {
		return nil, fmt.Errorf("nntp: main waitgroup cannot be nil")
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 500
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 12 * time.Hour // long per-read deadline tolerates idle newsreaders
	}
	return &NNTPServer{
		Config:   cfg,
		Backend:  backend,
		Stats:    NewServerStats(),
		shutdown: make(chan struct{}),
		wg:       mainWG,
	}, nil
}

// Start begins listening and accepting connections.
func (s *NNTPServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("nntp: server already running")
	}

	listener, err := net.Listen("tcp", s.Config.Addr)
	if err != nil {
		return fmt.Errorf("nntp: listening on %s: %w", s.Config.Addr, err)
	}
	s.Listener = listener
	log.Printf("[NNTP] listening on %s", s.Config.Addr)

	s.wg.Add(1)
	go s.serve(listener)

	s.running = true
	return nil
}

func (s *NNTPServer) serve(listener net.Listener) {
	defer s.wg.Done()
	for {
		select {
		case <-s.shutdown:
			return
		default:
		}
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				log.Printf("[NNTP] accept error: %v", err)
				continue
			}
		}
		if s.Stats.GetActiveConnections() >= s.Config.MaxConns {
			log.Printf("[NNTP] connection limit reached, rejecting %s", conn.RemoteAddr())
			conn.Close()
			continue
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *NNTPServer) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	s.Stats.ConnectionStarted()
	defer s.Stats.ConnectionEnded()

	session := newClientConn(conn, s)
	if err := session.Handle(); err != nil {
		log.Printf("[NNTP] session %s from %s: %v", session.sessionID(), conn.RemoteAddr(), err)
	}
}

// Stop closes the listener and signals every session loop to exit on its
// next read deadline.
func (s *NNTPServer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	log.Println("[NNTP] shutting down")
	close(s.shutdown)
	if s.Listener != nil {
		s.Listener.Close()
	}
	s.running = false
	return nil
}

// IsRunning reports whether Start has been called without a matching Stop.
func (s *NNTPServer) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
