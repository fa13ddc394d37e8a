package dtnd

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/go-while/go-newsgate/internal/bp7"
)

// FrameKind distinguishes the two shapes of inbound frame.
type FrameKind int

const (
	KindStatus FrameKind = iota
	KindAck
)

// Frame is one inbound message from the streaming WebSocket: either a text
// status line or a decoded acknowledgement.
type Frame struct {
	Kind   FrameKind
	Status string
	Ack    bp7.InboundAck
}

// StreamClient is the full-duplex WebSocket client to DTND.
// A single StreamClient instance is valid only for the lifetime of one
// underlying connection; the Reconnector discards it and builds a new one
// on every (re)connect.
type StreamClient struct {
	conn   *websocket.Conn
	frames chan Frame
	done   chan struct{}
}

// DialStreamClient connects to DTND's WebSocket endpoint, sends the /data
// directive to select binary framing, then subscribes to every group
// endpoint. The returned StreamClient's Frames channel
// is fed by a background goroutine until the connection drops or ctx is
// canceled.
func DialStreamClient(ctx context.Context, host string, port int, wsPath string, groupEndpoints []string) (*StreamClient, error) {
	u := url.URL{Scheme: "ws", Host: fmt.Sprintf("%s:%d", host, port), Path: wsPath}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", ErrTransient, u.String(), err)
	}

	sc := &StreamClient{
		conn:   conn,
		frames: make(chan Frame, 64),
		done:   make(chan struct{}),
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("/data")); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: sending /data directive: %v", ErrTransient, err)
	}
	for _, ep := range groupEndpoints {
		msg := "/subscribe " + ep
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: subscribing to %s: %v", ErrTransient, ep, err)
		}
	}

	go sc.readLoop()
	return sc, nil
}

// Frames returns the channel of inbound frames, delivered in wire order.
func (sc *StreamClient) Frames() <-chan Frame {
	return sc.frames
}

// Done is closed when the read loop exits (connection lost or closed).
func (sc *StreamClient) Done() <-chan struct{} {
	return sc.done
}

func (sc *StreamClient) readLoop() {
	defer close(sc.done)
	defer close(sc.frames)
	for {
		kind, data, err := sc.conn.ReadMessage()
		if err != nil {
			log.Printf("[DTND:stream] read loop ending: %v", err)
			return
		}
		switch kind {
		case websocket.TextMessage:
			status := strings.TrimSpace(string(data))
			switch {
			case strings.HasPrefix(status, "4"):
				log.Printf("[DTND:stream] client error: %s", status)
			case strings.HasPrefix(status, "5"):
				log.Printf("[DTND:stream] server error: %s", status)
			}
			sc.frames <- Frame{Kind: KindStatus, Status: status}
		case websocket.BinaryMessage:
			ack, err := bp7.DecodeAck(data)
			if err != nil {
				log.Printf("[DTND:stream] dropping malformed ack frame: %v", err)
				continue
			}
			sc.frames <- Frame{Kind: KindAck, Ack: ack}
		}
	}
}

// Send transmits an outbound CBOR frame.
func (sc *StreamClient) Send(frame []byte) error {
	sc.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
	if err := sc.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("%w: sending frame: %v", ErrTransient, err)
	}
	return nil
}

// Close closes the underlying WebSocket connection.
func (sc *StreamClient) Close() error {
	return sc.conn.Close()
}
