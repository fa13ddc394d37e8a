// Package bp7 encodes and decodes the CBOR payloads and WebSocket frames
// exchanged with DTND. It has no knowledge of HTTP or
// WebSockets itself; internal/dtnd calls into it to turn an Article/
// SpoolEntry into wire bytes and back.
package bp7

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// ArticlePayload is the CBOR-encoded body of a bundle's payload block: the
// article content addressed by a NNTP message, independent of its BP7
// envelope (source/destination/bundle-id live one level up). Headers such
// as from, newsgroups, date, message-id, reply_to, organization and
// user_agent are never carried on the wire; they are reconstructed from
// BP7 envelope metadata (src/dst/ts/bid) at ingestion/acknowledgement time.
type ArticlePayload struct {
	Subject    string `cbor:"subject"`
	Body       []byte `cbor:"body"`
	References string `cbor:"references"`
	Compressed bool   `cbor:"compressed"`
}

// EncodePayload builds an ArticlePayload, zlib-compressing body when
// compress is requested, and returns its CBOR encoding.
func EncodePayload(subject, body, references string, compress bool) ([]byte, error) {
	p := ArticlePayload{
		Subject:    subject,
		References: references,
	}
	if compress {
		compressed, err := compressBody(body)
		if err != nil {
			return nil, fmt.Errorf("bp7: compressing body: %w", err)
		}
		p.Body = compressed
		p.Compressed = true
	} else {
		p.Body = []byte(body)
	}
	enc, err := cbor.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("bp7: encoding payload: %w", err)
	}
	return enc, nil
}

// DecodePayload reverses EncodePayload, transparently decompressing body
// when the Compressed flag is set.
func DecodePayload(data []byte) (ArticlePayload, error) {
	var p ArticlePayload
	if err := cbor.Unmarshal(data, &p); err != nil {
		return ArticlePayload{}, fmt.Errorf("bp7: decoding payload: %w", err)
	}
	if p.Compressed {
		plain, err := decompressBody(p.Body)
		if err != nil {
			return ArticlePayload{}, fmt.Errorf("bp7: decompressing body: %w", err)
		}
		p.Body = plain
		p.Compressed = false
	}
	return p, nil
}

func compressBody(body string) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write([]byte(body)); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressBody(compressed []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// OutboundFrame is the CBOR document sent to DTND's /data endpoint: a
// bundle creation request addressed by source/destination BP7 URIs.
type OutboundFrame struct {
	Source               string `cbor:"src"`
	Destination          string `cbor:"dst"`
	DeliveryNotification bool   `cbor:"delivery_notification"`
	Lifetime             int64  `cbor:"lifetime"`
	Data                 []byte `cbor:"data"`
}

// EncodeFrame wraps an already-CBOR-encoded payload in the outbound bundle
// envelope DTND expects on /data.
func EncodeFrame(source, destination string, deliveryNotification bool, lifetimeMS int64, payload []byte) ([]byte, error) {
	f := OutboundFrame{
		Source:               source,
		Destination:          destination,
		DeliveryNotification: deliveryNotification,
		Lifetime:             lifetimeMS,
		Data:                 payload,
	}
	enc, err := cbor.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("bp7: encoding frame: %w", err)
	}
	return enc, nil
}

// InboundAck is a bundle delivery notification received on the streaming
// WebSocket as a binary frame: src/dst/bundle-id plus the payload bytes.
type InboundAck struct {
	Source      string `cbor:"src"`
	Destination string `cbor:"dst"`
	BundleID    string `cbor:"bid"`
	Data        []byte `cbor:"data"`
}

// DecodeAck parses a binary WebSocket frame into an InboundAck.
func DecodeAck(raw []byte) (InboundAck, error) {
	var a InboundAck
	if err := cbor.Unmarshal(raw, &a); err != nil {
		return InboundAck{}, fmt.Errorf("bp7: decoding ack frame: %w", err)
	}
	return a, nil
}
