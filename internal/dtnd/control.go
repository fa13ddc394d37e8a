package dtnd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-while/go-newsgate/internal/bp7"
)

// ControlClient is the request/response REST client to DTND.
type ControlClient struct {
	baseURL string
	http    *http.Client
}

// NewControlClient builds a ControlClient against DTND's REST endpoint at
// host:port/restPath.
func NewControlClient(host string, port int, restPath string) *ControlClient {
	return &ControlClient{
		baseURL: fmt.Sprintf("http://%s:%d%s", host, port, restPath),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Ping verifies DTND's REST endpoint answers, without side effects. Used by
// the Reconnector as the "connect" check for the Control Client.
func (c *ControlClient) Ping(ctx context.Context) error {
	_, err := c.NodeID(ctx)
	return err
}

// NodeID returns this DTND instance's node-id, of the form "dtn://<nodeid>/"
// with the trailing slash preserved.
func (c *ControlClient) NodeID(ctx context.Context) (string, error) {
	var out struct {
		NodeID string `json:"node_id"`
	}
	if err := c.getJSON(ctx, "/status/nodeid", &out); err != nil {
		return "", err
	}
	return out.NodeID, nil
}

// Register registers an endpoint with DTND so bundles addressed to it are
// accepted and stored.
func (c *ControlClient) Register(ctx context.Context, endpoint string) error {
	_, err := c.post(ctx, "/register", url.Values{"endpoint": {endpoint}})
	if err != nil {
		return fmt.Errorf("%w: registering %s: %v", ErrTransient, endpoint, err)
	}
	return nil
}

// ListBundles returns the bundle-ids at DTND whose address contains substr
// (typically a group or sender name).
func (c *ControlClient) ListBundles(ctx context.Context, substr string) ([]string, error) {
	var ids []string
	q := url.Values{"addr": {substr}}
	if err := c.getJSON(ctx, "/bundle?"+q.Encode(), &ids); err != nil {
		return nil, fmt.Errorf("%w: listing bundles for %s: %v", ErrTransient, substr, err)
	}
	return ids, nil
}

// Bundle is a downloaded BP7 bundle.
type Bundle struct {
	Source         string
	Destination    string
	Timestamp      int64
	SequenceNumber int64
	Payload        bp7.ArticlePayload
}

// Download fetches and decodes a bundle by id.
func (c *ControlClient) Download(ctx context.Context, bundleID string) (Bundle, error) {
	var raw struct {
		Source         string `json:"src"`
		Destination    string `json:"dst"`
		Timestamp      int64  `json:"timestamp"`
		SequenceNumber int64  `json:"sequence_number"`
		Data           []byte `json:"data"`
	}
	q := url.Values{"bid": {bundleID}}
	if err := c.getJSON(ctx, "/download?"+q.Encode(), &raw); err != nil {
		return Bundle{}, fmt.Errorf("%w: downloading %s: %v", ErrTransient, bundleID, err)
	}
	payload, err := bp7.DecodePayload(raw.Data)
	if err != nil {
		return Bundle{}, fmt.Errorf("%w: decoding payload for %s: %v", ErrPermanent, bundleID, err)
	}
	return Bundle{
		Source:         raw.Source,
		Destination:    raw.Destination,
		Timestamp:      raw.Timestamp,
		SequenceNumber: raw.SequenceNumber,
		Payload:        payload,
	}, nil
}

func (c *ControlClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %s returned %d", ErrTransient, path, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: %s returned %d", ErrPermanent, path, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading %s response: %v", ErrTransient, path, err)
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decoding %s response: %v", ErrPermanent, path, err)
	}
	return nil
}

func (c *ControlClient) post(ctx context.Context, path string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.URL.RawQuery = form.Encode()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s returned %d", path, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
