package supervisor

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-while/go-newsgate/internal/bp7"
	"github.com/go-while/go-newsgate/internal/config"
	"github.com/go-while/go-newsgate/internal/dtnd"
)

func testConfig(t *testing.T, dbPath, host string, port int) *config.Config {
	t.Helper()
	return &config.Config{
		Backend: config.BackendConfig{DBURL: dbPath},
		DTND: config.DTNDConfig{
			Host:     host,
			Port:     port,
			NodeID:   "dtn://n1/",
			WSPath:   "/ws",
			RESTPath: "",
		},
		Usenet: config.UsenetConfig{
			Email:      "alice@example.org",
			Newsgroups: []string{"g.test"},
		},
	}
}

func TestNewOpensStoreAndReconcilesGroups(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, filepath.Join(dir, "test.db"), "127.0.0.1", 0)
	sup, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sup.Store().Close()

	names, err := sup.Store().GroupNames(context.Background())
	if err != nil {
		t.Fatalf("GroupNames: %v", err)
	}
	if len(names) != 1 || names[0] != "g.test" {
		t.Fatalf("expected [g.test], got %v", names)
	}
	if sup.Backend() == nil {
		t.Fatal("expected a non-nil Backend")
	}
}

func TestStreamHandleFnReflectsAtomicValue(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, filepath.Join(dir, "test.db"), "127.0.0.1", 0)
	sup, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sup.Store().Close()

	if _, ok := sup.streamHandleFn(); ok {
		t.Fatal("expected no stream handle before any connection")
	}
}

func TestAdaptFrameStatusAndAck(t *testing.T) {
	status := adaptFrame(dtnd.Frame{Kind: dtnd.KindStatus, Status: "400 bad"})
	if !status.IsText || status.Text != "400 bad" {
		t.Fatalf("unexpected status frame adaptation: %+v", status)
	}

	ack := adaptFrame(dtnd.Frame{Kind: dtnd.KindAck, Ack: bp7.InboundAck{BundleID: "x"}})
	if ack.IsText || ack.Ack.BundleID != "x" {
		t.Fatalf("unexpected ack frame adaptation: %+v", ack)
	}
}

// fakeDTND implements just enough of DTND's REST surface for
// registerEndpoints and the Ingestion Engine to exercise a full cycle.
// The returned slice is appended to as /register calls arrive.
func fakeDTND(t *testing.T, bundleID string, payload []byte) (*httptest.Server, *[]string) {
	t.Helper()
	registered := &[]string{}
	mux := http.NewServeMux()
	mux.HandleFunc("/status/nodeid", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"node_id": "dtn://n1/"})
	})
	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		*registered = append(*registered, r.URL.Query().Get("endpoint"))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/bundle", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]string{bundleID})
	})
	mux.HandleFunc("/download", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"src":             "dtn://n2/mail/example.org/bob",
			"dst":             "dtn://g.test/~news",
			"timestamp":       1700000000,
			"sequence_number": 1,
			"data":            payload,
		})
	})
	return httptest.NewServer(mux), registered
}

func TestRegisterEndpointsAndIngestionEndToEnd(t *testing.T) {
	payload, err := bp7.EncodePayload("hi", "body line", "", false)
	if err != nil {
		t.Fatalf("EncodePayload: %v", err)
	}
	bundleID := "dtn://n2/mail/example.org/bob-1700000000-7"
	srv, registered := fakeDTND(t, bundleID, payload)
	defer srv.Close()

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("splitting host/port: %v", err)
	}
	port := mustAtoi(t, portStr)

	dir := t.TempDir()
	cfg := testConfig(t, filepath.Join(dir, "test.db"), host, port)
	sup, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sup.Store().Close()

	control := dtnd.NewControlClient(cfg.DTND.Host, cfg.DTND.Port, cfg.DTND.RESTPath)
	backoff := dtnd.Backoff{InitialWait: time.Millisecond, MaxRetries: 3, ReconnectionPause: time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sup.registerEndpoints(ctx, control, backoff); err != nil {
		t.Fatalf("registerEndpoints: %v", err)
	}
	wantEndpoints := []string{"dtn://g.test/~news", "dtn://n1/mail/example.org/alice"}
	if len(*registered) != len(wantEndpoints) {
		t.Fatalf("expected %v registered, got %v", wantEndpoints, *registered)
	}
	for i, ep := range wantEndpoints {
		if (*registered)[i] != ep {
			t.Fatalf("registered[%d] = %q, want %q", i, (*registered)[i], ep)
		}
	}

	n, err := sup.runIngestion(context.Background(), control)
	if err != nil {
		t.Fatalf("runIngestion: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 article ingested, got %d", n)
	}

	known, err := sup.Store().KnownMessageIDs(context.Background())
	if err != nil {
		t.Fatalf("KnownMessageIDs: %v", err)
	}
	wantID := "<1700000000-7@n2-mail-example.org-bob.dtn>"
	if !known[wantID] {
		t.Fatalf("expected %q to be known, got %v", wantID, known)
	}
}

func mustAtoi(t *testing.T, s string) int {
	t.Helper()
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			t.Fatalf("not a port number: %q", s)
		}
		n = n*10 + int(r-'0')
	}
	return n
}
