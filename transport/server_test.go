package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"upscaler/worker"
)

// captureSubmitter records submitted runs and can reject them.
type captureSubmitter struct {
	mu     sync.Mutex
	reqs   []worker.RunRequest
	reject error
}

func (s *captureSubmitter) Submit(req worker.RunRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject != nil {
		return s.reject
	}
	s.reqs = append(s.reqs, req)
	return nil
}

func (s *captureSubmitter) submitted() []worker.RunRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]worker.RunRequest(nil), s.reqs...)
}

func newTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	if cfg.Submitter == nil {
		cfg.Submitter = &captureSubmitter{}
	}
	if cfg.Router == nil {
		cfg.Router = NewRunRouter()
	}
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.handleWS)
	mux.HandleFunc("/healthz", srv.handleHealth)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Close(ctx)
	})
	return srv, ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("invalid frame: %v", err)
	}
	return decoded
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestRunRequestReachesSubmitter(t *testing.T) {
	submitter := &captureSubmitter{}
	_, ts := newTestServer(t, Config{Submitter: submitter})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	msg := `{"type":"run","id":5,"backend":"cpu","modelId":"m","precision":"full","image":{"width":1,"height":1,"data":"AAAAAA=="}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(submitter.submitted()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("run request never reached the submitter")
		}
		time.Sleep(10 * time.Millisecond)
	}
	req := submitter.submitted()[0]
	if req.RunID != 5 || req.ModelID != "m" {
		t.Errorf("submitted %+v", req)
	}
}

func TestOutboundRoutedBackToClient(t *testing.T) {
	submitter := &captureSubmitter{}
	router := NewRunRouter()
	_, ts := newTestServer(t, Config{Submitter: submitter, Router: router})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	msg := `{"type":"run","id":8,"backend":"cpu","modelId":"m","precision":"full","image":{"width":1,"height":1,"data":"AAAAAA=="}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for len(submitter.submitted()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("request not submitted")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Emulate the worker emitting for the claimed run id.
	router.Dispatch(worker.Progress{RunID: 8, Percent: 50})
	decoded := readMessage(t, conn)
	if decoded["type"] != worker.TypeProgress || decoded["id"] != float64(8) {
		t.Errorf("frame = %v", decoded)
	}
}

func TestMalformedRequestAnsweredWithError(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatal(err)
	}
	decoded := readMessage(t, conn)
	if decoded["type"] != worker.TypeError {
		t.Errorf("frame type = %v, want error", decoded["type"])
	}
}

func TestSubmitRejectionAnsweredWithError(t *testing.T) {
	submitter := &captureSubmitter{reject: worker.ErrQueueFull}
	_, ts := newTestServer(t, Config{Submitter: submitter})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	msg := `{"type":"run","id":4,"backend":"cpu","modelId":"m","precision":"full","image":{"width":1,"height":1,"data":"AAAAAA=="}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatal(err)
	}
	decoded := readMessage(t, conn)
	if decoded["type"] != worker.TypeError || decoded["id"] != float64(4) {
		t.Errorf("frame = %v", decoded)
	}
}

func TestTokenAuth(t *testing.T) {
	hash, err := HashToken("open-sesame")
	if err != nil {
		t.Fatal(err)
	}
	_, ts := newTestServer(t, Config{TokenHash: hash})

	// Wrong token: rejected before the upgrade.
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts)+"?token=wrong", nil)
	if err == nil {
		t.Fatal("dial succeeded with a bad token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 response, got %v", resp)
	}

	// Correct token via query parameter.
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts)+"?token=open-sesame", nil)
	if err != nil {
		t.Fatalf("dial with valid token failed: %v", err)
	}
	conn.Close()

	// Correct token via Authorization header.
	header := http.Header{}
	header.Set("Authorization", "Bearer open-sesame")
	conn, _, err = websocket.DefaultDialer.Dial(wsURL(ts), header)
	if err != nil {
		t.Fatalf("dial with bearer header failed: %v", err)
	}
	conn.Close()
}
