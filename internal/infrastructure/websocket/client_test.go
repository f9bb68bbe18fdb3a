package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"bidsession/internal/domain"
	"bidsession/pkg/logger"

	"github.com/gorilla/mux"
	gws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

type fakeBackend struct {
	t        *testing.T
	upgrader gws.Upgrader

	mutex      sync.Mutex
	handshakes int
	tokens     []string
	conns      []*gws.Conn
	reject     bool

	received chan domain.Envelope
}

func newFakeBackend(t *testing.T) (*fakeBackend, *httptest.Server) {
	backend := &fakeBackend{
		t:        t,
		received: make(chan domain.Envelope, 16),
	}
	router := mux.NewRouter()
	router.HandleFunc("/socket", backend.handleSocket)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	t.Cleanup(backend.closeAll)
	return backend, server
}

func (b *fakeBackend) handleSocket(w http.ResponseWriter, r *http.Request) {
	b.mutex.Lock()
	if b.reject {
		b.mutex.Unlock()
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	b.handshakes++
	b.tokens = append(b.tokens, r.URL.Query().Get("token"))
	b.mutex.Unlock()

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	b.mutex.Lock()
	b.conns = append(b.conns, conn)
	b.mutex.Unlock()

	for {
		var envelope domain.Envelope
		if err := conn.ReadJSON(&envelope); err != nil {
			return
		}
		b.received <- envelope
	}
}

func (b *fakeBackend) push(event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.t.Fatalf("push marshal: %v", err)
	}
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if len(b.conns) == 0 {
		b.t.Fatal("push with no connection")
	}
	conn := b.conns[len(b.conns)-1]
	if err := conn.WriteJSON(domain.Envelope{Event: event, Data: data}); err != nil {
		b.t.Fatalf("push write: %v", err)
	}
}

func (b *fakeBackend) dropConnections() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	for _, conn := range b.conns {
		conn.Close()
	}
	b.conns = nil
}

func (b *fakeBackend) closeAll() { b.dropConnections() }

func (b *fakeBackend) setReject(reject bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.reject = reject
}

func (b *fakeBackend) handshakeCount() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.handshakes
}

type recordSink struct {
	frames chan domain.Envelope
}

func newRecordSink() *recordSink {
	return &recordSink{frames: make(chan domain.Envelope, 16)}
}

func (s *recordSink) HandleMessage(event string, data json.RawMessage) {
	s.frames <- domain.Envelope{Event: event, Data: data}
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/socket"
}

func testConfig(server *httptest.Server) Config {
	return Config{
		URL:               wsURL(server),
		ReconnectAttempts: 5,
		ReconnectDelay:    10 * time.Millisecond,
		HandshakeTimeout:  time.Second,
	}
}

func waitFor(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectIsIdempotent(t *testing.T) {
	backend, server := newFakeBackend(t)
	client := NewClient(testConfig(server), newRecordSink(), clockwork.NewRealClock(), logger.NewNop())
	defer client.Disconnect()

	if err := client.Connect("tok-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := client.Connect("tok-1"); err != nil {
		t.Fatalf("second Connect: %v", err)
	}

	waitFor(t, "handshake", func() bool { return backend.handshakeCount() >= 1 })
	if got := backend.handshakeCount(); got != 1 {
		t.Errorf("expected exactly one handshake, got %d", got)
	}
	if !client.IsConnected() {
		t.Error("expected connected status")
	}
}

func TestTokenIsSentAsQueryParameter(t *testing.T) {
	backend, server := newFakeBackend(t)
	client := NewClient(testConfig(server), newRecordSink(), clockwork.NewRealClock(), logger.NewNop())
	defer client.Disconnect()

	if err := client.Connect("secret-token"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	if len(backend.tokens) != 1 || backend.tokens[0] != "secret-token" {
		t.Errorf("expected token query parameter, got %v", backend.tokens)
	}
}

func TestEmitWhileDisconnectedIsSilent(t *testing.T) {
	_, server := newFakeBackend(t)
	client := NewClient(testConfig(server), newRecordSink(), clockwork.NewRealClock(), logger.NewNop())

	if err := client.Emit(domain.EmitPlaceBid, domain.PlaceBidRequest{CarID: "C1"}); err != nil {
		t.Errorf("emit while disconnected must not fail, got %v", err)
	}
}

func TestEmitReachesServer(t *testing.T) {
	backend, server := newFakeBackend(t)
	client := NewClient(testConfig(server), newRecordSink(), clockwork.NewRealClock(), logger.NewNop())
	defer client.Disconnect()

	if err := client.Connect("tok-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	request := domain.PlaceBidRequest{CarID: "C1", Token: "tok-1", BidAmount: 120}
	if err := client.Emit(domain.EmitPlaceBid, request); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	select {
	case envelope := <-backend.received:
		if envelope.Event != domain.EmitPlaceBid {
			t.Errorf("event = %q", envelope.Event)
		}
		var got domain.PlaceBidRequest
		if err := json.Unmarshal(envelope.Data, &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got != request {
			t.Errorf("got %+v, want %+v", got, request)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the emit")
	}
}

func TestFramesAreDeliveredInOrder(t *testing.T) {
	backend, server := newFakeBackend(t)
	sink := newRecordSink()
	client := NewClient(testConfig(server), sink, clockwork.NewRealClock(), logger.NewNop())
	defer client.Disconnect()

	if err := client.Connect("tok-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	amounts := []float64{110, 120, 130}
	for _, amount := range amounts {
		value := amount
		backend.push(domain.EventBidPlaced, domain.EventPayload{IsOk: true, BidAmount: &value})
	}

	for _, want := range amounts {
		select {
		case frame := <-sink.frames:
			var payload domain.EventPayload
			if err := json.Unmarshal(frame.Data, &payload); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if payload.BidAmount == nil || *payload.BidAmount != want {
				t.Errorf("out of order: got %v, want %v", payload.BidAmount, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("frame never arrived")
		}
	}
}

func TestReconnectAfterConnectionDrop(t *testing.T) {
	backend, server := newFakeBackend(t)
	client := NewClient(testConfig(server), newRecordSink(), clockwork.NewRealClock(), logger.NewNop())
	defer client.Disconnect()

	if err := client.Connect("tok-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	backend.dropConnections()

	waitFor(t, "reconnect", func() bool { return backend.handshakeCount() >= 2 })
	waitFor(t, "connected status", client.IsConnected)
}

func TestReconnectGivesUpAfterBoundedAttempts(t *testing.T) {
	backend, server := newFakeBackend(t)
	cfg := testConfig(server)
	cfg.ReconnectAttempts = 2
	client := NewClient(cfg, newRecordSink(), clockwork.NewRealClock(), logger.NewNop())
	defer client.Disconnect()

	if err := client.Connect("tok-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	backend.setReject(true)
	backend.dropConnections()

	// Both attempts fail; the client must settle on Disconnected.
	waitFor(t, "disconnected after exhaustion", func() bool {
		return client.Status() == domain.Disconnected
	})
	time.Sleep(100 * time.Millisecond)
	if client.IsConnected() {
		t.Fatal("client reconnected past the attempt bound")
	}
	if got := backend.handshakeCount(); got != 1 {
		t.Errorf("handshakes = %d, want 1", got)
	}

	// An explicit Connect after exhaustion works again.
	backend.setReject(false)
	if err := client.Connect("tok-1"); err != nil {
		t.Fatalf("Connect after exhaustion: %v", err)
	}
	waitFor(t, "second handshake", func() bool { return backend.handshakeCount() == 2 })
}

func TestDisconnectStopsReconnecting(t *testing.T) {
	backend, server := newFakeBackend(t)
	client := NewClient(testConfig(server), newRecordSink(), clockwork.NewRealClock(), logger.NewNop())

	if err := client.Connect("tok-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	client.Disconnect()
	client.Disconnect() // idempotent

	time.Sleep(100 * time.Millisecond)
	if got := backend.handshakeCount(); got != 1 {
		t.Errorf("handshakes = %d, want 1 (no reconnect after Disconnect)", got)
	}
	if client.IsConnected() {
		t.Error("still connected after Disconnect")
	}
}
