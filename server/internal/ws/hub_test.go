package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/queuelab/queuelab/pkg/types"
	"github.com/queuelab/queuelab/server/internal/alerts"
	"github.com/queuelab/queuelab/server/internal/api"
	"github.com/queuelab/queuelab/server/internal/config"
	"github.com/queuelab/queuelab/server/internal/metrics"
	"github.com/queuelab/queuelab/server/internal/store"
	wsHub "github.com/queuelab/queuelab/server/internal/ws"
)

const testInterval = 20 * time.Millisecond

// --- helpers ----------------------------------------------------------------

func newStore(observations ...types.Observation) *store.Store {
	st := store.New(5 * time.Minute)
	for _, o := range observations {
		st.Put(o)
	}
	return st
}

func obs(id, state string) types.Observation {
	return types.Observation{SourceID: id, State: state, Servers: 2, Rho: 0.5}
}

// snapshotOf builds the same snapshot function the server wires into the hub.
func snapshotOf(t *testing.T, st *store.Store) wsHub.SnapshotFunc {
	t.Helper()
	al, err := alerts.New(config.AlertsConfig{})
	if err != nil {
		t.Fatalf("alerts.New: %v", err)
	}
	h := api.New(api.Options{Store: st, Alerts: al, Metrics: metrics.New(nil)})
	return h.Snapshot
}

// startHub starts a test HTTP server with the hub as its handler.
// The hub's Run loop is started with a cancellable context.
// Returns the ws:// URL, the hub, and a cleanup function.
func startHub(t *testing.T, st *store.Store) (wsURL string, hub *wsHub.Hub, cancel func()) {
	t.Helper()

	hub = wsHub.New(snapshotOf(t, st), testInterval)
	ctx, cancelFn := context.WithCancel(context.Background())

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	go hub.Run(ctx)

	t.Cleanup(func() {
		cancelFn()
		srv.Close()
	})

	wsURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	return wsURL, hub, cancelFn
}

// dial connects a WebSocket client to wsURL and returns the connection.
func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readMessage reads one text message from conn with a short deadline.
func readMessage(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	return msg
}

// --- tests ------------------------------------------------------------------

func TestHub_Connect_ReceivesImmediateSnapshot(t *testing.T) {
	st := newStore(obs("checkout", types.StateStable))
	wsURL, _, _ := startHub(t, st)

	conn := dial(t, wsURL)
	msg := readMessage(t, conn)

	var m map[string]interface{}
	if err := json.Unmarshal(msg, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["event"] != "snapshot" {
		t.Errorf("event: got %v, want snapshot", m["event"])
	}
	data, ok := m["data"].(map[string]interface{})
	if !ok {
		t.Fatal("data: missing or wrong type")
	}
	if data["generated_at"] == nil || data["generated_at"] == "" {
		t.Error("generated_at: missing")
	}
}

func TestHub_MessageContainsSources(t *testing.T) {
	st := newStore(obs("checkout", types.StateStable), obs("search", types.StateSaturating))
	wsURL, _, _ := startHub(t, st)

	conn := dial(t, wsURL)
	msg := readMessage(t, conn)

	var m map[string]interface{}
	json.Unmarshal(msg, &m) //nolint:errcheck
	data := m["data"].(map[string]interface{})
	sources, ok := data["sources"].([]interface{})
	if !ok {
		t.Fatal("sources: missing or wrong type")
	}
	if len(sources) != 2 {
		t.Errorf("sources: got %d, want 2", len(sources))
	}
	health := data["health"].(map[string]interface{})
	if health["state"] != types.StateSaturating {
		t.Errorf("health.state: got %v, want saturating", health["state"])
	}
}

func TestHub_EmptyStore_EmptySources(t *testing.T) {
	wsURL, _, _ := startHub(t, newStore())
	conn := dial(t, wsURL)
	msg := readMessage(t, conn)

	var m map[string]interface{}
	json.Unmarshal(msg, &m) //nolint:errcheck
	data := m["data"].(map[string]interface{})
	sources := data["sources"].([]interface{})
	if len(sources) != 0 {
		t.Errorf("sources: got %d, want 0", len(sources))
	}
}

func TestHub_CountClients_SingleClient(t *testing.T) {
	wsURL, hub, _ := startHub(t, newStore())

	conn := dial(t, wsURL)
	readMessage(t, conn) // consume initial message

	// Give the hub a moment to register the client.
	time.Sleep(10 * time.Millisecond)
	if n := hub.Count(); n != 1 {
		t.Errorf("Count: got %d, want 1", n)
	}
}

func TestHub_CountClients_MultipleClients(t *testing.T) {
	wsURL, hub, _ := startHub(t, newStore())

	for i := 0; i < 3; i++ {
		conn := dial(t, wsURL)
		readMessage(t, conn) // consume initial message
	}

	time.Sleep(10 * time.Millisecond)
	if n := hub.Count(); n != 3 {
		t.Errorf("Count: got %d, want 3", n)
	}
}

func TestHub_CountClients_DecreasesOnDisconnect(t *testing.T) {
	wsURL, hub, _ := startHub(t, newStore())

	conn := dial(t, wsURL)
	readMessage(t, conn)
	time.Sleep(10 * time.Millisecond)

	if n := hub.Count(); n != 1 {
		t.Errorf("Count before disconnect: got %d, want 1", n)
	}

	conn.Close()
	time.Sleep(50 * time.Millisecond) // let readPump detect the close

	if n := hub.Count(); n != 0 {
		t.Errorf("Count after disconnect: got %d, want 0", n)
	}
}

func TestHub_ReceivesBroadcastOnTick(t *testing.T) {
	st := newStore()
	wsURL, _, _ := startHub(t, st)

	conn := dial(t, wsURL)
	readMessage(t, conn) // consume immediate snapshot (empty store)

	// Add a source after connect.
	st.Put(obs("new-source", types.StateStable))

	// A later tick broadcasts the new source. Ticks that raced the Put may
	// still carry the empty store.
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn.SetReadDeadline(deadline)
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for tick broadcast: %v", err)
		}

		var m map[string]interface{}
		json.Unmarshal(msg, &m) //nolint:errcheck
		data := m["data"].(map[string]interface{})
		sources := data["sources"].([]interface{})
		if len(sources) == 0 {
			continue
		}
		p := sources[0].(map[string]interface{})
		if p["source_id"] != "new-source" {
			t.Errorf("source_id: got %v, want new-source", p["source_id"])
		}
		return
	}
}

func TestHub_AllClientsReceiveBroadcast(t *testing.T) {
	wsURL, _, _ := startHub(t, newStore(obs("src", types.StateStable)))

	conns := make([]*websocket.Conn, 3)
	for i := 0; i < 3; i++ {
		conns[i] = dial(t, wsURL)
	}

	// All three should receive the initial snapshot.
	for i, conn := range conns {
		msg := readMessage(t, conn)
		var m map[string]interface{}
		if err := json.Unmarshal(msg, &m); err != nil {
			t.Errorf("client %d: unmarshal: %v", i, err)
			continue
		}
		if m["event"] != "snapshot" {
			t.Errorf("client %d: event: got %v, want snapshot", i, m["event"])
		}
	}
}

func TestHub_CancelContextClosesConnections(t *testing.T) {
	wsURL, hub, cancel := startHub(t, newStore())

	conn := dial(t, wsURL)
	readMessage(t, conn)
	time.Sleep(10 * time.Millisecond)

	cancel() // signal shutdown

	// After cancel, hub should close all clients.
	time.Sleep(50 * time.Millisecond)
	if n := hub.Count(); n != 0 {
		t.Errorf("Count after cancel: got %d, want 0", n)
	}
}

func TestHub_NonWebSocketRequest_Returns400(t *testing.T) {
	hub := wsHub.New(snapshotOf(t, newStore()), testInterval)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	defer srv.Close()

	// Plain HTTP GET without WebSocket upgrade headers is a 400.
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}
