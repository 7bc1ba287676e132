package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/arena/internal/arena"
	"github.com/dreamware/arena/internal/proxy"
)

const testMaps = `
maps:
  subway:
    templateWorld: tpl_subway
    waiting: {x: 10, y: 64, z: 10}
`

type recordingTransfer struct {
	mu   sync.Mutex
	sent []string
}

func (t *recordingTransfer) Send(ctx context.Context, clientID, server string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, clientID+"->"+server)
	return nil
}

func newTestServer(t *testing.T) (*server, *httptest.Server, *recordingTransfer) {
	t.Helper()
	root := t.TempDir()
	container := filepath.Join(root, "worlds")
	mapsFile := filepath.Join(root, "maps.yaml")
	require.NoError(t, os.WriteFile(mapsFile, []byte(testMaps), 0o644))

	tpl := filepath.Join(container, "tpl_subway")
	require.NoError(t, os.MkdirAll(tpl, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tpl, "level.dat"), []byte("level"), 0o644))

	cfg := config{
		container: container,
		mapsFile:  mapsFile,
		arena:     arena.DefaultConfig(),
	}
	transfer := &recordingTransfer{}
	srv, err := newServer(cfg, transfer)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.routes())
	t.Cleanup(func() {
		ts.Close()
		srv.close()
	})
	return srv, ts, transfer
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func waitForState(t *testing.T, ts *httptest.Server, want arena.State) arena.Snapshot {
	t.Helper()
	var snap arena.Snapshot
	require.Eventually(t, func() bool {
		if err := proxy.GetJSON(context.Background(), ts.URL+"/state", &snap); err != nil {
			return false
		}
		return snap.State == want && !snap.Busy
	}, 5*time.Second, 20*time.Millisecond)
	return snap
}

func TestHealth(t *testing.T) {
	_, ts, _ := newTestServer(t)
	resp := do(t, http.MethodGet, ts.URL+"/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health healthResponse
	require.NoError(t, proxy.GetJSON(context.Background(), ts.URL+"/health", &health))
	assert.Equal(t, healthResponse{Status: "ok", Proxy: "disabled"}, health)
}

func TestHealthTracksProxy(t *testing.T) {
	var mu sync.Mutex
	down := false
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if down {
			http.Error(w, "proxy down", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer fake.Close()

	srv, ts, _ := newTestServer(t)
	srv.attachProxy(proxy.NewClient(fake.URL), config{serverID: "mm-game", heartbeatInterval: 10 * time.Millisecond})
	go srv.heartbeat.Start(context.Background())

	proxyState := func() string {
		var health healthResponse
		if err := proxy.GetJSON(context.Background(), ts.URL+"/health", &health); err != nil {
			return ""
		}
		return health.Proxy
	}
	assert.Eventually(t, func() bool { return proxyState() == proxy.StatusReachable }, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	down = true
	mu.Unlock()
	assert.Eventually(t, func() bool { return proxyState() == proxy.StatusUnreachable }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "mm-game|default|NONE|IDLE|0|16|0", srv.heartbeat.Health().LastPayload)
}

func TestHandlePrepare(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		body       string
		wantStatus int
	}{
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"bad json", http.MethodPost, "{", http.StatusBadRequest},
		{"missing map", http.MethodPost, `{}`, http.StatusBadRequest},
		{"unknown map", http.MethodPost, `{"map":"nowhere"}`, http.StatusNotFound},
		{"known map", http.MethodPost, `{"map":"SUBWAY"}`, http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ts, _ := newTestServer(t)
			resp := do(t, tt.method, ts.URL+"/prepare", tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestPrepareFlowOverHTTP(t *testing.T) {
	_, ts, _ := newTestServer(t)

	resp := do(t, http.MethodPost, ts.URL+"/prepare", `{"map":"subway"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	snap := waitForState(t, ts, arena.StateWaiting)
	assert.Equal(t, "subway", snap.MapID)
	assert.Equal(t, 100, snap.Progress.Percent)
	assert.Empty(t, snap.LastError)

	resp = do(t, http.MethodPost, ts.URL+"/join/open", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, http.MethodGet, ts.URL+"/status", "")
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "mm-game|default|subway|WAITING|0|16|1\n", string(body))

	resp = do(t, http.MethodPost, ts.URL+"/reset", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	waitForState(t, ts, arena.StateWaiting)
}

func TestHandleResetWithoutMap(t *testing.T) {
	_, ts, _ := newTestServer(t)
	resp := do(t, http.MethodPost, ts.URL+"/reset", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestHandleState(t *testing.T) {
	_, ts, _ := newTestServer(t)

	resp := do(t, http.MethodPost, ts.URL+"/state", `{"state":"in_progress"}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	var snap arena.Snapshot
	require.NoError(t, proxy.GetJSON(context.Background(), ts.URL+"/state", &snap))
	assert.Equal(t, arena.StateInProgress, snap.State)

	resp = do(t, http.MethodPost, ts.URL+"/state", `{"state":"NAPPING"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPut, ts.URL+"/state", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHandleMaps(t *testing.T) {
	srv, ts, _ := newTestServer(t)

	var out struct {
		Maps []mapInfo `json:"maps"`
	}
	require.NoError(t, proxy.GetJSON(context.Background(), ts.URL+"/maps", &out))
	assert.Equal(t, []mapInfo{{ID: "subway", Template: "tpl_subway"}}, out.Maps)

	require.NoError(t, os.WriteFile(srv.registry.Path(), []byte(testMaps+"  tomb:\n    world: tpl_tomb\n"), 0o644))

	var reloaded struct {
		Loaded int `json:"loaded"`
	}
	require.NoError(t, proxy.PostJSON(context.Background(), ts.URL+"/maps/reload", struct{}{}, &reloaded))
	assert.Equal(t, 2, reloaded.Loaded)
}

func TestHandleClients(t *testing.T) {
	srv, ts, transfer := newTestServer(t)

	// Before any map is prepared the client is sent back to the lobby.
	var decision struct {
		Route   string `json:"route"`
		Message string `json:"message"`
	}
	require.NoError(t, proxy.PostJSON(context.Background(), ts.URL+"/clients",
		map[string]string{"id": "alice", "name": "Alice"}, &decision))
	assert.Equal(t, "lobby", decision.Route)
	assert.Equal(t, arena.MsgNotOpen, decision.Message)
	assert.Eventually(t, func() bool {
		transfer.mu.Lock()
		defer transfer.mu.Unlock()
		return len(transfer.sent) == 1
	}, time.Second, 10*time.Millisecond)

	do(t, http.MethodPost, ts.URL+"/prepare", `{"map":"subway"}`)
	waitForState(t, ts, arena.StateWaiting)
	do(t, http.MethodPost, ts.URL+"/join/open", "")

	require.NoError(t, proxy.PostJSON(context.Background(), ts.URL+"/clients",
		map[string]string{"id": "bob", "name": "Bob"}, &decision))
	assert.Equal(t, "waiting", decision.Route)
	assert.Equal(t, 1, srv.host.ClientCount())

	resp := do(t, http.MethodDelete, ts.URL+"/clients/bob", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 0, srv.host.ClientCount())

	resp = do(t, http.MethodDelete, ts.URL+"/clients/bob", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodPost, ts.URL+"/clients", `{"name":"nobody"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusFeed(t *testing.T) {
	_, ts, _ := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/status"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if resp != nil {
		resp.Body.Close()
	}
	require.NoError(t, err)
	defer conn.Close()

	do(t, http.MethodPost, ts.URL+"/join/open", "")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var update statusUpdate
	require.NoError(t, json.Unmarshal(data, &update))
	assert.Equal(t, "mm-game|default|NONE|IDLE|0|16|0", update.Payload)
	assert.True(t, update.Snapshot.JoinOpen)
}
