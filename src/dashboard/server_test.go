package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"papertrader/src/portfolio"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockControls struct{ mock.Mock }

func (m *mockControls) Snapshot() portfolio.Snapshot {
	return m.Called().Get(0).(portfolio.Snapshot)
}
func (m *mockControls) Start() error { return m.Called().Error(0) }
func (m *mockControls) Stop() error  { return m.Called().Error(0) }
func (m *mockControls) Reset() error { return m.Called().Error(0) }

func newTestServer(t *testing.T, controls *mockControls) (*Server, *httptest.Server) {
	t.Helper()
	srv := NewServer(":0", controls, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Hub().Run(ctx)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})
	return srv, ts
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t, &mockControls{})
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestStatusReturnsSnapshot(t *testing.T) {
	controls := &mockControls{}
	controls.On("Snapshot").Return(portfolio.Snapshot{Status: "running", Cash: 9899.9, InitialCapital: 10000})
	_, ts := newTestServer(t, controls)

	resp, err := http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var snap portfolio.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, "running", snap.Status)
	assert.Equal(t, 9899.9, snap.Cash)
	controls.AssertExpectations(t)
}

func TestRESTCommands(t *testing.T) {
	controls := &mockControls{}
	controls.On("Stop").Return(nil).Once()
	controls.On("Reset").Return(errors.New("session is running")).Once()
	_, ts := newTestServer(t, controls)

	resp, err := http.Post(ts.URL+"/api/stop", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/api/reset", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	var msg Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msg))
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, "session is running", msg.Error)

	controls.AssertExpectations(t)
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebsocketSnapshotsAndCommands(t *testing.T) {
	controls := &mockControls{}
	controls.On("Snapshot").Return(portfolio.Snapshot{Status: "running"})
	controls.On("Start").Return(nil).Once()
	srv, ts := newTestServer(t, controls)

	srv.Hub().Publish(portfolio.Snapshot{Status: "waiting"})
	require.Eventually(t, func() bool { return len(srv.Hub().broadcast) == 0 }, 5*time.Second, 10*time.Millisecond)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	// the latest snapshot is replayed on connect
	msg := readMessage(t, conn)
	assert.Equal(t, "snapshot", msg.Type)
	assert.Equal(t, "waiting", msg.Data.(map[string]interface{})["status"])

	require.NoError(t, conn.WriteJSON(Command{Type: "ping"}))
	msg = readMessage(t, conn)
	assert.Equal(t, "pong", msg.Type)
	assert.Equal(t, "running", msg.Data.(map[string]interface{})["status"])

	require.NoError(t, conn.WriteJSON(Command{Type: "start"}))
	msg = readMessage(t, conn)
	assert.Equal(t, "ack", msg.Type)
	assert.Equal(t, "start", msg.Data)

	require.NoError(t, conn.WriteJSON(Command{Type: "launch"}))
	msg = readMessage(t, conn)
	assert.Equal(t, "error", msg.Type)

	srv.Hub().Publish(portfolio.Snapshot{Status: "stopped"})
	msg = readMessage(t, conn)
	assert.Equal(t, "snapshot", msg.Type)
	assert.Equal(t, "stopped", msg.Data.(map[string]interface{})["status"])

	controls.AssertExpectations(t)
}

func TestPublishNeverBlocks(t *testing.T) {
	hub := NewHub(&mockControls{}, nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		// nobody runs the hub, so the broadcast queue fills up
		for i := 0; i < 500; i++ {
			hub.Publish(portfolio.Snapshot{})
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked")
	}
}
