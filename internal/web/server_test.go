package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehtick/voltage-controlled-relay/internal/logic"
	"github.com/ehtick/voltage-controlled-relay/internal/status"
)

func newTestServer(t *testing.T) (*httptest.Server, *Server, *status.Tracker) {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := status.Config{
		Policy:      "ladder",
		Loads:       2,
		CycleMs:     500,
		HeartbeatMs: 900000,
		Broker:      "tcp://192.168.1.200:1883",
		HTTPPort:    ":80",
	}
	tr := status.NewTracker(start, cfg)
	srv := New(":0", tr)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, srv, tr
}

func getJSON(t *testing.T, url string) status.StatusJSON {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err, "GET %s", url)
	defer resp.Body.Close()

	var sj status.StatusJSON
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sj))
	return sj
}

func getPage(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err, "GET %s", url)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func level1() status.State {
	return status.State{
		Volts:     25.9,
		Raw:       875,
		Level:     1,
		StateName: "LEVEL_1",
		Loads:     []bool{true, false},
		Counts:    logic.EventCounts{Rises: 5, Drops: 2},
	}
}

func TestJSONEndpoint(t *testing.T) {
	ts, _, tr := newTestServer(t)
	tr.Update(level1())
	tr.SetMQTTConnected(true)

	resp, _ := getPage(t, ts.URL+"/index.json")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	sj := getJSON(t, ts.URL+"/index.json")
	assert.Equal(t, "LEVEL_1", sj.Status.State)
	assert.Equal(t, "10", sj.Status.Loads)
	assert.True(t, sj.Status.Ready)
	assert.Equal(t, status.MQTTStatus{Connected: true, Broker: "tcp://192.168.1.200:1883"}, sj.Status.MQTT)
	assert.Equal(t, status.CountsJSON{Rises: 5, Drops: 2}, sj.Status.Counts)
	assert.EqualValues(t, 500, sj.Status.Config.CycleMs)
	assert.Equal(t, "ladder", sj.Status.Config.Policy)
}

func TestJSONUnknownStateBeforeFirstCycle(t *testing.T) {
	ts, _, _ := newTestServer(t)

	sj := getJSON(t, ts.URL+"/index.json")
	assert.Equal(t, "UNKNOWN", sj.Status.State, "state before first cycle")
	assert.False(t, sj.Status.Ready)
}

func TestJSONNetworkInfo(t *testing.T) {
	ts, _, tr := newTestServer(t)
	tr.SetNetwork(&status.NetworkInfo{
		Type:   "wifi",
		IP:     "192.168.1.42",
		Status: "connected",
		SSID:   "Cabin",
	})

	sj := getJSON(t, ts.URL+"/index.json")
	require.NotNil(t, sj.Status.Network, "Network in JSON")
	assert.Equal(t, "Cabin", sj.Status.Network.SSID)
}

func TestHTMLEndpoints(t *testing.T) {
	ts, _, tr := newTestServer(t)
	tr.Update(level1())

	for _, path := range []string{"/", "/index.html"} {
		resp, page := getPage(t, ts.URL+path)

		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html"), "%s Content-Type: %q", path, resp.Header.Get("Content-Type"))
		for _, want := range []string{"25.90 V", "LEVEL_1", "<td id=\"loads\">10</td>", "ladder (2 loads)"} {
			assert.Contains(t, page, want, path)
		}
	}
}

func TestHTMLShowsOverrideAndPending(t *testing.T) {
	ts, _, tr := newTestServer(t)
	s := level1()
	s.Override = "OFF"
	s.Pending = &status.Pending{Class: "BELOW", ElapsedMs: 1500}
	tr.Update(s)

	_, page := getPage(t, ts.URL+"/")
	assert.Contains(t, page, "BELOW for 1500ms", "pending timer")
	assert.Contains(t, page, "<th>Override</th><td>OFF</td>", "override")
}

func TestNotFoundForUnknownPath(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, _ := getPage(t, ts.URL+"/nonexistent")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMethodNotAllowed(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/index.json", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func dialStream(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err, "dial %s", url)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readStatus(t *testing.T, conn *websocket.Conn) status.StatusInner {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err, "read")
	var sj status.StatusJSON
	require.NoError(t, json.Unmarshal(data, &sj), "decode")
	return sj.Status
}

func TestStreamPushesSnapshots(t *testing.T) {
	ts, _, tr := newTestServer(t)
	conn := dialStream(t, ts, "?poll=100ms")

	assert.Equal(t, "UNKNOWN", readStatus(t, conn).State, "first frame state")

	tr.Update(level1())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := readStatus(t, conn); got.State == "LEVEL_1" {
			assert.Equal(t, "10", got.Loads)
			return
		}
	}
	t.Fatal("update never reached the stream")
}

func TestStreamClosedOnShutdown(t *testing.T) {
	ts, srv, _ := newTestServer(t)
	conn := dialStream(t, ts, "")
	readStatus(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "expected going-away close, got %v", err)
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{1500 * time.Millisecond, "1s"},
		{90 * time.Second, "1m 30s"},
		{2*time.Hour + 5*time.Second, "2h 0m 5s"},
		{3*24*time.Hour + 4*time.Hour + 5*time.Minute + 6*time.Second, "3d 4h 5m 6s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatUptime(tt.d), "formatUptime(%v)", tt.d)
	}
}
