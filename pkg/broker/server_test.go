package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetbot/pkg/bus"
	"meetbot/pkg/logger"
)

func startServer(t *testing.T) (*Broker, *httptest.Server) {
	t.Helper()

	b := startBroker(t)
	srv := httptest.NewServer(NewServer("", b, logger.Discard()).Handler())
	t.Cleanup(srv.Close)
	return b, srv
}

func wsURL(srv *httptest.Server, name string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/connect?name=" + name
}

func TestHealthz(t *testing.T) {
	_, srv := startServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var payload healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, "ok", payload.Status)
	assert.Equal(t, bus.StatusIdle, payload.BotStatus)
	assert.Zero(t, payload.Ports)
}

func TestOneShotMessageEndpoint(t *testing.T) {
	b, srv := startServer(t)

	body, err := json.Marshal(bus.Message{Type: bus.TypeSetStatus, Status: bus.StatusAwaiting})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/message", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var got bus.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.True(t, got.Success)

	status, err := b.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, bus.StatusAwaiting, status)
}

func TestOneShotMessageRejectsBadBody(t *testing.T) {
	_, srv := startServer(t)

	resp, err := http.Post(srv.URL+"/message", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConnectWithUnknownNameIsRejected(t *testing.T) {
	_, srv := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, wsURL(srv, "other"), nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	}
}

func TestWebsocketChannelRoundTrip(t *testing.T) {
	b, srv := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv, DefaultChannelName), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.NoError(t, wsjson.Write(ctx, conn, bus.Message{Type: bus.TypeGetStatus}))

	var msg bus.Message
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, bus.TypeStatusUpdate, msg.Type)
	assert.Equal(t, bus.StatusIdle, msg.Status)

	_, err = b.Send(ctx, bus.Message{Type: bus.TypeSetStatus, Status: bus.StatusJoined})
	require.NoError(t, err)

	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, bus.StatusJoined, msg.Status)

	require.NoError(t, wsjson.Write(ctx, conn, bus.Message{Type: bus.TypeSetStatus, Status: "bogus"}))
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, bus.TypeError, msg.Type)
}

func TestWebsocketCloseRemovesPort(t *testing.T) {
	b, srv := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv, DefaultChannelName), nil)
	require.NoError(t, err)

	require.NoError(t, wsjson.Write(ctx, conn, bus.Message{Type: bus.TypeGetStatus}))
	var msg bus.Message
	require.NoError(t, wsjson.Read(ctx, conn, &msg))

	count, err := b.PortCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))

	require.Eventually(t, func() bool {
		count, err := b.PortCount(context.Background())
		return err == nil && count == 0
	}, 2*time.Second, 10*time.Millisecond)
}
