package net

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/crowdchess/crowdchess/common/log"
	"github.com/crowdchess/crowdchess/core"
)

// inFrame decodes one outbound frame for assertions.
type inFrame struct {
	Type string          `json:"type"`
	ID   *int64          `json:"id"`
	Data json.RawMessage `json:"data"`
}

func newTestGateway(t *testing.T) (*Gateway, *httptest.Server) {
	t.Helper()
	logger := log.New(nil, log.ErrorLevel, false)
	game, err := core.NewGame(core.NewConfig(core.WithLogger(logger)))
	require.NoError(t, err)
	gw := NewGateway(logger, game)
	game.SetPublisher(gw)
	srv := httptest.NewServer(gw.Router())
	t.Cleanup(srv.Close)
	return gw, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntil consumes frames until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want string) inFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		var f inFrame
		require.NoError(t, json.Unmarshal(raw, &f))
		if f.Type == want {
			return f
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, msgType string, id *int64, payload interface{}) {
	t.Helper()
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		data = raw
	}
	require.NoError(t, conn.WriteJSON(envelope{Type: msgType, ID: id, Data: data}))
}

func TestHandshakeDeliversSession(t *testing.T) {
	_, srv := newTestGateway(t)
	conn := dial(t, srv, "?name=Alice")

	f := readUntil(t, conn, core.EventSession)
	var sess core.SessionPayload
	require.NoError(t, json.Unmarshal(f.Data, &sess))
	require.Equal(t, "Alice", sess.Name)
	require.Len(t, sess.ID, 32)

	f = readUntil(t, conn, core.EventGameStatusUpdate)
	var status core.StatusPayload
	require.NoError(t, json.Unmarshal(f.Data, &status))
	require.Equal(t, core.Lobby, status.Status)

	f = readUntil(t, conn, core.EventPlayers)
	var roster core.RosterPayload
	require.NoError(t, json.Unmarshal(f.Data, &roster))
	require.Len(t, roster.Spectators, 1)
}

func TestReconnectKeepsIdentity(t *testing.T) {
	_, srv := newTestGateway(t)
	conn := dial(t, srv, "?name=Alice")
	f := readUntil(t, conn, core.EventSession)
	var sess core.SessionPayload
	require.NoError(t, json.Unmarshal(f.Data, &sess))
	require.NoError(t, conn.Close())

	conn2 := dial(t, srv, "?pid="+sess.ID+"&name=whatever")
	f = readUntil(t, conn2, core.EventSession)
	var again core.SessionPayload
	require.NoError(t, json.Unmarshal(f.Data, &again))
	require.Equal(t, sess.ID, again.ID)
	require.Equal(t, "Alice", again.Name)
}

func TestAckRoundTrip(t *testing.T) {
	_, srv := newTestGateway(t)
	conn := dial(t, srv, "?name=Alice")
	readUntil(t, conn, core.EventSession)

	id := int64(7)
	send(t, conn, msgSetName, &id, setNamePayload{Name: "Queen Alice"})

	f := readUntil(t, conn, "ack")
	require.NotNil(t, f.ID)
	require.Equal(t, id, *f.ID)
	var ack ackPayload
	require.NoError(t, json.Unmarshal(f.Data, &ack))
	require.True(t, ack.Success)
	require.Empty(t, ack.Error)

	f = readUntil(t, conn, core.EventPlayers)
	var roster core.RosterPayload
	require.NoError(t, json.Unmarshal(f.Data, &roster))
	require.Equal(t, "Queen Alice", roster.Spectators[0].Name)
}

func TestAckCarriesDomainError(t *testing.T) {
	_, srv := newTestGateway(t)
	conn := dial(t, srv, "?name=Alice")
	readUntil(t, conn, core.EventSession)

	id := int64(1)
	send(t, conn, msgJoinSide, &id, joinSidePayload{Side: "white"})
	readUntil(t, conn, "ack")

	id = 2
	send(t, conn, msgPlayMove, &id, playMovePayload{LAN: "e2e4"})
	f := readUntil(t, conn, "ack")
	var ack ackPayload
	require.NoError(t, json.Unmarshal(f.Data, &ack))
	require.False(t, ack.Success)
	require.Equal(t, "Both teams must have at least one player.", ack.Error)
}

func TestUnidentifiedErrorsUseErrorEvent(t *testing.T) {
	_, srv := newTestGateway(t)
	conn := dial(t, srv, "?name=Alice")
	readUntil(t, conn, core.EventSession)

	send(t, conn, "warp_time", nil, nil)

	f := readUntil(t, conn, core.EventError)
	var e core.ErrorPayload
	require.NoError(t, json.Unmarshal(f.Data, &e))
	require.Contains(t, e.Message, "unknown message type")
}

func TestChatIsBroadcast(t *testing.T) {
	_, srv := newTestGateway(t)
	alice := dial(t, srv, "?name=Alice")
	readUntil(t, alice, core.EventSession)
	bob := dial(t, srv, "?name=Bob")
	readUntil(t, bob, core.EventSession)

	send(t, alice, msgChatMessage, nil, chatPayload{Message: "hello"})

	f := readUntil(t, bob, core.EventChatMessage)
	var chat core.ChatPayload
	require.NoError(t, json.Unmarshal(f.Data, &chat))
	require.Equal(t, "Alice", chat.Sender)
	require.Equal(t, "hello", chat.Message)
}

func TestHealthEndpoint(t *testing.T) {
	_, srv := newTestGateway(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "lobby", body["status"])
}

func TestMalformedFrameReported(t *testing.T) {
	_, srv := newTestGateway(t)
	conn := dial(t, srv, "?name=Alice")
	readUntil(t, conn, core.EventSession)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))

	f := readUntil(t, conn, core.EventError)
	var e core.ErrorPayload
	require.NoError(t, json.Unmarshal(f.Data, &e))
	require.Equal(t, "malformed message", e.Message)
}
