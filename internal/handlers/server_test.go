// internal/handlers/server_test.go
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/impostor-game/impostor/internal/game"
	"github.com/impostor-game/impostor/internal/models"
	"github.com/impostor-game/impostor/internal/notify"
	"github.com/impostor-game/impostor/internal/room"
	"github.com/impostor-game/impostor/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore(nil)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	manager := notify.NewManager(logger)
	rooms := room.NewService(st, manager, logger)
	engine, err := game.NewService(st, manager, logger, 1)
	require.NoError(t, err)
	return NewServer(st, rooms, engine, manager, logger, nil), st
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestCreateRoomEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Routes()

	w := doJSON(t, router, "POST", "/rooms/", map[string]any{"name": "Test Room"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	require.Equal(t, "Test Room", body["name"])
	roomID, _ := body["room_id"].(string)
	require.Len(t, roomID, 8)

	w = doJSON(t, router, "POST", "/rooms/", map[string]any{"name": ""})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestLobbyEndpointStatusMapping(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Routes()

	w := doJSON(t, router, "GET", "/rooms/NOPE0000/lobby", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	created := decodeBody(t, doJSON(t, router, "POST", "/rooms/", map[string]any{"name": "r"}))
	roomID := created["room_id"].(string)

	w = doJSON(t, router, "GET", "/rooms/"+roomID+"/lobby", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	require.Equal(t, roomID, body["room_id"])
	require.EqualValues(t, 60, body["settings"].(map[string]any)["round_time"])
	require.Contains(t, body, "host", "hostless lobby still carries the host field")
	require.Equal(t, "", body["host"])
}

func TestReadyStartAndVoteFlow(t *testing.T) {
	srv, st := newTestServer(t)
	router := srv.Routes()
	ctx := context.Background()

	created := decodeBody(t, doJSON(t, router, "POST", "/rooms/", map[string]any{"name": "flow"}))
	roomID := created["room_id"].(string)
	require.NoError(t, st.AddConn(ctx, roomID, "aaaa", "host", false))
	require.NoError(t, st.AddConn(ctx, roomID, "bbbb", "guest", false))

	w := doJSON(t, router, "POST", "/rooms/"+roomID+"/start", map[string]any{"conn_id": "bbbb"})
	require.Equal(t, http.StatusForbidden, w.Code, "non-host start")

	w = doJSON(t, router, "POST", "/rooms/"+roomID+"/ready", map[string]any{"conn_id": "aaaa", "ready": true})
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, router, "POST", "/rooms/"+roomID+"/start", map[string]any{"conn_id": "aaaa"})
	require.Equal(t, http.StatusConflict, w.Code, "unready player blocks start")

	w = doJSON(t, router, "POST", "/rooms/"+roomID+"/ready", map[string]any{"conn_id": "bbbb", "ready": true})
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, router, "POST", "/rooms/"+roomID+"/start", map[string]any{"conn_id": "aaaa"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "started", decodeBody(t, w)["status"])

	w = doJSON(t, router, "POST", "/rooms/"+roomID+"/vote", map[string]any{"conn_id": "aaaa", "target_conn_id": "bbbb"})
	require.Equal(t, http.StatusConflict, w.Code, "voting has not opened yet")

	w = doJSON(t, router, "GET", "/rooms/"+roomID+"/turn", nil)
	require.Equal(t, http.StatusOK, w.Code)
	snapshot := decodeBody(t, w)
	require.Equal(t, models.PhaseActive, snapshot["phase"])

	w = doJSON(t, router, "POST", "/rooms/"+roomID+"/end", map[string]any{})
	require.Equal(t, http.StatusOK, w.Code)
	result := decodeBody(t, w)["result"].(map[string]any)
	require.Equal(t, "win_condition", result["reason"])
}

func TestSettingsEndpoint(t *testing.T) {
	srv, st := newTestServer(t)
	router := srv.Routes()
	ctx := context.Background()

	created := decodeBody(t, doJSON(t, router, "POST", "/rooms/", map[string]any{"name": "s"}))
	roomID := created["room_id"].(string)
	require.NoError(t, st.AddConn(ctx, roomID, "aaaa", "host", false))

	w := doJSON(t, router, "POST", "/rooms/"+roomID+"/settings", map[string]any{"conn_id": "aaaa", "max_players": 4})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	require.EqualValues(t, 4, body["settings"].(map[string]any)["max_players"])

	w = doJSON(t, router, "POST", "/rooms/"+roomID+"/settings", map[string]any{"conn_id": "aaaa", "max_players": 99})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = doJSON(t, router, "POST", "/rooms/"+roomID+"/settings", map[string]any{"max_players": 4})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, "conn_id required")
}

func TestDisconnectReconnectEndpoints(t *testing.T) {
	srv, st := newTestServer(t)
	router := srv.Routes()
	ctx := context.Background()

	created := decodeBody(t, doJSON(t, router, "POST", "/rooms/", map[string]any{"name": "resume"}))
	roomID := created["room_id"].(string)
	require.NoError(t, st.AddConn(ctx, roomID, "aaaa", "alice", true))

	w := doJSON(t, router, "POST", "/rooms/"+roomID+"/disconnect", map[string]any{"conn_id": "aaaa"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	token := decodeBody(t, w)["token"].(string)
	require.NotEmpty(t, token)

	w = doJSON(t, router, "POST", "/rooms/reconnect", map[string]any{"token": token})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	state := decodeBody(t, w)
	players := state["players"].(map[string]any)
	require.Contains(t, players, "aaaa")

	w = doJSON(t, router, "POST", "/rooms/reconnect", map[string]any{"token": token})
	require.Equal(t, http.StatusNotFound, w.Code, "token is single use")
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Routes()
	w := doJSON(t, router, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok", decodeBody(t, w)["status"])
}

func readFrame(t *testing.T, ctx context.Context, c *websocket.Conn) map[string]any {
	t.Helper()
	_, data, err := c.Read(ctx)
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(data, &payload))
	return payload
}

func TestWebSocketJoinWelcomeSequence(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	created := decodeBody(t, doJSON(t, srv.Routes(), "POST", "/rooms/", map[string]any{"name": "ws room"}))
	roomID := created["room_id"].(string)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + ts.URL[len("http"):] + "/rooms/" + roomID + "/ws?nick=alice"
	c, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer c.Close(websocket.StatusNormalClosure, "")

	welcome := readFrame(t, ctx, c)
	require.Equal(t, "welcome", welcome["type"])
	require.Equal(t, roomID, welcome["room_id"])
	connID := welcome["conn_id"].(string)
	require.Len(t, connID, 16)
	require.Equal(t, "alice", welcome["nick"])

	lobby := readFrame(t, ctx, c)
	require.Equal(t, "lobby_state", lobby["type"])
	state := lobby["state"].(map[string]any)
	players := state["players"].(map[string]any)
	require.Contains(t, players, connID)
}

func TestWebSocketRejectsBadNick(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	created := decodeBody(t, doJSON(t, srv.Routes(), "POST", "/rooms/", map[string]any{"name": "ws room"}))
	roomID := created["room_id"].(string)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + ts.URL[len("http"):] + "/rooms/" + roomID + "/ws"
	c, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err, "upgrade succeeds, the close follows")

	_, _, err = c.Read(ctx)
	require.Error(t, err)
	var closeErr websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	require.Equal(t, websocket.StatusPolicyViolation, closeErr.Code)
}
