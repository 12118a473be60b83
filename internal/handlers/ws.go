// internal/handlers/ws.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/impostor-game/impostor/internal/middleware"
	"github.com/impostor-game/impostor/internal/models"
	"github.com/impostor-game/impostor/internal/room"
)

const wsWriteTimeout = 3 * time.Second

// wsMessage is the envelope for structured inbound frames. Anything that
// fails to parse, or carries an unknown type, is relayed as chat.
type wsMessage struct {
	Type   string `json:"type"`
	Word   string `json:"word,omitempty"`
	Target string `json:"target,omitempty"`
	Guess  string `json:"guess,omitempty"`
	Ready  *bool  `json:"ready,omitempty"`
	Text   string `json:"text,omitempty"`
}

// handleWS upgrades the connection and runs the session: join or resume,
// welcome sequence, read loop, then disconnect cleanup.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "room_id")
	token := r.URL.Query().Get("token")
	nick := r.URL.Query().Get("nick")

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.WithError(err).Warn("websocket accept failed")
		return
	}
	middleware.LogWebSocketConnect(s.logger, r.RemoteAddr, r.URL.Path)

	ctx := r.Context()
	var connID, role string
	if token != "" {
		preview, err := s.rooms.PreviewReconnect(ctx, token)
		if err != nil || preview.RoomID != roomID {
			c.Close(websocket.StatusPolicyViolation, "invalid resume token")
			return
		}
		snap, _, err := s.rooms.Reconnect(ctx, token)
		if err != nil {
			c.Close(websocket.StatusPolicyViolation, "invalid resume token")
			return
		}
		connID = snap.ConnID
		role = snap.Role
		nick = snap.Nickname
	} else {
		if len(nick) < 1 || len(nick) > 20 {
			c.Close(websocket.StatusPolicyViolation, "nick must be 1-20 characters")
			return
		}
		connID, err = room.MakeConnID()
		if err != nil {
			c.Close(websocket.StatusInternalError, "id generation failed")
			return
		}
		if _, _, err := s.rooms.JoinRoom(ctx, roomID, connID, nick); err != nil {
			c.Close(websocket.StatusPolicyViolation, err.Error())
			return
		}
	}

	client := s.manager.Attach(connID, func() {
		c.Close(websocket.StatusNormalClosure, "closed by server")
	})
	go func() {
		for payload := range client.Outbound() {
			data, err := json.Marshal(payload)
			if err != nil {
				s.logger.WithError(err).Warn("payload marshal failed")
				continue
			}
			wctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
			err = c.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}()

	s.sendWelcome(ctx, roomID, connID, nick)
	if token != "" {
		if err := s.game.HandleReconnect(ctx, roomID, connID, role); err != nil {
			s.logger.WithError(err).WithField("conn_id", connID).Warn("reconnect handling failed")
		}
	}

	s.readLoop(ctx, c, roomID, connID)

	// The request context is done once the socket drops; cleanup runs on a
	// fresh one.
	cleanup := context.Background()
	s.manager.Detach(client)
	if err := s.game.HandleDisconnect(cleanup, roomID, connID); err != nil {
		s.logger.WithError(err).WithField("conn_id", connID).Warn("disconnect handling failed")
	}
	if err := s.rooms.LeaveRoom(cleanup, roomID, connID); err != nil {
		s.logger.WithError(err).WithField("conn_id", connID).Warn("leave failed")
	}
	s.broadcastToRoom(cleanup, roomID, map[string]any{
		"type":    "user_left",
		"room_id": roomID,
		"conn_id": connID,
	})
	middleware.LogWebSocketDisconnect(s.logger, r.RemoteAddr, r.URL.Path, nil)
}

// sendWelcome delivers welcome, lobby_state and (mid-game) turn_state to the
// new conn, then announces it to everyone else.
func (s *Server) sendWelcome(ctx context.Context, roomID, connID, nick string) {
	s.manager.SendToConn(ctx, connID, map[string]any{
		"type":    "welcome",
		"room_id": roomID,
		"conn_id": connID,
		"nick":    nick,
	})
	state, err := s.rooms.GetLobbyState(ctx, roomID)
	if err == nil {
		s.manager.SendToConn(ctx, connID, map[string]any{
			"type":    "lobby_state",
			"room_id": roomID,
			"state":   state,
		})
	}
	gameState, err := s.store.GetGameState(ctx, roomID)
	if err == nil && gameState == models.GameStateInProgress {
		if snapshot, err := s.game.GetTurnSnapshot(ctx, roomID); err == nil {
			s.manager.SendToConn(ctx, connID, map[string]any{
				"type":    "turn_state",
				"room_id": roomID,
				"state":   snapshot,
			})
		}
	}
	s.broadcastToOthers(ctx, roomID, connID, map[string]any{
		"type":    "user_joined",
		"room_id": roomID,
		"conn_id": connID,
		"nick":    nick,
	})
}

// readLoop consumes inbound frames until the socket drops.
func (s *Server) readLoop(ctx context.Context, c *websocket.Conn, roomID, connID string) {
	for {
		msgType, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		s.dispatch(ctx, roomID, connID, data)
	}
}

// dispatch routes a structured frame to the matching service call; anything
// else relays as chat and counts as the speaker's turn message.
func (s *Server) dispatch(ctx context.Context, roomID, connID string, data []byte) {
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err == nil {
		switch msg.Type {
		case "submit_word":
			if _, err := s.game.SubmitTurnWord(ctx, roomID, connID, msg.Word); err != nil {
				s.sendError(ctx, connID, err)
			}
			return
		case "vote":
			target := msg.Target
			if target == "" {
				target = models.VoteSkip
			}
			if _, err := s.game.CastVote(ctx, roomID, connID, target); err != nil {
				s.sendError(ctx, connID, err)
			}
			return
		case "guess":
			if _, err := s.game.GuessWord(ctx, roomID, connID, msg.Guess); err != nil {
				s.sendError(ctx, connID, err)
			}
			return
		case "ready":
			ready := msg.Ready != nil && *msg.Ready
			if _, err := s.rooms.SetReady(ctx, roomID, connID, ready); err != nil {
				s.sendError(ctx, connID, err)
			}
			return
		}
	}
	s.relayChat(ctx, roomID, connID, string(data))
}

// relayChat fans a plain text frame out as a chat message and lets the game
// engine treat it as the current speaker having spoken.
func (s *Server) relayChat(ctx context.Context, roomID, connID, text string) {
	name, err := s.store.GetRoomName(ctx, roomID)
	if err != nil {
		return
	}
	nick := connID
	if state, err := s.rooms.GetLobbyState(ctx, roomID); err == nil {
		if player, ok := state.Players[connID]; ok && player.Nick != "" {
			nick = player.Nick
		}
	}
	s.broadcastToRoom(ctx, roomID, map[string]any{
		"type":    "msg",
		"room":    name,
		"room_id": roomID,
		"nick":    nick,
		"text":    text,
	})
	if err := s.game.HandleTurnMessage(ctx, roomID, connID); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{"room_id": roomID, "conn_id": connID}).Warn("turn message handling failed")
	}
}

func (s *Server) sendError(ctx context.Context, connID string, err error) {
	s.manager.SendToConn(ctx, connID, map[string]any{
		"type":  "error",
		"error": err.Error(),
	})
}

func (s *Server) broadcastToRoom(ctx context.Context, roomID string, payload map[string]any) {
	conns, err := s.store.ListConns(ctx, roomID)
	if err != nil {
		return
	}
	s.manager.Broadcast(ctx, conns, payload)
}

func (s *Server) broadcastToOthers(ctx context.Context, roomID, exclude string, payload map[string]any) {
	conns, err := s.store.ListConns(ctx, roomID)
	if err != nil {
		return
	}
	others := conns[:0:0]
	for _, id := range conns {
		if id != exclude {
			others = append(others, id)
		}
	}
	s.manager.Broadcast(ctx, others, payload)
}
