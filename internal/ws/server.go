package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"studysync/internal/auth"
	"studysync/internal/services/roomdir"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const lookupTimeout = 4 * time.Second

type RoomInfo = roomdir.RoomDTO

// RoomDirectory resolves room ids against the external room store.
type RoomDirectory interface {
	GetRoom(ctx context.Context, id string) (*roomdir.RoomDTO, error)
}

type WsServer struct {
	hub       *Hub
	subMgr    *subscriptionManager
	router    *Router
	verifier  *auth.Verifier
	directory RoomDirectory
	opts      Options
	upgrader  websocket.Upgrader
}

// NewWsServer wires the room handlers. rdc and dir may be nil: without Redis
// nothing can be injected from outside, and without a directory any room id
// is accepted.
func NewWsServer(h *Hub, rdc *redis.Client, verifier *auth.Verifier, dir RoomDirectory) *WsServer {
	router := NewRouter()
	srv := &WsServer{
		hub:       h,
		router:    router,
		verifier:  verifier,
		directory: dir,
		opts:      h.opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true }, // dev-only
		},
	}
	if rdc != nil {
		srv.subMgr = newSubscriptionManager(rdc, h)
	}
	h.router = router
	srv.registerHandlers() // ← all WS endpoints configured here
	return srv
}

// ---------------------------------------------------------------------------
//  Public: Gin entry-point
// ---------------------------------------------------------------------------

func (s *WsServer) Handle(ginCtx *gin.Context) {
	ident, err := s.verifier.Resolve(bearer(ginCtx), ginCtx.Query("user_id"), ginCtx.Query("user_name"))
	if err != nil {
		ginCtx.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	rawConn, err := s.upgrader.Upgrade(ginCtx.Writer, ginCtx.Request, nil)
	if err != nil {
		zap.L().Warn("ws.accept", zap.Error(err))
		return
	}
	rawConn.SetReadLimit(s.opts.ReadLimit)

	conn := newClientConn(rawConn, ident.UserID, ident.UserName, &s.opts)
	zap.L().Debug("ws.connected", zap.String("conn", conn.id), zap.String("user", conn.userID))
	go conn.writeLoop()

	if roomID := ginCtx.Query("room_id"); roomID != "" {
		if err := s.joinRoom(conn, roomID); err != nil {
			conn.sendError(err)
		}
	}
	go s.reader(conn)
}

func (s *WsServer) Hub() *Hub { return s.hub }

// ---------------------------------------------------------------------------
//  Private helpers
// ---------------------------------------------------------------------------

func (s *WsServer) registerHandlers() {
	s.registerRoomHandlers()
	s.registerCallHandlers()
	s.registerWhiteboardHandlers()
}

func bearer(ginCtx *gin.Context) string {
	if t := ginCtx.Query("token"); t != "" {
		return t
	}
	return ginCtx.GetHeader("Authorization")
}

func errorCode(err error) string {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Code
	}
	return err.Error()
}

func (s *WsServer) reader(conn *clientConn) {
	defer func() {
		if conn.roomID != "" {
			s.leaveRoom(conn)
		}
		conn.close(websocket.CloseNormalClosure, "")
		zap.L().Debug("ws.disconnected", zap.String("conn", conn.id), zap.String("user", conn.userID))
	}()

	_ = conn.rawConn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	conn.rawConn.SetPongHandler(func(string) error {
		return conn.rawConn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})

	for {
		_, data, err := conn.rawConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				zap.L().Debug("ws.read", zap.String("conn", conn.id), zap.Error(err))
			}
			return // client closed or errored
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			conn.sendError(badRequest("invalid_envelope", err))
			continue
		}

		switch env.Event {
		case EvtJoinRoom:
			var req JoinRoomRequest
			if err := json.Unmarshal(env.Body, &req); err != nil {
				conn.sendError(badRequest("invalid_body", err))
				continue
			}
			if err := s.router.validate.Struct(req); err != nil {
				conn.sendError(badRequest("invalid_body", err))
				continue
			}
			if err := s.joinRoom(conn, req.RoomID); err != nil {
				conn.sendError(err)
			}
		case EvtLeaveRoom:
			if conn.roomID != "" {
				s.leaveRoom(conn)
			}
		default:
			if conn.room == nil {
				conn.sendError(badRequest(ErrNotInRoom.Error(), nil))
				continue
			}
			if !s.router.has(env.Event) {
				conn.sendError(badRequest(ErrUnknownEvent.Error(), nil))
				continue
			}
			conn.room.offer(roomMsg{kind: msgEvent, conn: conn, env: env})
		}
	}
}

// joinRoom moves conn into roomID, leaving its current room first.
func (s *WsServer) joinRoom(conn *clientConn, roomID string) error {
	if conn.roomID == roomID {
		return nil
	}
	info, err := s.admit(conn, roomID)
	if err != nil {
		return err
	}
	if conn.roomID != "" {
		s.leaveRoom(conn)
	}
	conn.room = s.hub.attach(roomID, conn, info)
	conn.roomID = roomID
	if s.subMgr != nil {
		s.subMgr.Subscribe(roomID) // may be a no-op (already subscribed)
	}
	return nil
}

func (s *WsServer) leaveRoom(conn *clientConn) {
	roomID := conn.roomID
	conn.roomID, conn.room = "", nil
	s.hub.detach(roomID, conn)
	if s.subMgr != nil {
		s.subMgr.Unsubscribe(roomID)
	}
}

// admit checks roomID against the room directory. The record is looked up
// once per live room.
func (s *WsServer) admit(conn *clientConn, roomID string) (*RoomInfo, error) {
	if s.directory == nil {
		return nil, nil
	}
	info := s.hub.cachedInfo(roomID)
	if info == nil {
		ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
		defer cancel()

		var err error
		info, err = s.directory.GetRoom(ctx, roomID)
		if errors.Is(err, roomdir.ErrRoomNotFound) {
			return nil, badRequest("room_not_found", err)
		}
		if err != nil {
			zap.L().Warn("ws.room_lookup", zap.String("room", roomID), zap.Error(err))
			return nil, badRequest("room_lookup_failed", err)
		}
	}
	if info.MaxParticipants > 0 && s.hub.registry.Count(roomID) >= info.MaxParticipants {
		// A reconnecting participant already holds a seat.
		if _, ok := s.hub.registry.Get(roomID, conn.userID); !ok {
			return nil, badRequest("room_full", nil)
		}
	}
	return info, nil
}

// roomIDFromChannel turns "room:<id>:inject" back into <id>.
func roomIDFromChannel(ch string) string {
	return strings.TrimSuffix(strings.TrimPrefix(ch, injectPrefix), injectSuffix)
}
