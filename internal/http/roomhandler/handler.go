package roomhandler

import (
	"context"
	"net/http"
	"time"

	"studysync/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
)

const snapshotTimeout = 2 * time.Second

// LiveRooms is the read side of the websocket hub.
type LiveRooms interface {
	Summaries() []ws.RoomSummary
	Snapshot(ctx context.Context, roomID string) (ws.RoomSnapshot, bool)
}

type Handler struct {
	rooms            LiveRooms
	iceServers       []webrtc.ICEServer
	timerResyncEvery int
}

// New builds the REST handler. timerResyncEvery is the number of local timer
// ticks a client runs before asking the room for its authoritative state.
func New(rooms LiveRooms, iceServers []webrtc.ICEServer, timerResyncEvery int) *Handler {
	return &Handler{rooms: rooms, iceServers: iceServers, timerResyncEvery: timerResyncEvery}
}

func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/healthz", h.health)
	r.GET("/rooms", h.list)
	r.GET("/rooms/:id", h.info)
	r.GET("/ice-servers", h.ice)
	r.GET("/client-config", h.clientConfig)
}

// @Summary		Liveness check
// @Tags			Health
// @Success		200	{object}	HealthResponse
// @Router			/healthz [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// list returns the rooms that currently have someone connected.
//
// @Summary		List live rooms
// @Description	Returns every room with at least one connected participant.
// @Tags			Rooms
// @Success		200	{object}	ListRoomsResponse
// @Router			/rooms [get]
func (h *Handler) list(c *gin.Context) {
	c.JSON(http.StatusOK, ListRoomsResponse{Rooms: h.rooms.Summaries()})
}

// @Summary		Get room snapshot
// @Description	Returns members, call state, speakers and timer of a live room.
// @Tags			Rooms
// @Param			id	path		string	true	"Room ID"	default(R1)
// @Success		200	{object}	ws.RoomSnapshot
// @Failure		404	{object}	ErrorResponse
// @Router			/rooms/{id} [get]
func (h *Handler) info(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), snapshotTimeout)
	defer cancel()

	snap, ok := h.rooms.Snapshot(ctx, c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not live"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// ice hands clients the same STUN/TURN list the server was configured with.
//
// @Summary		ICE servers
// @Description	STUN/TURN servers for establishing peer audio links.
// @Tags			Call
// @Success		200	{object}	IceServersResponse
// @Router			/ice-servers [get]
func (h *Handler) ice(c *gin.Context) {
	c.JSON(http.StatusOK, IceServersResponse{IceServers: h.iceServers})
}

// @Summary		Client configuration
// @Description	ICE servers plus the timer resync interval clients should use.
// @Tags			Call
// @Success		200	{object}	ClientConfigResponse
// @Router			/client-config [get]
func (h *Handler) clientConfig(c *gin.Context) {
	c.JSON(http.StatusOK, ClientConfigResponse{
		IceServers:       h.iceServers,
		TimerResyncEvery: h.timerResyncEvery,
	})
}
