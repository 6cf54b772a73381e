package roomhandler

import (
	"studysync/internal/ws"

	"github.com/pion/webrtc/v4"
)

type ErrorResponse struct {
	Error string `json:"error"`
} // @name ErrorResponse

type HealthResponse struct {
	Status string `json:"status"`
} // @name HealthResponse

type ListRoomsResponse struct {
	Rooms []ws.RoomSummary `json:"rooms"`
} // @name ListRoomsResponse

type IceServersResponse struct {
	IceServers []webrtc.ICEServer `json:"iceServers"`
} // @name IceServersResponse

type ClientConfigResponse struct {
	IceServers []webrtc.ICEServer `json:"iceServers"`
	// Local timer ticks between resync requests.
	TimerResyncEvery int `json:"timerResyncEvery"`
} // @name ClientConfigResponse
