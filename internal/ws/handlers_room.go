package ws

import (
	"context"
	"time"

	"github.com/google/uuid"
)

func (s *WsServer) registerRoomHandlers() {
	Handle(s.router, EvtChatMessage, func(_ context.Context, cc *ConnContext, req ChatRequest) error {
		cc.Room.broadcast(EvtChatMessage, ChatBody{
			ID:        uuid.NewString(),
			UserID:    cc.UserID,
			UserName:  cc.UserName,
			Content:   req.Content,
			CreatedAt: time.Now().UTC(),
		}, nil)
		return nil
	})
	Handle(s.router, EvtTyping, func(_ context.Context, cc *ConnContext, _ RoomRef) error {
		cc.Room.broadcast(EvtUserTyping, SpeakerBody{UserID: cc.UserID, UserName: cc.UserName}, cc.Conn)
		return nil
	})
	Handle(s.router, EvtStopTyping, func(_ context.Context, cc *ConnContext, _ RoomRef) error {
		cc.Room.broadcast(EvtUserStoppedTyping, SpeakerBody{UserID: cc.UserID, UserName: cc.UserName}, cc.Conn)
		return nil
	})

	Register(s.router, EvtRequestTimerState, EvtTimerSync, func(_ context.Context, cc *ConnContext, _ RoomRef) (TimerSyncBody, error) {
		return TimerSyncBody{RoomID: cc.RoomID, TimerState: cc.Room.timer}, nil
	})
	// Last broadcast wins: the room keeps whatever arrived most recently.
	Handle(s.router, EvtTimerSync, func(_ context.Context, cc *ConnContext, req TimerSyncRequest) error {
		cc.Room.timer = req.TimerState
		cc.Room.broadcast(EvtTimerSync, TimerSyncBody{RoomID: cc.RoomID, TimerState: req.TimerState}, cc.Conn)
		return nil
	})
	Handle(s.router, EvtTimerSettingsUpdate, func(_ context.Context, cc *ConnContext, req TimerSettingsRequest) error {
		cc.Room.timer.Settings = req.Settings
		cc.Room.broadcast(EvtTimerSettingsUpdate, TimerSettingsBody{Settings: req.Settings, UserID: cc.UserID}, cc.Conn)
		return nil
	})
	Handle(s.router, EvtTimerControl, func(_ context.Context, cc *ConnContext, req TimerControlRequest) error {
		if !req.Action.Valid() {
			return badRequest("invalid_action", nil)
		}
		cc.Room.broadcast(EvtTimerControl, TimerControlBody{Action: req.Action, UserID: cc.UserID}, cc.Conn)
		return nil
	})
}
