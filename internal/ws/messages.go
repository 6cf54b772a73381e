package ws

import (
	"encoding/json"
	"time"

	"studysync/internal/call"
	"studysync/internal/presence"
	"studysync/internal/timer"
	"studysync/internal/whiteboard"
)

// Envelope wraps every WS frame.
type Envelope struct {
	Event string          `json:"event"`          // e.g. "whiteboardDraw"
	Body  json.RawMessage `json:"body,omitempty"` // arbitrary JSON object
}

const (
	EvtError = "error"

	EvtJoinRoom     = "joinRoom"
	EvtLeaveRoom    = "leaveRoom"
	EvtCurrentUsers = "currentUsers"
	EvtUserJoined   = "userJoined"
	EvtUserLeft     = "userLeft"

	EvtChatMessage       = "chatMessage"
	EvtAIResponse        = "aiResponse"
	EvtTyping            = "typing"
	EvtStopTyping        = "stopTyping"
	EvtUserTyping        = "userTyping"
	EvtUserStoppedTyping = "userStoppedTyping"

	EvtStartCall      = "startCall"
	EvtJoinCall       = "joinCall"
	EvtLeaveCall      = "leaveCall"
	EvtEndCall        = "endCall"
	EvtCallStarted    = "callStarted"
	EvtUserJoinedCall = "userJoinedCall"
	EvtUserLeftCall   = "userLeftCall"
	EvtCallEnded      = "callEnded"

	EvtAudioOffer        = "audioOffer"
	EvtAudioAnswer       = "audioAnswer"
	EvtAudioIceCandidate = "audioIceCandidate"
	EvtPeerState         = "peerState"
	EvtPeerLinkClosed    = "peerLinkClosed"

	EvtAudioStart     = "audioStart"
	EvtAudioStop      = "audioStop"
	EvtAudioStarted   = "audioStarted"
	EvtAudioStopped   = "audioStopped"
	EvtActiveSpeakers = "activeSpeakers"

	EvtJoinWhiteboard        = "joinWhiteboard"
	EvtLeaveWhiteboard       = "leaveWhiteboard"
	EvtUserJoinedWhiteboard  = "userJoinedWhiteboard"
	EvtUserLeftWhiteboard    = "userLeftWhiteboard"
	EvtWhiteboardDraw        = "whiteboardDraw"
	EvtWhiteboardClear       = "whiteboardClear"
	EvtWhiteboardUndo        = "whiteboardUndo"
	EvtWhiteboardRedo        = "whiteboardRedo"
	EvtImageUpload           = "whiteboardImageUpload"
	EvtImageMove             = "whiteboardImageMove"
	EvtImageResize           = "whiteboardImageResize"
	EvtImageLock             = "whiteboardImageLock"
	EvtImageUnlock           = "whiteboardImageUnlock"
	EvtRequestExistingImages = "requestExistingImages"
	EvtExistingImages        = "existingImages"

	EvtRequestTimerState   = "requestTimerState"
	EvtTimerSync           = "timerSync"
	EvtTimerSettingsUpdate = "timerSettingsUpdate"
	EvtTimerControl        = "timerControl"
)

// ──────────────────────────── Request DTOs ─────────────────────────────────

// RoomRef is embedded by every body that names its room. The router rejects
// a roomId that differs from the connection's room.
type RoomRef struct {
	RoomID string `json:"roomId"`
}

func (r RoomRef) roomRef() string { return r.RoomID }

type JoinRoomRequest struct {
	RoomID string `json:"roomId" validate:"required,max=128"`
}

type ChatRequest struct {
	RoomRef
	Content string `json:"content" validate:"required,max=4000"`
}

// CallRequest is shared by start/join/leave/end. The identity fields are
// informational; the connection's identity is what counts.
type CallRequest struct {
	RoomRef
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type SignalRequest struct {
	RoomRef
	TargetUserID string          `json:"targetUserId" validate:"required"`
	Payload      json.RawMessage `json:"payload"      validate:"required"`
}

type PeerStateRequest struct {
	RoomRef
	TargetUserID string `json:"targetUserId" validate:"required"`
	State        string `json:"state"        validate:"oneof=connected disconnected failed closed"`
}

type WhiteboardPresenceRequest struct {
	RoomRef
	UserName string `json:"userName"`
}

type DrawRequest struct {
	RoomRef
	ClientStrokeID string             `json:"clientStrokeId,omitempty"`
	Points         []whiteboard.Point `json:"points"    validate:"min=1,max=10000"`
	Color          string             `json:"color"     validate:"required,hexcolor,len=7"`
	BrushSize      float64            `json:"brushSize" validate:"gte=1,lte=64"`
	Type           whiteboard.Kind    `json:"type"      validate:"oneof=draw erase"`
}

type ImageUploadRequest struct {
	RoomRef
	ImageID string  `json:"imageId" validate:"required,max=128"`
	Src     string  `json:"src"     validate:"required"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Width   float64 `json:"width"   validate:"gt=0"`
	Height  float64 `json:"height"  validate:"gt=0"`
}

type ImageMoveRequest struct {
	RoomRef
	ImageID string  `json:"imageId" validate:"required"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

type ImageResizeRequest struct {
	RoomRef
	ImageID         string  `json:"imageId" validate:"required"`
	Width           float64 `json:"width"`
	Height          float64 `json:"height"`
	KeepAspectRatio bool    `json:"keepAspectRatio"`
}

type ImageRef struct {
	RoomRef
	ImageID string `json:"imageId" validate:"required"`
}

type TimerSyncRequest struct {
	RoomRef
	TimerState timer.State `json:"timerState"`
}

type TimerSettingsRequest struct {
	RoomRef
	Settings timer.Settings `json:"settings"`
}

type TimerControlRequest struct {
	RoomRef
	Action timer.Action `json:"action" validate:"oneof=start pause reset skip request"`
	UserID string       `json:"userId"`
}

// ──────────────────────────── Response bodies ──────────────────────────────

// ErrorBody is returned for failures.
type ErrorBody struct {
	Error string `json:"error"`
}

type UserRef struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

func userRef(id, name string) UserRef {
	return UserRef{ID: id, Name: name, UserID: id, UserName: name}
}

type CurrentUsersBody struct {
	Users []presence.Participant `json:"users"`
	Names []string               `json:"names"`
}

type ChatBody struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

type CallStartedBody struct {
	StartedBy     string        `json:"startedBy"`
	StartedByUser string        `json:"startedByUser"`
	Members       []call.Member `json:"members"`
}

type CallMemberBody struct {
	UserID   string        `json:"userId"`
	UserName string        `json:"userName"`
	Members  []call.Member `json:"members"`
	Peers    []call.Member `json:"peers,omitempty"`
}

type CallEndedBody struct {
	EndedBy     string `json:"endedBy"`
	EndedByUser string `json:"endedByUser"`
}

type SignalBody struct {
	FromUserID   string          `json:"fromUserId"`
	FromUserName string          `json:"fromUserName"`
	Payload      json.RawMessage `json:"payload"`
}

type PeerLinkClosedBody struct {
	UserID string `json:"userId"`
	PeerID string `json:"peerId"`
	Reason string `json:"reason"`
}

type SpeakerBody struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type ActiveSpeakersBody struct {
	Speakers []string `json:"speakers"`
}

type DrawAck struct {
	ClientStrokeID string `json:"clientStrokeId,omitempty"`
	Seq            uint64 `json:"seq"`
}

type HistoryBody struct {
	UserID string `json:"userId"`
	Seq    uint64 `json:"seq"`
}

type ClearBody struct {
	UserID string `json:"userId"`
}

type ImageMoveBody struct {
	ImageID string  `json:"imageId"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	UserID  string  `json:"userId"`
}

type ImageResizeBody struct {
	ImageID         string  `json:"imageId"`
	Width           float64 `json:"width"`
	Height          float64 `json:"height"`
	KeepAspectRatio bool    `json:"keepAspectRatio"`
	UserID          string  `json:"userId"`
}

type ImageLockBody struct {
	ImageID  string `json:"imageId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
}

type ExistingImagesBody struct {
	Images  []whiteboard.Image  `json:"images"`
	Strokes []whiteboard.Stroke `json:"strokes,omitempty"`
}

type TimerSyncBody struct {
	RoomID     string      `json:"roomId"`
	TimerState timer.State `json:"timerState"`
}

type TimerSettingsBody struct {
	Settings timer.Settings `json:"settings"`
	UserID   string         `json:"userId"`
}

type TimerControlBody struct {
	Action timer.Action `json:"action"`
	UserID string       `json:"userId"`
}
