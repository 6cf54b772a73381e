package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"studysync/internal/call"
	"studysync/internal/timer"
	"studysync/internal/whiteboard"
	"studysync/internal/ws"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const chatBacklog = 100

type Options struct {
	RoomID      string
	UserID      string
	UserName    string
	Dialer      Dialer
	Microphone  Microphone
	DragRate    rate.Limit
	ResyncEvery int
}

// Session is one participant's view of one room. Events from the relay go
// through Handle, normally from Run; local actions are methods.
type Session struct {
	opts Options
	out  Sender

	Canvas *Canvas
	Mesh   *Mesh
	Timer  *timer.Replica

	mu      sync.Mutex
	roster  map[string]string
	members []call.Member
	inCall  bool
	chat    []ws.ChatBody
	lastErr string
}

func NewSession(out Sender, opts Options) *Session {
	if opts.Dialer == nil {
		opts.Dialer = PionDialer{}
	}
	if opts.Microphone == nil {
		opts.Microphone = OpenMicrophone{}
	}
	if opts.DragRate == 0 {
		opts.DragRate = DefaultDragRate
	}
	return &Session{
		opts:   opts,
		out:    out,
		Canvas: NewCanvas(opts.RoomID, opts.UserID, opts.UserName, out, opts.DragRate),
		Mesh:   NewMesh(opts.RoomID, opts.UserID, out, opts.Dialer),
		Timer:  timer.NewReplica(opts.ResyncEvery),
		roster: make(map[string]string),
	}
}

func (s *Session) ref() ws.RoomRef { return ws.RoomRef{RoomID: s.opts.RoomID} }

func (s *Session) callRequest() ws.CallRequest {
	return ws.CallRequest{RoomRef: s.ref(), UserID: s.opts.UserID, UserName: s.opts.UserName}
}

// Join enters the room and asks for the board and timer as they are now.
func (s *Session) Join() error {
	if err := s.out.Send(ws.EvtJoinRoom, ws.JoinRoomRequest{RoomID: s.opts.RoomID}); err != nil {
		return err
	}
	if err := s.out.Send(ws.EvtRequestExistingImages, s.ref()); err != nil {
		return err
	}
	return s.out.Send(ws.EvtRequestTimerState, s.ref())
}

func (s *Session) Leave() error {
	s.Mesh.CloseAll("left_room")
	s.mu.Lock()
	s.inCall = false
	s.mu.Unlock()
	return s.out.Send(ws.EvtLeaveRoom, ws.JoinRoomRequest{RoomID: s.opts.RoomID})
}

func (s *Session) Say(content string) error {
	return s.out.Send(ws.EvtChatMessage, ws.ChatRequest{RoomRef: s.ref(), Content: content})
}

// StartCall starts the room call, or joins it if one is running. Audio
// capture is acquired first; when it is refused the room hears nothing.
func (s *Session) StartCall() error {
	if err := s.acquireMic(); err != nil {
		return err
	}
	return s.out.Send(ws.EvtStartCall, s.callRequest())
}

func (s *Session) JoinCall() error {
	if err := s.acquireMic(); err != nil {
		return err
	}
	return s.out.Send(ws.EvtJoinCall, s.callRequest())
}

func (s *Session) acquireMic() error {
	if err := s.opts.Microphone.Acquire(); err != nil {
		return fmt.Errorf("%w: %v", ErrMicrophoneDenied, err)
	}
	return nil
}

func (s *Session) LeaveCall() error {
	s.Mesh.CloseAll("left_call")
	s.mu.Lock()
	s.inCall = false
	s.mu.Unlock()
	return s.out.Send(ws.EvtLeaveCall, s.callRequest())
}

func (s *Session) EndCall() error { return s.out.Send(ws.EvtEndCall, s.callRequest()) }

func (s *Session) Speak(on bool) error {
	if on {
		return s.out.Send(ws.EvtAudioStart, s.callRequest())
	}
	return s.out.Send(ws.EvtAudioStop, s.callRequest())
}

// ControlTimer applies a start/pause/reset/skip locally and broadcasts the
// resulting state.
func (s *Session) ControlTimer(a timer.Action) error {
	if !a.Valid() {
		return fmt.Errorf("unknown timer action %q", a)
	}
	st, changed := s.Timer.Control(a)
	if changed {
		if err := s.out.Send(ws.EvtTimerSync, ws.TimerSyncRequest{RoomRef: s.ref(), TimerState: st}); err != nil {
			return err
		}
	}
	return s.out.Send(ws.EvtTimerControl, ws.TimerControlRequest{RoomRef: s.ref(), Action: a, UserID: s.opts.UserID})
}

func (s *Session) UpdateTimerSettings(set timer.Settings) error {
	st := s.Timer.UpdateSettings(set)
	if err := s.out.Send(ws.EvtTimerSettingsUpdate, ws.TimerSettingsRequest{RoomRef: s.ref(), Settings: set}); err != nil {
		return err
	}
	return s.out.Send(ws.EvtTimerSync, ws.TimerSyncRequest{RoomRef: s.ref(), TimerState: st})
}

// Tick advances the local timer by one second and re-broadcasts when this
// participant is the one keeping the others in step.
func (s *Session) Tick() error {
	st, resync, _ := s.Timer.Tick()
	if !resync {
		return nil
	}
	return s.out.Send(ws.EvtTimerSync, ws.TimerSyncRequest{RoomRef: s.ref(), TimerState: st})
}

// Run applies incoming events and ticks the timer until ctx is done or in
// is closed.
func (s *Session) Run(ctx context.Context, in <-chan ws.Envelope) error {
	tk := time.NewTicker(time.Second)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-in:
			if !ok {
				s.Mesh.CloseAll("disconnected")
				return ErrClosed
			}
			if err := s.Handle(ctx, env); err != nil {
				zap.L().Debug("client.event", zap.String("event", env.Event), zap.Error(err))
			}
		case <-tk.C:
			if err := s.Tick(); err != nil {
				zap.L().Debug("client.timer_sync", zap.Error(err))
			}
		}
	}
}

func decode[T any](env ws.Envelope) (T, error) {
	var v T
	err := json.Unmarshal(env.Body, &v)
	return v, err
}

// Handle applies one event from the relay.
func (s *Session) Handle(ctx context.Context, env ws.Envelope) error {
	switch env.Event {
	case ws.EvtError:
		b, err := decode[ws.ErrorBody](env)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.lastErr = b.Error
		s.mu.Unlock()
		zap.L().Warn("client.relay_error", zap.String("code", b.Error))

	case ws.EvtCurrentUsers:
		b, err := decode[ws.CurrentUsersBody](env)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.roster = make(map[string]string, len(b.Users))
		for _, u := range b.Users {
			s.roster[u.ID] = u.Name
		}
		s.mu.Unlock()
	case ws.EvtUserJoined, ws.EvtUserLeft:
		b, err := decode[ws.UserRef](env)
		if err != nil {
			return err
		}
		s.mu.Lock()
		if env.Event == ws.EvtUserJoined {
			s.roster[b.ID] = b.Name
		} else {
			delete(s.roster, b.ID)
		}
		s.mu.Unlock()

	case ws.EvtChatMessage:
		b, err := decode[ws.ChatBody](env)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.chat = append(s.chat, b)
		if len(s.chat) > chatBacklog {
			s.chat = s.chat[len(s.chat)-chatBacklog:]
		}
		s.mu.Unlock()

	case ws.EvtCallStarted:
		b, err := decode[ws.CallStartedBody](env)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.members = b.Members
		s.inCall = b.StartedBy == s.opts.UserID
		s.mu.Unlock()
	case ws.EvtUserJoinedCall:
		b, err := decode[ws.CallMemberBody](env)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.members = b.Members
		self := b.UserID == s.opts.UserID
		if self {
			s.inCall = true
		}
		s.mu.Unlock()
		// The newcomer offers to everyone already in the call.
		if self {
			if failed := s.Mesh.Connect(ctx, b.Peers); len(failed) > 0 {
				zap.L().Info("call.partial_mesh", zap.Strings("failed", failed))
			}
		}
	case ws.EvtUserLeftCall:
		b, err := decode[ws.CallMemberBody](env)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.members = b.Members
		self := b.UserID == s.opts.UserID
		if self {
			s.inCall = false
		}
		s.mu.Unlock()
		if self {
			s.Mesh.CloseAll("left_call")
		} else {
			s.Mesh.Close(b.UserID, "left_call")
		}
	case ws.EvtCallEnded:
		s.mu.Lock()
		s.members = nil
		s.inCall = false
		s.mu.Unlock()
		s.Mesh.CloseAll("call_ended")

	case ws.EvtAudioOffer, ws.EvtAudioAnswer, ws.EvtAudioIceCandidate:
		b, err := decode[ws.SignalBody](env)
		if err != nil {
			return err
		}
		if !s.InCall() {
			return nil
		}
		switch env.Event {
		case ws.EvtAudioOffer:
			return s.Mesh.HandleOffer(ctx, b)
		case ws.EvtAudioAnswer:
			return s.Mesh.HandleAnswer(b)
		default:
			return s.Mesh.HandleCandidate(b)
		}
	case ws.EvtPeerLinkClosed:
		b, err := decode[ws.PeerLinkClosedBody](env)
		if err != nil {
			return err
		}
		other := b.UserID
		if other == s.opts.UserID {
			other = b.PeerID
		}
		s.Mesh.Close(other, b.Reason)

	case ws.EvtAudioStarted, ws.EvtAudioStopped:
		b, err := decode[ws.SpeakerBody](env)
		if err != nil {
			return err
		}
		s.Mesh.SetSpeaking(b.UserID, env.Event == ws.EvtAudioStarted)
	case ws.EvtActiveSpeakers:
		b, err := decode[ws.ActiveSpeakersBody](env)
		if err != nil {
			return err
		}
		s.Mesh.ResetSpeakers(b.Speakers)

	case ws.EvtWhiteboardDraw:
		b, err := decode[whiteboard.Stroke](env)
		if err != nil {
			return err
		}
		s.Canvas.OnStroke(b)
	case ws.EvtWhiteboardDraw + "-ack":
		b, err := decode[ws.DrawAck](env)
		if err != nil {
			return err
		}
		s.Canvas.OnDrawAck(b)
	case ws.EvtWhiteboardClear:
		s.Canvas.OnClear()
	case ws.EvtWhiteboardUndo, ws.EvtWhiteboardRedo:
		b, err := decode[ws.HistoryBody](env)
		if err != nil {
			return err
		}
		if env.Event == ws.EvtWhiteboardUndo {
			s.Canvas.OnUndo(b)
		} else {
			s.Canvas.OnRedo(b)
		}
	case ws.EvtImageUpload:
		b, err := decode[whiteboard.Image](env)
		if err != nil {
			return err
		}
		s.Canvas.OnImage(b)
	case ws.EvtImageMove:
		b, err := decode[ws.ImageMoveBody](env)
		if err != nil {
			return err
		}
		s.Canvas.OnMove(b)
	case ws.EvtImageResize:
		b, err := decode[ws.ImageResizeBody](env)
		if err != nil {
			return err
		}
		s.Canvas.OnResize(b)
	case ws.EvtImageLock, ws.EvtImageUnlock:
		b, err := decode[ws.ImageLockBody](env)
		if err != nil {
			return err
		}
		if env.Event == ws.EvtImageLock {
			s.Canvas.OnLock(b)
		} else {
			s.Canvas.OnUnlock(b)
		}
	case ws.EvtExistingImages:
		b, err := decode[ws.ExistingImagesBody](env)
		if err != nil {
			return err
		}
		s.Canvas.OnExisting(b)

	case ws.EvtTimerSync:
		b, err := decode[ws.TimerSyncBody](env)
		if err != nil {
			return err
		}
		s.Timer.Apply(b.TimerState)
		s.Timer.Yield()
	case ws.EvtTimerSettingsUpdate:
		b, err := decode[ws.TimerSettingsBody](env)
		if err != nil {
			return err
		}
		s.Timer.ApplySettings(b.Settings)
		s.Timer.Yield()
	case ws.EvtTimerControl:
		s.Timer.Yield()

	default:
		zap.L().Debug("client.unhandled", zap.String("event", env.Event))
	}
	return nil
}

func (s *Session) InCall() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inCall
}

func (s *Session) CallMembers() []call.Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]call.Member(nil), s.members...)
}

// Roster returns the names of everyone in the room, sorted.
func (s *Session) Roster() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.roster))
	for _, name := range s.roster {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *Session) Chat() []ws.ChatBody {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ws.ChatBody(nil), s.chat...)
}

// LastError is the code of the most recent error frame from the relay.
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}
