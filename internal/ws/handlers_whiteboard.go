package ws

import (
	"context"

	"studysync/internal/presence"
	"studysync/internal/whiteboard"
)

func (s *WsServer) registerWhiteboardHandlers() {
	Handle(s.router, EvtJoinWhiteboard, func(_ context.Context, cc *ConnContext, _ WhiteboardPresenceRequest) error {
		r := cc.Room
		if !r.board.JoinViewer(cc.UserID, cc.UserName) {
			return nil
		}
		r.setCap(cc.UserID, presence.Whiteboard, true)
		r.broadcast(EvtUserJoinedWhiteboard, SpeakerBody{UserID: cc.UserID, UserName: cc.UserName}, cc.Conn)
		return nil
	})
	Handle(s.router, EvtLeaveWhiteboard, func(_ context.Context, cc *ConnContext, _ WhiteboardPresenceRequest) error {
		r := cc.Room
		if _, ok := r.board.LeaveViewer(cc.UserID); !ok {
			return nil
		}
		r.setCap(cc.UserID, presence.Whiteboard, false)
		r.broadcast(EvtUserLeftWhiteboard, SpeakerBody{UserID: cc.UserID, UserName: cc.UserName}, cc.Conn)
		return nil
	})

	Register(s.router, EvtWhiteboardDraw, "", func(_ context.Context, cc *ConnContext, req DrawRequest) (DrawAck, error) {
		st, err := cc.Room.board.AddStroke(whiteboard.Stroke{
			Points:    req.Points,
			Color:     req.Color,
			BrushSize: req.BrushSize,
			Type:      req.Type,
			UserID:    cc.UserID,
			UserName:  cc.UserName,
		})
		if err != nil {
			return DrawAck{}, badRequest("invalid_stroke", err)
		}
		cc.Room.broadcast(EvtWhiteboardDraw, st, cc.Conn)
		return DrawAck{ClientStrokeID: req.ClientStrokeID, Seq: st.Seq}, nil
	})
	Handle(s.router, EvtWhiteboardClear, func(_ context.Context, cc *ConnContext, _ RoomRef) error {
		cc.Room.board.Clear()
		cc.Room.broadcast(EvtWhiteboardClear, ClearBody{UserID: cc.UserID}, cc.Conn)
		return nil
	})
	Handle(s.router, EvtWhiteboardUndo, func(_ context.Context, cc *ConnContext, _ RoomRef) error {
		seq, err := cc.Room.board.Undo(cc.UserID)
		if err != nil {
			return err
		}
		cc.Room.broadcast(EvtWhiteboardUndo, HistoryBody{UserID: cc.UserID, Seq: seq}, nil)
		return nil
	})
	Handle(s.router, EvtWhiteboardRedo, func(_ context.Context, cc *ConnContext, _ RoomRef) error {
		seq, err := cc.Room.board.Redo(cc.UserID)
		if err != nil {
			return err
		}
		cc.Room.broadcast(EvtWhiteboardRedo, HistoryBody{UserID: cc.UserID, Seq: seq}, nil)
		return nil
	})

	Handle(s.router, EvtImageUpload, func(_ context.Context, cc *ConnContext, req ImageUploadRequest) error {
		img, err := cc.Room.board.AddImage(whiteboard.Image{
			ID:         req.ImageID,
			Src:        req.Src,
			X:          req.X,
			Y:          req.Y,
			Width:      req.Width,
			Height:     req.Height,
			UploadedBy: cc.UserID,
		})
		if err != nil {
			return err
		}
		cc.Room.broadcast(EvtImageUpload, img, cc.Conn)
		return nil
	})
	Handle(s.router, EvtImageMove, func(_ context.Context, cc *ConnContext, req ImageMoveRequest) error {
		img, err := cc.Room.board.MoveImage(req.ImageID, cc.UserID, req.X, req.Y)
		if err != nil {
			return err
		}
		cc.Room.broadcast(EvtImageMove, ImageMoveBody{ImageID: img.ID, X: img.X, Y: img.Y, UserID: cc.UserID}, cc.Conn)
		return nil
	})
	Handle(s.router, EvtImageResize, func(_ context.Context, cc *ConnContext, req ImageResizeRequest) error {
		img, err := cc.Room.board.ResizeImage(req.ImageID, cc.UserID, req.Width, req.Height, req.KeepAspectRatio)
		if err != nil {
			return err
		}
		cc.Room.broadcast(EvtImageResize, ImageResizeBody{
			ImageID:         img.ID,
			Width:           img.Width,
			Height:          img.Height,
			KeepAspectRatio: req.KeepAspectRatio,
			UserID:          cc.UserID,
		}, cc.Conn)
		return nil
	})
	// Lock grants go to everyone, the requester included, so the requester
	// learns it actually holds the lock.
	Handle(s.router, EvtImageLock, func(_ context.Context, cc *ConnContext, req ImageRef) error {
		img, err := cc.Room.board.LockImage(req.ImageID, cc.UserID)
		if err != nil {
			return err
		}
		cc.Room.broadcast(EvtImageLock, ImageLockBody{ImageID: img.ID, UserID: cc.UserID, UserName: cc.UserName}, nil)
		return nil
	})
	Handle(s.router, EvtImageUnlock, func(_ context.Context, cc *ConnContext, req ImageRef) error {
		img, err := cc.Room.board.UnlockImage(req.ImageID, cc.UserID)
		if err != nil {
			return err
		}
		cc.Room.broadcast(EvtImageUnlock, ImageLockBody{ImageID: img.ID, UserID: cc.UserID, UserName: cc.UserName}, nil)
		return nil
	})

	Register(s.router, EvtRequestExistingImages, EvtExistingImages, func(_ context.Context, cc *ConnContext, _ RoomRef) (ExistingImagesBody, error) {
		body := ExistingImagesBody{Images: cc.Room.board.Images()}
		if s.opts.ReplayStrokes {
			body.Strokes = cc.Room.board.Strokes()
		}
		return body, nil
	})
}
