package whiteboard

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultColor     = "#3b82f6"
	DefaultBrushSize = 3
	EraseColor       = "#ffffff"
	MaxBrushSize     = 64
)

var ErrInvalidStroke = errors.New("invalid stroke")

type Kind string

const (
	KindDraw  Kind = "draw"
	KindErase Kind = "erase"
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Stroke is one pointer-down to pointer-up gesture. Once accepted it is
// immutable except for its tombstone flag.
type Stroke struct {
	Seq       uint64  `json:"seq"`
	Points    []Point `json:"points"    validate:"min=1"`
	Color     string  `json:"color"     validate:"hexcolor,len=7"`
	BrushSize float64 `json:"brushSize" validate:"gte=1,lte=64"`
	Type      Kind    `json:"type"      validate:"oneof=draw erase"`
	UserID    string  `json:"userId"`
	UserName  string  `json:"userName"`
	Undone    bool    `json:"undone,omitempty"`
}

var validate = validator.New()

// Validate accepts only #rrggbb colors; the short #rgb form is rejected.
func (s Stroke) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidStroke, err)
	}
	return nil
}

// InkColor is the color the stroke paints with; erasing paints background.
func (s Stroke) InkColor() string {
	if s.Type == KindErase {
		return EraseColor
	}
	return s.Color
}

// Segments is the number of polyline segments the stroke renders as.
func (s Stroke) Segments() int {
	if len(s.Points) < 2 {
		return 0
	}
	return len(s.Points) - 1
}
