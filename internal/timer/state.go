// Package timer is the shared pomodoro timer. Nobody owns it: whoever acts
// last broadcasts the full state and everybody else overwrites theirs.
package timer

import "time"

type Settings struct {
	FocusTime         int `json:"focusTime"         validate:"min=1,max=180"`
	ShortBreak        int `json:"shortBreak"        validate:"min=1,max=60"`
	LongBreak         int `json:"longBreak"         validate:"min=1,max=120"`
	LongBreakInterval int `json:"longBreakInterval" validate:"min=1,max=12"`
}

func DefaultSettings() Settings {
	return Settings{FocusTime: 25, ShortBreak: 5, LongBreak: 15, LongBreakInterval: 4}
}

// State is the full replicated timer. TimeLeft is in seconds, LastSyncTime in
// unix milliseconds.
type State struct {
	TimeLeft          int      `json:"timeLeft"          validate:"gte=0"`
	IsRunning         bool     `json:"isRunning"`
	IsBreak           bool     `json:"isBreak"`
	CompletedSessions int      `json:"completedSessions" validate:"gte=0"`
	Settings          Settings `json:"settings"`
	LastSyncTime      int64    `json:"lastSyncTime"`
}

func Default(now time.Time) State {
	s := DefaultSettings()
	return State{
		TimeLeft:     s.FocusTime * 60,
		Settings:     s,
		LastSyncTime: now.UnixMilli(),
	}
}

type Action string

const (
	Start   Action = "start"
	Pause   Action = "pause"
	Reset   Action = "reset"
	Skip    Action = "skip"
	Request Action = "request"
)

func (a Action) Valid() bool {
	switch a {
	case Start, Pause, Reset, Skip, Request:
		return true
	}
	return false
}
