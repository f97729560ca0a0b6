package models

import (
	"time"
)

// Action identifies the kind of a history entry.
type Action string

const (
	ActionStarted         Action = "started"
	ActionStopped         Action = "stopped"
	ActionError           Action = "error"
	ActionSessionsStarted Action = "sessions_started"
	ActionSessionsEnded   Action = "sessions_ended"
	ActionPause           Action = "pause"
	ActionPauseFailed     Action = "pause_failed"
	ActionUnpause         Action = "unpause"
	ActionUnpauseFailed   Action = "unpause_failed"
	ActionForcePause      Action = "force_pause"
	ActionForceUnpause    Action = "force_unpause"
)

// HistoryEntry is one audit record of a monitor action.
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    Action    `json:"action"`
	Details   string    `json:"details"`
}

// ActionResult is the outcome of pausing or unpausing a single container.
type ActionResult struct {
	OK      bool   `json:"success"`
	Message string `json:"message"`
}

// Status is a point-in-time copy of the monitor state.
type Status struct {
	Running          bool           `json:"running"`
	LastCheck        *time.Time     `json:"last_check"`
	LastAction       *string        `json:"last_action"`
	SessionsActive   bool           `json:"sessions_active"`
	ContainersPaused bool           `json:"containers_paused"`
	Error            *string        `json:"error"`
	History          []HistoryEntry `json:"history"`
}

// StatusReport is the monitor status as served over the API.
type StatusReport struct {
	Status
	ConfigEnabled bool `json:"config_enabled"`
}

// BatchResult reports a pause or unpause of every managed container.
type BatchResult struct {
	Success bool                    `json:"success"`
	Results map[string]ActionResult `json:"results"`
}

// ContainerInfo describes a container known to the runtime.
type ContainerInfo struct {
	Name   string `json:"name"`
	ID     string `json:"id"`
	Status string `json:"status"`
	Image  string `json:"image"`
	State  string `json:"state"`
}

// Session is a client connection reported by the media server.
type Session struct {
	ID         string  `json:"id"`
	UserName   string  `json:"user_name"`
	Client     string  `json:"client"`
	DeviceName string  `json:"device_name"`
	IsActive   bool    `json:"is_active"`
	NowPlaying *string `json:"now_playing"`
}

// AllOK reports whether every result in a batch succeeded.
func AllOK(results map[string]ActionResult) bool {
	for _, r := range results {
		if !r.OK {
			return false
		}
	}
	return true
}
