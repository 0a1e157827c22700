package tui

import (
	"time"

	"newsdedup/api"
)

// StatsUpdateMsg carries the result of a stats poll
type StatsUpdateMsg struct {
	Stats *api.StatsResponse
	Err   error
}

// TickMsg is sent periodically to trigger polling
type TickMsg struct {
	Time time.Time
}

// SavedMsg reports the outcome of a save request
type SavedMsg struct {
	Err error
}
