package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"newsdedup/config"
)

// pollStats creates a command to fetch engine stats
func pollStats(client *APIClient) tea.Cmd {
	return func() tea.Msg {
		stats, err := client.GetStats()
		return StatsUpdateMsg{Stats: stats, Err: err}
	}
}

// triggerSave creates a command that forces a state save
func triggerSave(client *APIClient) tea.Cmd {
	return func() tea.Msg {
		return SavedMsg{Err: client.Save()}
	}
}

// tickCmd schedules the next poll
func tickCmd() tea.Cmd {
	return tea.Tick(config.StatsPollInterval, func(t time.Time) tea.Msg {
		return TickMsg{Time: t}
	})
}
