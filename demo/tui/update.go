package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

// Update implements tea.Model interface
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)
	case TickMsg:
		return m, tea.Batch(pollStats(m.Client), tickCmd())
	case StatsUpdateMsg:
		return m.handleStats(msg)
	case SavedMsg:
		return m.handleSaved(msg)
	}
	return m, nil
}

// handleKeyPress processes keyboard input
func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "s", "S":
		if m.Saving {
			return m, nil
		}
		m.Saving = true
		m = m.AddLog("Saving state...")
		return m, triggerSave(m.Client)
	}
	return m, nil
}

// handleStats records a poll result; connection changes are logged once
func (m Model) handleStats(msg StatsUpdateMsg) (tea.Model, tea.Cmd) {
	m.LastPoll = m.clock()
	if msg.Err != nil {
		if m.Connected || m.Err == nil {
			m = m.AddLog("Lost connection to " + m.Client.BaseURL())
		}
		m.Connected = false
		m.Err = msg.Err
		return m, nil
	}

	if !m.Connected {
		m = m.AddLog("Connected to " + m.Client.BaseURL())
	}
	if m.Stats != nil && msg.Stats.Entries > m.Stats.Entries {
		m = m.AddLog(fmt.Sprintf("%d new article(s) admitted", msg.Stats.Entries-m.Stats.Entries))
	}
	m.Connected = true
	m.Err = nil
	m.Stats = msg.Stats
	return m, nil
}

// handleSaved processes save completion
func (m Model) handleSaved(msg SavedMsg) (tea.Model, tea.Cmd) {
	m.Saving = false
	if msg.Err != nil {
		m.Err = msg.Err
		m = m.AddLog("Save failed: " + msg.Err.Error())
		return m, nil
	}
	m = m.AddLog("State saved")
	return m, nil
}
