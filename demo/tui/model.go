package tui

import (
	"fmt"
	"sort"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"newsdedup/api"
	"newsdedup/types"
)

// maxLogs bounds the activity list
const maxLogs = 8

// LogEntry represents a single log line with timestamp
type LogEntry struct {
	Timestamp time.Time
	Message   string
}

// Model is the dashboard state
type Model struct {
	Client *APIClient

	Stats     *api.StatsResponse
	Logs      []LogEntry
	Err       error
	Connected bool
	Saving    bool
	LastPoll  time.Time

	// now is swapped in tests
	now func() time.Time
}

// NewModel creates a new dashboard model
func NewModel(apiURL string) Model {
	return Model{
		Client: NewAPIClient(apiURL),
		Logs:   make([]LogEntry, 0, maxLogs),
		now:    time.Now,
	}
}

// Init implements tea.Model interface
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		pollStats(m.Client),
		tickCmd(),
	)
}

// AddLog appends an activity line, dropping the oldest beyond maxLogs
func (m Model) AddLog(msg string) Model {
	logs := append(append([]LogEntry(nil), m.Logs...), LogEntry{Timestamp: m.clock(), Message: msg})
	if len(logs) > maxLogs {
		logs = logs[len(logs)-maxLogs:]
	}
	m.Logs = logs
	return m
}

func (m Model) clock() time.Time {
	if m.now == nil {
		return time.Now()
	}
	return m.now()
}

// verdictRows returns recorded verdict totals in a stable order
func (m Model) verdictRows() []string {
	if m.Stats == nil || len(m.Stats.Verdicts) == 0 {
		return nil
	}
	verdicts := make([]types.Verdict, 0, len(m.Stats.Verdicts))
	for v := range m.Stats.Verdicts {
		verdicts = append(verdicts, v)
	}
	sort.Slice(verdicts, func(i, j int) bool { return verdicts[i] < verdicts[j] })

	rows := make([]string, 0, len(verdicts))
	for _, v := range verdicts {
		rows = append(rows, LabelStyle.Render(string(v))+VerdictStyle(v).Render(fmt.Sprintf("%d", m.Stats.Verdicts[v])))
	}
	return rows
}
