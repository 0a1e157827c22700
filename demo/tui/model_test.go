package tui

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsdedup/api"
	"newsdedup/deduplication"
	"newsdedup/types"
)

type fakeServer struct {
	entries atomic.Int64
	saves   atomic.Int64
	failing atomic.Bool
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/deduplication/stats", func(w http.ResponseWriter, r *http.Request) {
		if f.failing.Load() {
			http.Error(w, "down", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(api.StatsResponse{
			Stats:    deduplication.Stats{Entries: int(f.entries.Load()), NextID: f.entries.Load()},
			Verdicts: map[types.Verdict]int{types.VerdictNovel: 3, types.VerdictExactDuplicate: 1},
		})
	})
	mux.HandleFunc("/api/deduplication/save", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		f.saves.Add(1)
		_, _ = w.Write([]byte(`{"status":"saved"}`))
	})
	return mux
}

func newTestModel(t *testing.T) (Model, *fakeServer) {
	t.Helper()
	fs := &fakeServer{}
	srv := httptest.NewServer(fs.handler())
	t.Cleanup(srv.Close)
	return NewModel(srv.URL + "/"), fs
}

func step(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out, cmd
}

func TestPollUpdatesStats(t *testing.T) {
	m, fs := newTestModel(t)
	fs.entries.Store(2)

	m, _ = step(t, m, pollStats(m.Client)())
	require.True(t, m.Connected)
	require.NotNil(t, m.Stats)
	assert.Equal(t, 2, m.Stats.Entries)

	fs.entries.Store(5)
	m, _ = step(t, m, pollStats(m.Client)())
	assert.Equal(t, 5, m.Stats.Entries)
	assert.Contains(t, m.Logs[len(m.Logs)-1].Message, "3 new article(s)")

	view := m.View()
	assert.Contains(t, view, "Entries")
	assert.Contains(t, view, "exact_duplicate")
}

func TestPollFailureDisconnects(t *testing.T) {
	m, fs := newTestModel(t)
	m, _ = step(t, m, pollStats(m.Client)())
	require.True(t, m.Connected)

	fs.failing.Store(true)
	m, _ = step(t, m, pollStats(m.Client)())
	assert.False(t, m.Connected)
	assert.Error(t, m.Err)
	logs := len(m.Logs)

	m, _ = step(t, m, pollStats(m.Client)())
	assert.Len(t, m.Logs, logs, "repeated failures are logged once")
	assert.Contains(t, m.View(), TextDisconnected)
}

func TestSaveKey(t *testing.T) {
	m, fs := newTestModel(t)

	m, cmd := step(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'s'}})
	require.NotNil(t, cmd)
	assert.True(t, m.Saving)

	_, again := step(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'s'}})
	assert.Nil(t, again, "a second save waits for the first")

	m, _ = step(t, m, cmd())
	assert.False(t, m.Saving)
	assert.Equal(t, int64(1), fs.saves.Load())
	assert.Equal(t, "State saved", m.Logs[len(m.Logs)-1].Message)
}

func TestQuitKey(t *testing.T) {
	m, _ := newTestModel(t)
	_, cmd := step(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestLogsAreBounded(t *testing.T) {
	m := NewModel("http://localhost:1")
	for i := 0; i < maxLogs+5; i++ {
		m = m.AddLog(strings.Repeat("x", i))
	}
	assert.Len(t, m.Logs, maxLogs)
	assert.Equal(t, strings.Repeat("x", maxLogs+4), m.Logs[maxLogs-1].Message)
}

func TestVerdictColorsAreDistinct(t *testing.T) {
	colors := map[string]types.Verdict{}
	for _, v := range []types.Verdict{
		types.VerdictNovel,
		types.VerdictExactDuplicate,
		types.VerdictNearDuplicate,
		types.VerdictSemanticDuplicate,
		types.VerdictArbitratedDuplicate,
		types.VerdictFallbackDuplicate,
	} {
		c, ok := verdictColors[v]
		require.True(t, ok, v)
		_, taken := colors[c]
		assert.False(t, taken, "%s reuses %s", v, c)
		colors[c] = v
	}
	assert.Equal(t, InfoStyle.GetForeground(), VerdictStyle("unknown").GetForeground())
}
