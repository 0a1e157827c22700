package tui

// UI Text Constants
const (
	TextTitle        = "📰 News Deduplication Dashboard"
	TextFooter       = "Press 's' to save state | Press 'q' or Ctrl+C to quit"
	TextDisconnected = "❌ Not connected to deduplication API"
	TextNoDecisions  = "No decisions recorded (set DECISION_DB on the server)"
)
