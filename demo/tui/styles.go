package tui

import (
	"github.com/charmbracelet/lipgloss"

	"newsdedup/types"
)

// Dashboard chrome
const (
	colorAccent = "#5A8DEE"
	colorMuted  = "#6C7086"
	colorText   = "#F5F5F5"
	colorFrame  = "#45475A"
	colorAlert  = "#E64553"
)

// One color per verdict, cooler the cheaper the layer that decided it
var verdictColors = map[types.Verdict]string{
	types.VerdictNovel:               "#40A02B",
	types.VerdictExactDuplicate:      "#7287FD",
	types.VerdictNearDuplicate:       "#04A5E5",
	types.VerdictSemanticDuplicate:   "#DF8E1D",
	types.VerdictArbitratedDuplicate: "#FE640B",
	types.VerdictFallbackDuplicate:   "#EA76CB",
}

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(colorAccent)).
			MarginTop(1).
			MarginBottom(1)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorAlert))

	InfoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorMuted))

	LabelStyle = lipgloss.NewStyle().
			Width(22)

	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(colorFrame)).
			Padding(1, 2)

	SectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(colorText)).
			Background(lipgloss.Color(colorAccent)).
			Padding(0, 1)
)

// VerdictStyle renders counts and log lines for verdict v
func VerdictStyle(v types.Verdict) lipgloss.Style {
	c, ok := verdictColors[v]
	if !ok {
		return InfoStyle
	}
	return lipgloss.NewStyle().Bold(v == types.VerdictNovel).Foreground(lipgloss.Color(c))
}
