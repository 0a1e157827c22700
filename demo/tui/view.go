package tui

import (
	"fmt"
	"strings"

	"newsdedup/types"
)

// View implements tea.Model interface
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(TitleStyle.Render(TextTitle))
	b.WriteString("\n")

	if !m.Connected {
		b.WriteString(ErrorStyle.Render(TextDisconnected))
		if m.Err != nil {
			b.WriteString("\n" + InfoStyle.Render(m.Err.Error()))
		}
		b.WriteString("\n\n")
	} else if s := m.Stats; s != nil {
		var box strings.Builder
		box.WriteString(SectionStyle.Render("Engine"))
		box.WriteString("\n\n")
		box.WriteString(LabelStyle.Render("Entries") + VerdictStyle(types.VerdictNovel).Render(fmt.Sprintf("%d", s.Entries)) + "\n")
		box.WriteString(LabelStyle.Render("Indexed vectors") + fmt.Sprintf("%d", s.Indexed) + "\n")
		box.WriteString(LabelStyle.Render("Next id") + fmt.Sprintf("%d", s.NextID) + "\n")
		box.WriteString(LabelStyle.Render("Exact keys") + fmt.Sprintf("%d", s.ExactKeys) + "\n")
		box.WriteString(LabelStyle.Render("Signature buckets") + fmt.Sprintf("%d", s.SignatureBuckets) + "\n")
		if s.EmbedModel != "" {
			box.WriteString(LabelStyle.Render("Embedding model") + s.EmbedModel + "\n")
		}
		box.WriteString(LabelStyle.Render("Arbitration") + fmt.Sprintf("%v", s.ArbitrationEnabled) + "\n")

		box.WriteString("\n" + SectionStyle.Render("Verdicts") + "\n\n")
		if rows := m.verdictRows(); len(rows) > 0 {
			box.WriteString(strings.Join(rows, "\n"))
		} else {
			box.WriteString(InfoStyle.Render(TextNoDecisions))
		}

		b.WriteString(BoxStyle.Render(box.String()))
		b.WriteString("\n\n")
	}

	if len(m.Logs) > 0 {
		b.WriteString(InfoStyle.Render("📝 Recent Activity:"))
		b.WriteString("\n")
		for _, l := range m.Logs {
			b.WriteString(InfoStyle.Render(fmt.Sprintf("   %s %s", l.Timestamp.Format("15:04:05"), l.Message)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString(InfoStyle.Render(TextFooter))
	return b.String()
}
