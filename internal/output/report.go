package output

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/model"
)

var (
	reportTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	reportKey   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(18)
	reportOK    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	reportWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	reportPanel = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
)

// RenderReport formats the end-of-run summary as a bordered panel.
func RenderReport(s model.RunSummary) string {
	rows := [][2]string{
		{"run", s.RunName},
		{"run id", s.RunID},
		{"epochs", fmt.Sprintf("%d/%d", s.Completed, s.Epochs)},
	}
	if s.HasBest {
		rows = append(rows, [2]string{"best score", reportOK.Render(fmt.Sprintf("%.4f (epoch %d)", s.BestScore, s.BestEpoch))})
	} else {
		rows = append(rows, [2]string{"best score", reportWarn.Render("no validation epoch")})
	}
	rows = append(rows, [2]string{"triggers", fmt.Sprintf("%d", s.Triggers)})
	if s.Stopped {
		rows = append(rows, [2]string{"stopped early", reportWarn.Render("yes")})
	}
	if s.BestCheckpoint != "" {
		rows = append(rows, [2]string{"best checkpoint", s.BestCheckpoint})
	}
	rows = append(rows,
		[2]string{"final checkpoint", s.FinalCheckpoint},
		[2]string{"duration", s.Duration.Round(1e6).String()},
	)

	lines := []string{reportTitle.Render("Training finished")}
	for _, r := range rows {
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, reportKey.Render(r[0]), r[1]))
	}
	return reportPanel.Render(strings.Join(lines, "\n"))
}
