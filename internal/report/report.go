// Package report renders schedules and dependency checks for the terminal.
package report

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/vithaluntold/accute1-sub000/pkg/models"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true)
	headerStyle   = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle     = lipgloss.NewStyle().Padding(0, 1)
	criticalStyle = cellStyle.Foreground(lipgloss.Color("9"))
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// FormatMinutes renders a duration in minutes as days, hours and minutes of
// wall-clock time, e.g. 1d 2h 5m.
func FormatMinutes(m int) string {
	if m == 0 {
		return "0m"
	}
	sign := ""
	if m < 0 {
		sign, m = "-", -m
	}
	var parts []string
	if d := m / (24 * 60); d > 0 {
		parts = append(parts, strconv.Itoa(d)+"d")
	}
	if h := m % (24 * 60) / 60; h > 0 {
		parts = append(parts, strconv.Itoa(h)+"h")
	}
	if mm := m % 60; mm > 0 {
		parts = append(parts, strconv.Itoa(mm)+"m")
	}
	return sign + strings.Join(parts, " ")
}

// Schedule renders a critical-path result as a table, critical rows
// highlighted.
func Schedule(cp *models.CriticalPath) string {
	rows := make([][]string, 0, len(cp.Tasks))
	for _, ts := range cp.Tasks {
		critical := ""
		if ts.Critical {
			critical = "yes"
		}
		rows = append(rows, []string{
			ts.Name,
			FormatMinutes(ts.Duration),
			FormatMinutes(ts.EarliestStart),
			FormatMinutes(ts.EarliestFinish),
			FormatMinutes(ts.LatestStart),
			FormatMinutes(ts.LatestFinish),
			FormatMinutes(ts.Slack),
			critical,
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers("TASK", "DURATION", "ES", "EF", "LS", "LF", "SLACK", "CRITICAL").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case cp.Tasks[row].Critical:
				return criticalStyle
			}
			return cellStyle
		})

	var b strings.Builder
	b.WriteString(titleStyle.Render("Workflow " + cp.WorkflowID))
	b.WriteString("\n")
	b.WriteString(t.Render())
	b.WriteString("\n")
	fmt.Fprintf(&b, "Project duration: %s, %d critical of %d tasks\n",
		FormatMinutes(cp.ProjectDuration), len(cp.CriticalTaskIDs), len(cp.Tasks))
	return b.String()
}

// Validation renders the result of a full dependency check.
func Validation(workflowID string, v *models.DependencyValidation) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Workflow " + workflowID))
	b.WriteString("\n")
	if v.Valid {
		b.WriteString(okStyle.Render("dependency graph is valid"))
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(failStyle.Render("dependency graph is invalid"))
	b.WriteString("\n")
	if len(v.CycleTaskIDs) > 0 {
		fmt.Fprintf(&b, "Tasks on a cycle: %s\n", strings.Join(v.CycleTaskIDs, ", "))
	}
	if len(v.DanglingEdges) > 0 {
		rows := make([][]string, 0, len(v.DanglingEdges))
		for _, d := range v.DanglingEdges {
			rows = append(rows, []string{d.FromTaskID, d.ToTaskID, string(d.Type)})
		}
		t := table.New().
			Border(lipgloss.NormalBorder()).
			Headers("FROM", "TO", "TYPE").
			Rows(rows...).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return headerStyle
				}
				return cellStyle
			})
		b.WriteString("Dangling edges:\n")
		b.WriteString(t.Render())
		b.WriteString("\n")
	}
	return b.String()
}
