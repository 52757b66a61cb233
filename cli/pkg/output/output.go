package output

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("51"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	headerStyle  = lipgloss.NewStyle().Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	severityCritical = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	severityWarning  = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	severityInfo     = lipgloss.NewStyle().Foreground(lipgloss.Color("69"))

	stateOpen         = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	stateAcknowledged = lipgloss.NewStyle().Foreground(lipgloss.Color("141"))
	stateResolved     = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
)

func Success(format string, a ...interface{}) {
	fmt.Println(successStyle.Render("✓ " + fmt.Sprintf(format, a...)))
}

func Error(format string, a ...interface{}) {
	fmt.Fprintln(os.Stderr, errorStyle.Render("✗ "+fmt.Sprintf(format, a...)))
}

func Info(format string, a ...interface{}) {
	fmt.Println(infoStyle.Render(fmt.Sprintf(format, a...)))
}

func Warn(format string, a ...interface{}) {
	fmt.Println(warnStyle.Render("⚠ " + fmt.Sprintf(format, a...)))
}

func Muted(s string) string {
	return mutedStyle.Render(s)
}

// Severity colours an incident or anomaly severity.
func Severity(s string) string {
	switch s {
	case "critical":
		return severityCritical.Render(s)
	case "warning":
		return severityWarning.Render(s)
	case "info":
		return severityInfo.Render(s)
	default:
		return s
	}
}

// State colours an incident lifecycle state.
func State(s string) string {
	switch s {
	case "open":
		return stateOpen.Render(s)
	case "acknowledged":
		return stateAcknowledged.Render(s)
	case "resolved":
		return stateResolved.Render(s)
	default:
		return s
	}
}

// Verdict colours a quality verdict.
func Verdict(pass bool) string {
	if pass {
		return successStyle.Render("PASS")
	}
	return errorStyle.Render("FAIL")
}

func JSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type Table struct {
	headers []string
	rows    [][]string
}

func NewTable(headers []string) *Table {
	return &Table{
		headers: headers,
		rows:    [][]string{},
	}
}

func (t *Table) AddRow(row []string) {
	t.rows = append(t.rows, row)
}

// Render prints the table to stdout. Widths ignore ANSI sequences so styled
// cells stay aligned.
func (t *Table) Render() {
	widths := make([]int, len(t.headers))
	for i, header := range t.headers {
		widths[i] = lipgloss.Width(header)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}

	var b strings.Builder
	for i, header := range t.headers {
		b.WriteString(headerStyle.Render(pad(header, widths[i])))
		b.WriteString("  ")
	}
	b.WriteString("\n")

	for i := range t.headers {
		b.WriteString(strings.Repeat("-", widths[i]) + "  ")
	}
	b.WriteString("\n")

	for _, row := range t.rows {
		for i, cell := range row {
			if i >= len(widths) {
				break
			}
			b.WriteString(pad(cell, widths[i]))
			b.WriteString("  ")
		}
		b.WriteString("\n")
	}
	fmt.Print(b.String())
}

func pad(s string, width int) string {
	if n := width - lipgloss.Width(s); n > 0 {
		return s + strings.Repeat(" ", n)
	}
	return s
}
