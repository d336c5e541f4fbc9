package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"
)

// Brand color palette
var (
	colorPrimary      = lipgloss.Color("#3B82F6") // Outbox blue - main brand
	colorPrimaryLight = lipgloss.Color("#60A5FA")
	colorPrimaryDark  = lipgloss.Color("#1D4ED8")

	colorText  = lipgloss.Color("#F2F3F3")
	colorMuted = lipgloss.Color("240")

	colorSuccess = lipgloss.Color("#22C55E")
	colorWarning = lipgloss.Color("#F59E0B")
	colorError   = lipgloss.Color("#EF4444")
)

// Styles
var (
	successStyle = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(colorWarning).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(colorPrimary)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)
	labelStyle   = lipgloss.NewStyle().Foreground(colorPrimaryLight).Bold(true)
	valueStyle   = lipgloss.NewStyle().Foreground(colorText)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorPrimary).
			Padding(0, 1)
	errorPanelStyle = panelStyle.BorderForeground(colorError)
)

// Icons
const (
	iconSuccess = "✓"
	iconError   = "✗"
	iconWarning = "⚠"
	iconInfo    = "●"
)

// Tests set testIsTTYOverride to force either rendering mode.
var (
	testIsTTYOverride *bool
	testIsTTYMutex    sync.Mutex
)

// isTTY returns true if stdout is a terminal
func isTTY() bool {
	testIsTTYMutex.Lock()
	override := testIsTTYOverride
	testIsTTYMutex.Unlock()
	if override != nil {
		return *override
	}
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// printStyled prints a message with an icon, applying style only in TTY mode
func printStyled(w io.Writer, icon string, style lipgloss.Style, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if isTTY() {
		fmt.Fprintf(w, "%s %s\n", style.Render(icon), msg)
	} else {
		fmt.Fprintf(w, "%s %s\n", icon, msg)
	}
}

func printSuccess(w io.Writer, format string, args ...interface{}) {
	printStyled(w, iconSuccess, successStyle, format, args...)
}

func printError(w io.Writer, format string, args ...interface{}) {
	printStyled(w, iconError, errorStyle, format, args...)
}

func printWarning(w io.Writer, format string, args ...interface{}) {
	printStyled(w, iconWarning, warningStyle, format, args...)
}

func printInfo(w io.Writer, format string, args ...interface{}) {
	printStyled(w, iconInfo, infoStyle, format, args...)
}

// printMuted prints muted/secondary text
func printMuted(w io.Writer, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if isTTY() {
		fmt.Fprintln(w, mutedStyle.Render(msg))
	} else {
		fmt.Fprintln(w, msg)
	}
}

// printField prints a "label: value" line.
func printField(w io.Writer, label string, value interface{}) {
	if isTTY() {
		fmt.Fprintf(w, "%s %s\n", labelStyle.Render(label+":"), valueStyle.Render(fmt.Sprint(value)))
	} else {
		fmt.Fprintf(w, "%s: %v\n", label, value)
	}
}

// renderTable renders rows under headers. TTY output gets rounded borders;
// otherwise columns are padded plain text.
func renderTable(headers []string, rows [][]string) string {
	if isTTY() {
		t := table.New().
			Border(lipgloss.RoundedBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(colorMuted)).
			Headers(headers...).
			Rows(rows...).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return labelStyle.Padding(0, 1)
				}
				return lipgloss.NewStyle().Padding(0, 1)
			})
		return t.String()
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var sb strings.Builder
	writeRow := func(cells []string) {
		for i := range headers {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			if i == len(headers)-1 {
				sb.WriteString(cell)
			} else {
				sb.WriteString(fmt.Sprintf("%-*s  ", widths[i], cell))
			}
		}
		sb.WriteString("\n")
	}
	writeRow(headers)
	for _, row := range rows {
		writeRow(row)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// renderPanel renders content in a bordered panel on a TTY.
func renderPanel(title, content string) string {
	if !isTTY() {
		if title == "" {
			return content
		}
		return title + "\n" + content
	}
	body := content
	if title != "" {
		body = labelStyle.Render(title) + "\n" + content
	}
	return panelStyle.Render(body)
}

// renderErrorPanel renders an error with optional context and suggestion.
func renderErrorPanel(msg, context, suggestion string) string {
	lines := []string{msg}
	if context != "" {
		lines = append(lines, "", "Context: "+context)
	}
	if suggestion != "" {
		lines = append(lines, "Suggestion: "+suggestion)
	}
	body := strings.Join(lines, "\n")
	if !isTTY() {
		return body
	}
	return errorPanelStyle.Render(errorStyle.Render(iconError+" ") + body)
}
