// Package ui holds terminal rendering helpers and the mapping from the
// error taxonomy to user-facing messages.
package ui

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/satchelhq/satchel/internal/model"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	faintStyle   = lipgloss.NewStyle().Faint(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("243"))
	cellStyle   = lipgloss.NewStyle().PaddingRight(2)
)

// Interactive reports whether stdin/stdout are terminals; prompts and
// confirmation forms are skipped otherwise.
func Interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// Title renders a bold heading.
func Title(s string) string { return titleStyle.Render(s) }

// Faint renders de-emphasized detail text.
func Faint(s string) string { return faintStyle.Render(s) }

// Success renders a positive status line.
func Success(s string) string { return successStyle.Render(s) }

// Warn renders a cautionary status line.
func Warn(s string) string { return warnStyle.Render(s) }

// Errorf renders an error line to stderr-appropriate styled text.
func Errorf(format string, args ...any) string {
	return errorStyle.Render(fmt.Sprintf(format, args...))
}

// Table renders rows with a styled header and aligned columns.
func Table(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}

	var b strings.Builder
	for i, h := range headers {
		b.WriteString(headerStyle.Render(cellStyle.Width(widths[i] + 2).Render(h)))
	}
	b.WriteString("\n")
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				b.WriteString(cellStyle.Width(widths[i] + 2).Render(cell))
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

// StatusBadge renders a sync status with a color cue.
func StatusBadge(status model.SyncStatus) string {
	switch status {
	case model.StatusSynced:
		return successStyle.Render(string(status))
	case model.StatusConflict:
		return errorStyle.Render(string(status))
	case model.StatusPendingPush:
		return warnStyle.Render(string(status))
	default:
		return faintStyle.Render(string(status))
	}
}

// Message translates a taxonomy error into the sentence shown to the
// user. Unknown errors pass through verbatim.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, model.ErrNotFound):
		return "Not found. Check the id and try again."
	case errors.Is(err, model.ErrValidation):
		return fmt.Sprintf("Invalid input: %s.", validationDetail(err))
	case errors.Is(err, model.ErrActiveSpace):
		return "That space is active. Switch to another space before deleting it."
	case errors.Is(err, model.ErrConflict):
		return "This item has conflicting edits. Run 'satchel conflicts' to resolve."
	case errors.Is(err, model.ErrNoSession):
		return "Sync is not set up. Add a remote url and token to your config."
	case errors.Is(err, model.ErrSyncTransient):
		return "Could not reach the sync server. Your changes are saved locally and will sync later."
	case errors.Is(err, model.ErrSyncRejected):
		return "The sync server rejected a change. Run 'satchel conflicts' to review it."
	default:
		return err.Error()
	}
}

// validationDetail strips the leading sentinel text from a wrapped
// validation error so the message reads as a sentence fragment.
func validationDetail(err error) string {
	msg := err.Error()
	if cut, ok := strings.CutPrefix(msg, model.ErrValidation.Error()+": "); ok {
		return cut
	}
	return msg
}
