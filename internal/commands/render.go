package commands

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/comigor/zapup-go/internal/catalog"
	"github.com/comigor/zapup-go/internal/conversation"
	"github.com/comigor/zapup-go/internal/ingest"
	"github.com/comigor/zapup-go/internal/logger"
)

var (
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	promptStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true)
)

// renderer formats transcript entries for the terminal. Assistant replies are
// rendered as markdown.
type renderer struct {
	md *glamour.TermRenderer
}

func newRenderer(width int) *renderer {
	md, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		logger.L.Warn("markdown rendering disabled", "error", err)
		md = nil
	}
	return &renderer{md: md}
}

func (r *renderer) Message(m conversation.Message) string {
	switch m.Role {
	case conversation.RoleUser:
		return userStyle.Render("You") + dimStyle.Render(" › ") + m.Text
	case conversation.RoleError:
		return errorStyle.Render(m.Text)
	default:
		label := assistantStyle.Render(m.ModelID)
		return label + "\n" + r.markdown(m.Text)
	}
}

func (r *renderer) markdown(text string) string {
	if r.md == nil {
		return text
	}
	out, err := r.md.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}

// formatProviders lists the catalog, marking current.
func formatProviders(providers []catalog.Provider, current string) string {
	var b strings.Builder
	for _, p := range providers {
		b.WriteString(assistantStyle.Render(p.Name))
		b.WriteByte('\n')
		for _, m := range p.Models {
			marker := "  "
			if m == current {
				marker = "* "
			}
			b.WriteString(marker + m + "\n")
		}
	}
	return b.String()
}

// readAttachment loads a file from disk, deriving the content type from its extension.
func readAttachment(path string) (*ingest.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return &ingest.Attachment{
		Name:        filepath.Base(path),
		ContentType: mime.TypeByExtension(strings.ToLower(filepath.Ext(path))),
		Data:        data,
	}, nil
}
