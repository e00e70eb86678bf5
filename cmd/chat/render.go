package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/lhj1982/hotel-chatbot/internal/domain"
	"github.com/lhj1982/hotel-chatbot/internal/usecase"
)

var (
	guestStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	botStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	sourceStyle    = lipgloss.NewStyle().Faint(true).PaddingLeft(2)
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusStyle    = lipgloss.NewStyle().Faint(true).Italic(true)
	escalationCard = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("214")).
			Padding(0, 1).
			MarginLeft(2)
)

// renderer prints state changes incrementally: only messages not yet shown,
// the typing indicator once per send and each new error once.
type renderer struct {
	mu        sync.Mutex
	out       io.Writer
	shown     int
	firstID   string
	sending   bool
	lastError string
	primed    bool
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out}
}

func (r *renderer) OnChange(s usecase.State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	firstID := ""
	if len(s.Messages) > 0 {
		firstID = s.Messages[0].ID
	}
	if len(s.Messages) < r.shown || (r.shown > 0 && firstID != r.firstID) {
		fmt.Fprintln(r.out, statusStyle.Render("--- new conversation ---"))
		r.shown = 0
		r.lastError = ""
	}
	r.firstID = firstID

	for _, m := range s.Messages[r.shown:] {
		// After the first render the guest's own line is already on screen.
		if m.Role == domain.RoleUser && r.primed {
			continue
		}
		fmt.Fprintln(r.out, renderMessage(m))
	}
	r.shown = len(s.Messages)

	if s.Sending && !r.sending {
		fmt.Fprintln(r.out, statusStyle.Render("…"))
	}
	r.sending = s.Sending

	if s.Error != "" && s.Error != r.lastError {
		fmt.Fprintln(r.out, errorStyle.Render("! "+s.Error))
	}
	r.lastError = s.Error
	r.primed = true
}

func renderMessage(m domain.ChatMessage) string {
	var b strings.Builder
	if m.Role == domain.RoleUser {
		b.WriteString(guestStyle.Render("you"))
	} else {
		b.WriteString(botStyle.Render("concierge"))
	}
	b.WriteString(": ")
	b.WriteString(m.Content)

	if len(m.Citations) > 0 {
		titles := make([]string, 0, len(m.Citations))
		for _, c := range m.Citations {
			titles = append(titles, c.Title)
		}
		b.WriteString("\n")
		b.WriteString(sourceStyle.Render("Sources: " + strings.Join(titles, ", ")))
	}
	if card := renderEscalation(m.Escalation, m.Content); card != "" {
		b.WriteString("\n")
		b.WriteString(card)
	}
	return b.String()
}

// renderEscalation draws the contact card. The message line is dropped when
// it is already the bubble text.
func renderEscalation(e *domain.Escalation, content string) string {
	if e == nil {
		return ""
	}
	var lines []string
	if e.Message != "" && e.Message != content {
		lines = append(lines, e.Message)
	}
	if e.Phone != nil && *e.Phone != "" {
		lines = append(lines, "Phone: "+*e.Phone)
	}
	if e.Email != nil && *e.Email != "" {
		lines = append(lines, "Email: "+*e.Email)
	}
	if len(lines) == 0 {
		return ""
	}
	return escalationCard.Render(strings.Join(lines, "\n"))
}
