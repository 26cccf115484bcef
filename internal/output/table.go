package output

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/chatlens/chatlens/internal/research"
	"github.com/chatlens/chatlens/internal/store"
)

const (
	titleWidth   = 60
	contentWidth = 80
)

// TableFormatter renders history as ASCII tables.
type TableFormatter struct{}

// FormatConversations renders one row per conversation.
func (f *TableFormatter) FormatConversations(conversations []store.Conversation) (string, error) {
	if len(conversations) == 0 {
		return "No conversations.", nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ID", "Title", "Updated"})

	for _, conv := range conversations {
		t.AppendRow(table.Row{
			conv.ID,
			truncate(conv.Title, titleWidth),
			formatTime(conv.UpdatedAt),
		})
	}

	t.AppendFooter(table.Row{"", fmt.Sprintf("%d conversations", len(conversations)), ""})
	return t.Render(), nil
}

// FormatMessages renders a transcript, one row per message. Assistant rows
// carry the rewritten query and source count.
func (f *TableFormatter) FormatMessages(conversationID string, messages []research.Message) (string, error) {
	if len(messages) == 0 {
		return fmt.Sprintf("Conversation %s has no messages.", conversationID), nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Conversation " + conversationID)
	t.AppendHeader(table.Row{"Time", "Role", "Content", "Research"})

	for _, msg := range messages {
		notes := ""
		if part, ok := researchPart(msg); ok {
			notes = fmt.Sprintf("%s (%d sources)", truncate(part.RewrittenQuery, 40), len(part.Sources))
		}
		t.AppendRow(table.Row{
			formatTime(msg.CreatedAt),
			msg.Role,
			truncate(messageText(msg), contentWidth),
			notes,
		})
	}

	return t.Render(), nil
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Local().Format("2006-01-02 15:04")
}
