package output

import (
	"fmt"
	"strings"

	"github.com/chatlens/chatlens/internal/research"
	"github.com/chatlens/chatlens/internal/store"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// Formatter renders conversation history.
type Formatter interface {
	FormatConversations(conversations []store.Conversation) (string, error)
	FormatMessages(conversationID string, messages []research.Message) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

// messageText joins the text parts of a message.
func messageText(msg research.Message) string {
	var parts []string
	for _, part := range msg.Parts {
		if part.Type == research.PartText && strings.TrimSpace(part.Text) != "" {
			parts = append(parts, part.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// researchPart returns the research part of an assistant message, if any.
func researchPart(msg research.Message) (research.Part, bool) {
	for _, part := range msg.Parts {
		if part.Type == research.PartResearch {
			return part, true
		}
	}
	return research.Part{}, false
}

func truncate(value string, limit int) string {
	value = strings.Join(strings.Fields(value), " ")
	runes := []rune(value)
	if limit <= 0 || len(runes) <= limit {
		return value
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}
