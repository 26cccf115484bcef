package output

import (
	"fmt"
	"strings"

	"github.com/chatlens/chatlens/internal/research"
	"github.com/chatlens/chatlens/internal/store"
)

// MarkdownFormatter renders history as markdown.
type MarkdownFormatter struct{}

// FormatConversations renders a markdown table of conversations.
func (f *MarkdownFormatter) FormatConversations(conversations []store.Conversation) (string, error) {
	var sb strings.Builder
	sb.WriteString("| ID | Title | Updated |\n")
	sb.WriteString("|----|-------|---------|\n")
	for _, conv := range conversations {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s |\n",
			escapeMarkdownCell(conv.ID),
			escapeMarkdownCell(conv.Title),
			formatTime(conv.UpdatedAt),
		))
	}
	return sb.String(), nil
}

// FormatMessages renders a transcript with a sources list under each answer.
func (f *MarkdownFormatter) FormatMessages(conversationID string, messages []research.Message) (string, error) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# Conversation %s\n", conversationID))

	for _, msg := range messages {
		sb.WriteString(fmt.Sprintf("\n## %s (%s)\n\n", roleHeading(msg.Role), formatTime(msg.CreatedAt)))

		if part, ok := researchPart(msg); ok && part.RewrittenQuery != "" {
			sb.WriteString(fmt.Sprintf("> Searched for: %s\n\n", part.RewrittenQuery))
		}
		if text := messageText(msg); text != "" {
			sb.WriteString(text)
			sb.WriteString("\n")
		}
		if part, ok := researchPart(msg); ok && len(part.Sources) > 0 {
			sb.WriteString("\n**Sources**\n\n")
			for i, src := range part.Sources {
				sb.WriteString(fmt.Sprintf("%d. [%s](%s) (%s)\n", i+1, escapeMarkdownLink(src.Title), src.URL, src.Domain))
			}
		}
	}

	return sb.String(), nil
}

func roleHeading(role string) string {
	switch role {
	case research.RoleUser:
		return "User"
	case research.RoleAssistant:
		return "Assistant"
	default:
		return role
	}
}

func escapeMarkdownCell(value string) string {
	return strings.ReplaceAll(value, "|", "\\|")
}

func escapeMarkdownLink(value string) string {
	value = strings.ReplaceAll(value, "[", "\\[")
	return strings.ReplaceAll(value, "]", "\\]")
}
