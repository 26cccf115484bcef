package content

import "strings"

// ContentType represents supported content types using IANA media types.
type ContentType string

const (
	ContentTypeText ContentType = "text/plain"
	ContentTypeJSON ContentType = "application/json"
)

// Chat roles understood by every driver.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ContentBlock represents a single piece of content.
type ContentBlock struct {
	Type ContentType `json:"type"`
	Text string      `json:"text,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// TextMessage builds a single-block text message.
func TextMessage(role, text string) Message {
	return Message{Role: role, Content: []ContentBlock{{Type: ContentTypeText, Text: text}}}
}

// Text joins the message's text blocks.
func (m Message) Text() string {
	parts := make([]string, 0, len(m.Content))
	for _, block := range m.Content {
		if block.Type == ContentTypeText || block.Type == ContentTypeJSON || block.Type == "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}
