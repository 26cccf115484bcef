package research

import (
	"slices"
	"strings"
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Part types.
const (
	PartText     = "text"
	PartResearch = "research"
)

// Message is a persisted chat message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           string    `json:"role"`
	Parts          []Part    `json:"parts"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Part is one ordered segment of a message.
type Part struct {
	Type           string   `json:"type"`
	Text           string   `json:"text,omitempty"`
	RewrittenQuery string   `json:"rewrittenQuery,omitempty"`
	Sources        []Source `json:"sources,omitempty"`
}

// MessageBatch is written atomically once a run completes. Title and OwnerID
// apply only when the conversation does not exist yet.
type MessageBatch struct {
	ConversationID string
	OwnerID        string
	Title          string
	Messages       []Message
}

const maxTitleLength = 80

// ConversationTitle derives a title from the first query of a conversation.
func ConversationTitle(query string) string {
	runes := []rune(strings.Join(strings.Fields(query), " "))
	if len(runes) <= maxTitleLength {
		return string(runes)
	}
	return string(runes[:maxTitleLength])
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
