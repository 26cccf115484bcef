package output

import (
	"encoding/json"

	"github.com/chatlens/chatlens/internal/research"
	"github.com/chatlens/chatlens/internal/store"
)

// JSONFormatter renders history as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatConversations renders a conversation list as JSON.
func (f *JSONFormatter) FormatConversations(conversations []store.Conversation) (string, error) {
	if conversations == nil {
		conversations = []store.Conversation{}
	}
	return f.marshal(map[string]any{"conversations": conversations})
}

// FormatMessages renders a transcript as JSON.
func (f *JSONFormatter) FormatMessages(conversationID string, messages []research.Message) (string, error) {
	if messages == nil {
		messages = []research.Message{}
	}
	return f.marshal(map[string]any{"conversationId": conversationID, "messages": messages})
}

func (f *JSONFormatter) marshal(v any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}
