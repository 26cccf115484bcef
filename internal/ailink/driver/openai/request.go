package openai

import (
	"fmt"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/chatlens/chatlens/internal/ailink/content"
	"github.com/chatlens/chatlens/internal/ailink/driver"
)

func buildChatRequest(req *driver.Request) (goopenai.ChatCompletionRequest, error) {
	if req == nil {
		return goopenai.ChatCompletionRequest{}, fmt.Errorf("request is required")
	}
	if strings.TrimSpace(req.Model) == "" {
		return goopenai.ChatCompletionRequest{}, fmt.Errorf("model is required")
	}

	messages, err := convertMessages(req.Messages)
	if err != nil {
		return goopenai.ChatCompletionRequest{}, err
	}

	payload := goopenai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
	}
	if req.Temperature != nil {
		payload.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		payload.MaxCompletionTokens = *req.MaxTokens
	}
	return payload, nil
}

func convertMessages(messages []content.Message) ([]goopenai.ChatCompletionMessage, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("messages are required")
	}

	out := make([]goopenai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		role, err := convertRole(msg.Role)
		if err != nil {
			return nil, err
		}
		out = append(out, goopenai.ChatCompletionMessage{Role: role, Content: msg.Text()})
	}
	return out, nil
}

func convertRole(role string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case content.RoleSystem:
		return goopenai.ChatMessageRoleSystem, nil
	case content.RoleUser, "":
		return goopenai.ChatMessageRoleUser, nil
	case content.RoleAssistant:
		return goopenai.ChatMessageRoleAssistant, nil
	default:
		return "", fmt.Errorf("unsupported message role %q", role)
	}
}
