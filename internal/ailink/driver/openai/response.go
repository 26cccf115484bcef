package openai

import (
	"fmt"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/chatlens/chatlens/internal/ailink/content"
	"github.com/chatlens/chatlens/internal/ailink/driver"
)

func toDriverResponse(resp *goopenai.ChatCompletionResponse) (*driver.Response, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty response choices")
	}

	choice := resp.Choices[0]
	response := &driver.Response{
		Content:      []content.ContentBlock{{Type: content.ContentTypeText, Text: choice.Message.Content}},
		FinishReason: string(choice.FinishReason),
	}

	if resp.Usage.TotalTokens > 0 {
		response.Usage = &driver.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}

	return response, nil
}
