package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// claudeAdapter uses the native Anthropic messages API; system messages
// become the request's system blocks.
type claudeAdapter struct {
	baseURL string
	model   string
	client  *http.Client
}

func newClaudeAdapter(baseURL, modelName string, client *http.Client) *claudeAdapter {
	return &claudeAdapter{baseURL: baseURL, model: modelName, client: client}
}

func (a *claudeAdapter) Complete(ctx context.Context, req Request) (string, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(req.Credential),
		option.WithMaxRetries(0),
	}
	if a.baseURL != "" {
		opts = append(opts, option.WithBaseURL(a.baseURL))
	}
	if a.client != nil {
		opts = append(opts, option.WithHTTPClient(a.client))
	}
	client := anthropicsdk.NewClient(opts...)

	msg, err := client.Messages.New(ctx, a.params(req))
	if err != nil {
		var apiErr *anthropicsdk.Error
		if errors.As(err, &apiErr) {
			return "", &ProviderError{Provider: Claude, StatusCode: apiErr.StatusCode, Body: apiErr.RawJSON()}
		}
		return "", fmt.Errorf("%w: %s: %v", ErrTransportFailure, Claude, err)
	}
	if msg == nil {
		return "", fmt.Errorf("%w: %s: empty response", ErrInvalidResponse, Claude)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("%w: %s: no text content", ErrInvalidResponse, Claude)
	}
	return strings.TrimSpace(text.String()), nil
}

func (a *claudeAdapter) params(req Request) anthropicsdk.MessageNewParams {
	params := anthropicsdk.MessageNewParams{
		Model:       anthropicsdk.Model(a.model),
		MaxTokens:   int64(req.MaxTokens),
		Temperature: anthropicsdk.Float(req.Temperature),
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			if s := strings.TrimSpace(m.Content); s != "" {
				params.System = append(params.System, anthropicsdk.TextBlockParam{Text: s})
			}
		case RoleAssistant:
			params.Messages = append(params.Messages, anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(m.Content)))
		}
	}
	return params
}
