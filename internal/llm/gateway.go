// Package llm dispatches chat completions to interchangeable remote model
// providers behind a single Complete call.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cognicrew/crewdesk/internal/config"
)

type ProviderID string

const (
	DeepSeek ProviderID = "deepseek"
	GPT      ProviderID = "gpt"
	Grok     ProviderID = "grok"
	Gemini   ProviderID = "gemini"
	Claude   ProviderID = "claude"
)

// Providers lists every supported tag in display order.
var Providers = []ProviderID{DeepSeek, GPT, Grok, Gemini, Claude}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

var (
	ErrMissingCredential = errors.New("missing llm credential")
	ErrTransportFailure  = errors.New("llm transport failure")
	ErrInvalidResponse   = errors.New("invalid llm response")
)

// ProviderError is a non-2xx reply from a provider.
type ProviderError struct {
	Provider   ProviderID
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s http %d: %s", e.Provider, e.StatusCode, truncate(strings.TrimSpace(e.Body), 500))
}

// Request is what an adapter receives after credential checks.
type Request struct {
	Credential  string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Adapter speaks one provider's wire format.
type Adapter interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Gateway routes completions to the adapter registered for a provider tag.
type Gateway struct {
	adapters    map[ProviderID]Adapter
	timeout     time.Duration
	temperature float64
	maxTokens   int
}

// NewGateway registers the built-in adapters. All HTTP adapters share client,
// which should be the process-wide pooled client.
func NewGateway(cfg config.LLMConfig, client *http.Client) *Gateway {
	if client == nil {
		client = http.DefaultClient
	}
	g := &Gateway{
		adapters:    make(map[ProviderID]Adapter, len(Providers)),
		timeout:     time.Duration(cfg.TimeoutMs) * time.Millisecond,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
	if g.timeout <= 0 {
		g.timeout = time.Duration(config.DefaultLLMTimeoutMs) * time.Millisecond
	}
	if g.temperature <= 0 {
		g.temperature = config.DefaultLLMTemperature
	}

	override := func(id ProviderID, url, model string) (string, string) {
		if o, ok := cfg.Providers[string(id)]; ok {
			if o.BaseURL != "" {
				url = o.BaseURL
			}
			if o.Model != "" {
				model = o.Model
			}
		}
		return url, model
	}

	for _, def := range []struct {
		id         ProviderID
		url, model string
	}{
		{DeepSeek, "https://api.deepseek.com/chat/completions", "deepseek-chat"},
		{GPT, "https://api.openai.com/v1/chat/completions", "gpt-3.5-turbo"},
		{Grok, "https://api.xai.com/v1/chat", "grok"},
	} {
		url, model := override(def.id, def.url, def.model)
		g.adapters[def.id] = &chatAdapter{id: def.id, url: url, model: model, client: client}
	}

	geminiURL, _ := override(Gemini, "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:generateContent", "")
	g.adapters[Gemini] = &blobAdapter{id: Gemini, url: geminiURL, client: client}

	claudeURL, claudeModel := override(Claude, "", config.DefaultClaudeModel)
	g.adapters[Claude] = newClaudeAdapter(claudeURL, claudeModel, client)

	return g
}

// Register replaces or adds the adapter for id.
func (g *Gateway) Register(id ProviderID, a Adapter) {
	g.adapters[id] = a
}

// ParseProvider matches a provider tag case-insensitively.
func ParseProvider(tag string) (ProviderID, bool) {
	id := ProviderID(strings.ToLower(strings.TrimSpace(tag)))
	for _, p := range Providers {
		if p == id {
			return p, true
		}
	}
	return "", false
}

// Complete sends messages to the provider named by tag. Unknown tags fall back
// to gpt. The call is attempted once and bounded by the configured timeout.
func (g *Gateway) Complete(ctx context.Context, tag, credential string, messages []Message) (string, error) {
	id, ok := ParseProvider(tag)
	if !ok {
		log.Printf("[llm] unknown provider %q, falling back to %s", tag, GPT)
		id = GPT
	}
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return "", fmt.Errorf("%w for %s", ErrMissingCredential, id)
	}
	adapter, ok := g.adapters[id]
	if !ok {
		return "", fmt.Errorf("llm: no adapter registered for %s", id)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	text, err := adapter.Complete(ctx, Request{
		Credential:  credential,
		Messages:    messages,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	elapsed := time.Since(start).Seconds()
	if err != nil {
		log.Printf("[llm] %s failed after %.2fs: %v", id, elapsed, err)
		return "", err
	}
	log.Printf("[llm] %s took %.2fs", id, elapsed)
	return text, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
