package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// chatAdapter posts an OpenAI-style message array with a bearer key.
type chatAdapter struct {
	id     ProviderID
	url    string
	model  string
	client *http.Client
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

func (a *chatAdapter) Complete(ctx context.Context, req Request) (string, error) {
	body, err := postJSON(ctx, a.client, a.id, a.url, map[string]string{
		"Authorization": "Bearer " + req.Credential,
	}, chatRequest{
		Model:       a.model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", err
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("%w: %s: decode: %v", ErrInvalidResponse, a.id, err)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("%w: %s: no choices", ErrInvalidResponse, a.id)
	}
	return decoded.Choices[0].Message.Content, nil
}

// blobAdapter flattens the dialogue into one text part and passes the key
// as a query parameter, for providers without multi-turn message arrays.
type blobAdapter struct {
	id     ProviderID
	url    string
	client *http.Client
}

type blobRequest struct {
	Contents []blobContent `json:"contents"`
}

type blobContent struct {
	Parts []blobPart `json:"parts"`
}

type blobPart struct {
	Text string `json:"text"`
}

// flattenDialogue renders "<system>\n\n<Role>: <content>\n\n..." where the
// system text comes from a leading system message, if any.
func flattenDialogue(messages []Message) string {
	system := ""
	rest := messages
	if len(messages) > 0 && messages[0].Role == RoleSystem {
		system = messages[0].Content
		rest = messages[1:]
	}
	turns := make([]string, len(rest))
	for i, m := range rest {
		turns[i] = capitalize(m.Role) + ": " + m.Content
	}
	return system + "\n\n" + strings.Join(turns, "\n\n")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

func (a *blobAdapter) Complete(ctx context.Context, req Request) (string, error) {
	sep := "?"
	if strings.Contains(a.url, "?") {
		sep = "&"
	}
	endpoint := a.url + sep + "key=" + url.QueryEscape(req.Credential)

	body, err := postJSON(ctx, a.client, a.id, endpoint, nil, blobRequest{
		Contents: []blobContent{{Parts: []blobPart{{Text: flattenDialogue(req.Messages)}}}},
	})
	if err != nil {
		return "", err
	}

	var decoded struct {
		Candidates []struct {
			Content struct {
				Parts []blobPart `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("%w: %s: decode: %v", ErrInvalidResponse, a.id, err)
	}
	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: %s: no candidates", ErrInvalidResponse, a.id)
	}
	return decoded.Candidates[0].Content.Parts[0].Text, nil
}

// postJSON sends payload and returns the body of a 2xx reply. Network errors
// map to ErrTransportFailure and other statuses to *ProviderError.
func postJSON(ctx context.Context, client *http.Client, id ProviderID, endpoint string, headers map[string]string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", id, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", id, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTransportFailure, id, redactKey(err.Error()))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read response: %v", ErrTransportFailure, id, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ProviderError{Provider: id, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// redactKey hides a key= query value that net/url errors echo back.
func redactKey(msg string) string {
	i := strings.Index(msg, "key=")
	if i < 0 {
		return msg
	}
	end := strings.IndexAny(msg[i:], "&\" ")
	if end < 0 {
		return msg[:i] + "key=REDACTED"
	}
	return msg[:i] + "key=REDACTED" + msg[i+end:]
}
