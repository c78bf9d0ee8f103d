// Package chat runs one support conversation turn: retrieval, prompt
// assembly, model call and reply clean-up.
package chat

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/cognicrew/crewdesk/internal/agent"
	"github.com/cognicrew/crewdesk/internal/llm"
	"github.com/cognicrew/crewdesk/internal/rag"
)

// Retriever finds documents for a query within an account and persona.
type Retriever interface {
	Search(ctx context.Context, query, accountID, personaID string, limit int) []rag.RetrievedDocument
}

// Completer sends a message sequence to the provider named by tag.
type Completer interface {
	Complete(ctx context.Context, tag, credential string, messages []llm.Message) (string, error)
}

// TurnRequest is one user message plus the session context the caller owns.
type TurnRequest struct {
	AccountID string
	Agent     agent.Agent
	History   []agent.Turn
	Message   string
	Language  string
}

type TurnResult struct {
	Reply            string
	AgentName        string
	AvatarURL        string
	RAGContext       string
	SwitchedLanguage string
}

// Orchestrator holds no session state; everything per-session arrives in the
// TurnRequest.
type Orchestrator struct {
	retriever Retriever
	llm       Completer
	limit     int
	languages []string
}

func NewOrchestrator(retriever Retriever, completer Completer, limit int, languages []string) *Orchestrator {
	if limit <= 0 {
		limit = rag.DefaultLimit
	}
	return &Orchestrator{
		retriever: retriever,
		llm:       completer,
		limit:     limit,
		languages: languages,
	}
}

// HandleTurn answers req.Message as req.Agent. Retrieval problems only cost
// context; model errors are returned.
func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	a := req.Agent
	normalized := strings.ToLower(strings.TrimSpace(req.Message))

	docsCh := make(chan []rag.RetrievedDocument, 1)
	go func() {
		docsCh <- o.retriever.Search(ctx, normalized, req.AccountID, a.ID, o.limit)
	}()

	language := strings.TrimSpace(req.Language)
	if language == "" && len(o.languages) > 0 {
		language = o.languages[0]
	}
	in := PromptInput{
		AgentName:    a.Name,
		Company:      a.CompanyName(),
		Department:   a.Department,
		Persona:      a.Info,
		Language:     language,
		FirstMessage: len(req.History) == 0,
		Kind:         Classify(req.Message),
	}

	docs := <-docsCh
	in.RAGText = ragText(docs)

	messages := make([]llm.Message, 0, len(req.History)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: BuildPrompt(in)})
	for _, t := range req.History {
		messages = append(messages, llm.Message{Role: t.Role, Content: t.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: req.Message})

	raw, err := o.llm.Complete(ctx, a.LLMType, a.APIKey, messages)
	if err != nil {
		return nil, fmt.Errorf("chat turn for %s: %w", a.Name, err)
	}

	reply := FormatReply(a.Name, Sanitize(raw))
	result := &TurnResult{
		Reply:            reply,
		AgentName:        a.Name,
		AvatarURL:        a.AvatarURL,
		RAGContext:       in.RAGText,
		SwitchedLanguage: DetectLanguageSwitch(reply, o.languages),
	}
	log.Printf("[chat] agent=%s (%s) kind=%s docs=%d lang=%s", a.Name, a.ID, in.Kind, len(docs), language)
	if result.SwitchedLanguage != "" {
		log.Printf("[chat] language switched to %s", result.SwitchedLanguage)
	}
	return result, nil
}

func ragText(docs []rag.RetrievedDocument) string {
	if len(docs) == 0 {
		return NoDataPlaceholder
	}
	parts := make([]string, len(docs))
	for i, d := range docs {
		parts[i] = d.Content
	}
	return strings.Join(parts, "\n")
}
