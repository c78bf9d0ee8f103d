package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cognicrew/crewdesk/internal/agent"
	"github.com/cognicrew/crewdesk/internal/llm"
	"github.com/cognicrew/crewdesk/internal/rag"
)

type fakeRetriever struct {
	docs       []rag.RetrievedDocument
	gotQuery   string
	gotAccount string
	gotPersona string
}

func (f *fakeRetriever) Search(_ context.Context, query, accountID, personaID string, limit int) []rag.RetrievedDocument {
	f.gotQuery, f.gotAccount, f.gotPersona = query, accountID, personaID
	return f.docs
}

type fakeCompleter struct {
	reply    string
	err      error
	tag      string
	cred     string
	messages []llm.Message
}

func (f *fakeCompleter) Complete(_ context.Context, tag, credential string, messages []llm.Message) (string, error) {
	f.tag, f.cred, f.messages = tag, credential, messages
	return f.reply, f.err
}

var bob = agent.Agent{
	ID:         "agent-1",
	Name:       "Bob",
	Department: "Support",
	Info:       "a patient support rep",
	LLMType:    "deepseek",
	APIKey:     "sk-bob",
	AvatarURL:  "https://cdn.example.com/bob.png",
}

func TestSanitize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Assistant: Hello", "Hello"},
		{"Agent:Hi", "Hi"},
		{"Bob: sure", "sure"},
		{"AGENT:   spaced", "spaced"},
		{"  Hello there  ", "Hello there"},
		{"Note the time: 5pm", "Note the time: 5pm"},
		{"Agent:", FallbackReply},
		{"   ", FallbackReply},
		{"José: hola", "hola"},
		{"Agent: Bob: twice", "Bob: twice"},
	}
	for _, tt := range tests {
		if got := Sanitize(tt.in); got != tt.want {
			t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		in   string
		want InputKind
	}{
		{"What languages do you support?", InputQuestion},
		{"how do I reset my password", InputQuestion},
		{"Hi, what's your return policy?", InputQuestion},
		{"Hello", InputGreeting},
		{"hey there", InputGreeting},
		{"Good morning!", InputGreeting},
		{"How's it going", InputGreeting},
		{"history of the company", InputOther},
		{"I need a refund", InputOther},
		{"", InputOther},
	}
	for _, tt := range tests {
		if got := Classify(tt.in); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestBuildPromptBranches(t *testing.T) {
	base := PromptInput{AgentName: "Bob", Company: "Acme", Department: "Support", Persona: "calm", Language: "English"}

	first := base
	first.FirstMessage = true
	first.Kind = Classify("What languages do you support?")
	p := BuildPrompt(first)
	if !strings.Contains(p, LanguageHint) {
		t.Fatal("first-message prompt should carry the language hint")
	}
	if !strings.Contains(p, "Answer it directly without a greeting") {
		t.Fatal("question prompt should take the direct-answer branch")
	}
	if strings.Contains(p, "The user is greeting you") {
		t.Fatal("question prompt should not include greeting examples")
	}
	if !strings.Contains(p, NoDataPlaceholder) {
		t.Fatal("empty rag text should use the placeholder")
	}

	later := base
	later.Kind = InputGreeting
	later.RAGText = "Refunds take 5 days."
	p = BuildPrompt(later)
	if strings.Contains(p, LanguageHint) {
		t.Fatal("hint must be omitted once history exists")
	}
	if !strings.Contains(p, "The user is greeting you") || !strings.Contains(p, "Refunds take 5 days.") {
		t.Fatalf("prompt = %s", p)
	}
	if !strings.Contains(p, "You’re Bob at Acme, in the Support department.") {
		t.Fatalf("prompt header missing: %s", p)
	}
}

func TestDetectLanguageSwitch(t *testing.T) {
	langs := []string{"English", "Spanish", "French"}
	if got := DetectLanguageSwitch("Bob: Switched to spanish! ¿Cómo puedo ayudar?", langs); got != "Spanish" {
		t.Fatalf("got %q", got)
	}
	if got := DetectLanguageSwitch("Bob: Switched to Klingon!", langs); got != "Klingon" {
		t.Fatalf("got %q", got)
	}
	if got := DetectLanguageSwitch("Bob: Happy to help!", langs); got != "" {
		t.Fatalf("got %q", got)
	}
}

func TestHandleTurnMessageOrderAndFormat(t *testing.T) {
	ret := &fakeRetriever{docs: []rag.RetrievedDocument{{Content: "Refunds take 5 days."}, {Content: "Packages: Gold."}}}
	comp := &fakeCompleter{reply: "Assistant:  Refunds take 5 days."}
	o := NewOrchestrator(ret, comp, 3, []string{"English"})

	history := []agent.Turn{
		{Role: agent.RoleUser, Content: "hi"},
		{Role: agent.RoleAssistant, Content: "Bob: Hi there!"},
	}
	res, err := o.HandleTurn(context.Background(), TurnRequest{
		AccountID: "acct",
		Agent:     bob,
		History:   history,
		Message:   "  How long do REFUNDS take?  ",
		Language:  "English",
	})
	if err != nil {
		t.Fatalf("HandleTurn error: %v", err)
	}
	if res.Reply != "Bob: Refunds take 5 days." {
		t.Fatalf("reply = %q", res.Reply)
	}
	if res.RAGContext != "Refunds take 5 days.\nPackages: Gold." {
		t.Fatalf("rag context = %q", res.RAGContext)
	}
	if res.AvatarURL != bob.AvatarURL || res.AgentName != "Bob" {
		t.Fatalf("result = %+v", res)
	}

	if ret.gotQuery != "how long do refunds take?" || ret.gotAccount != "acct" || ret.gotPersona != "agent-1" {
		t.Fatalf("retrieval scope = %q %q %q", ret.gotQuery, ret.gotAccount, ret.gotPersona)
	}
	if comp.tag != "deepseek" || comp.cred != "sk-bob" {
		t.Fatalf("provider = %q %q", comp.tag, comp.cred)
	}
	if len(comp.messages) != 4 {
		t.Fatalf("messages = %d, want 4", len(comp.messages))
	}
	if comp.messages[0].Role != llm.RoleSystem || strings.Contains(comp.messages[0].Content, LanguageHint) {
		t.Fatal("system prompt missing or carries first-message hint")
	}
	if comp.messages[1].Content != "hi" || comp.messages[2].Content != "Bob: Hi there!" {
		t.Fatalf("history out of order: %+v", comp.messages[1:3])
	}
	last := comp.messages[3]
	if last.Role != llm.RoleUser || last.Content != "  How long do REFUNDS take?  " {
		t.Fatalf("user message = %+v", last)
	}
}

func TestHandleTurnEmptyReplyAndLanguageSwitch(t *testing.T) {
	comp := &fakeCompleter{reply: "Agent:"}
	o := NewOrchestrator(&fakeRetriever{}, comp, 0, []string{"English", "French"})

	res, err := o.HandleTurn(context.Background(), TurnRequest{Agent: bob, Message: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Reply != "Bob: "+FallbackReply {
		t.Fatalf("reply = %q", res.Reply)
	}
	if res.RAGContext != NoDataPlaceholder {
		t.Fatalf("rag context = %q", res.RAGContext)
	}
	if !strings.Contains(comp.messages[0].Content, LanguageHint) {
		t.Fatal("first turn should carry the language hint")
	}
	if !strings.Contains(comp.messages[0].Content, "Start by responding in English.") {
		t.Fatal("missing language falls back to the first configured one")
	}

	comp.reply = "Switched to french! Bonjour."
	res, err = o.HandleTurn(context.Background(), TurnRequest{Agent: bob, Message: "switch to frnch", Language: "English"})
	if err != nil {
		t.Fatal(err)
	}
	if res.SwitchedLanguage != "French" {
		t.Fatalf("switched = %q", res.SwitchedLanguage)
	}
}

func TestHandleTurnPropagatesModelError(t *testing.T) {
	comp := &fakeCompleter{err: &llm.ProviderError{Provider: llm.GPT, StatusCode: 500, Body: "boom"}}
	o := NewOrchestrator(&fakeRetriever{}, comp, 3, nil)

	_, err := o.HandleTurn(context.Background(), TurnRequest{Agent: bob, Message: "hi"})
	var pe *llm.ProviderError
	if !errors.As(err, &pe) || pe.StatusCode != 500 {
		t.Fatalf("err = %v, want wrapped *llm.ProviderError", err)
	}
}
