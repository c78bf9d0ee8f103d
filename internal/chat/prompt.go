package chat

import (
	"fmt"
	"strings"
	"unicode"
)

// NoDataPlaceholder stands in for retrieved context when nothing matched.
const NoDataPlaceholder = "No relevant data found."

// LanguageHint is what the agent appends to its first reply of a session.
const LanguageHint = "By the way, need a different language? Just say 'Switch to Spanish,' 'Switch to French,' etc."

// InputKind is how the latest user message should be answered.
type InputKind int

const (
	InputOther InputKind = iota
	InputGreeting
	InputQuestion
)

func (k InputKind) String() string {
	switch k {
	case InputGreeting:
		return "greeting"
	case InputQuestion:
		return "question"
	default:
		return "other"
	}
}

var interrogatives = map[string]bool{
	"what": true, "how": true, "why": true, "when": true, "where": true,
	"who": true, "whom": true, "whose": true, "which": true,
}

var greetings = []string{
	"good morning", "good afternoon", "good evening",
	"how's it going", "how’s it going",
	"greetings", "hello", "howdy", "heya", "hiya", "hey", "hi",
}

// Classify decides the reply style for msg. A question mark or a leading
// interrogative makes the input a question even when it also greets. The
// interrogative must be the whole first word, so "how's it going" stays a
// greeting.
func Classify(msg string) InputKind {
	text := strings.ToLower(strings.TrimSpace(msg))
	if text == "" {
		return InputOther
	}
	if strings.Contains(text, "?") {
		return InputQuestion
	}
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\'' && r != '’'
	})
	if len(words) > 0 && interrogatives[words[0]] {
		return InputQuestion
	}
	for _, g := range greetings {
		if strings.HasPrefix(text, g) && boundaryAt(text, len(g)) {
			return InputGreeting
		}
	}
	return InputOther
}

func boundaryAt(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r := rune(s[i])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// PromptInput carries everything the system prompt embeds.
type PromptInput struct {
	AgentName    string
	Company      string
	Department   string
	Persona      string
	Language     string
	RAGText      string
	FirstMessage bool
	Kind         InputKind
}

// BuildPrompt renders the system prompt. Branches that depend on the session
// (first message, greeting vs question) are resolved here rather than left
// to the model.
func BuildPrompt(in PromptInput) string {
	rag := in.RAGText
	if strings.TrimSpace(rag) == "" {
		rag = NoDataPlaceholder
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "You’re %s at %s, in the %s department. Your persona: %s.\n", in.AgentName, in.Company, in.Department, in.Persona)
	sb.WriteString("- Do NOT prepend your name, 'assistant:', 'agent:', or any role-based prefix to your response; provide only the raw message content with no labels.\n")
	fmt.Fprintf(&sb, "- If the user asks \"What is your name?\" \"Who are you?\" or similar, respond naturally (e.g., \"I’m %s! How can I help you today?\").\n", in.AgentName)
	fmt.Fprintf(&sb, "- Start by responding in %s.\n", in.Language)
	sb.WriteString("- If the user says \"Switch to [language]\" or similar (e.g., \"Use Spanish\"), detect the requested language (even with typos), switch to it for all future responses, and confirm: \"Switched to [language]!\"\n")
	if in.FirstMessage {
		fmt.Fprintf(&sb, "- This is the first message of the conversation. End your reply with: %q\n", LanguageHint)
	} else {
		sb.WriteString("- Do not offer to switch languages unless the user mentions languages.\n")
	}

	switch in.Kind {
	case InputGreeting:
		sb.WriteString("- The user is greeting you. Respond creatively and variably, for example:\n")
		sb.WriteString("  - \"Hello\" or \"Hi\": \"Hi there! What’s on your mind today?\"\n")
		sb.WriteString("  - \"Hey\" or \"Heya\": \"Heya! Good to chat—what can I do for you?\"\n")
		sb.WriteString("  - \"How’s it going\": \"Hey, doing great—how about you? What’s up?\"\n")
	case InputQuestion:
		sb.WriteString("- The user is asking a question. Answer it directly without a greeting.\n")
	default:
		sb.WriteString("- Do not open with a greeting; respond to what the user said.\n")
	}

	fmt.Fprintf(&sb, "- For anything about %s:\n", in.Company)
	fmt.Fprintf(&sb, "  1. Use this data ONLY: %s. Quote it exactly—no paraphrasing, no guessing.\n", rag)
	sb.WriteString("  2. Guess their setup or pain points based on prior messages if available.\n")
	sb.WriteString("  3. Give the fix or info naturally, like you’re recalling it.\n")
	sb.WriteString("  4. If the data mentions packages, upsell once—explain the perk, ask if they’re interested, then drop it unless they bring it up again.\n")
	fmt.Fprintf(&sb, "- If no data: Say: “Sorry, I don’t have specific info on that. Check %s’s site or let me know how else I can help!”\n", in.Company)
	fmt.Fprintf(&sb, "- Off-topic? Say: “I’m here to assist with any %s-related questions or support needs. How can I help you today?”\n", in.Company)
	fmt.Fprintf(&sb, "- Be friendly, helpful, and on-brand—never bash %s.\n", in.Company)
	sb.WriteString("- Use the conversation history to stay consistent, vary responses, and avoid repetition unless necessary.\n")
	return sb.String()
}
