package helpdesk

import (
	"strings"
	"unicode/utf8"

	"github.com/cognicrew/crewdesk/internal/agent"
)

const (
	DefaultRequesterEmail = "anonymous@example.com"
	DefaultRequesterName  = "Anonymous"
)

type speaker int

const (
	speakerUnknown speaker = iota
	speakerCustomer
	speakerAgent
)

// FormatTranscript relabels a raw "User:/Agent:" transcript with real names.
// A run of consecutive agent lines carries the agent label only on its first
// line. Lines with neither label pass through and break the run.
func FormatTranscript(raw, customerName, agentName string) []string {
	agentLabel := agentName + ":"
	var out []string
	last := speakerUnknown
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "User:"):
			text := strings.TrimSpace(strings.ReplaceAll(line, "User:", ""))
			out = append(out, customerName+": "+text)
			last = speakerCustomer
		case strings.HasPrefix(line, "Agent:"),
			strings.HasPrefix(line, "Assistant:"),
			agentName != "" && strings.HasPrefix(line, agentLabel):
			text := strings.ReplaceAll(line, "Agent:", "")
			text = strings.ReplaceAll(text, "Assistant:", "")
			if agentName != "" {
				text = strings.ReplaceAll(text, agentLabel, "")
			}
			text = strings.TrimSpace(text)
			if last != speakerAgent {
				out = append(out, agentName+": "+text)
			} else {
				out = append(out, text)
			}
			last = speakerAgent
		default:
			out = append(out, line)
			last = speakerUnknown
		}
	}
	return out
}

// Describe builds a ticket description, falling back to a two-line skeleton
// of the triggering exchange when the transcript yields nothing.
func Describe(raw, customerName, agentName, message, response string) string {
	if desc := strings.Join(FormatTranscript(raw, customerName, agentName), "\n"); desc != "" {
		return desc
	}
	return "User: " + message + "\nAgent: " + response
}

// RenderTurns turns a session history into the raw transcript format. The
// "<agentName>: " prefix that replies carry on the wire is dropped so the
// Agent label is the only one.
func RenderTurns(turns []agent.Turn, agentName string) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case agent.RoleUser:
			lines = append(lines, "User: "+t.Content)
		case agent.RoleAssistant:
			content := t.Content
			if agentName != "" {
				content = strings.TrimSpace(strings.TrimPrefix(content, agentName+":"))
			}
			lines = append(lines, "Agent: "+content)
		}
	}
	return strings.Join(lines, "\n")
}

// Subject is "Assisted by <agent>", or the opening of the first customer
// message when no agent name is known.
func Subject(agentName, firstMessage string) string {
	if agentName != "" {
		return "Assisted by " + agentName
	}
	if utf8.RuneCountInString(firstMessage) > 50 {
		firstMessage = string([]rune(firstMessage)[:50])
	}
	return firstMessage + "..."
}

// Requester applies the anonymous defaults.
func Requester(name, email string) (string, string) {
	if strings.TrimSpace(name) == "" {
		name = DefaultRequesterName
	}
	if strings.TrimSpace(email) == "" {
		email = DefaultRequesterEmail
	}
	return name, email
}
