package chat

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// FallbackReply replaces a model reply that is empty once its label is gone.
const FallbackReply = "Sorry, I didn’t catch that. How can I assist you?"

const switchPhrase = "Switched to"

// Sanitize strips one leading "<word>:" label, whatever the word, and the
// whitespace after it. A word is a run of letters, digits or underscores.
func Sanitize(raw string) string {
	s := strings.TrimSpace(raw)
	i := 0
	for i < len(s) {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			break
		}
		i += size
	}
	if i > 0 && i < len(s) && s[i] == ':' {
		s = s[i+1:]
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return FallbackReply
	}
	return s
}

// FormatReply is the wire form of an agent reply.
func FormatReply(agentName, text string) string {
	return agentName + ": " + text
}

// DetectLanguageSwitch extracts <lang> from a "Switched to <lang>!"
// confirmation. Known languages come back in their canonical spelling.
func DetectLanguageSwitch(reply string, languages []string) string {
	i := strings.Index(reply, switchPhrase)
	if i < 0 {
		return ""
	}
	rest := reply[i+len(switchPhrase):]
	name, _, _ := strings.Cut(rest, "!")
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	for _, lang := range languages {
		if strings.EqualFold(lang, name) {
			return lang
		}
	}
	return name
}
