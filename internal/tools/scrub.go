package tools

import "regexp"

// Credential patterns scrubbed from tool output and argument summaries before
// anything is shown to the LLM or written to the records store.
var credentialPatterns = []*regexp.Regexp{
	// OpenAI / Anthropic
	regexp.MustCompile(`sk-[a-zA-Z0-9-]{20,}`),
	// GitHub tokens
	regexp.MustCompile(`gh[opusr]_[a-zA-Z0-9]{36}`),
	// AWS access keys
	regexp.MustCompile(`AKIA[A-Z0-9]{16}`),
	// Home bridge long-lived tokens (JWT-shaped)
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]{20,}\.[a-zA-Z0-9_-]{20,}\.[a-zA-Z0-9_-]{10,}`),
	// Generic key=value patterns
	regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password|bearer|authorization)\s*[:=]\s*["']?\S{8,}["']?`),
}

const redactedPlaceholder = "[REDACTED]"

// ScrubCredentials replaces known credential patterns in text with [REDACTED].
func ScrubCredentials(text string) string {
	for _, pat := range credentialPatterns {
		text = pat.ReplaceAllString(text, redactedPlaceholder)
	}
	return text
}
