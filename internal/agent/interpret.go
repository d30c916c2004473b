package agent

import (
	"regexp"
	"strings"
)

// Heuristics over normalized model/user text. Kept as pure functions so the
// loop's interpretation step stays testable without a live model.

// proseToolCallPatterns match a model that wrote a tool invocation as prose
// or pseudo-code instead of issuing a structured call.
var proseToolCallPatterns = []*regexp.Regexp{
	// control({"action": ...}) / web_search("...") style
	regexp.MustCompile(`(?i)\b(control|web_search|timer_alarm|await_response|nevermind)\s*\(`),
	// JSON-ish function envelope in plain text
	regexp.MustCompile(`"(tool|function|tool_name|function_call)"\s*:\s*"`),
	// XML-ish tool tags some models emit
	regexp.MustCompile(`(?i)<(tool_call|function_call|invoke)[\s>]`),
	// "I will call the X tool with ..."
	regexp.MustCompile(`(?i)\b(call|calling|invoke|invoking|use|using)\s+the\s+\x60?[a-z_]+\x60?\s+tool\b`),
}

// LooksLikeProseToolCall reports whether text imitates a tool invocation
// instead of issuing one. These responses are recoverable format errors.
func LooksLikeProseToolCall(text string) bool {
	if text == "" {
		return false
	}
	text = normalizeText(text)
	for _, pat := range proseToolCallPatterns {
		if pat.MatchString(text) {
			return true
		}
	}
	return false
}

var announcePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(announce|broadcast)\b`),
	regexp.MustCompile(`(?i)\btell\s+(everyone|everybody|the\s+(house|whole\s+house|family))\b`),
	regexp.MustCompile(`(?i)\bsay\s+(it\s+)?(out\s+loud|on\s+the\s+speakers?)\b`),
	regexp.MustCompile(`(?i)\bover\s+the\s+(speakers?|intercom)\b`),
}

// WantsAnnouncement reports whether the user asked for the answer to be
// spoken house-wide rather than returned to the requesting device only.
func WantsAnnouncement(text string) bool {
	text = normalizeText(text)
	for _, pat := range announcePatterns {
		if pat.MatchString(text) {
			return true
		}
	}
	return false
}

var relativeIntentPatterns = []*regexp.Regexp{
	// "5 more minutes", "add ten minutes"
	regexp.MustCompile(`(?i)\b(\d+|a|an|one|two|three|five|ten|fifteen|twenty|thirty)\s+more\s+(second|minute|hour)s?\b`),
	regexp.MustCompile(`(?i)\badd\s+(\d+|a|an|one|two|three|five|ten|fifteen|twenty|thirty)\s+(second|minute|hour)s?\b`),
	// "make it earlier/later", "push it back", "move it up"
	regexp.MustCompile(`(?i)\b(make|set|move|push)\s+(it|that|the\s+(timer|alarm))\s+(back|up|earlier|later)\b`),
	// "snooze", "extend it", "restart it"
	regexp.MustCompile(`(?i)\b(snooze|extend|restart)\s*(it|that)?\b`),
}

// IsRelativeIntent reports whether the message adjusts something that must
// already exist, rather than creating it from scratch. Relative intents only
// justify a corrective nudge when recent context backs them up.
func IsRelativeIntent(text string) bool {
	text = normalizeText(text)
	for _, pat := range relativeIntentPatterns {
		if pat.MatchString(text) {
			return true
		}
	}
	return false
}

// normalizeText lowercases and collapses whitespace for heuristic matching.
// Voice transcription produces unicode spaces that \s does not cover.
func normalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
