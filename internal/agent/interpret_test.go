package agent

import "testing"

func TestLooksLikeProseToolCall(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"function syntax", `control({"action": "turn_on", "targets": ["light.kitchen"]})`, true},
		{"json envelope", `{"tool": "control", "arguments": {"action": "turn_on"}}`, true},
		{"xml tag", `<tool_call name="web_search">`, true},
		{"narrated call", "I will call the control tool with the kitchen lights", true},
		{"narrated use", "Let me use the `web_search` tool to check", true},
		{"plain answer", "The kitchen lights are already on.", false},
		{"mentions word control", "You have full control over the thermostat schedule.", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LooksLikeProseToolCall(tt.text); got != tt.want {
				t.Errorf("LooksLikeProseToolCall(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestWantsAnnouncement(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"tell everyone dinner is ready", true},
		{"announce that we're leaving in five", true},
		{"say it out loud", true},
		{"play it over the speakers", true},
		// Voice transcripts carry non-breaking spaces that \s misses.
		{"tell\u00a0everyone dinner is ready", true},
		{"tell me a joke", false},
		{"what's the weather", false},
	}
	for _, tt := range tests {
		if got := WantsAnnouncement(tt.text); got != tt.want {
			t.Errorf("WantsAnnouncement(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestIsRelativeIntent(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"add five more minutes", true},
		{"give me 10 more minutes", true},
		{"give me 10\u00a0more\u00a0minutes", true},
		{"snooze it", true},
		{"push the alarm back", true},
		{"make it earlier", true},
		{"set a timer for ten minutes", false},
		{"wake me at 7", false},
	}
	for _, tt := range tests {
		if got := IsRelativeIntent(tt.text); got != tt.want {
			t.Errorf("IsRelativeIntent(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
