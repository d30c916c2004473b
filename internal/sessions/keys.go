package sessions

import (
	"regexp"
	"strings"
)

// PeerKind distinguishes direct conversations from group ones in session keys.
const (
	PeerDirect = "direct"
	PeerGroup  = "group"
)

var keyInvalidChars = regexp.MustCompile(`[^a-z0-9_.-]+`)

// BuildSessionKey builds a stable session key from its routing parts:
// agent:channel:peerKind:peerID, each part normalized.
func BuildSessionKey(agentID, channel, peerKind, peerID string) string {
	parts := []string{agentID, channel, peerKind, peerID}
	for i, p := range parts {
		parts[i] = normalizeKeyPart(p)
	}
	return strings.Join(parts, ":")
}

// SessionKey is the short two-part form used when peer routing is implicit.
func SessionKey(agentID, suffix string) string {
	return normalizeKeyPart(agentID) + ":" + normalizeKeyPart(suffix)
}

func normalizeKeyPart(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "default"
	}
	s = keyInvalidChars.ReplaceAllString(s, "-")
	if len(s) > 64 {
		s = s[:64]
	}
	return s
}
