package domain

import "strings"

// pairSep never appears in user ids accepted by the directory.
const pairSep = "|"

// SortPair returns the two ids in canonical order.
func SortPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// PairKey returns the order-independent key for a participant pair.
// PairKey(a, b) == PairKey(b, a).
func PairKey(a, b string) string {
	lo, hi := SortPair(a, b)
	return lo + pairSep + hi
}

// ParticipantIDs returns the chat participants in canonical order.
func ParticipantIDs(c *Chat) []string {
	return []string{c.UserA, c.UserB}
}

// IsParticipant reports whether userID is one of the two participants.
func IsParticipant(c *Chat, userID string) bool {
	if c == nil || strings.TrimSpace(userID) == "" {
		return false
	}
	return c.UserA == userID || c.UserB == userID
}
