// ABOUTME: Canonical room id derivation for a pair of conversation participants
// ABOUTME: Pure functions only - two clients must agree on the id with no coordination

package room

import "strings"

// Separator joins the two participant ids in a room id.
const Separator = "-"

// Resolve returns the canonical room id for a pair of user ids.
// The result is symmetric: Resolve(a, b) == Resolve(b, a). The lower
// id (lexicographic on the string form) always comes first, so two
// independently started clients compute the same id.
func Resolve(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + Separator + b
}

// Participants splits a room id back into its two participant ids.
// Returns ok=false if the id was not produced by Resolve.
func Participants(roomID string) (a, b string, ok bool) {
	a, b, ok = strings.Cut(roomID, Separator)
	if !ok || a == "" || b == "" {
		return "", "", false
	}
	return a, b, true
}
