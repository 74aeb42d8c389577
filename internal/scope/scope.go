// Package scope implements the set algebra for OAuth scope strings.
//
// A scope is a set of opaque tokens, conventionally "<resource>/<action>" or
// a bare resource name meaning all actions. Authorization codes serialize
// their scope in insertion order while access tokens serialize sorted; both
// forms parse back to the same set.
package scope

import (
	"errors"
	"sort"
	"strings"
)

// ErrInvalidScope indicates a malformed scope token.
var ErrInvalidScope = errors.New("scope: invalid scope token")

// Set is an ordered set of scope tokens. Insertion order is preserved;
// membership is unique.
type Set []string

// Parse splits a raw scope string on single spaces. An empty string parses to
// an empty set. Tokens must be non-empty and contain no whitespace, so runs
// of spaces are rejected rather than collapsed.
func Parse(raw string) (Set, error) {
	if raw == "" {
		return Set{}, nil
	}
	parts := strings.Split(raw, " ")
	s := make(Set, 0, len(parts))
	for _, tok := range parts {
		if !ValidToken(tok) {
			return nil, ErrInvalidScope
		}
		s = s.Add(tok)
	}
	return s, nil
}

// ValidToken reports whether tok may appear in a scope.
func ValidToken(tok string) bool {
	if tok == "" {
		return false
	}
	for _, r := range tok {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r < 0x20 {
			return false
		}
	}
	return true
}

// Has reports set membership.
func (s Set) Has(tok string) bool {
	for _, t := range s {
		if t == tok {
			return true
		}
	}
	return false
}

// Add returns a set containing the receiver's tokens plus the given tokens.
// Adding an existing token is a no-op; first-seen order is preserved.
func (s Set) Add(tokens ...string) Set {
	out := s
	for _, tok := range tokens {
		if !out.Has(tok) {
			out = append(out, tok)
		}
	}
	return out
}

// Union returns the set union of a and b, preserving a's order followed by
// b's unseen tokens.
func (s Set) Union(other Set) Set {
	out := make(Set, 0, len(s)+len(other))
	out = out.Add(s...)
	out = out.Add(other...)
	return out
}

// Equal reports set equality regardless of order.
func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for _, tok := range other {
		if !s.Has(tok) {
			return false
		}
	}
	return true
}

// String serializes in insertion order. This is the authorization code form.
func (s Set) String() string {
	return strings.Join(s, " ")
}

// Sorted serializes in lexicographic order. This is the access token form.
func (s Set) Sorted() string {
	out := make([]string, len(s))
	copy(out, s)
	sort.Strings(out)
	return strings.Join(out, " ")
}

// Clone returns an independent copy.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	copy(out, s)
	return out
}
