package model

import (
	"net/mail"
	"strings"
)

// NormalizeEmail is the canonical identity of a participant email.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail reports whether s parses as a bare address.
func ValidEmail(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	a, err := mail.ParseAddress(s)
	return err == nil && a.Address == s
}

// DedupParticipants normalizes emails and drops later duplicates.
// The first occurrence of an email wins. Entries with an empty email are dropped.
func DedupParticipants(in []Participant) []Participant {
	seen := make(map[string]struct{}, len(in))
	out := make([]Participant, 0, len(in))
	for _, p := range in {
		key := NormalizeEmail(p.Email)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		p.Email = key
		p.Name = strings.TrimSpace(p.Name)
		out = append(out, p)
	}
	return out
}

// MergeParticipants appends the entries of add whose email is not already in base.
// It returns the merged list and the participants that were actually added.
func MergeParticipants(base, add []Participant) (merged, added []Participant) {
	merged = DedupParticipants(base)
	seen := make(map[string]struct{}, len(merged))
	for _, p := range merged {
		seen[p.Email] = struct{}{}
	}
	for _, p := range DedupParticipants(add) {
		if _, ok := seen[p.Email]; ok {
			continue
		}
		seen[p.Email] = struct{}{}
		merged = append(merged, p)
		added = append(added, p)
	}
	return merged, added
}
