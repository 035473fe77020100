package model

import (
	"strings"

	"github.com/google/uuid"
)

// NewInvitationCode returns an opaque, unguessable token for response links.
func NewInvitationCode() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// NewID returns a fresh entity id.
func NewID() string {
	return uuid.NewString()
}

// InvitationLink builds the participant response URL.
func InvitationLink(baseURL, meetingID, code, email string) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(baseURL, "/"))
	b.WriteString("/RespondToMeeting?meeting=")
	b.WriteString(meetingID)
	b.WriteString("&code=")
	b.WriteString(code)
	b.WriteString("&email=")
	b.WriteString(EncodeURIComponent(email))
	return b.String()
}

// EncodeURIComponent escapes s the way JavaScript's encodeURIComponent does:
// everything except A-Z a-z 0-9 - _ . ! ~ * ' ( ) is percent-encoded as UTF-8.
func EncodeURIComponent(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if uriUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func uriUnreserved(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("-_.!~*'()", c) >= 0
}
