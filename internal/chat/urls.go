package chat

import (
	"net/url"
	"strings"
)

// URLs builds the websocket endpoints from the API base URL. The exact
// path scheme belongs to the server; everything else treats these as
// opaque strings.
type URLs struct {
	Base string
}

// WSBaseURL normalizes an API base URL to its websocket scheme.
func WSBaseURL(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	case strings.HasPrefix(base, "ws://"), strings.HasPrefix(base, "wss://"):
		return base
	default:
		return "ws://" + base
	}
}

// Room returns the per-conversation endpoint for roomID, carrying the
// caller's user id.
func (u URLs) Room(roomID, userID string) string {
	s := WSBaseURL(u.Base) + "/ws/" + url.PathEscape(roomID)
	if userID != "" {
		s += "?id=" + url.QueryEscape(userID)
	}
	return s
}

// Global returns the per-user notification endpoint.
func (u URLs) Global(userID string) string {
	return WSBaseURL(u.Base) + "/ws/user/" + url.PathEscape(userID)
}
