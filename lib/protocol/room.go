package protocol

import (
	"net/url"
	"strings"
)

// UnknownRoom is the sentinel routing key used when no room can be derived
// from the page URL.
const UnknownRoom = "unknown-room"

// RoomFromURL derives the relay routing key from a page URL: the first
// non-empty path segment. Parse failures and empty paths fall back to
// UnknownRoom rather than failing initialization.
func RoomFromURL(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return UnknownRoom
	}
	for _, seg := range strings.Split(u.Path, "/") {
		if seg != "" {
			return seg
		}
	}
	return UnknownRoom
}
