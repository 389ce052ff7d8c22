package channels

import (
	"fmt"
	"regexp"
)

// channelIDPattern keeps ids safe for use in log file names.
var channelIDPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// Channel is a named, fixed chat topic with its own message stream.
type Channel struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// Defaults returns the channel set the relay ships with.
func Defaults() map[string]string {
	return map[string]string{
		"general": "General Discussion",
		"tech":    "Tech Discussion",
	}
}

// ValidateID checks that a channel id is non-empty and path-safe.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("channel id cannot be empty")
	}
	if !channelIDPattern.MatchString(id) {
		return fmt.Errorf("invalid channel id %q (must match %s)", id, channelIDPattern.String())
	}
	return nil
}
