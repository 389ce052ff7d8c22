package hub

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateSession is returned when the handle is already joined to
	// the channel.
	ErrDuplicateSession = errors.New("handle already joined to channel")

	// ErrUnknownChannel is returned for channel ids outside the configured set.
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrHubClosed is returned once the hub (or its manager) has shut down.
	ErrHubClosed = errors.New("hub is closed")

	// ErrNotJoined is returned when posting with a subscription that already left.
	ErrNotJoined = errors.New("subscription is not joined")

	// ErrSlowSubscriber closes a subscription whose pending queue overflowed.
	ErrSlowSubscriber = errors.New("subscriber fell too far behind")

	// ErrSubscriptionClosed ends a stream after the subscription left.
	ErrSubscriptionClosed = errors.New("subscription closed")
)

// StorageError marks a log store failure. It is fatal for the channel's hub.
type StorageError struct {
	Channel string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("channel %s storage failure: %v", e.Channel, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err is or wraps a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
