// Package progress fans progress events out from a single publisher per
// upload to any number of subscribers. Delivery is at-most-once and there is
// no replay: a subscriber sees only events published after it subscribed.
// Once the terminal event for an upload has been delivered, nothing more is
// delivered for that upload.
package progress

import (
	"context"
	"io"
	"time"

	// Packages
	schema "github.com/michealrm/video-submission-frame/pkg/schema"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Bus is the publish point for progress events
type Bus interface {
	io.Closer

	// Publish an event to current subscribers of evt.UploadID
	Publish(ctx context.Context, evt schema.ProgressEvent) error

	// Subscribe to events for one upload. The subscription ends after the
	// terminal event, when ctx is done, or when it is closed.
	Subscribe(ctx context.Context, uploadID string) (Subscription, error)
}

// Subscription is one subscriber's view of the bus
type Subscription interface {
	io.Closer

	// Events returns the channel of events. It is closed after the terminal
	// event or when the subscription ends.
	Events() <-chan schema.ProgressEvent
}

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	// subscriberBuffer is the number of undelivered events held per subscriber
	subscriberBuffer = 64

	// terminalTTL is how long an upload id stays terminal after its final event
	terminalTTL = time.Hour
)
