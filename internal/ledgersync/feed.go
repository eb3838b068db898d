package ledgersync

import (
	"context"
	"time"
)

// MaxPageSize is the largest window the notification service returns in a
// single call. Callers may ask for more; fetches are clamped to this cap.
const MaxPageSize = 100

// Event is one feed record. The subject line is the only structured payload:
// everything the engine knows about a proposal is extracted from it. Events
// are never persisted; they live for the duration of one page or chunk.
type Event struct {
	Subject    string    `json:"subject"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// FeedSource pages through the notification feed. Results are ordered
// newest-first and are deterministic for a fixed feed state. Implementations
// carry no retry policy unless explicitly configured with one; a transient
// failure propagates to the caller and aborts the invocation.
type FeedSource interface {
	Fetch(ctx context.Context, query string, offset, limit int) ([]Event, error)
}
