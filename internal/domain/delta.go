package domain

import "time"

// Delta is the poll-fallback answer: entries strictly after a cursor in
// ascending order. Next is the cursor to resume from. PollIntervalMS is the
// cadence the server asks pollers to keep; zero leaves theirs unchanged.
type Delta[T any] struct {
	Items          []T    `json:"items"`
	Next           Cursor `json:"next"`
	HasMore        bool   `json:"has_more"`
	UnreadCount    int64  `json:"unread_count,omitempty"`
	PollIntervalMS int64  `json:"poll_interval_ms,omitempty"`
}

func (d *Delta[T]) PollInterval() time.Duration {
	return time.Duration(d.PollIntervalMS) * time.Millisecond
}
