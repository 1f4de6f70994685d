package ws

import "time"

// firstFrameDeadline bounds how long handleDashboard waits for the
// client's initial subscribe frame before falling back to an unfiltered
// subscription.
func firstFrameDeadline() time.Time {
	return time.Now().Add(2 * time.Second)
}

// noDeadline clears a previously set read deadline.
func noDeadline() time.Time {
	return time.Time{}
}
