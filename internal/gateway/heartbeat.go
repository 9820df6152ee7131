package gateway

import "time"

// heartbeatState tracks the liveness ping cycle for one connection.
// It lives on the Client's drive goroutine together with the frame
// receive loop, so no locking is needed.
type heartbeatState struct {
	interval   time.Duration
	ackPending bool
	lastSent   time.Time
}

// tick is called on every timer fire while connected. It reports a
// liveness failure when the previous beat was never acknowledged;
// otherwise it records that a new beat is in flight.
func (h *heartbeatState) tick(now time.Time) (missed bool) {
	if h.ackPending {
		return true
	}
	h.ackPending = true
	h.lastSent = now
	return false
}

func (h *heartbeatState) ack() {
	h.ackPending = false
}
