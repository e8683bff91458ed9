package generic

// =============================================================================
// SLOT - A practitioner's time range on one day
// =============================================================================

// DefaultBufferMinutes is the gap required before and after every booking.
const DefaultBufferMinutes = 15

// Slot is a half-open range [Start, Start+Duration) in minutes since midnight.
type Slot struct {
	Start    Clock
	Duration int
}

// NewSlot validates a start time and duration.
func NewSlot(start Clock, duration int) (Slot, error) {
	if duration <= 0 {
		return Slot{}, ErrInvalidDuration
	}
	if start.Minutes()+duration > MinutesPerDay {
		return Slot{}, ErrSlotPastMidnight
	}
	return Slot{Start: start, Duration: duration}, nil
}

func (s Slot) StartMinutes() int { return s.Start.Minutes() }
func (s Slot) EndMinutes() int { return s.Start.Minutes() + s.Duration }
func (s Slot) End() Clock { return Clock(s.EndMinutes()) }

// Within reports whether s lies entirely inside [open, closing].
func (s Slot) Within(open, closing Clock) bool {
	return s.StartMinutes() >= open.Minutes() && s.EndMinutes() <= closing.Minutes()
}

// Conflicts reports whether proposed may not be booked next to booked.
// A proposed slot is rejected when any of these hold:
//
//	start < bookedEnd && end > bookedStart           overlap
//	bookedEnd <= start < bookedEnd+buffer            too soon after
//	bookedStart-buffer < end <= bookedStart          too close before
func (s Slot) Conflicts(booked Slot, buffer int) bool {
	start, end := s.StartMinutes(), s.EndMinutes()
	bStart, bEnd := booked.StartMinutes(), booked.EndMinutes()

	if start < bEnd && end > bStart {
		return true
	}
	if start >= bEnd && start < bEnd+buffer {
		return true
	}
	if end > bStart-buffer && end <= bStart {
		return true
	}
	return false
}

// FirstConflict returns the first booked slot that rejects proposed.
func FirstConflict(proposed Slot, booked []Slot, buffer int) (Slot, bool) {
	for _, b := range booked {
		if proposed.Conflicts(b, buffer) {
			return b, true
		}
	}
	return Slot{}, false
}
