package booking

import (
	"context"
	"fmt"

	"github.com/warp/booking-engine/generic"
)

// SlotSource lists the slots already taken for a practitioner on a day.
type SlotSource interface {
	BookedSlots(ctx context.Context, practitioner string, day generic.Day) ([]generic.Slot, error)
}

// Checker decides whether a practitioner can take a proposed slot.
// It keeps no calendar of its own: every call scans the day's bookings, so a
// booking must run it again inside the unit of work that writes the result.
type Checker struct {
	source SlotSource
	buffer int
}

func NewChecker(source SlotSource, bufferMinutes int) *Checker {
	return &Checker{source: source, buffer: bufferMinutes}
}

// IsAvailable returns true when no booked slot conflicts with proposed.
// On false, the conflicting slot is returned as well.
func (c *Checker) IsAvailable(ctx context.Context, practitioner string, day generic.Day, proposed generic.Slot) (bool, *generic.Slot, error) {
	booked, err := c.source.BookedSlots(ctx, practitioner, day)
	if err != nil {
		return false, nil, fmt.Errorf("load booked slots: %w", err)
	}
	if conflict, found := generic.FirstConflict(proposed, booked, c.buffer); found {
		return false, &conflict, nil
	}
	return true, nil, nil
}

// slotKey is the advisory lock key for one practitioner's day.
func slotKey(practitioner string, day generic.Day) string {
	return "slot:" + practitioner + ":" + day.String()
}
