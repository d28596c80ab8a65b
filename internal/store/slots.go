package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"slotwise/backend/internal/domain"
)

// SlotTx is the per-transaction view of the slot store. All methods run
// inside one transaction holding the advisory lock for the slot scopes
// being written, so an overlap check followed by a write is atomic.
type SlotTx interface {
	InsertBooking(ctx context.Context, booking domain.Booking) (domain.Booking, error)
	GetBooking(ctx context.Context, userID, bookingID uuid.UUID) (domain.Booking, error)
	ListActiveBookings(ctx context.Context, userID uuid.UUID, day time.Time) ([]domain.Booking, error)
	UpdateBooking(ctx context.Context, booking domain.Booking) (domain.Booking, error)
}
