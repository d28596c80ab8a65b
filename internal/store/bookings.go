package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"slotwise/backend/internal/domain"
)

type BookingRepository interface {
	FindOrCreateUser(ctx context.Context, phone, name string) (domain.User, error)

	Reserve(ctx context.Context, booking domain.Booking) (domain.Booking, error)
	Reschedule(ctx context.Context, userID, bookingID uuid.UUID, day, start, end time.Time) (domain.Booking, error)
	Confirm(ctx context.Context, userID, bookingID uuid.UUID) (domain.Booking, error)
	Cancel(ctx context.Context, userID, bookingID uuid.UUID) error
	ListBookings(ctx context.Context, userID uuid.UUID) ([]domain.Booking, error)
}
