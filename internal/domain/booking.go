package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type BookingStatus string

const (
	BookingStatusBooked      BookingStatus = "booked"
	BookingStatusRescheduled BookingStatus = "rescheduled"
	BookingStatusCancelled   BookingStatus = "cancelled"
	BookingStatusConfirmed   BookingStatus = "confirmed"
)

// Booking occupies the half-open interval [StartTime, EndTime) on Day.
// Bookings on different days never conflict.
type Booking struct {
	bun.BaseModel `bun:"table:bookings"`

	ID        uuid.UUID     `bun:"id,pk,type:uuid"`
	UserID    uuid.UUID     `bun:"user_id,notnull,type:uuid"`
	Day       time.Time     `bun:"day,notnull,type:date"`
	StartTime time.Time     `bun:"start_time,notnull"`
	EndTime   time.Time     `bun:"end_time,notnull"`
	Status    BookingStatus `bun:"status,notnull"`
	CreatedAt time.Time     `bun:"created_at,notnull"`
	UpdatedAt time.Time     `bun:"updated_at,notnull"`
}

// Active reports whether the booking still occupies its slot.
func (b *Booking) Active() bool {
	return b.Status != BookingStatusCancelled
}

// Overlaps uses half-open comparison: touching endpoints do not overlap.
func (b *Booking) Overlaps(start, end time.Time) bool {
	return b.StartTime.Before(end) && start.Before(b.EndTime)
}

func (b *Booking) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if b.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			b.ID = id
		}
		if b.Status == "" {
			b.Status = BookingStatusBooked
		}
		if b.CreatedAt.IsZero() {
			b.CreatedAt = now
		}
		if b.UpdatedAt.IsZero() {
			b.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		b.UpdatedAt = now
	}
	return nil
}
