package bookings

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"slotwise/backend/internal/domain"
	"slotwise/backend/internal/store"
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

// Digits with optional leading +, 7 to 15 digits (E.164 upper bound).
var phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

type Service struct {
	repo store.BookingRepository
}

func NewService(repo store.BookingRepository) *Service {
	return &Service{repo: repo}
}

type IdentifyInput struct {
	Phone string
	Name  string
}

// IdentifyUser resolves a caller to a user id, creating the user on first
// contact. Safe under concurrent calls with the same phone.
func (s *Service) IdentifyUser(ctx context.Context, in IdentifyInput) (domain.User, error) {
	phone := normalizePhone(in.Phone)
	if phone == "" {
		return domain.User{}, validationError("phone is required")
	}
	if !phonePattern.MatchString(phone) {
		return domain.User{}, validationError("phone must be a valid phone number")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.User{}, validationError("name is required")
	}

	return s.repo.FindOrCreateUser(ctx, phone, name)
}

func normalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(phone) {
		switch r {
		case ' ', '-', '(', ')', '.':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type CreateInput struct {
	UserID    uuid.UUID
	Day       time.Time
	StartTime time.Time
	EndTime   time.Time
}

func (s *Service) Create(ctx context.Context, in CreateInput) (domain.Booking, error) {
	if in.UserID == uuid.Nil {
		return domain.Booking{}, validationError("user_id is required")
	}
	day, start, end, err := normalizeSlot(in.Day, in.StartTime, in.EndTime)
	if err != nil {
		return domain.Booking{}, err
	}

	return s.repo.Reserve(ctx, domain.Booking{
		UserID:    in.UserID,
		Day:       day,
		StartTime: start,
		EndTime:   end,
		Status:    domain.BookingStatusBooked,
	})
}

type RescheduleInput struct {
	UserID    uuid.UUID
	BookingID uuid.UUID
	Day       time.Time
	StartTime time.Time
	EndTime   time.Time
}

func (s *Service) Reschedule(ctx context.Context, in RescheduleInput) (domain.Booking, error) {
	if in.UserID == uuid.Nil {
		return domain.Booking{}, validationError("user_id is required")
	}
	if in.BookingID == uuid.Nil {
		return domain.Booking{}, validationError("booking_id is required")
	}
	day, start, end, err := normalizeSlot(in.Day, in.StartTime, in.EndTime)
	if err != nil {
		return domain.Booking{}, err
	}

	return s.repo.Reschedule(ctx, in.UserID, in.BookingID, day, start, end)
}

func (s *Service) Confirm(ctx context.Context, userID, bookingID uuid.UUID) (domain.Booking, error) {
	if userID == uuid.Nil {
		return domain.Booking{}, validationError("user_id is required")
	}
	if bookingID == uuid.Nil {
		return domain.Booking{}, validationError("booking_id is required")
	}
	return s.repo.Confirm(ctx, userID, bookingID)
}

func (s *Service) Cancel(ctx context.Context, userID, bookingID uuid.UUID) error {
	if userID == uuid.Nil {
		return validationError("user_id is required")
	}
	if bookingID == uuid.Nil {
		return validationError("booking_id is required")
	}
	return s.repo.Cancel(ctx, userID, bookingID)
}

func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]domain.Booking, error) {
	if userID == uuid.Nil {
		return nil, validationError("user_id is required")
	}
	return s.repo.ListBookings(ctx, userID)
}

// normalizeSlot pins everything to UTC and requires the interval to lie
// within its day: the conflict scope is per (user, day), so a cross-midnight
// booking has no single day to check against.
func normalizeSlot(day, start, end time.Time) (time.Time, time.Time, time.Time, error) {
	if day.IsZero() {
		return time.Time{}, time.Time{}, time.Time{}, validationError("day is required")
	}
	d := day.UTC().Truncate(24 * time.Hour)
	s := start.UTC()
	e := end.UTC()

	if !e.After(s) {
		return time.Time{}, time.Time{}, time.Time{}, validationError("end_time must be after start_time")
	}
	if s.Before(d) || e.After(d.Add(24*time.Hour)) {
		return time.Time{}, time.Time{}, time.Time{}, validationError("booking must start and end on its day")
	}
	return d, s, e, nil
}
