package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"slotwise/backend/internal/domain"
	"slotwise/backend/internal/metrics"
	"slotwise/backend/internal/service/bookings"
	"slotwise/backend/internal/store"
)

const (
	dayFormat  = "2006-01-02"
	timeFormat = "15:04"
)

type BookingsServer struct {
	svc bookingsService
	log *slog.Logger
}

type bookingsService interface {
	IdentifyUser(ctx context.Context, in bookings.IdentifyInput) (domain.User, error)
	Create(ctx context.Context, in bookings.CreateInput) (domain.Booking, error)
	Reschedule(ctx context.Context, in bookings.RescheduleInput) (domain.Booking, error)
	Confirm(ctx context.Context, userID, bookingID uuid.UUID) (domain.Booking, error)
	Cancel(ctx context.Context, userID, bookingID uuid.UUID) error
	List(ctx context.Context, userID uuid.UUID) ([]domain.Booking, error)
}

func NewBookingsServer(svc bookingsService, log *slog.Logger) *BookingsServer {
	if log == nil {
		log = slog.Default()
	}
	return &BookingsServer{
		svc: svc,
		log: log.With(slog.String("component", "http.bookings")),
	}
}

type identifyRequest struct {
	Phone string `json:"phone"`
	Name  string `json:"name"`
}

type slotRequest struct {
	Day       string `json:"day"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type userResponse struct {
	ID    string `json:"id"`
	Phone string `json:"phone"`
	Name  string `json:"name"`
}

type bookingResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Day       string `json:"day"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Status    string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *BookingsServer) IdentifyUser(c *gin.Context) {
	log := s.log.With(slog.String("handler", "IdentifyUser"))

	var req identifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn("invalid request", slog.String("reason", "bad_json"))
		c.JSON(http.StatusBadRequest, errorResponse{Error: "request body must be valid JSON", Code: "invalid_request"})
		return
	}

	user, err := s.svc.IdentifyUser(c.Request.Context(), bookings.IdentifyInput{
		Phone: req.Phone,
		Name:  req.Name,
	})
	if err != nil {
		s.writeError(c, log, err)
		return
	}

	log.Info("user identified", slog.String("user_id", user.ID.String()))
	c.JSON(http.StatusOK, userResponse{
		ID:    user.ID.String(),
		Phone: user.Phone,
		Name:  user.Name,
	})
}

func (s *BookingsServer) CreateBooking(c *gin.Context) {
	log := s.log.With(slog.String("handler", "CreateBooking"))

	userID, ok := s.pathUserID(c, log)
	if !ok {
		return
	}

	var req slotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn("invalid request", slog.String("reason", "bad_json"), slog.String("user_id", userID.String()))
		c.JSON(http.StatusBadRequest, errorResponse{Error: "request body must be valid JSON", Code: "invalid_request"})
		return
	}
	day, start, end, err := parseSlot(req)
	if err != nil {
		log.Warn("invalid request", slog.Any("err", err), slog.String("user_id", userID.String()))
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "invalid_request"})
		return
	}

	booking, err := s.svc.Create(c.Request.Context(), bookings.CreateInput{
		UserID:    userID,
		Day:       day,
		StartTime: start,
		EndTime:   end,
	})
	if err != nil {
		var vErr *bookings.ValidationError
		switch {
		case errors.Is(err, store.ErrConflict):
			metrics.RecordReservation("conflict")
		case errors.As(err, &vErr):
			// rejected before the store was touched; not a reservation outcome
		default:
			metrics.RecordReservation("error")
		}
		s.writeError(c, log, err, slog.String("user_id", userID.String()))
		return
	}

	metrics.RecordReservation("reserved")
	log.Info(
		"booking created",
		slog.String("booking_id", booking.ID.String()),
		slog.String("user_id", booking.UserID.String()),
		slog.Time("start_time", booking.StartTime),
		slog.Time("end_time", booking.EndTime),
	)
	c.JSON(http.StatusCreated, toBookingResponse(booking))
}

func (s *BookingsServer) ListBookings(c *gin.Context) {
	log := s.log.With(slog.String("handler", "ListBookings"))

	userID, ok := s.pathUserID(c, log)
	if !ok {
		return
	}

	rows, err := s.svc.List(c.Request.Context(), userID)
	if err != nil {
		s.writeError(c, log, err, slog.String("user_id", userID.String()))
		return
	}

	out := make([]bookingResponse, 0, len(rows))
	for _, b := range rows {
		out = append(out, toBookingResponse(b))
	}

	log.Debug("bookings listed", slog.String("user_id", userID.String()), slog.Int("count", len(out)))
	c.JSON(http.StatusOK, out)
}

func (s *BookingsServer) RescheduleBooking(c *gin.Context) {
	log := s.log.With(slog.String("handler", "RescheduleBooking"))

	userID, bookingID, ok := s.pathIDs(c, log)
	if !ok {
		return
	}

	var req slotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn("invalid request", slog.String("reason", "bad_json"), slog.String("user_id", userID.String()))
		c.JSON(http.StatusBadRequest, errorResponse{Error: "request body must be valid JSON", Code: "invalid_request"})
		return
	}
	day, start, end, err := parseSlot(req)
	if err != nil {
		log.Warn("invalid request", slog.Any("err", err), slog.String("user_id", userID.String()))
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "invalid_request"})
		return
	}

	booking, err := s.svc.Reschedule(c.Request.Context(), bookings.RescheduleInput{
		UserID:    userID,
		BookingID: bookingID,
		Day:       day,
		StartTime: start,
		EndTime:   end,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			metrics.RecordReservation("conflict")
		}
		s.writeError(c, log, err, slog.String("user_id", userID.String()), slog.String("booking_id", bookingID.String()))
		return
	}

	metrics.RecordReservation("rescheduled")
	log.Info(
		"booking rescheduled",
		slog.String("booking_id", booking.ID.String()),
		slog.String("user_id", booking.UserID.String()),
		slog.Time("start_time", booking.StartTime),
		slog.Time("end_time", booking.EndTime),
	)
	c.JSON(http.StatusOK, toBookingResponse(booking))
}

func (s *BookingsServer) ConfirmBooking(c *gin.Context) {
	log := s.log.With(slog.String("handler", "ConfirmBooking"))

	userID, bookingID, ok := s.pathIDs(c, log)
	if !ok {
		return
	}

	booking, err := s.svc.Confirm(c.Request.Context(), userID, bookingID)
	if err != nil {
		s.writeError(c, log, err, slog.String("user_id", userID.String()), slog.String("booking_id", bookingID.String()))
		return
	}

	log.Info("booking confirmed", slog.String("booking_id", booking.ID.String()), slog.String("user_id", userID.String()))
	c.JSON(http.StatusOK, toBookingResponse(booking))
}

func (s *BookingsServer) CancelBooking(c *gin.Context) {
	log := s.log.With(slog.String("handler", "CancelBooking"))

	userID, bookingID, ok := s.pathIDs(c, log)
	if !ok {
		return
	}

	if err := s.svc.Cancel(c.Request.Context(), userID, bookingID); err != nil {
		s.writeError(c, log, err, slog.String("user_id", userID.String()), slog.String("booking_id", bookingID.String()))
		return
	}

	metrics.RecordCancellation()
	log.Info("booking cancelled", slog.String("booking_id", bookingID.String()), slog.String("user_id", userID.String()))
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (s *BookingsServer) pathUserID(c *gin.Context, log *slog.Logger) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("userID"))
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_user_id"))
		c.JSON(http.StatusBadRequest, errorResponse{Error: "user_id must be a UUID", Code: "invalid_request"})
		return uuid.Nil, false
	}
	return id, true
}

func (s *BookingsServer) pathIDs(c *gin.Context, log *slog.Logger) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := s.pathUserID(c, log)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	bookingID, err := uuid.Parse(c.Param("bookingID"))
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_booking_id"), slog.String("user_id", userID.String()))
		c.JSON(http.StatusBadRequest, errorResponse{Error: "booking_id must be a UUID", Code: "invalid_request"})
		return uuid.Nil, uuid.Nil, false
	}
	return userID, bookingID, true
}

func (s *BookingsServer) writeError(c *gin.Context, log *slog.Logger, err error, args ...any) {
	switch {
	case errors.Is(err, store.ErrConflict):
		log.Info("slot conflict", args...)
		c.JSON(http.StatusConflict, errorResponse{
			Error: "That slot is already taken. Pick a different time.",
			Code:  "slot_unavailable",
		})
	case errors.Is(err, store.ErrNotFound):
		log.Info("booking not found", args...)
		c.JSON(http.StatusNotFound, errorResponse{Error: "booking not found", Code: "not_found"})
	case errors.Is(err, store.ErrUnavailable):
		log.Warn("store unavailable", append(args, slog.Any("err", err))...)
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, errorResponse{
			Error: "The booking service is briefly unavailable. Retry the same request.",
			Code:  "unavailable",
		})
	default:
		var vErr *bookings.ValidationError
		if errors.As(err, &vErr) {
			log.Warn("invalid request", append(args, slog.Any("err", err))...)
			c.JSON(http.StatusBadRequest, errorResponse{Error: vErr.Error(), Code: "invalid_request"})
			return
		}
		log.Error("request failed", append(args, slog.Any("err", err))...)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error", Code: "internal"})
	}
}

func parseSlot(req slotRequest) (time.Time, time.Time, time.Time, error) {
	day, err := time.ParseInLocation(dayFormat, req.Day, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, time.Time{}, errors.New("day must be formatted as 2006-01-02")
	}
	start, err := parseWallClock(day, req.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, time.Time{}, errors.New("start_time must be formatted as 15:04")
	}
	end, err := parseWallClock(day, req.EndTime)
	if err != nil {
		return time.Time{}, time.Time{}, time.Time{}, errors.New("end_time must be formatted as 15:04")
	}
	return day, start, end, nil
}

// parseWallClock resolves an HH:MM wall time on day. "24:00" names the
// exclusive end of the day.
func parseWallClock(day time.Time, s string) (time.Time, error) {
	if s == "24:00" {
		return day.Add(24 * time.Hour), nil
	}
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}, err
	}
	return day.Add(time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute), nil
}

func toBookingResponse(b domain.Booking) bookingResponse {
	return bookingResponse{
		ID:        b.ID.String(),
		UserID:    b.UserID.String(),
		Day:       b.Day.UTC().Format(dayFormat),
		StartTime: b.StartTime.UTC().Format(timeFormat),
		EndTime:   formatWallClock(b.Day, b.EndTime),
		Status:    string(b.Status),
	}
}

func formatWallClock(day, t time.Time) string {
	if t.UTC().Equal(day.UTC().Add(24 * time.Hour)) {
		return "24:00"
	}
	return t.UTC().Format(timeFormat)
}
