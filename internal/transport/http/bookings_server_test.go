package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"slotwise/backend/internal/domain"
	"slotwise/backend/internal/metrics"
	"slotwise/backend/internal/service/bookings"
	"slotwise/backend/internal/store"
)

type fakeService struct {
	identifyUserFn func(ctx context.Context, in bookings.IdentifyInput) (domain.User, error)
	createFn       func(ctx context.Context, in bookings.CreateInput) (domain.Booking, error)
	rescheduleFn   func(ctx context.Context, in bookings.RescheduleInput) (domain.Booking, error)
	confirmFn      func(ctx context.Context, userID, bookingID uuid.UUID) (domain.Booking, error)
	cancelFn       func(ctx context.Context, userID, bookingID uuid.UUID) error
	listFn         func(ctx context.Context, userID uuid.UUID) ([]domain.Booking, error)
}

func (f *fakeService) IdentifyUser(ctx context.Context, in bookings.IdentifyInput) (domain.User, error) {
	return f.identifyUserFn(ctx, in)
}

func (f *fakeService) Create(ctx context.Context, in bookings.CreateInput) (domain.Booking, error) {
	return f.createFn(ctx, in)
}

func (f *fakeService) Reschedule(ctx context.Context, in bookings.RescheduleInput) (domain.Booking, error) {
	return f.rescheduleFn(ctx, in)
}

func (f *fakeService) Confirm(ctx context.Context, userID, bookingID uuid.UUID) (domain.Booking, error) {
	return f.confirmFn(ctx, userID, bookingID)
}

func (f *fakeService) Cancel(ctx context.Context, userID, bookingID uuid.UUID) error {
	return f.cancelFn(ctx, userID, bookingID)
}

func (f *fakeService) List(ctx context.Context, userID uuid.UUID) ([]domain.Booking, error) {
	return f.listFn(ctx, userID)
}

func newTestRouter(svc bookingsService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	router := gin.New()
	srv := &BookingsServer{svc: svc, log: log}
	router.POST("/users", srv.IdentifyUser)
	user := router.Group("/users/:userID")
	{
		user.POST("/bookings", srv.CreateBooking)
		user.GET("/bookings", srv.ListBookings)
		user.POST("/bookings/:bookingID/reschedule", srv.RescheduleBooking)
		user.POST("/bookings/:bookingID/confirm", srv.ConfirmBooking)
		user.POST("/bookings/:bookingID/cancel", srv.CancelBooking)
	}
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestIdentifyUserHandler(t *testing.T) {
	userID := uuid.MustParse("00000000-0000-0000-0000-000000000001")

	t.Run("returns the identified user", func(t *testing.T) {
		router := newTestRouter(&fakeService{
			identifyUserFn: func(ctx context.Context, in bookings.IdentifyInput) (domain.User, error) {
				require.Equal(t, "+15550001234", in.Phone)
				return domain.User{ID: userID, Phone: in.Phone, Name: in.Name}, nil
			},
		})

		w := doJSON(t, router, http.MethodPost, "/users", `{"phone":"+15550001234","name":"Ada"}`)

		require.Equal(t, http.StatusOK, w.Code)
		var resp userResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Equal(t, userID.String(), resp.ID)
		require.Equal(t, "Ada", resp.Name)
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		router := newTestRouter(&fakeService{})
		w := doJSON(t, router, http.MethodPost, "/users", `{"phone":`)

		require.Equal(t, http.StatusBadRequest, w.Code)
		var resp errorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Equal(t, "invalid_request", resp.Code)
	})

	t.Run("maps validation errors to 400", func(t *testing.T) {
		router := newTestRouter(&fakeService{
			identifyUserFn: func(ctx context.Context, in bookings.IdentifyInput) (domain.User, error) {
				return domain.User{}, &bookings.ValidationError{}
			},
		})
		w := doJSON(t, router, http.MethodPost, "/users", `{"name":"Ada"}`)

		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestCreateBookingHandler(t *testing.T) {
	userID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	bookingID := uuid.MustParse("00000000-0000-0000-0000-000000000101")
	day := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	t.Run("creates and returns 201", func(t *testing.T) {
		router := newTestRouter(&fakeService{
			createFn: func(ctx context.Context, in bookings.CreateInput) (domain.Booking, error) {
				require.Equal(t, userID, in.UserID)
				require.True(t, in.Day.Equal(day))
				require.True(t, in.StartTime.Equal(day.Add(14*time.Hour)))
				require.True(t, in.EndTime.Equal(day.Add(14*time.Hour+30*time.Minute)))
				return domain.Booking{
					ID:        bookingID,
					UserID:    in.UserID,
					Day:       in.Day,
					StartTime: in.StartTime,
					EndTime:   in.EndTime,
					Status:    domain.BookingStatusBooked,
				}, nil
			},
		})

		w := doJSON(t, router, http.MethodPost, "/users/"+userID.String()+"/bookings",
			`{"day":"2025-06-10","start_time":"14:00","end_time":"14:30"}`)

		require.Equal(t, http.StatusCreated, w.Code)
		var resp bookingResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Equal(t, bookingID.String(), resp.ID)
		require.Equal(t, "2025-06-10", resp.Day)
		require.Equal(t, "14:00", resp.StartTime)
		require.Equal(t, "14:30", resp.EndTime)
		require.Equal(t, "booked", resp.Status)
	})

	t.Run("maps conflicts to 409 slot_unavailable", func(t *testing.T) {
		router := newTestRouter(&fakeService{
			createFn: func(ctx context.Context, in bookings.CreateInput) (domain.Booking, error) {
				return domain.Booking{}, store.ErrConflict
			},
		})

		w := doJSON(t, router, http.MethodPost, "/users/"+userID.String()+"/bookings",
			`{"day":"2025-06-10","start_time":"14:15","end_time":"14:45"}`)

		require.Equal(t, http.StatusConflict, w.Code)
		var resp errorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Equal(t, "slot_unavailable", resp.Code)
		require.Contains(t, resp.Error, "different time")
	})

	t.Run("maps store outages to 503 with Retry-After", func(t *testing.T) {
		router := newTestRouter(&fakeService{
			createFn: func(ctx context.Context, in bookings.CreateInput) (domain.Booking, error) {
				return domain.Booking{}, store.ErrUnavailable
			},
		})

		w := doJSON(t, router, http.MethodPost, "/users/"+userID.String()+"/bookings",
			`{"day":"2025-06-10","start_time":"14:00","end_time":"14:30"}`)

		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		require.Equal(t, "1", w.Header().Get("Retry-After"))
		var resp errorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Equal(t, "unavailable", resp.Code)
	})

	t.Run("validation failures do not count as reservation errors", func(t *testing.T) {
		router := newTestRouter(&fakeService{
			createFn: func(ctx context.Context, in bookings.CreateInput) (domain.Booking, error) {
				return domain.Booking{}, &bookings.ValidationError{}
			},
		})

		before := testutil.ToFloat64(metrics.ReservationsTotal.WithLabelValues("error"))

		w := doJSON(t, router, http.MethodPost, "/users/"+userID.String()+"/bookings",
			`{"day":"2025-06-10","start_time":"15:00","end_time":"14:00"}`)

		require.Equal(t, http.StatusBadRequest, w.Code)
		after := testutil.ToFloat64(metrics.ReservationsTotal.WithLabelValues("error"))
		require.Equal(t, before, after)
	})

	t.Run("rejects a bad day format", func(t *testing.T) {
		router := newTestRouter(&fakeService{})
		w := doJSON(t, router, http.MethodPost, "/users/"+userID.String()+"/bookings",
			`{"day":"10/06/2025","start_time":"14:00","end_time":"14:30"}`)

		require.Equal(t, http.StatusBadRequest, w.Code)
		var resp errorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Equal(t, "invalid_request", resp.Code)
		require.Contains(t, resp.Error, "2006-01-02")
	})

	t.Run("rejects a non-uuid user id", func(t *testing.T) {
		router := newTestRouter(&fakeService{})
		w := doJSON(t, router, http.MethodPost, "/users/abc/bookings",
			`{"day":"2025-06-10","start_time":"14:00","end_time":"14:30"}`)

		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("accepts 24:00 as end of day", func(t *testing.T) {
		router := newTestRouter(&fakeService{
			createFn: func(ctx context.Context, in bookings.CreateInput) (domain.Booking, error) {
				require.True(t, in.EndTime.Equal(day.Add(24*time.Hour)))
				return domain.Booking{
					ID:        bookingID,
					UserID:    in.UserID,
					Day:       in.Day,
					StartTime: in.StartTime,
					EndTime:   in.EndTime,
					Status:    domain.BookingStatusBooked,
				}, nil
			},
		})

		w := doJSON(t, router, http.MethodPost, "/users/"+userID.String()+"/bookings",
			`{"day":"2025-06-10","start_time":"23:00","end_time":"24:00"}`)

		require.Equal(t, http.StatusCreated, w.Code)
		var resp bookingResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Equal(t, "24:00", resp.EndTime)
	})
}

func TestListBookingsHandler(t *testing.T) {
	userID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	day := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	router := newTestRouter(&fakeService{
		listFn: func(ctx context.Context, gotUser uuid.UUID) ([]domain.Booking, error) {
			require.Equal(t, userID, gotUser)
			return []domain.Booking{
				{
					ID:        uuid.MustParse("00000000-0000-0000-0000-000000000101"),
					UserID:    userID,
					Day:       day,
					StartTime: day.Add(14 * time.Hour),
					EndTime:   day.Add(14*time.Hour + 30*time.Minute),
					Status:    domain.BookingStatusConfirmed,
				},
			}, nil
		},
	})

	w := doJSON(t, router, http.MethodGet, "/users/"+userID.String()+"/bookings", "")

	require.Equal(t, http.StatusOK, w.Code)
	var resp []bookingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	require.Equal(t, "confirmed", resp[0].Status)
	require.Equal(t, "14:00", resp[0].StartTime)
}

func TestRescheduleBookingHandler(t *testing.T) {
	userID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	bookingID := uuid.MustParse("00000000-0000-0000-0000-000000000101")
	day := time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC)

	t.Run("reschedules and returns the updated booking", func(t *testing.T) {
		router := newTestRouter(&fakeService{
			rescheduleFn: func(ctx context.Context, in bookings.RescheduleInput) (domain.Booking, error) {
				require.Equal(t, bookingID, in.BookingID)
				return domain.Booking{
					ID:        in.BookingID,
					UserID:    in.UserID,
					Day:       in.Day,
					StartTime: in.StartTime,
					EndTime:   in.EndTime,
					Status:    domain.BookingStatusRescheduled,
				}, nil
			},
		})

		w := doJSON(t, router, http.MethodPost,
			"/users/"+userID.String()+"/bookings/"+bookingID.String()+"/reschedule",
			`{"day":"2025-06-11","start_time":"09:00","end_time":"10:00"}`)

		require.Equal(t, http.StatusOK, w.Code)
		var resp bookingResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Equal(t, "rescheduled", resp.Status)
		require.Equal(t, day.Format(dayFormat), resp.Day)
	})

	t.Run("maps unknown bookings to 404", func(t *testing.T) {
		router := newTestRouter(&fakeService{
			rescheduleFn: func(ctx context.Context, in bookings.RescheduleInput) (domain.Booking, error) {
				return domain.Booking{}, store.ErrNotFound
			},
		})

		w := doJSON(t, router, http.MethodPost,
			"/users/"+userID.String()+"/bookings/"+bookingID.String()+"/reschedule",
			`{"day":"2025-06-11","start_time":"09:00","end_time":"10:00"}`)

		require.Equal(t, http.StatusNotFound, w.Code)
		var resp errorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Equal(t, "not_found", resp.Code)
	})
}

func TestConfirmAndCancelHandlers(t *testing.T) {
	userID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	bookingID := uuid.MustParse("00000000-0000-0000-0000-000000000101")
	day := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	t.Run("confirm returns the confirmed booking", func(t *testing.T) {
		router := newTestRouter(&fakeService{
			confirmFn: func(ctx context.Context, gotUser, gotBooking uuid.UUID) (domain.Booking, error) {
				require.Equal(t, userID, gotUser)
				require.Equal(t, bookingID, gotBooking)
				return domain.Booking{
					ID:        gotBooking,
					UserID:    gotUser,
					Day:       day,
					StartTime: day.Add(14 * time.Hour),
					EndTime:   day.Add(15 * time.Hour),
					Status:    domain.BookingStatusConfirmed,
				}, nil
			},
		})

		w := doJSON(t, router, http.MethodPost,
			"/users/"+userID.String()+"/bookings/"+bookingID.String()+"/confirm", "")

		require.Equal(t, http.StatusOK, w.Code)
		var resp bookingResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Equal(t, "confirmed", resp.Status)
	})

	t.Run("cancel returns a cancelled status", func(t *testing.T) {
		router := newTestRouter(&fakeService{
			cancelFn: func(ctx context.Context, gotUser, gotBooking uuid.UUID) error {
				require.Equal(t, userID, gotUser)
				require.Equal(t, bookingID, gotBooking)
				return nil
			},
		})

		w := doJSON(t, router, http.MethodPost,
			"/users/"+userID.String()+"/bookings/"+bookingID.String()+"/cancel", "")

		require.Equal(t, http.StatusOK, w.Code)
		require.JSONEq(t, `{"status":"cancelled"}`, w.Body.String())
	})

	t.Run("cancel of a foreign booking maps to 404", func(t *testing.T) {
		router := newTestRouter(&fakeService{
			cancelFn: func(ctx context.Context, gotUser, gotBooking uuid.UUID) error {
				return store.ErrNotFound
			},
		})

		w := doJSON(t, router, http.MethodPost,
			"/users/"+userID.String()+"/bookings/"+bookingID.String()+"/cancel", "")

		require.Equal(t, http.StatusNotFound, w.Code)
	})
}
