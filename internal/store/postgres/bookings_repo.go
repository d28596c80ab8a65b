package postgres

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"slotwise/backend/internal/domain"
	"slotwise/backend/internal/store"
)

const dayFormat = "2006-01-02"

type BookingRepo struct {
	db       *bun.DB
	lockWait time.Duration
}

// NewBookingRepo wraps db. lockWait bounds every lock acquisition inside
// repo transactions; an expired wait surfaces as store.ErrUnavailable.
func NewBookingRepo(db *bun.DB, lockWait time.Duration) *BookingRepo {
	return &BookingRepo{db: db, lockWait: lockWait}
}

type slotTx struct {
	tx bun.Tx
}

func (r *BookingRepo) FindOrCreateUser(ctx context.Context, phone, name string) (domain.User, error) {
	u := domain.User{Phone: phone, Name: name}

	// The no-op DO UPDATE makes RETURNING yield the existing row, so two
	// concurrent calls with the same new phone both get the same id and
	// exactly one row is created.
	_, err := r.db.NewInsert().
		Model(&u).
		On("CONFLICT (phone) DO UPDATE").
		Set("phone = EXCLUDED.phone").
		Returning("id, phone, name, created_at, updated_at").
		Exec(ctx)
	if err != nil {
		return domain.User{}, mapRetryable(err)
	}
	return u, nil
}

func (r *BookingRepo) Reserve(ctx context.Context, booking domain.Booking) (domain.Booking, error) {
	var out domain.Booking
	err := r.inSlotTransaction(ctx, func(ctx context.Context, tx bun.Tx) error {
		if err := lockSlotScopes(ctx, tx, booking.UserID, booking.Day); err != nil {
			return err
		}
		s := slotTx{tx: tx}
		if err := ensureNoOverlap(ctx, s, booking.UserID, booking.Day, booking.StartTime, booking.EndTime, uuid.Nil); err != nil {
			return err
		}
		b, err := s.InsertBooking(ctx, booking)
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return domain.Booking{}, err
	}
	return out, nil
}

func (r *BookingRepo) Reschedule(ctx context.Context, userID, bookingID uuid.UUID, day, start, end time.Time) (domain.Booking, error) {
	var out domain.Booking
	err := r.inSlotTransaction(ctx, func(ctx context.Context, tx bun.Tx) error {
		s := slotTx{tx: tx}

		// Row lock first: a concurrent reschedule/cancel of the same
		// booking blocks here, so the day read below is stable.
		b, err := s.GetBooking(ctx, userID, bookingID)
		if err != nil {
			return err
		}
		if !b.Active() {
			return store.ErrNotFound
		}

		if err := lockSlotScopes(ctx, tx, userID, b.Day, day); err != nil {
			return err
		}
		if err := ensureNoOverlap(ctx, s, userID, day, start, end, b.ID); err != nil {
			return err
		}

		b.Day = day
		b.StartTime = start
		b.EndTime = end
		b.Status = domain.BookingStatusRescheduled
		updated, err := s.UpdateBooking(ctx, b)
		if err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		return domain.Booking{}, err
	}
	return out, nil
}

func (r *BookingRepo) Confirm(ctx context.Context, userID, bookingID uuid.UUID) (domain.Booking, error) {
	var out domain.Booking
	err := r.inSlotTransaction(ctx, func(ctx context.Context, tx bun.Tx) error {
		s := slotTx{tx: tx}
		b, err := s.GetBooking(ctx, userID, bookingID)
		if err != nil {
			return err
		}
		if !b.Active() {
			return store.ErrNotFound
		}
		if b.Status == domain.BookingStatusConfirmed {
			out = b
			return nil
		}
		b.Status = domain.BookingStatusConfirmed
		updated, err := s.UpdateBooking(ctx, b)
		if err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		return domain.Booking{}, err
	}
	return out, nil
}

func (r *BookingRepo) Cancel(ctx context.Context, userID, bookingID uuid.UUID) error {
	return r.inSlotTransaction(ctx, func(ctx context.Context, tx bun.Tx) error {
		s := slotTx{tx: tx}
		b, err := s.GetBooking(ctx, userID, bookingID)
		if err != nil {
			return err
		}
		if b.Status == domain.BookingStatusCancelled {
			return nil
		}
		b.Status = domain.BookingStatusCancelled
		_, err = s.UpdateBooking(ctx, b)
		return err
	})
}

func (r *BookingRepo) ListBookings(ctx context.Context, userID uuid.UUID) ([]domain.Booking, error) {
	var rows []domain.Booking
	err := r.db.NewSelect().
		Model(&rows).
		Where("user_id = ?", userID).
		OrderExpr("day ASC, start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, mapRetryable(err)
	}
	return rows, nil
}

func (r *BookingRepo) inSlotTransaction(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if r.lockWait > 0 {
			// SET does not take bind parameters.
			stmt := "SET LOCAL lock_timeout = " + strconv.FormatInt(r.lockWait.Milliseconds(), 10)
			if _, err := tx.NewRaw(stmt).Exec(ctx); err != nil {
				return err
			}
		}
		return fn(ctx, tx)
	})
	return mapRetryable(err)
}

// lockSlotScopes serializes writers per (user, day). Scopes are acquired in
// sorted key order so a cross-day reschedule cannot deadlock with another
// writer locking the same pair.
func lockSlotScopes(ctx context.Context, tx bun.Tx, userID uuid.UUID, days ...time.Time) error {
	for _, key := range slotScopeKeys(userID, days...) {
		if _, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", key).Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func slotScopeKeys(userID uuid.UUID, days ...time.Time) []string {
	seen := make(map[string]struct{}, len(days))
	keys := make([]string, 0, len(days))
	for _, d := range days {
		key := userID.String() + ":" + d.UTC().Format(dayFormat)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// ensureNoOverlap must run with the (userID, day) scope locked; together with
// the lock it makes check-and-insert atomic. exclude skips the booking being
// moved by a reschedule.
func ensureNoOverlap(ctx context.Context, tx store.SlotTx, userID uuid.UUID, day, start, end time.Time, exclude uuid.UUID) error {
	rows, err := tx.ListActiveBookings(ctx, userID, day)
	if err != nil {
		return err
	}
	for i := range rows {
		if rows[i].ID == exclude {
			continue
		}
		if rows[i].Overlaps(start, end) {
			return store.ErrConflict
		}
	}
	return nil
}

func (s slotTx) InsertBooking(ctx context.Context, booking domain.Booking) (domain.Booking, error) {
	m := domain.Booking{
		ID:        booking.ID,
		UserID:    booking.UserID,
		Day:       booking.Day,
		StartTime: booking.StartTime,
		EndTime:   booking.EndTime,
		Status:    booking.Status,
		CreatedAt: booking.CreatedAt,
		UpdatedAt: booking.UpdatedAt,
	}

	_, err := s.tx.NewInsert().Model(&m).Exec(ctx)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23P01" && pgErr.ConstraintName == "bookings_no_overlap" {
			return domain.Booking{}, store.ErrConflict
		}
		return domain.Booking{}, err
	}
	return m, nil
}

func (s slotTx) GetBooking(ctx context.Context, userID, bookingID uuid.UUID) (domain.Booking, error) {
	var b domain.Booking
	err := s.tx.NewSelect().
		Model(&b).
		Where("user_id = ?", userID).
		Where("id = ?", bookingID).
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Booking{}, store.ErrNotFound
		}
		return domain.Booking{}, err
	}
	return b, nil
}

func (s slotTx) ListActiveBookings(ctx context.Context, userID uuid.UUID, day time.Time) ([]domain.Booking, error) {
	var rows []domain.Booking
	err := s.tx.NewSelect().
		Model(&rows).
		Where("user_id = ?", userID).
		Where("day = ?", day.UTC().Format(dayFormat)).
		Where("status <> ?", domain.BookingStatusCancelled).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s slotTx) UpdateBooking(ctx context.Context, booking domain.Booking) (domain.Booking, error) {
	m := booking
	res, err := s.tx.NewUpdate().
		Model(&m).
		Column("day", "start_time", "end_time", "status", "updated_at").
		Where("id = ?", m.ID).
		Where("user_id = ?", m.UserID).
		Exec(ctx)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23P01" && pgErr.ConstraintName == "bookings_no_overlap" {
			return domain.Booking{}, store.ErrConflict
		}
		return domain.Booking{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Booking{}, err
	}
	if affected == 0 {
		return domain.Booking{}, store.ErrNotFound
	}
	return m, nil
}

// mapRetryable folds transient engine failures into store.ErrUnavailable:
// lock_timeout expiry (55P03), serialization/deadlock aborts (40001, 40P01)
// and connection-class errors (08xxx). Store sentinels pass through.
func mapRetryable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrUnavailable) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "55P03", pgErr.Code == "40001", pgErr.Code == "40P01":
			return store.ErrUnavailable
		case strings.HasPrefix(pgErr.Code, "08"):
			return store.ErrUnavailable
		}
	}
	if errors.Is(err, sql.ErrConnDone) {
		return store.ErrUnavailable
	}
	return err
}
