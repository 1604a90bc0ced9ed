package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/templeseva/darshan/internal/domain"
)

const bookingColumns = `id, temple_id, user_id, visit_date, slot_start, slot_end,
	adults, children, seniors, total_amount, service_fee, final_amount,
	contact_name, contact_phone, contact_email, special_requests,
	payment_method, payment_status, payment_order_id, payment_transaction_id,
	booking_status, qr_code, confirmed_at, check_in_time, check_out_time,
	cancellation_reason, refund_amount, refund_status, refund_id,
	expires_at, created_at, updated_at`

const activeStatuses = `('pending', 'confirmed')`

// DB is the part of *pgxpool.Pool the repository uses.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PGBookingRepository struct {
	db DB
}

func NewBookingRepository(db DB) BookingRepository {
	return &PGBookingRepository{db: db}
}

func (r *PGBookingRepository) ReservePending(ctx context.Context, booking *domain.Booking, capacity int) (int, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	remaining, err := reserve(ctx, tx, booking, capacity)
	if err != nil {
		_ = tx.Rollback(ctx)
		return remaining, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return remaining, nil
}

func reserve(ctx context.Context, tx pgx.Tx, booking *domain.Booking, capacity int) (int, error) {
	key := domain.SlotKey{TempleID: booking.TempleID, Date: booking.FormattedDate(), Start: booking.TimeSlot.Start}

	// Serializes every reservation for the same slot until commit.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key.String()); err != nil {
		return 0, fmt.Errorf("lock slot: %w", err)
	}

	var committed int
	if err := tx.QueryRow(ctx, `SELECT COALESCE(SUM(total_visitors), 0) FROM bookings
		WHERE temple_id=$1 AND visit_date=$2 AND slot_start=$3 AND booking_status IN `+activeStatuses,
		booking.TempleID, booking.VisitDate, booking.TimeSlot.Start).Scan(&committed); err != nil {
		return 0, fmt.Errorf("sum slot visitors: %w", err)
	}

	remaining := capacity - committed
	if booking.TotalVisitors() > remaining {
		return max(remaining, 0), fmt.Errorf("%w: %d of %d places left", domain.ErrSlotUnavailable, max(remaining, 0), capacity)
	}

	if err := tx.QueryRow(ctx, `INSERT INTO bookings (
		id, temple_id, user_id, visit_date, slot_start, slot_end,
		adults, children, seniors, total_amount, service_fee, final_amount,
		contact_name, contact_phone, contact_email, special_requests,
		payment_method, payment_status, booking_status, refund_status, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
		RETURNING created_at, updated_at`,
		booking.ID, booking.TempleID, booking.UserID, booking.VisitDate, booking.TimeSlot.Start, booking.TimeSlot.End,
		booking.Visitors.Adults, booking.Visitors.Children, booking.Visitors.Seniors,
		int64(booking.TotalAmount), int64(booking.ServiceFee), int64(booking.FinalAmount),
		booking.Contact.Name, booking.Contact.Phone, booking.Contact.Email, booking.Contact.SpecialRequests,
		booking.Payment.Method, booking.Payment.Status, booking.Status, booking.RefundStatus, booking.ExpiresAt).
		Scan(&booking.CreatedAt, &booking.UpdatedAt); err != nil {
		return 0, fmt.Errorf("insert booking: %w", err)
	}
	return remaining - booking.TotalVisitors(), nil
}

func (r *PGBookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	row := r.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1`, id)
	return scanBooking(row)
}

func (r *PGBookingRepository) GetByPaymentID(ctx context.Context, paymentID string) (*domain.Booking, error) {
	row := r.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE payment_transaction_id=$1`, paymentID)
	return scanBooking(row)
}

func (r *PGBookingRepository) List(ctx context.Context, filter ListFilter) ([]domain.Booking, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM bookings WHERE user_id=$1 AND ($2 = '' OR booking_status=$2)`,
		filter.UserID, string(filter.Status)).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Query(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE user_id=$1 AND ($2 = '' OR booking_status=$2)
		ORDER BY visit_date DESC, created_at DESC
		LIMIT $3 OFFSET $4`, filter.UserID, string(filter.Status), filter.Limit, filter.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	bookings, err := collectBookings(rows)
	if err != nil {
		return nil, 0, err
	}
	return bookings, total, nil
}

func (r *PGBookingRepository) Save(ctx context.Context, b *domain.Booking, expected domain.BookingStatus) error {
	err := r.db.QueryRow(ctx, `UPDATE bookings SET
		payment_method=$3, payment_status=$4, payment_order_id=$5, payment_transaction_id=$6,
		booking_status=$7, qr_code=$8, confirmed_at=$9, check_in_time=$10, check_out_time=$11,
		cancellation_reason=$12, refund_amount=$13, refund_status=$14, refund_id=$15,
		total_amount=$16, service_fee=$17, final_amount=$18, updated_at=now()
		WHERE id=$1 AND booking_status=$2
		RETURNING updated_at`,
		b.ID, expected,
		b.Payment.Method, b.Payment.Status, b.Payment.OrderID, b.Payment.TransactionID,
		b.Status, b.QRCode, b.ConfirmedAt, b.CheckInTime, b.CheckOutTime,
		b.CancellationReason, int64(b.RefundAmount), b.RefundStatus, b.RefundID,
		int64(b.TotalAmount), int64(b.ServiceFee), int64(b.FinalAmount)).Scan(&b.UpdatedAt)
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: payment already attached to another booking", domain.ErrPaymentMismatch)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	var current domain.BookingStatus
	if err := r.db.QueryRow(ctx, `SELECT booking_status FROM bookings WHERE id=$1`, b.ID).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("booking %s: %w", b.ID, domain.ErrNotFound)
		}
		return err
	}
	return fmt.Errorf("%w: booking is %s, expected %s", domain.ErrInvalidTransition, current, expected)
}

func (r *PGBookingRepository) SaveRefund(ctx context.Context, b *domain.Booking, expected domain.RefundStatus) error {
	err := r.db.QueryRow(ctx, `UPDATE bookings SET
		refund_status=$3, refund_id=$4, payment_status=$5, updated_at=now()
		WHERE id=$1 AND booking_status='cancelled' AND refund_status=$2
		RETURNING updated_at`,
		b.ID, expected, b.RefundStatus, b.RefundID, b.Payment.Status).Scan(&b.UpdatedAt)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	var current domain.RefundStatus
	if err := r.db.QueryRow(ctx, `SELECT refund_status FROM bookings WHERE id=$1`, b.ID).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("booking %s: %w", b.ID, domain.ErrNotFound)
		}
		return err
	}
	return fmt.Errorf("%w: refund is %s, expected %s", domain.ErrInvalidTransition, current, expected)
}

func (r *PGBookingRepository) CommittedVisitors(ctx context.Context, key domain.SlotKey) (int, error) {
	var committed int
	err := r.db.QueryRow(ctx, `SELECT COALESCE(SUM(total_visitors), 0) FROM bookings
		WHERE temple_id=$1 AND visit_date=$2 AND slot_start=$3 AND booking_status IN `+activeStatuses,
		key.TempleID, key.Date, key.Start).Scan(&committed)
	return committed, err
}

func (r *PGBookingRepository) CommittedBySlot(ctx context.Context, templeID, date string) (map[string]int, error) {
	rows, err := r.db.Query(ctx, `SELECT slot_start, COALESCE(SUM(total_visitors), 0) FROM bookings
		WHERE temple_id=$1 AND visit_date=$2 AND booking_status IN `+activeStatuses+`
		GROUP BY slot_start`, templeID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	usage := make(map[string]int)
	for rows.Next() {
		var start string
		var sum int
		if err := rows.Scan(&start, &sum); err != nil {
			return nil, err
		}
		usage[start] = sum
	}
	return usage, rows.Err()
}

func (r *PGBookingRepository) ExpirePendingBefore(ctx context.Context, deadline time.Time) ([]domain.Booking, error) {
	rows, err := r.db.Query(ctx, `UPDATE bookings SET booking_status=$1, updated_at=now()
		WHERE booking_status=$2 AND expires_at <= $3
		RETURNING `+bookingColumns, domain.BookingStatusExpired, domain.BookingStatusPending, deadline)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBookings(rows)
}

func collectBookings(rows pgx.Rows) ([]domain.Booking, error) {
	bookings := make([]domain.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var (
		b                         domain.Booking
		total, fee, final, refund int64
	)
	err := row.Scan(&b.ID, &b.TempleID, &b.UserID, &b.VisitDate, &b.TimeSlot.Start, &b.TimeSlot.End,
		&b.Visitors.Adults, &b.Visitors.Children, &b.Visitors.Seniors, &total, &fee, &final,
		&b.Contact.Name, &b.Contact.Phone, &b.Contact.Email, &b.Contact.SpecialRequests,
		&b.Payment.Method, &b.Payment.Status, &b.Payment.OrderID, &b.Payment.TransactionID,
		&b.Status, &b.QRCode, &b.ConfirmedAt, &b.CheckInTime, &b.CheckOutTime,
		&b.CancellationReason, &refund, &b.RefundStatus, &b.RefundID,
		&b.ExpiresAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	b.SetAmounts(domain.Amount(total), domain.Amount(fee))
	b.RefundAmount = domain.Amount(refund)
	return &b, nil
}

var _ BookingRepository = (*PGBookingRepository)(nil)
