package bookings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-booking/backend/internal/models"
)

// Repository is the PostgreSQL Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a bookings repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

const bookingColumns = `id, uid, COALESCE(idempotency_key, ''), event_type_id, user_id, title, description,
	start_time, end_time, status, location, recurring_event_id, from_reschedule, rescheduled,
	cancellation_reason, paid, version, metadata, created_at, updated_at`

const liveStatuses = `('ACCEPTED', 'PENDING')`

func scanBooking(row pgx.Row) (*models.Booking, error) {
	var b models.Booking
	err := row.Scan(&b.ID, &b.UID, &b.IdempotencyKey, &b.EventTypeID, &b.UserID, &b.Title, &b.Description,
		&b.StartTime, &b.EndTime, &b.Status, &b.Location, &b.RecurringEventID, &b.FromReschedule, &b.Rescheduled,
		&b.CancellationReason, &b.Paid, &b.Version, &b.Metadata, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// GetByUID implements Store.
func (r *Repository) GetByUID(ctx context.Context, uid string) (*models.Booking, error) {
	b, err := scanBooking(r.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE uid = $1`, uid))
	if err != nil {
		return nil, err
	}
	if err := r.loadRelations(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// FindByUID implements Store.
func (r *Repository) FindByUID(ctx context.Context, uid string) (*models.Booking, error) {
	b, err := r.GetByUID(ctx, uid)
	if errors.Is(err, ErrBookingNotFound) {
		return nil, nil
	}
	return b, err
}

func (r *Repository) loadRelations(ctx context.Context, b *models.Booking) error {
	const qAttendees = `SELECT a.id, a.booking_id, a.name, a.email, a.time_zone, a.locale, s.id, s.reference_uid, s.data
		FROM attendees a LEFT JOIN booking_seats s ON s.attendee_id = a.id
		WHERE a.booking_id = $1 ORDER BY a.name, a.email`
	rows, err := r.pool.Query(ctx, qAttendees, b.ID)
	if err != nil {
		return fmt.Errorf("load attendees: %w", err)
	}
	b.Attendees = b.Attendees[:0]
	for rows.Next() {
		var a models.Attendee
		var seatID *uuid.UUID
		var refUID *string
		var data []byte
		if err := rows.Scan(&a.ID, &a.BookingID, &a.Name, &a.Email, &a.TimeZone, &a.Locale, &seatID, &refUID, &data); err != nil {
			rows.Close()
			return err
		}
		if seatID != nil {
			a.Seat = &models.BookingSeat{ID: *seatID, ReferenceUID: *refUID, BookingID: b.ID, AttendeeID: a.ID, Data: data}
		}
		b.Attendees = append(b.Attendees, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	const qRefs = `SELECT id, booking_id, type, uid, meeting_id, meeting_password, meeting_url, external_calendar_id, credential_id, created_at
		FROM booking_references WHERE booking_id = $1 ORDER BY created_at, id`
	rows, err = r.pool.Query(ctx, qRefs, b.ID)
	if err != nil {
		return fmt.Errorf("load references: %w", err)
	}
	b.References = nil
	for rows.Next() {
		var ref models.BookingReference
		if err := rows.Scan(&ref.ID, &ref.BookingID, &ref.Type, &ref.UID, &ref.MeetingID, &ref.MeetingPassword,
			&ref.MeetingURL, &ref.ExternalCalendarID, &ref.CredentialID, &ref.CreatedAt); err != nil {
			rows.Close()
			return err
		}
		b.References = append(b.References, ref)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	const qPayments = `SELECT id, booking_id, provider, provider_payment_id, amount, currency, status, created_at, updated_at
		FROM payments WHERE booking_id = $1 ORDER BY created_at`
	rows, err = r.pool.Query(ctx, qPayments, b.ID)
	if err != nil {
		return fmt.Errorf("load payments: %w", err)
	}
	b.Payments = nil
	for rows.Next() {
		var p models.Payment
		if err := rows.Scan(&p.ID, &p.BookingID, &p.Provider, &p.ProviderPaymentID, &p.Amount, &p.Currency, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			rows.Close()
			return err
		}
		b.Payments = append(b.Payments, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = r.pool.Query(ctx, `SELECT user_id FROM booking_hosts WHERE booking_id = $1`, b.ID)
	if err != nil {
		return fmt.Errorf("load hosts: %w", err)
	}
	hostIDs, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return err
	}
	b.HostIDs = hostIDs
	return nil
}

func (r *Repository) loadMany(ctx context.Context, q string, args ...any) ([]models.Booking, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	var list []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		list = append(list, *b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range list {
		if err := r.loadRelations(ctx, &list[i]); err != nil {
			return nil, err
		}
	}
	return list, nil
}

// FindAtSlot implements Store.
func (r *Repository) FindAtSlot(ctx context.Context, eventTypeID uuid.UUID, start time.Time) (*models.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings
		WHERE event_type_id = $1 AND start_time = $2 AND status IN ` + liveStatuses + `
		ORDER BY created_at LIMIT 1`
	b, err := scanBooking(r.pool.QueryRow(ctx, q, eventTypeID, start))
	if errors.Is(err, ErrBookingNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadRelations(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// ListRecurring implements Store.
func (r *Repository) ListRecurring(ctx context.Context, recurringEventID string) ([]models.Booking, error) {
	return r.loadMany(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE recurring_event_id = $1 ORDER BY start_time`, recurringEventID)
}

// ListCancelledWithReferences implements Store.
func (r *Repository) ListCancelledWithReferences(ctx context.Context, olderThan time.Time, limit int) ([]models.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings b
		WHERE b.status IN ('CANCELLED', 'REJECTED') AND b.updated_at < $1
		AND EXISTS (SELECT 1 FROM booking_references r WHERE r.booking_id = b.id)
		ORDER BY b.updated_at LIMIT $2`
	return r.loadMany(ctx, q, olderThan, limit)
}

// ListBusy returns the user's live bookings, as organizer or co-host, overlapping [from, to).
func (r *Repository) ListBusy(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]models.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings b
		WHERE (b.user_id = $1 OR EXISTS (SELECT 1 FROM booking_hosts h WHERE h.booking_id = b.id AND h.user_id = $1))
		AND b.status IN ` + liveStatuses + ` AND b.start_time < $3 AND b.end_time > $2
		ORDER BY b.start_time`
	rows, err := r.pool.Query(ctx, q, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *b)
	}
	return list, rows.Err()
}

// LastBookedAt returns, per user, when they were last booked as a host of the event type.
func (r *Repository) LastBookedAt(ctx context.Context, eventTypeID uuid.UUID, userIDs []uuid.UUID) (map[uuid.UUID]time.Time, error) {
	q := `SELECT h.user_id, MAX(b.created_at) FROM bookings b JOIN booking_hosts h ON h.booking_id = b.id
		WHERE b.event_type_id = $1 AND h.user_id = ANY($2) AND b.status IN ` + liveStatuses + `
		GROUP BY h.user_id`
	rows, err := r.pool.Query(ctx, q, eventTypeID, userIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[uuid.UUID]time.Time, len(userIDs))
	for rows.Next() {
		var id uuid.UUID
		var at time.Time
		if err := rows.Scan(&id, &at); err != nil {
			return nil, err
		}
		out[id] = at
	}
	return out, rows.Err()
}

// CountForHost implements Store.
func (r *Repository) CountForHost(ctx context.Context, userID uuid.UUID, from, to time.Time, excludeUID string) (int, int, error) {
	q := `SELECT COUNT(*), COALESCE(SUM(EXTRACT(EPOCH FROM (b.end_time - b.start_time)) / 60), 0)::int
		FROM bookings b
		WHERE (b.user_id = $1 OR EXISTS (SELECT 1 FROM booking_hosts h WHERE h.booking_id = b.id AND h.user_id = $1))
		AND b.status IN ` + liveStatuses + ` AND b.start_time >= $2 AND b.start_time < $3 AND b.uid <> $4`
	var count, minutes int
	err := r.pool.QueryRow(ctx, q, userID, from, to, excludeUID).Scan(&count, &minutes)
	return count, minutes, err
}

func insertBooking(ctx context.Context, tx pgx.Tx, b *models.Booking) error {
	const q = `INSERT INTO bookings (uid, idempotency_key, event_type_id, user_id, title, description, start_time, end_time,
		status, location, recurring_event_id, from_reschedule, paid, metadata)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, version, created_at, updated_at`
	err := tx.QueryRow(ctx, q, b.UID, b.IdempotencyKey, b.EventTypeID, b.UserID, b.Title, b.Description,
		b.StartTime, b.EndTime, b.Status, b.Location, b.RecurringEventID, b.FromReschedule, b.Paid, b.Metadata).
		Scan(&b.ID, &b.Version, &b.CreatedAt, &b.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrBookingConflict
	}
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}

	batch := &pgx.Batch{}
	for _, h := range b.HostIDs {
		batch.Queue(`INSERT INTO booking_hosts (booking_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, b.ID, h)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert hosts: %w", err)
		}
	}
	for i := range b.Attendees {
		if err := insertAttendee(ctx, tx, b.ID, &b.Attendees[i]); err != nil {
			return err
		}
	}
	return nil
}

func insertAttendee(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, a *models.Attendee) error {
	const q = `INSERT INTO attendees (booking_id, name, email, time_zone, locale) VALUES ($1, $2, $3, $4, $5) RETURNING id`
	a.BookingID = bookingID
	err := tx.QueryRow(ctx, q, bookingID, a.Name, a.Email, a.TimeZone, a.Locale).Scan(&a.ID)
	if isUniqueViolation(err) {
		return ErrBookingConflict
	}
	if err != nil {
		return fmt.Errorf("insert attendee: %w", err)
	}
	if a.Seat == nil {
		return nil
	}
	a.Seat.BookingID, a.Seat.AttendeeID = bookingID, a.ID
	const qs = `INSERT INTO booking_seats (reference_uid, booking_id, attendee_id, data) VALUES ($1, $2, $3, $4) RETURNING id`
	if err := tx.QueryRow(ctx, qs, a.Seat.ReferenceUID, bookingID, a.ID, a.Seat.Data).Scan(&a.Seat.ID); err != nil {
		return fmt.Errorf("insert seat: %w", err)
	}
	return nil
}

// Create implements Store.
func (r *Repository) Create(ctx context.Context, bookings []*models.Booking) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for _, b := range bookings {
		if err := insertBooking(ctx, tx, b); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// CreateRescheduled implements Store.
func (r *Repository) CreateRescheduled(ctx context.Context, b, original *models.Booking) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const q = `UPDATE bookings SET status = 'CANCELLED', rescheduled = TRUE, idempotency_key = NULL,
		version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2 RETURNING version`
	var version int
	err = tx.QueryRow(ctx, q, original.ID, original.Version).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrConcurrentModification
	}
	if err != nil {
		return fmt.Errorf("claim original: %w", err)
	}
	if err := insertBooking(ctx, tx, b); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	original.Version = version
	original.Status = models.BookingStatusCancelled
	original.Rescheduled = true
	original.IdempotencyKey = ""
	return nil
}

// cas runs a versioned update on one booking row. q must take id and version as $1 and $2 and
// return the new version.
func (r *Repository) cas(ctx context.Context, b *models.Booking, q string, args ...any) error {
	var version int
	err := r.pool.QueryRow(ctx, q, append([]any{b.ID, b.Version}, args...)...).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrConcurrentModification
	}
	if err != nil {
		return err
	}
	b.Version = version
	return nil
}

// UpdateTimes implements Store.
func (r *Repository) UpdateTimes(ctx context.Context, b *models.Booking, start, end time.Time) error {
	const q = `UPDATE bookings SET start_time = $3, end_time = $4, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2 RETURNING version`
	if err := r.cas(ctx, b, q, start, end); err != nil {
		return err
	}
	b.StartTime, b.EndTime = start, end
	return nil
}

// SetStatus implements Store.
func (r *Repository) SetStatus(ctx context.Context, b *models.Booking, status models.BookingStatus, reason string) error {
	const q = `UPDATE bookings SET status = $3, cancellation_reason = $4,
		idempotency_key = CASE WHEN $3 IN ('CANCELLED', 'REJECTED') THEN NULL ELSE idempotency_key END,
		version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2 RETURNING version`
	if err := r.cas(ctx, b, q, status, reason); err != nil {
		return err
	}
	b.Status, b.CancellationReason = status, reason
	return nil
}

// SetLocation implements Store.
func (r *Repository) SetLocation(ctx context.Context, b *models.Booking, location string) error {
	const q = `UPDATE bookings SET location = $3, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2 RETURNING version`
	if err := r.cas(ctx, b, q, location); err != nil {
		return err
	}
	b.Location = location
	return nil
}

// Delete implements Store. Attendees, seats and references cascade.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM bookings WHERE id = $1`, id)
	return err
}

// ReplaceReferences implements Store.
func (r *Repository) ReplaceReferences(ctx context.Context, bookingID uuid.UUID, refs []models.PartialReference) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `DELETE FROM booking_references WHERE booking_id = $1`, bookingID); err != nil {
		return fmt.Errorf("clear references: %w", err)
	}
	batch := &pgx.Batch{}
	for _, ref := range refs {
		batch.Queue(`INSERT INTO booking_references (booking_id, type, uid, meeting_id, meeting_password, meeting_url, external_calendar_id, credential_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			bookingID, ref.Type, ref.UID, ref.MeetingID, ref.MeetingPassword, ref.MeetingURL, ref.ExternalCalendarID, ref.CredentialID)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert references: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// AddAttendee implements Store. The booking row is locked while seats are counted.
func (r *Repository) AddAttendee(ctx context.Context, bookingID uuid.UUID, a *models.Attendee, capacity int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `SELECT 1 FROM bookings WHERE id = $1 FOR UPDATE`, bookingID); err != nil {
		return err
	}
	taken, err := countAttendees(ctx, tx, bookingID)
	if err != nil {
		return err
	}
	if taken >= capacity {
		return ErrBookingFull
	}
	if err := insertAttendee(ctx, tx, bookingID, a); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func countAttendees(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID) (int, error) {
	var n int
	err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM attendees WHERE booking_id = $1`, bookingID).Scan(&n)
	return n, err
}

// MoveAttendees implements Store.
func (r *Repository) MoveAttendees(ctx context.Context, from, to uuid.UUID, move, remove []uuid.UUID, capacity int) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `SELECT 1 FROM bookings WHERE id = ANY($1) ORDER BY id FOR UPDATE`, []uuid.UUID{from, to}); err != nil {
		return 0, err
	}
	if len(move) > 0 {
		taken, err := countAttendees(ctx, tx, to)
		if err != nil {
			return 0, err
		}
		if taken+len(move) > capacity {
			return 0, ErrBookingFull
		}
		_, err = tx.Exec(ctx, `UPDATE attendees SET booking_id = $2 WHERE booking_id = $1 AND id = ANY($3)`, from, to, move)
		if isUniqueViolation(err) {
			return 0, ErrBookingConflict
		}
		if err != nil {
			return 0, fmt.Errorf("move attendees: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE booking_seats SET booking_id = $2 WHERE booking_id = $1 AND attendee_id = ANY($3)`, from, to, move); err != nil {
			return 0, fmt.Errorf("move seats: %w", err)
		}
	}
	if len(remove) > 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM attendees WHERE booking_id = $1 AND id = ANY($2)`, from, remove); err != nil {
			return 0, fmt.Errorf("remove attendees: %w", err)
		}
	}
	left, err := countAttendees(ctx, tx, from)
	if err != nil {
		return 0, err
	}
	return left, tx.Commit(ctx)
}

// RemoveAttendee implements Store.
func (r *Repository) RemoveAttendee(ctx context.Context, bookingID, attendeeID uuid.UUID) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `SELECT 1 FROM bookings WHERE id = $1 FOR UPDATE`, bookingID); err != nil {
		return 0, err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM attendees WHERE booking_id = $1 AND id = $2`, bookingID, attendeeID)
	if err != nil {
		return 0, err
	}
	if tag.RowsAffected() == 0 {
		return 0, fmt.Errorf("%w: attendee %s", ErrBookingNotFound, attendeeID)
	}
	left, err := countAttendees(ctx, tx, bookingID)
	if err != nil {
		return 0, err
	}
	return left, tx.Commit(ctx)
}

// CreatePayment implements Store.
func (r *Repository) CreatePayment(ctx context.Context, p *models.Payment) error {
	const q = `INSERT INTO payments (booking_id, provider, provider_payment_id, amount, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, p.BookingID, p.Provider, p.ProviderPaymentID, p.Amount, p.Currency, p.Status).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

// MovePayments implements Store and eventmanager.PaymentMover.
func (r *Repository) MovePayments(ctx context.Context, fromBookingID, toBookingID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE payments SET booking_id = $2, updated_at = NOW() WHERE booking_id = $1`, fromBookingID, toBookingID)
	return err
}

// MarkPaid implements Store.
func (r *Repository) MarkPaid(ctx context.Context, b *models.Booking, paymentID uuid.UUID, providerPaymentID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	const qp = `UPDATE payments SET status = $3, provider_payment_id = $4, updated_at = NOW() WHERE id = $1 AND booking_id = $2`
	if _, err := tx.Exec(ctx, qp, paymentID, b.ID, models.PaymentStatusCompleted, providerPaymentID); err != nil {
		return fmt.Errorf("complete payment: %w", err)
	}
	const qb = `UPDATE bookings SET paid = TRUE, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2 RETURNING version`
	var version int
	err = tx.QueryRow(ctx, qb, b.ID, b.Version).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrConcurrentModification
	}
	if err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	b.Version = version
	b.Paid = true
	for i := range b.Payments {
		if b.Payments[i].ID == paymentID {
			b.Payments[i].Status = models.PaymentStatusCompleted
			b.Payments[i].ProviderPaymentID = providerPaymentID
		}
	}
	return nil
}
