package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/Hillfoul007/cleancare-dispatch/internal/models"
)

// PostgresStore implements RequestStore, BookingStore and EarningsStore on
// Postgres. All conditional transitions are single UPDATE statements keyed
// on the expected prior status; RowsAffected==0 distinguishes conflict from
// not-found with a follow-up read.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) CreateRequest(ctx context.Context, r *models.DeliveryRequest) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO delivery_requests(
		id, tracking_number, customer_id, rider_id,
		pickup_address, delivery_address, pickup_lat, pickup_lng, delivery_lat, delivery_lng,
		package_note, requested_pickup_at, requested_delivery_at,
		status, base_fee, distance_fee, express_fee, total_amount, rider_earnings,
		payment_method, payment_status, payment_intent_id,
		distance_km, estimated_minutes, created_at, updated_at)
		VALUES($1,$2,$3,NULLIF($4,''),$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26)`,
		r.ID, r.TrackingNumber, r.CustomerID, r.RiderID,
		r.PickupAddress, r.DeliveryAddress, r.PickupLoc.Lat, r.PickupLoc.Lng, r.DeliveryLoc.Lat, r.DeliveryLoc.Lng,
		r.PackageNote, r.RequestedPickupAt, r.RequestedDeliveryAt,
		string(r.Status), r.Fees.Base, r.Fees.Distance, r.Fees.Express, r.Fees.Total, r.Fees.RiderEarnings,
		r.PaymentMethod, r.PaymentStatus, r.PaymentIntentID,
		r.DistanceKm, r.EstimatedMinutes, r.CreatedAt, r.UpdatedAt)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrDuplicateTracking
	}
	return err
}

func (p *PostgresStore) GetRequest(ctx context.Context, id string) (models.DeliveryRequest, error) {
	return p.scanRequest(p.db.QueryRowContext(ctx, requestSelect+` WHERE id=$1`, id))
}

func (p *PostgresStore) GetByTracking(ctx context.Context, trackingNumber string) (models.DeliveryRequest, error) {
	return p.scanRequest(p.db.QueryRowContext(ctx, requestSelect+` WHERE tracking_number=$1`, trackingNumber))
}

const requestSelect = `SELECT id, tracking_number, customer_id, COALESCE(rider_id,''),
	pickup_address, delivery_address, pickup_lat, pickup_lng, delivery_lat, delivery_lng,
	package_note, requested_pickup_at, requested_delivery_at, actual_pickup_at, actual_delivery_at,
	status, cancel_reason, base_fee, distance_fee, express_fee, total_amount, rider_earnings,
	payment_method, payment_status, COALESCE(payment_intent_id,''),
	distance_km, estimated_minutes, created_at, updated_at
	FROM delivery_requests`

func (p *PostgresStore) scanRequest(row *sql.Row) (models.DeliveryRequest, error) {
	var r models.DeliveryRequest
	var status string
	err := row.Scan(&r.ID, &r.TrackingNumber, &r.CustomerID, &r.RiderID,
		&r.PickupAddress, &r.DeliveryAddress, &r.PickupLoc.Lat, &r.PickupLoc.Lng, &r.DeliveryLoc.Lat, &r.DeliveryLoc.Lng,
		&r.PackageNote, &r.RequestedPickupAt, &r.RequestedDeliveryAt, &r.ActualPickupAt, &r.ActualDeliveryAt,
		&status, &r.CancelReason, &r.Fees.Base, &r.Fees.Distance, &r.Fees.Express, &r.Fees.Total, &r.Fees.RiderEarnings,
		&r.PaymentMethod, &r.PaymentStatus, &r.PaymentIntentID,
		&r.DistanceKm, &r.EstimatedMinutes, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return models.DeliveryRequest{}, ErrNotFound
	}
	if err != nil {
		return models.DeliveryRequest{}, err
	}
	r.Status = models.DeliveryStatus(status)
	return r, nil
}

func (p *PostgresStore) AssignRider(ctx context.Context, id, riderID string, at time.Time) (models.DeliveryRequest, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE delivery_requests SET rider_id=$1, status=$2, updated_at=$3 WHERE id=$4 AND status=$5`,
		riderID, string(models.StatusAssigned), at, id, string(models.StatusPending))
	if err != nil {
		return models.DeliveryRequest{}, err
	}
	return p.afterConditionalUpdate(ctx, id, res)
}

func (p *PostgresStore) AdvanceStatus(ctx context.Context, id string, from, to models.DeliveryStatus, at time.Time) (models.DeliveryRequest, error) {
	var res sql.Result
	var err error
	switch to {
	case models.StatusPickedUp:
		res, err = p.db.ExecContext(ctx,
			`UPDATE delivery_requests SET status=$1, actual_pickup_at=$2, updated_at=$2 WHERE id=$3 AND status=$4`,
			string(to), at, id, string(from))
	case models.StatusDelivered:
		res, err = p.db.ExecContext(ctx,
			`UPDATE delivery_requests SET status=$1, actual_delivery_at=$2, updated_at=$2 WHERE id=$3 AND status=$4`,
			string(to), at, id, string(from))
	default:
		res, err = p.db.ExecContext(ctx,
			`UPDATE delivery_requests SET status=$1, updated_at=$2 WHERE id=$3 AND status=$4`,
			string(to), at, id, string(from))
	}
	if err != nil {
		return models.DeliveryRequest{}, err
	}
	return p.afterConditionalUpdate(ctx, id, res)
}

func (p *PostgresStore) Terminate(ctx context.Context, id string, from []models.DeliveryStatus, to models.DeliveryStatus, reason string, at time.Time) (models.DeliveryRequest, error) {
	states := make([]string, 0, len(from))
	for _, f := range from {
		states = append(states, string(f))
	}
	res, err := p.db.ExecContext(ctx,
		`UPDATE delivery_requests SET status=$1, cancel_reason=$2, updated_at=$3 WHERE id=$4 AND status = ANY($5)`,
		string(to), reason, at, id, pq.Array(states))
	if err != nil {
		return models.DeliveryRequest{}, err
	}
	return p.afterConditionalUpdate(ctx, id, res)
}

// afterConditionalUpdate turns RowsAffected==0 into not-found or conflict
// and otherwise reloads the updated row.
func (p *PostgresStore) afterConditionalUpdate(ctx context.Context, id string, res sql.Result) (models.DeliveryRequest, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return models.DeliveryRequest{}, err
	}
	if n == 0 {
		if _, err := p.GetRequest(ctx, id); err != nil {
			return models.DeliveryRequest{}, err
		}
		return models.DeliveryRequest{}, ErrStatusConflict
	}
	return p.GetRequest(ctx, id)
}

func (p *PostgresStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO bookings(
		id, customer_id, service, address, lat, lng, scheduled_at, status, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		b.ID, b.CustomerID, b.Service, b.Address, b.Loc.Lat, b.Loc.Lng, b.ScheduledAt, string(b.Status), b.CreatedAt, b.UpdatedAt)
	return err
}

func (p *PostgresStore) GetBooking(ctx context.Context, id string) (models.Booking, error) {
	var b models.Booking
	var status string
	err := p.db.QueryRowContext(ctx,
		`SELECT id, customer_id, service, address, lat, lng, scheduled_at, status, cancel_reason, created_at, updated_at
		FROM bookings WHERE id=$1`, id).
		Scan(&b.ID, &b.CustomerID, &b.Service, &b.Address, &b.Loc.Lat, &b.Loc.Lng, &b.ScheduledAt, &status, &b.CancelReason, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return models.Booking{}, ErrNotFound
	}
	if err != nil {
		return models.Booking{}, err
	}
	b.Status = models.BookingStatus(status)
	return b, nil
}

func (p *PostgresStore) TransitionBooking(ctx context.Context, id string, from, to models.BookingStatus, reason string, at time.Time) (models.Booking, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE bookings SET status=$1, cancel_reason=$2, updated_at=$3 WHERE id=$4 AND status=$5`,
		string(to), reason, at, id, string(from))
	if err != nil {
		return models.Booking{}, err
	}
	return p.afterBookingUpdate(ctx, id, res)
}

func (p *PostgresStore) RescheduleBooking(ctx context.Context, id string, scheduledAt, at time.Time) (models.Booking, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE bookings SET scheduled_at=$1, updated_at=$2 WHERE id=$3 AND status IN ($4,$5)`,
		scheduledAt, at, id, string(models.BookingPending), string(models.BookingConfirmed))
	if err != nil {
		return models.Booking{}, err
	}
	return p.afterBookingUpdate(ctx, id, res)
}

func (p *PostgresStore) afterBookingUpdate(ctx context.Context, id string, res sql.Result) (models.Booking, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return models.Booking{}, err
	}
	if n == 0 {
		if _, err := p.GetBooking(ctx, id); err != nil {
			return models.Booking{}, err
		}
		return models.Booking{}, ErrStatusConflict
	}
	return p.GetBooking(ctx, id)
}

func (p *PostgresStore) InsertDeliveryEarning(ctx context.Context, e *models.EarningsEntry) (bool, error) {
	// The partial unique index on request_id makes this the idempotency
	// point: a second post for the same request inserts nothing.
	res, err := p.db.ExecContext(ctx, `INSERT INTO earnings_entries(
		id, rider_id, request_id, amount, type, earned_at, month, paid)
		VALUES($1,$2,$3,$4,$5,$6,$7,false)
		ON CONFLICT (request_id) WHERE request_id IS NOT NULL DO NOTHING`,
		e.ID, e.RiderID, e.RequestID, e.Amount, string(e.Type), e.EarnedAt, e.Month)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p *PostgresStore) ConfirmDeliveryStats(ctx context.Context, requestID string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE earnings_entries SET stats_applied=true WHERE request_id=$1`, requestID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) DeliveryStatsConfirmed(ctx context.Context, requestID string) (bool, error) {
	var applied bool
	err := p.db.QueryRowContext(ctx,
		`SELECT stats_applied FROM earnings_entries WHERE request_id=$1`, requestID).Scan(&applied)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (p *PostgresStore) InsertEntry(ctx context.Context, e *models.EarningsEntry) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO earnings_entries(
		id, rider_id, request_id, amount, type, earned_at, month, paid)
		VALUES($1,$2,NULLIF($3,''),$4,$5,$6,$7,false)`,
		e.ID, e.RiderID, e.RequestID, e.Amount, string(e.Type), e.EarnedAt, e.Month)
	return err
}

func (p *PostgresStore) ListEarnings(ctx context.Context, riderID, month string) ([]models.EarningsEntry, error) {
	q := `SELECT id, rider_id, COALESCE(request_id,''), amount, type, earned_at, month, paid, paid_at
		FROM earnings_entries WHERE rider_id=$1`
	args := []interface{}{riderID}
	if month != "" {
		q += ` AND month=$2`
		args = append(args, month)
	}
	q += ` ORDER BY earned_at`
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.EarningsEntry
	for rows.Next() {
		var e models.EarningsEntry
		var typ string
		if err := rows.Scan(&e.ID, &e.RiderID, &e.RequestID, &e.Amount, &typ, &e.EarnedAt, &e.Month, &e.Paid, &e.PaidAt); err != nil {
			return nil, err
		}
		e.Type = models.EarningType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) MarkPaid(ctx context.Context, entryIDs []string, at time.Time) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE earnings_entries SET paid=true, paid_at=$1 WHERE id = ANY($2)`,
		at, pq.Array(entryIDs))
	return err
}
