package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Hillfoul007/cleancare-dispatch/internal/directory"
	"github.com/Hillfoul007/cleancare-dispatch/internal/geomath"
	"github.com/Hillfoul007/cleancare-dispatch/internal/match"
	"github.com/Hillfoul007/cleancare-dispatch/internal/models"
	"github.com/Hillfoul007/cleancare-dispatch/internal/observability"
	"github.com/Hillfoul007/cleancare-dispatch/internal/storage"
)

var (
	// ErrNoRiderAvailable is a normal business outcome: the request stays
	// pending and may be retried later.
	ErrNoRiderAvailable  = errors.New("no rider available")
	ErrInvalidState      = errors.New("invalid request state")
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrAlreadyAssigned is what a losing concurrent assigner sees.
	ErrAlreadyAssigned   = errors.New("request already assigned")
	ErrTrackingExhausted = errors.New("tracking number attempts exhausted")
)

// ValidationError rejects a malformed create payload; never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// LedgerSink consumes completion and cancellation events. It must be
// idempotent on request ID.
type LedgerSink interface {
	Delivered(ctx context.Context, ev models.CompletionEvent) error
	Cancelled(ctx context.Context, ev models.CancellationEvent) error
}

// PaymentProvider holds, captures and releases customer card payments.
type PaymentProvider interface {
	Hold(ctx context.Context, amount int64, currency, customerID string) (string, error)
	Capture(ctx context.Context, paymentIntentID string) error
	Release(ctx context.Context, paymentIntentID string) error
}

// Coordinator owns the delivery-request lifecycle: creation with tracking
// number issuance, atomic single-assignment, status advancement and
// terminal transitions with their downstream events.
type Coordinator struct {
	Store     storage.RequestStore
	Match     *match.Engine
	Directory directory.Directory
	Ledger    LedgerSink
	Payments  PaymentProvider // optional; nil disables card holds
	Logger    *slog.Logger

	MaxRadiusKm      float64 // search radius cap for assignment
	TrackingAttempts int
	Currency         string

	now func() time.Time
}

func NewCoordinator(store storage.RequestStore, eng *match.Engine, dir directory.Directory, ledger LedgerSink, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		Store:            store,
		Match:            eng,
		Directory:        dir,
		Ledger:           ledger,
		Logger:           logger,
		MaxRadiusKm:      15,
		TrackingAttempts: 5,
		Currency:         "inr",
		now:              time.Now,
	}
}

// CreateRequestInput carries the customer-supplied fields of a new
// delivery request.
type CreateRequestInput struct {
	CustomerID          string              `json:"customer_id"`
	PickupAddress       string              `json:"pickup_address"`
	DeliveryAddress     string              `json:"delivery_address"`
	PickupLoc           models.Coord        `json:"pickup_loc"`
	DeliveryLoc         models.Coord        `json:"delivery_loc"`
	PackageNote         string              `json:"package_note"`
	RequestedPickupAt   time.Time           `json:"requested_pickup_at"`
	RequestedDeliveryAt time.Time           `json:"requested_delivery_at"`
	Fees                models.FeeBreakdown `json:"fees"`
	PaymentMethod       string              `json:"payment_method"`
}

func (in *CreateRequestInput) validate() error {
	if in.CustomerID == "" {
		return &ValidationError{Field: "customer_id", Reason: "required"}
	}
	if in.PickupAddress == "" {
		return &ValidationError{Field: "pickup_address", Reason: "required"}
	}
	if in.DeliveryAddress == "" {
		return &ValidationError{Field: "delivery_address", Reason: "required"}
	}
	if !geomath.Valid(in.PickupLoc) {
		return &ValidationError{Field: "pickup_loc", Reason: "out of range"}
	}
	if !geomath.Valid(in.DeliveryLoc) {
		return &ValidationError{Field: "delivery_loc", Reason: "out of range"}
	}
	f := in.Fees
	if f.Base < 0 || f.Distance < 0 || f.Express < 0 || f.RiderEarnings < 0 {
		return &ValidationError{Field: "fees", Reason: "must be >= 0"}
	}
	if f.Total < 0 {
		return &ValidationError{Field: "total_amount", Reason: "must be >= 0"}
	}
	return nil
}

// CreateRequest validates the payload, issues a unique tracking number
// (bounded regenerate-and-retry on collision) and persists the request in
// pending state. Card payments additionally get a hold placed upfront.
func (c *Coordinator) CreateRequest(ctx context.Context, in CreateRequestInput) (models.DeliveryRequest, error) {
	if err := in.validate(); err != nil {
		return models.DeliveryRequest{}, err
	}
	now := c.now()

	dist, err := geomath.DistanceKm(in.PickupLoc, in.DeliveryLoc)
	if err != nil {
		return models.DeliveryRequest{}, err
	}

	r := models.DeliveryRequest{
		ID:                  newID(),
		CustomerID:          in.CustomerID,
		PickupAddress:       in.PickupAddress,
		DeliveryAddress:     in.DeliveryAddress,
		PickupLoc:           in.PickupLoc,
		DeliveryLoc:         in.DeliveryLoc,
		PackageNote:         in.PackageNote,
		RequestedPickupAt:   in.RequestedPickupAt,
		RequestedDeliveryAt: in.RequestedDeliveryAt,
		Status:              models.StatusPending,
		Fees:                in.Fees,
		PaymentMethod:       in.PaymentMethod,
		PaymentStatus:       "pending",
		DistanceKm:          dist,
		EstimatedMinutes:    geomath.ETAMinutes(dist, models.VehicleBike),
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if in.PaymentMethod == "card" && c.Payments != nil {
		piID, err := c.Payments.Hold(ctx, int64(in.Fees.Total*100), c.Currency, in.CustomerID)
		if err != nil {
			return models.DeliveryRequest{}, fmt.Errorf("payment hold: %w", err)
		}
		r.PaymentIntentID = piID
		r.PaymentStatus = "held"
	}

	attempts := c.TrackingAttempts
	if attempts <= 0 {
		attempts = 5
	}
	for i := 0; i < attempts; i++ {
		r.TrackingNumber = newTrackingNumber(now)
		err := c.Store.CreateRequest(ctx, &r)
		if err == nil {
			c.Logger.Info("request created", "request_id", r.ID, "tracking", r.TrackingNumber)
			return r, nil
		}
		if !errors.Is(err, storage.ErrDuplicateTracking) {
			return models.DeliveryRequest{}, err
		}
	}
	return models.DeliveryRequest{}, ErrTrackingExhausted
}

// AssignRider matches the request against nearby riders and performs the
// pending->assigned compare-and-set. Exactly one concurrent caller can
// succeed; the rest observe ErrAlreadyAssigned.
func (c *Coordinator) AssignRider(ctx context.Context, requestID string) (models.Candidate, error) {
	r, err := c.Store.GetRequest(ctx, requestID)
	if err != nil {
		return models.Candidate{}, err
	}
	if r.Status != models.StatusPending {
		return models.Candidate{}, ErrInvalidState
	}

	cands, err := c.Match.FindCandidates(ctx, r.PickupLoc, c.MaxRadiusKm, 0)
	if err != nil {
		return models.Candidate{}, err
	}
	if len(cands) == 0 {
		observability.NoRiderAvailable.Inc()
		return models.Candidate{}, ErrNoRiderAvailable
	}
	best := cands[0]

	if _, err := c.Store.AssignRider(ctx, requestID, best.RiderID, c.now()); err != nil {
		if errors.Is(err, storage.ErrStatusConflict) {
			observability.AssignConflicts.Inc()
			return models.Candidate{}, ErrAlreadyAssigned
		}
		return models.Candidate{}, err
	}
	observability.AssignmentsTotal.Inc()

	if err := c.Directory.SetActiveRequest(ctx, best.RiderID, requestID); err != nil {
		// assignment already committed; the busy marker is advisory
		c.Logger.Warn("mark rider busy failed", "rider_id", best.RiderID, "error", err)
	}
	c.Logger.Info("rider assigned", "request_id", requestID, "rider_id", best.RiderID,
		"distance_km", best.DistanceKm, "eta_minutes", best.ETAMinutes)
	return best, nil
}

// advanceFrom is the transition table: for each target status reachable
// via AdvanceStatus, its only valid predecessor.
var advanceFrom = map[models.DeliveryStatus]models.DeliveryStatus{
	models.StatusPickedUp:  models.StatusAssigned,
	models.StatusInTransit: models.StatusPickedUp,
	models.StatusDelivered: models.StatusInTransit,
}

// AdvanceStatus moves the request one step along
// assigned -> picked_up -> in_transit -> delivered. Reaching delivered
// emits the completion event consumed by the earnings ledger.
func (c *Coordinator) AdvanceStatus(ctx context.Context, requestID string, target models.DeliveryStatus) error {
	from, ok := advanceFrom[target]
	if !ok {
		return ErrInvalidTransition
	}
	now := c.now()
	r, err := c.Store.AdvanceStatus(ctx, requestID, from, target, now)
	if err != nil {
		if errors.Is(err, storage.ErrStatusConflict) {
			return ErrInvalidTransition
		}
		return err
	}

	if target != models.StatusDelivered {
		return nil
	}
	observability.DeliveriesCompleted.Inc()

	if err := c.Directory.SetActiveRequest(ctx, r.RiderID, ""); err != nil {
		c.Logger.Warn("clear rider busy failed", "rider_id", r.RiderID, "error", err)
	}
	if r.PaymentIntentID != "" && c.Payments != nil {
		if err := c.Payments.Capture(ctx, r.PaymentIntentID); err != nil {
			c.Logger.Error("payment capture failed", "request_id", r.ID, "error", err)
		}
	}

	ev := models.CompletionEvent{
		RequestID:     r.ID,
		RiderID:       r.RiderID,
		RiderEarnings: r.Fees.RiderEarnings,
		CompletedAt:   now,
	}
	// The ledger post must not fail silently: the caller sees the error
	// and the idempotent ledger lets the event be redelivered.
	return c.postWithRetry(ctx, func() error { return c.Ledger.Delivered(ctx, ev) }, "completion", r.ID)
}

// CancelRequest cancels from pending or assigned only. Later cancellation
// must go through FailRequest so in-progress work is resolved explicitly.
func (c *Coordinator) CancelRequest(ctx context.Context, requestID, reason string) error {
	r, err := c.Store.Terminate(ctx, requestID,
		[]models.DeliveryStatus{models.StatusPending, models.StatusAssigned},
		models.StatusCancelled, reason, c.now())
	if err != nil {
		if errors.Is(err, storage.ErrStatusConflict) {
			return ErrInvalidState
		}
		return err
	}
	c.Logger.Info("request cancelled", "request_id", requestID, "reason", reason)
	return c.afterTermination(ctx, r)
}

// FailRequest resolves an in-progress request that cannot complete
// (rider unreachable, operational failure).
func (c *Coordinator) FailRequest(ctx context.Context, requestID, reason string) error {
	r, err := c.Store.Terminate(ctx, requestID,
		[]models.DeliveryStatus{models.StatusAssigned, models.StatusPickedUp, models.StatusInTransit},
		models.StatusFailed, reason, c.now())
	if err != nil {
		if errors.Is(err, storage.ErrStatusConflict) {
			return ErrInvalidState
		}
		return err
	}
	c.Logger.Warn("request failed", "request_id", requestID, "reason", reason)
	return c.afterTermination(ctx, r)
}

// afterTermination handles the rider-side and payment-side consequences of
// a cancelled or failed request that already had a rider.
func (c *Coordinator) afterTermination(ctx context.Context, r models.DeliveryRequest) error {
	if r.PaymentIntentID != "" && c.Payments != nil {
		if err := c.Payments.Release(ctx, r.PaymentIntentID); err != nil {
			c.Logger.Error("payment release failed", "request_id", r.ID, "error", err)
		}
	}
	if r.RiderID == "" {
		return nil
	}
	if err := c.Directory.SetActiveRequest(ctx, r.RiderID, ""); err != nil {
		c.Logger.Warn("clear rider busy failed", "rider_id", r.RiderID, "error", err)
	}
	ev := models.CancellationEvent{RequestID: r.ID, RiderID: r.RiderID, At: c.now()}
	return c.postWithRetry(ctx, func() error { return c.Ledger.Cancelled(ctx, ev) }, "cancellation", r.ID)
}

// postWithRetry delivers a ledger event with bounded backoff. The ledger
// is idempotent so retrying a partially-applied post is safe; exhaustion
// surfaces to the caller instead of dropping the event.
func (c *Coordinator) postWithRetry(ctx context.Context, post func() error, kind, requestID string) error {
	delay := 100 * time.Millisecond
	var err error
	for i := 0; i < 3; i++ {
		if err = post(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(delay):
			delay *= 2
			continue
		}
		break
	}
	c.Logger.Error("ledger post failed", "kind", kind, "request_id", requestID, "error", err)
	return fmt.Errorf("post %s event: %w", kind, err)
}
