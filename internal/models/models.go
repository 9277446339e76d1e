package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// VehicleClass determines the speed heuristic used for ETA estimates.
type VehicleClass string

const (
	VehicleBike       VehicleClass = "bike"
	VehicleScooter    VehicleClass = "scooter"
	VehicleMotorcycle VehicleClass = "motorcycle"
	VehicleCar        VehicleClass = "car"
	VehicleBicycle    VehicleClass = "bicycle"
	VehicleOnFoot     VehicleClass = "on_foot"
)

type AccountStatus string

const (
	AccountPending   AccountStatus = "pending"
	AccountApproved  AccountStatus = "approved"
	AccountActive    AccountStatus = "active"
	AccountInactive  AccountStatus = "inactive"
	AccountSuspended AccountStatus = "suspended"
)

// Rider is the directory's view of a delivery rider. Coordinates are nil
// until the rider reports a first location. Statistics and earnings
// aggregates are mutated only through the ledger's completion path.
type Rider struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Vehicle         VehicleClass  `json:"vehicle"`
	Rating          float64       `json:"rating"` // 0..5
	Online          bool          `json:"online"`
	Loc             *Coord        `json:"loc,omitempty"`
	ServiceRadiusKm float64       `json:"service_radius_km"`
	Status          AccountStatus `json:"status"`

	ActiveRequestID string `json:"active_request_id,omitempty"`

	EarningsTotal       float64 `json:"earnings_total"`
	EarningsThisMonth   float64 `json:"earnings_this_month"`
	TotalDeliveries     int     `json:"total_deliveries"`
	CompletedDeliveries int     `json:"completed_deliveries"`
	CancelledDeliveries int     `json:"cancelled_deliveries"`

	LastActiveAt time.Time `json:"last_active_at"`
	LocUpdatedAt time.Time `json:"loc_updated_at"`
}

type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "pending"
	StatusAssigned  DeliveryStatus = "assigned"
	StatusPickedUp  DeliveryStatus = "picked_up"
	StatusInTransit DeliveryStatus = "in_transit"
	StatusDelivered DeliveryStatus = "delivered"
	StatusCancelled DeliveryStatus = "cancelled"
	StatusFailed    DeliveryStatus = "failed"
)

// Terminal reports whether no further transitions are accepted from s.
func (s DeliveryStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusFailed
}

type FeeBreakdown struct {
	Base          float64 `json:"base_fee"`
	Distance      float64 `json:"distance_fee"`
	Express       float64 `json:"express_fee"`
	Total         float64 `json:"total_amount"`
	RiderEarnings float64 `json:"rider_earnings"`
}

type DeliveryRequest struct {
	ID             string `json:"id"`
	TrackingNumber string `json:"tracking_number"`
	CustomerID     string `json:"customer_id"`
	RiderID        string `json:"rider_id,omitempty"` // empty until assigned

	PickupAddress   string `json:"pickup_address"`
	DeliveryAddress string `json:"delivery_address"`
	PickupLoc       Coord  `json:"pickup_loc"`
	DeliveryLoc     Coord  `json:"delivery_loc"`
	PackageNote     string `json:"package_note,omitempty"`

	RequestedPickupAt   time.Time  `json:"requested_pickup_at"`
	RequestedDeliveryAt time.Time  `json:"requested_delivery_at"`
	ActualPickupAt      *time.Time `json:"actual_pickup_at,omitempty"`
	ActualDeliveryAt    *time.Time `json:"actual_delivery_at,omitempty"`

	Status       DeliveryStatus `json:"status"`
	CancelReason string         `json:"cancel_reason,omitempty"`

	Fees            FeeBreakdown `json:"fees"`
	PaymentMethod   string       `json:"payment_method"` // cash | card
	PaymentStatus   string       `json:"payment_status"`
	PaymentIntentID string       `json:"payment_intent_id,omitempty"`

	DistanceKm       float64 `json:"distance_km"`
	EstimatedMinutes int     `json:"estimated_minutes"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type BookingStatus string

const (
	BookingPending    BookingStatus = "pending"
	BookingConfirmed  BookingStatus = "confirmed"
	BookingInProgress BookingStatus = "in_progress"
	BookingCompleted  BookingStatus = "completed"
	BookingCancelled  BookingStatus = "cancelled"
)

// Booking is the customer-facing service booking (a scheduled home-service
// visit rather than a point-to-point delivery).
type Booking struct {
	ID           string        `json:"id"`
	CustomerID   string        `json:"customer_id"`
	Service      string        `json:"service"`
	Address      string        `json:"address"`
	Loc          Coord         `json:"loc"`
	ScheduledAt  time.Time     `json:"scheduled_at"`
	Status       BookingStatus `json:"status"`
	CancelReason string        `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

type EarningType string

const (
	EarningDeliveryFee EarningType = "delivery_fee"
	EarningTip         EarningType = "tip"
	EarningBonus       EarningType = "bonus"
	EarningIncentive   EarningType = "incentive"
	EarningAdjustment  EarningType = "adjustment"
)

// EarningsEntry is append-only: after creation the only permitted mutation
// is flagging it paid.
type EarningsEntry struct {
	ID        string      `json:"id"`
	RiderID   string      `json:"rider_id"`
	RequestID string      `json:"request_id,omitempty"` // empty for ad hoc bonuses
	Amount    float64     `json:"amount"`
	Type      EarningType `json:"type"`
	EarnedAt  time.Time   `json:"earned_at"`
	Month     string      `json:"month"` // YYYY-MM bucket
	Paid      bool        `json:"paid"`
	PaidAt    *time.Time  `json:"paid_at,omitempty"`
}

// Candidate is one ranked result from the match engine.
type Candidate struct {
	RiderID    string       `json:"rider_id"`
	DistanceKm float64      `json:"distance_km"`
	ETAMinutes int          `json:"eta_minutes"`
	Rating     float64      `json:"rating"`
	Vehicle    VehicleClass `json:"vehicle"`
}

// CompletionEvent is emitted by the coordinator when a request reaches
// delivered; consumed by the earnings ledger.
type CompletionEvent struct {
	RequestID     string    `json:"request_id"`
	RiderID       string    `json:"rider_id"`
	RiderEarnings float64   `json:"rider_earnings"`
	CompletedAt   time.Time `json:"completed_at"`
}

// CancellationEvent covers cancelled/failed requests that already had a rider.
type CancellationEvent struct {
	RequestID string    `json:"request_id"`
	RiderID   string    `json:"rider_id"`
	At        time.Time `json:"at"`
}

// RiderHeartbeat is the wire shape published to Kafka for each rider
// location report.
type RiderHeartbeat struct {
	RiderID string    `json:"rider_id"`
	Loc     Coord     `json:"loc"`
	Online  bool      `json:"online"`
	At      time.Time `json:"at"`
}
