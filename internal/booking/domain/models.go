package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Queue tuning constants shared across the engine.
const (
	// EligibilityThreshold is the queue rank at or below which a booking
	// is promoted from waiting to eligible.
	EligibilityThreshold = 10

	// ServiceMinutesPerVehicle is the fixed per-vehicle service estimate
	// used for wait projections.
	ServiceMinutesPerVehicle = 3

	// MaxLocationAccuracyM is the advisory accuracy bound for check-in
	// location readings, in meters.
	MaxLocationAccuracyM = 20.0
)

type BookingStatus string

const (
	StatusWaiting   BookingStatus = "WAITING"
	StatusEligible  BookingStatus = "ELIGIBLE"
	StatusCheckedIn BookingStatus = "CHECKED_IN"
	StatusFueling   BookingStatus = "FUELING"
	StatusCompleted BookingStatus = "COMPLETED"
	StatusCancelled BookingStatus = "CANCELLED"
	StatusSkipped   BookingStatus = "SKIPPED"
)

var allowedTransitions = map[BookingStatus][]BookingStatus{
	StatusWaiting:   {StatusEligible, StatusCancelled, StatusSkipped},
	StatusEligible:  {StatusCheckedIn, StatusFueling, StatusWaiting, StatusCancelled, StatusSkipped},
	StatusCheckedIn: {StatusFueling, StatusEligible, StatusWaiting, StatusCancelled},
	StatusFueling:   {StatusCompleted},
}

func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	if s == next {
		return true
	}
	for _, candidate := range allowedTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the status is final and immutable.
func (s BookingStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusSkipped:
		return true
	default:
		return false
	}
}

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Station is the document mutated by the control gateway and the
// advancement counter increments. Stations are suspended, never deleted.
type Station struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Location       GeoPoint `json:"location"`
	CheckInRadiusM float64  `json:"check_in_radius_m"`
	GasAvailable   bool     `json:"gas_available"`
	BookingOpen    bool     `json:"booking_open"`
	Suspended      bool     `json:"suspended"`
	TotalServed    int64    `json:"total_served"`
	TotalSkipped   int64    `json:"total_skipped"`
	Version        int64    `json:"version"`
}

// AcceptsBookings reports whether a new booking may be created against the
// station (gas on, booking open, not suspended).
func (s Station) AcceptsBookings() bool {
	return s.GasAvailable && s.BookingOpen && !s.Suspended
}

type Booking struct {
	ID          uuid.UUID     `json:"id"`
	StationID   string        `json:"station_id"`
	VehicleID   string        `json:"vehicle_id"`
	RequesterID uuid.UUID     `json:"requester_id"`
	Position    int           `json:"position"`
	Status      BookingStatus `json:"status"`

	// CheckedIn survives renumbering: a checked-in vehicle pushed around
	// the queue keeps its physical presence flag.
	CheckedIn        bool      `json:"checked_in"`
	CheckInPoint     *GeoPoint `json:"check_in_point,omitempty"`
	CheckInDistanceM *float64  `json:"check_in_distance_m,omitempty"`

	EstimatedWaitMinutes int `json:"estimated_wait_minutes"`
	SkipCount            int `json:"skip_count"`

	CreatedAt   time.Time  `json:"created_at"`
	EligibleAt  *time.Time `json:"eligible_at,omitempty"`
	CheckedInAt *time.Time `json:"checked_in_at,omitempty"`
	FuelingAt   *time.Time `json:"fueling_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	SkippedAt   *time.Time `json:"skipped_at,omitempty"`

	Version int64 `json:"version"`
}

// Active reports whether the booking still occupies a queue position.
func (b Booking) Active() bool { return !b.Status.Terminal() }

// QueueLogEntry is the append-only audit record emitted for every state
// transition and for station control flips. It is consumed by an external
// audit-log viewer. Event is set for station-level records that have no
// booking transition attached.
type QueueLogEntry struct {
	ID        uuid.UUID     `json:"id"`
	StationID string        `json:"station_id"`
	BookingID uuid.UUID     `json:"booking_id,omitempty"`
	ActorID   uuid.UUID     `json:"actor_id"`
	ActorRole string        `json:"actor_role"`
	From      BookingStatus `json:"from,omitempty"`
	To        BookingStatus `json:"to,omitempty"`
	Event     string        `json:"event,omitempty"`
	At        time.Time     `json:"at"`
}

// VehicleSnapshot is the latest observed location reading for a vehicle.
type VehicleSnapshot struct {
	VehicleID string
	Point     GeoPoint
	SpeedKPH  float64
	AccuracyM float64
	Updated   time.Time
}

// Notification is a fire-and-forget intent for the external sink.
type Notification struct {
	UserID   uuid.UUID         `json:"user_id"`
	Type     string            `json:"type"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// StationTx is the staged view inside a per-station transaction. Reads see
// committed state; staged writes commit atomically or not at all.
type StationTx interface {
	Station() (Station, error)
	ActiveBookings() ([]Booking, error)
	ActiveByVehicle(vehicleID string) (Booking, bool, error)
	CreateBooking(b Booking)
	UpdateBooking(b Booking)
	PutStation(st Station)
}

// Repository is the narrow adapter over the external document store.
type Repository interface {
	GetStation(ctx context.Context, id string) (Station, error)
	GetBooking(ctx context.Context, id uuid.UUID) (Booking, error)
	ActiveByStation(ctx context.Context, stationID string) ([]Booking, error)
	ActiveByVehicle(ctx context.Context, vehicleID string) (Booking, bool, error)

	// StationTx runs fn inside a transaction serialized per station so
	// position computation and reassignment are linearizable. A lost race
	// surfaces ErrTransactionConflict.
	StationTx(ctx context.Context, stationID string, fn func(tx StationTx) error) error

	// UpdateBooking applies a single-booking mutation with optimistic
	// version checking, for operations that need no station-wide
	// serialization (cancel, check-in).
	UpdateBooking(ctx context.Context, b Booking) (Booking, error)

	// Subscribe streams position-ordered snapshots of the station's
	// active set. Snapshots are delivered in commit order.
	Subscribe(ctx context.Context, stationID string) (<-chan []Booking, func(), error)
}

// Notifier delivers notification intents. Failures are logged and swallowed
// by callers, never surfaced to queue operations.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// AuditSink records queue log entries, best effort.
type AuditSink interface {
	Record(ctx context.Context, entry QueueLogEntry) error
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
