package domain

import (
	"errors"
	"fmt"
)

var (
	ErrStationNotFound        = errors.New("station not found")
	ErrBookingNotFound        = errors.New("booking not found")
	ErrStationUnavailable     = errors.New("station unavailable for booking")
	ErrDuplicateActiveBooking = errors.New("vehicle already holds an active booking")
	ErrInvalidTransition      = errors.New("invalid booking state transition")
	ErrLocationUnavailable    = errors.New("location unavailable")
	ErrNoVehiclePresent       = errors.New("no vehicle present at the head of the queue")
	ErrTransactionConflict    = errors.New("station transaction conflict")

	// ErrOutOfRange is the match target for *OutOfRangeError.
	ErrOutOfRange = errors.New("check-in location out of range")
)

// OutOfRangeError reports a failed geofence check with the measured
// distance rounded for display.
type OutOfRangeError struct {
	DistanceM int
	RadiusM   float64
	AccuracyM float64
}

func (e *OutOfRangeError) Error() string {
	msg := fmt.Sprintf("you are %dm away, required %.0fm", e.DistanceM, e.RadiusM)
	if e.AccuracyM > MaxLocationAccuracyM {
		msg += fmt.Sprintf(" (location accuracy ±%.0fm, reading may be unreliable)", e.AccuracyM)
	}
	return msg
}

func (e *OutOfRangeError) Unwrap() error { return ErrOutOfRange }
