package location

import (
	"context"
	"sync"
	"time"

	"github.com/example/fuelqueue/internal/booking/domain"
)

// StreamObserver stores the latest location snapshot per vehicle. The
// check-in preview reads from here when a customer asks whether they are
// close enough before attempting the real check-in.
type StreamObserver struct {
	mu        sync.RWMutex
	snapshots map[string]domain.VehicleSnapshot
}

// NewStreamObserver constructs the observer.
func NewStreamObserver() *StreamObserver {
	return &StreamObserver{snapshots: make(map[string]domain.VehicleSnapshot)}
}

// Update stores snapshot data for a vehicle.
func (o *StreamObserver) Update(_ context.Context, vehicleID string, point domain.GeoPoint, speedKPH, accuracyM float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.snapshots[vehicleID] = domain.VehicleSnapshot{
		VehicleID: vehicleID,
		Point:     point,
		SpeedKPH:  speedKPH,
		AccuracyM: accuracyM,
		Updated:   time.Now().UTC(),
	}
}

// Snapshot returns the stored snapshot for a vehicle.
func (o *StreamObserver) Snapshot(vehicleID string) (domain.VehicleSnapshot, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	snap, ok := o.snapshots[vehicleID]
	return snap, ok
}

// All returns every stored snapshot.
func (o *StreamObserver) All() []domain.VehicleSnapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	res := make([]domain.VehicleSnapshot, 0, len(o.snapshots))
	for _, snap := range o.snapshots {
		res = append(res, snap)
	}
	return res
}
