package geo

import (
	"math"

	"github.com/example/fuelqueue/internal/booking/domain"
)

const earthRadiusM = 6371000.0

// Distance returns the great-circle distance between two points in meters
// using the haversine formula on a spherical Earth approximation.
func Distance(a, b domain.GeoPoint) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dlat := toRadians(b.Lat - a.Lat)
	dlon := toRadians(b.Lng - a.Lng)

	sinDlat := math.Sin(dlat / 2)
	sinDlon := math.Sin(dlon / 2)
	h := sinDlat*sinDlat + math.Cos(lat1)*math.Cos(lat2)*sinDlon*sinDlon
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusM * c
}

// CheckInResult carries the outcome of a geofence validation. DistanceM is
// the unrounded measurement; use Meters for display.
type CheckInResult struct {
	OK        bool
	DistanceM float64
}

// Meters returns the measured distance rounded to the nearest whole meter.
func (r CheckInResult) Meters() int {
	return int(math.Round(r.DistanceM))
}

// ValidateCheckIn reports whether a user location is within the station's
// check-in radius. The comparison uses the unrounded distance.
func ValidateCheckIn(user, station domain.GeoPoint, radiusM float64) CheckInResult {
	d := Distance(user, station)
	return CheckInResult{OK: d <= radiusM, DistanceM: d}
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
