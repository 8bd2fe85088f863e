package geo_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/fuelqueue/internal/booking/domain"
	"github.com/example/fuelqueue/internal/booking/geo"
)

func TestDistanceZeroForSamePoint(t *testing.T) {
	p := domain.GeoPoint{Lat: 19.1000, Lng: 72.8000}
	require.Zero(t, geo.Distance(p, p))
}

func TestDistanceHundredMetersNorth(t *testing.T) {
	// 0.0009 degrees of latitude is about 100m on a 6371km sphere.
	a := domain.GeoPoint{Lat: 19.1000, Lng: 72.8000}
	b := domain.GeoPoint{Lat: 19.1009, Lng: 72.8000}
	require.InDelta(t, 100.0, geo.Distance(a, b), 2.0)
}

func TestValidateCheckInAtStation(t *testing.T) {
	p := domain.GeoPoint{Lat: 19.1000, Lng: 72.8000}
	res := geo.ValidateCheckIn(p, p, 15)
	require.True(t, res.OK)
	require.Zero(t, res.DistanceM)
	require.Zero(t, res.Meters())
}

func TestValidateCheckInOutsideRadius(t *testing.T) {
	user := domain.GeoPoint{Lat: 19.1009, Lng: 72.8000}
	station := domain.GeoPoint{Lat: 19.1000, Lng: 72.8000}
	res := geo.ValidateCheckIn(user, station, 15)
	require.False(t, res.OK)
	require.InDelta(t, 100.0, res.DistanceM, 2.0)
	require.InDelta(t, 100, res.Meters(), 2)
}

func TestValidateCheckInBoundaryUsesUnroundedDistance(t *testing.T) {
	user := domain.GeoPoint{Lat: 19.10009, Lng: 72.8000} // ~10.0m
	station := domain.GeoPoint{Lat: 19.1000, Lng: 72.8000}
	res := geo.ValidateCheckIn(user, station, 15)
	require.True(t, res.OK)

	res = geo.ValidateCheckIn(user, station, 5)
	require.False(t, res.OK)
}
