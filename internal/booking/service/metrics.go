package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	bookingsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookings_created_total",
		Help: "Total number of bookings created.",
	})

	checkInTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkins_total",
		Help: "Check-in attempts grouped by outcome.",
	}, []string{"result"})

	advanceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "queue_advance_seconds",
		Help:    "Time spent advancing a station queue.",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})

	queueLength = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queue_length",
		Help: "Active queue length per station after the last advancement.",
	}, []string{"station"})
)
