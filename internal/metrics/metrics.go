// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CheckinsTotal counts check-in attempts by outcome ("accepted" or the
	// engine error code).
	CheckinsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_checkins_total",
		Help: "Check-in attempts by outcome.",
	}, []string{"outcome"})

	// SessionsCreatedTotal counts attendance sessions opened.
	SessionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_sessions_created_total",
		Help: "Attendance sessions created.",
	})

	// SessionsSweptTotal counts Active sessions the sweeper completed.
	SessionsSweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_sessions_swept_total",
		Help: "Active sessions transitioned to Completed by the expiry sweeper.",
	})

	// CipherDegraded is a standing warning: 1 while the PII cipher runs
	// without a configured key and stores reversible, non-confidential
	// encodings.
	CipherDegraded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rollcall_pii_cipher_degraded",
		Help: "1 when no encryption key is configured and PII is stored without confidentiality.",
	})
)
