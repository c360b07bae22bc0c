package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrattend_sessions_total",
			Help: "Attendance sessions created or renewed",
		},
		[]string{"action"},
	)

	ScanAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrattend_scan_attempts_total",
			Help: "Scan attempts by outcome",
		},
		[]string{"outcome"},
	)

	AttendanceRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qrattend_attendance_recorded_total",
			Help: "Attendance marks written",
		},
	)

	AuditEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrattend_audit_events_total",
			Help: "Scan audit events by stage (published, persisted, dropped)",
		},
		[]string{"stage"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qrattend_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "status"},
	)
)
