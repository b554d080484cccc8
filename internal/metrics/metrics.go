package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Submissions counts attendance submissions by terminal outcome code.
var Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "attendance_submissions_total",
	Help: "Attendance submissions by pipeline outcome.",
}, []string{"outcome"})

// SessionsCreated counts admin-generated attendance sessions.
var SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
	Name: "attendance_sessions_created_total",
	Help: "Attendance sessions generated by admins.",
})
