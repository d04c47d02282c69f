// Package metrics holds the Prometheus collectors for the connection race
// engine and address cache. Nothing is registered automatically; callers
// register a collector set with a registry of their choice via MustRegister.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors groups every metric the race engine and cache emit, so a
// caller can register the whole set with a registry of its own.
type Collectors struct {
	AttemptsTotal      *prometheus.CounterVec
	RaceDuration       *prometheus.HistogramVec
	WinnerFamilyTotal  *prometheus.CounterVec
	CacheHitsTotal     prometheus.Counter
	CacheMissesTotal   prometheus.Counter
	CacheEvictedTotal  prometheus.Counter
}

// New builds a fresh, unregistered set of collectors. Most callers want
// Default() instead; New exists for tests and for callers that maintain
// their own registry per instance.
func New() *Collectors {
	return &Collectors{
		AttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "happyeyeballs_attempts_total",
			Help: "Connection attempts started by the race engine, by address family and outcome.",
		}, []string{"family", "outcome"}),
		RaceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "happyeyeballs_race_duration_seconds",
			Help:    "Wall-clock duration of a CreateConnection call that engaged the race engine.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		WinnerFamilyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "happyeyeballs_winner_family_total",
			Help: "Races won, by the address family of the winning endpoint.",
		}, []string{"family"}),
		CacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "happyeyeballs_cache_hits_total",
			Help: "Address cache lookups that returned a fresh entry.",
		}),
		CacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "happyeyeballs_cache_misses_total",
			Help: "Address cache lookups that found no fresh entry.",
		}),
		CacheEvictedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "happyeyeballs_cache_evicted_total",
			Help: "Address cache entries dropped for being expired or over capacity.",
		}),
	}
}

// MustRegister registers every collector in c with reg.
func (c *Collectors) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		c.AttemptsTotal,
		c.RaceDuration,
		c.WinnerFamilyTotal,
		c.CacheHitsTotal,
		c.CacheMissesTotal,
		c.CacheEvictedTotal,
	)
}

var def = New()

// Default returns the package-level collector set. It is not registered
// against prometheus.DefaultRegisterer automatically, so embedding
// applications only pay for these series if they opt in via
// Default().MustRegister(prometheus.DefaultRegisterer) or by wiring them
// into their own registry.
func Default() *Collectors { return def }
