// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
//
// Metrics - prometheus collectors for the relay pool.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "nostr_client"

// Collectors groups every metric the pool reports. A nil *Collectors is
// valid and records nothing.
type Collectors struct {
	PublishAttempts  *prometheus.CounterVec
	PublishSuccesses *prometheus.CounterVec
	PublishFailures  *prometheus.CounterVec
	FetchRequests    prometheus.Counter
	FetchEvents      prometheus.Counter
	FetchTimeouts    prometheus.Counter
	FetchDuration    prometheus.Histogram
	StreamEvents     prometheus.Counter
	DroppedEvents    *prometheus.CounterVec
	Notices          *prometheus.CounterVec
	ConnectedRelays  prometheus.Gauge
}

// New registers the collectors with reg. Pass prometheus.NewRegistry() in
// tests to keep them isolated.
func New(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)
	return &Collectors{
		PublishAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_attempts_total",
			Help:      "Events sent to a relay for publishing",
		}, []string{"relay"}),
		PublishSuccesses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_successes_total",
			Help:      "Publishes a relay accepted",
		}, []string{"relay"}),
		PublishFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Publishes a relay rejected or never answered",
		}, []string{"relay"}),
		FetchRequests: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_requests_total",
			Help:      "Bounded fetches started",
		}),
		FetchEvents: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_events_total",
			Help:      "Distinct events returned by fetches",
		}),
		FetchTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_timeouts_total",
			Help:      "Fetches that ended on the timeout before every relay finished",
		}),
		FetchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Time spent in a bounded fetch",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		StreamEvents: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_events_total",
			Help:      "Distinct events delivered by streams",
		}),
		DroppedEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_events_total",
			Help:      "Inbound events discarded, by reason",
		}, []string{"reason"}),
		Notices: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notices_total",
			Help:      "NOTICE messages received from relays",
		}, []string{"relay"}),
		ConnectedRelays: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_relays",
			Help:      "Relays currently connected",
		}),
	}
}

func (c *Collectors) PublishAttempt(relay string) {
	if c != nil {
		c.PublishAttempts.WithLabelValues(relay).Inc()
	}
}

func (c *Collectors) PublishResult(relay string, accepted bool) {
	if c == nil {
		return
	}
	if accepted {
		c.PublishSuccesses.WithLabelValues(relay).Inc()
	} else {
		c.PublishFailures.WithLabelValues(relay).Inc()
	}
}

// FetchDone records a finished fetch.
func (c *Collectors) FetchDone(seconds float64, events int, timedOut bool) {
	if c == nil {
		return
	}
	c.FetchRequests.Inc()
	c.FetchEvents.Add(float64(events))
	c.FetchDuration.Observe(seconds)
	if timedOut {
		c.FetchTimeouts.Inc()
	}
}

func (c *Collectors) StreamEvent() {
	if c != nil {
		c.StreamEvents.Inc()
	}
}

// Dropped counts an inbound event rejected for reason ("invalid", "unmatched").
func (c *Collectors) Dropped(reason string) {
	if c != nil {
		c.DroppedEvents.WithLabelValues(reason).Inc()
	}
}

func (c *Collectors) Notice(relay string) {
	if c != nil {
		c.Notices.WithLabelValues(relay).Inc()
	}
}

func (c *Collectors) SetConnected(n int) {
	if c != nil {
		c.ConnectedRelays.Set(float64(n))
	}
}
