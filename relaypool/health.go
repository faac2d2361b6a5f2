// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
package relaypool

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/girino/relay-client/logging"
)

// Health state constants
const (
	HealthGreen  = "GREEN"
	HealthYellow = "YELLOW"
	HealthRed    = "RED"
)

// Stats holds runtime counters exported by the pool
type Stats struct {
	PublishAttempts           int64            `json:"publish_attempts"`
	PublishSuccesses          int64            `json:"publish_successes"`
	PublishFailures           int64            `json:"publish_failures"`
	FetchRequests             int64            `json:"fetch_requests"`
	FetchEventsReturned       int64            `json:"fetch_events_returned"`
	FetchTimeouts             int64            `json:"fetch_timeouts"`
	StreamEvents              int64            `json:"stream_events"`
	DroppedEvents             int64            `json:"dropped_events"`
	Notices                   int64            `json:"notices"`
	ConsecutiveHealthFailures int64            `json:"consecutive_health_failures"`
	HealthState               string           `json:"health_state"`
	LiveRelays                int64            `json:"live_relays"`
	DeadRelays                int64            `json:"dead_relays"`
	Relays                    map[string]State `json:"relays"`
}

// Stats returns a snapshot of the pool counters
func (p *Pool) Stats() Stats {
	consecutive := atomic.LoadInt64(&p.consecutiveHealthFailures)
	return Stats{
		PublishAttempts:           atomic.LoadInt64(&p.publishAttempts),
		PublishSuccesses:          atomic.LoadInt64(&p.publishSuccesses),
		PublishFailures:           atomic.LoadInt64(&p.publishFailures),
		FetchRequests:             atomic.LoadInt64(&p.fetchRequests),
		FetchEventsReturned:       atomic.LoadInt64(&p.fetchEventsReturned),
		FetchTimeouts:             atomic.LoadInt64(&p.fetchTimeouts),
		StreamEvents:              atomic.LoadInt64(&p.streamEvents),
		DroppedEvents:             atomic.LoadInt64(&p.droppedEvents),
		Notices:                   atomic.LoadInt64(&p.notices),
		ConsecutiveHealthFailures: consecutive,
		HealthState:               healthState(consecutive),
		LiveRelays:                atomic.LoadInt64(&p.liveRelays),
		DeadRelays:                atomic.LoadInt64(&p.deadRelays),
		Relays:                    p.States(),
	}
}

// Health returns the current health state.
func (p *Pool) Health() string {
	return healthState(atomic.LoadInt64(&p.consecutiveHealthFailures))
}

// healthState determines the health state based on consecutive failures
func healthState(consecutiveFailures int64) string {
	if consecutiveFailures <= 2 {
		return HealthGreen
	} else if consecutiveFailures < 10 {
		return HealthYellow
	}
	return HealthRed
}

// MonitorHealth checks relay health every interval until ctx ends. Dropped
// relays are reconnected on each pass.
func (p *Pool) MonitorHealth(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.CheckHealth(ctx)
		}
	}
}

// CheckHealth runs one health pass: dropped relays get a reconnect attempt,
// then the live and dead counts are updated. More than half dead counts as a
// failure; anything better resets the failure streak.
func (p *Pool) CheckHealth(ctx context.Context) {
	total := int64(p.relays.Size())
	if total == 0 {
		return
	}

	if int64(len(p.connected())) < total {
		if err := p.ConnectAll(ctx, nil); err != nil {
			logging.DebugMethod("relaypool", "CheckHealth", "reconnect failed: %v", err)
		}
	}

	live := int64(len(p.connected()))
	dead := total - live
	atomic.StoreInt64(&p.liveRelays, live)
	atomic.StoreInt64(&p.deadRelays, dead)

	if dead > total/2 {
		atomic.AddInt64(&p.consecutiveHealthFailures, 1)
		logging.DebugMethod("relaypool", "CheckHealth", "health check failed: %d/%d relays dead", dead, total)
	} else {
		atomic.StoreInt64(&p.consecutiveHealthFailures, 0)
		logging.DebugMethod("relaypool", "CheckHealth", "health check passed: %d/%d relays alive", live, total)
	}
}
