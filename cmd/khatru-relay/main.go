// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
//
// khatru-relay - an in-memory relay to point relay-client at during
// development.
package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/fiatjaf/eventstore"
	"github.com/fiatjaf/eventstore/slicestore"
	"github.com/fiatjaf/khatru"
	"github.com/fiatjaf/khatru/policies"
	"github.com/girino/relay-client/logging"
	"github.com/nbd-wtf/go-nostr"
)

// devRelay is a khatru relay over an in-memory store with a few counters.
type devRelay struct {
	*khatru.Relay
	store eventstore.Store
	count func(context.Context, nostr.Filter) (int64, error)

	saved    int64
	rejected int64
	queries  int64
}

// Stats is what /stats serves.
type Stats struct {
	StoredEvents   int64 `json:"stored_events"`
	SavedEvents    int64 `json:"saved_events"`
	RejectedEvents int64 `json:"rejected_events"`
	Queries        int64 `json:"queries"`
}

func newDevRelay(cfg *Config) (*devRelay, error) {
	store := &slicestore.SliceStore{}
	if err := store.Init(); err != nil {
		return nil, err
	}
	d := &devRelay{Relay: khatru.NewRelay(), store: store, count: store.CountEvents}
	if err := ApplyToRelay(d.Relay, cfg); err != nil {
		return nil, err
	}

	if cfg.FilterRate > 0 {
		limit := policies.FilterIPRateLimiter(cfg.FilterRate, time.Minute, cfg.FilterRate*5)
		d.RejectFilter = append(d.RejectFilter, func(ctx context.Context, filter nostr.Filter) (bool, string) {
			reject, msg := limit(ctx, filter)
			if reject {
				logging.Warn("filter rate limit hit by %s", khatru.GetIP(ctx))
			}
			return reject, msg
		})
	}
	if cfg.ConnectionRate > 0 {
		limit := policies.ConnectionRateLimiter(cfg.ConnectionRate, time.Minute, cfg.ConnectionRate*5)
		d.RejectConnection = append(d.RejectConnection, func(req *http.Request) bool {
			reject := limit(req)
			if reject {
				logging.Warn("connection rate limit hit by %s", khatru.GetIPFromRequest(req))
			}
			return reject
		})
	}

	d.RejectEvent = append(d.RejectEvent, func(ctx context.Context, ev *nostr.Event) (bool, string) {
		// khatru has already checked id and signature
		if len(ev.Content) > 64*1024 {
			atomic.AddInt64(&d.rejected, 1)
			return true, "invalid: content too long"
		}
		return false, ""
	})
	d.StoreEvent = append(d.StoreEvent, func(ctx context.Context, ev *nostr.Event) error {
		atomic.AddInt64(&d.saved, 1)
		logging.DebugMethod("khatru-relay", "StoreEvent", "stored %s kind %d from %s", ev.ID, ev.Kind, ev.PubKey)
		return d.store.SaveEvent(ctx, ev)
	})
	d.QueryEvents = append(d.QueryEvents, func(ctx context.Context, filter nostr.Filter) (chan *nostr.Event, error) {
		atomic.AddInt64(&d.queries, 1)
		logging.DebugMethod("khatru-relay", "QueryEvents", "query %s", filter)
		return d.store.QueryEvents(ctx, filter)
	})
	d.CountEvents = append(d.CountEvents, d.count)
	d.DeleteEvent = append(d.DeleteEvent, d.store.DeleteEvent)
	d.ReplaceEvent = append(d.ReplaceEvent, d.store.ReplaceEvent)

	mux := d.Router()
	mux.HandleFunc("/stats", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(d.Stats(req.Context())); err != nil {
			http.Error(w, "failed to encode stats", http.StatusInternalServerError)
		}
	})
	return d, nil
}

// Stats returns a snapshot of the relay counters.
func (d *devRelay) Stats(ctx context.Context) Stats {
	stored, err := d.count(ctx, nostr.Filter{})
	if err != nil {
		logging.Warn("count stored events: %v", err)
	}
	return Stats{
		StoredEvents:   stored,
		SavedEvents:    atomic.LoadInt64(&d.saved),
		RejectedEvents: atomic.LoadInt64(&d.rejected),
		Queries:        atomic.LoadInt64(&d.queries),
	}
}

func main() {
	cfg, err := LoadConfig(os.Args[1:])
	if err != nil {
		logging.Fatal("config: %v", err)
	}
	logging.SetVerbose(cfg.Verbose)

	d, err := newDevRelay(cfg)
	if err != nil {
		logging.Fatal("initializing relay: %v", err)
	}

	host, portStr, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		logging.Fatal("invalid addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		logging.Fatal("invalid port: %v", err)
	}

	logging.Info("Starting %s on %s", d.Info.Name, cfg.Addr)
	if err := d.Start(host, port); err != nil {
		logging.Fatal("relay exited: %v", err)
	}
}
