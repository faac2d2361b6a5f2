// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
package relaypool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/girino/relay-client/event"
	"github.com/girino/relay-client/filter"
	"github.com/girino/relay-client/logging"
	"github.com/puzpuzpuz/xsync/v3"
)

// accept applies the inbound checks every event must pass before it is
// handed to a caller.
func (p *Pool) accept(uri string, filters []filter.Filter, ev *event.Event) bool {
	if ev == nil {
		return false
	}
	if p.opts.verify {
		if ok, err := event.CheckSignature(ev); !ok {
			atomic.AddInt64(&p.droppedEvents, 1)
			p.opts.metrics.Dropped("invalid")
			logging.DebugMethod("relaypool", "accept", "dropping %s event %s from %s: %v", event.KindName(ev.Kind), ev.ID, uri, err)
			return false
		}
	}
	if !filter.MatchesAny(filters, ev) {
		atomic.AddInt64(&p.droppedEvents, 1)
		p.opts.metrics.Dropped("unmatched")
		logging.DebugMethod("relaypool", "accept", "dropping %s event %s from %s: does not match", event.KindName(ev.Kind), ev.ID, uri)
		return false
	}
	return true
}

// Fetch sends filters to every connected relay and gathers the stored events
// they return, keyed by id. It returns once every relay has signalled the end
// of its stored events or timeout elapses; a timeout is not an error and the
// events gathered so far are returned. When ctx is cancelled the partial
// result is returned along with ctx.Err(). A timeout of zero uses the pool
// default. Limits in filters are enforced on the merged result.
func (p *Pool) Fetch(ctx context.Context, filters []filter.Filter, timeout time.Duration) (map[string]*event.Event, error) {
	if timeout <= 0 {
		timeout = p.opts.fetchTimeout
	}
	conns := p.connected()
	if len(conns) == 0 {
		return map[string]*event.Event{}, ErrNotConnected
	}
	if len(filters) == 0 {
		filters = []filter.Filter{{}}
	}

	start := time.Now()
	atomic.AddInt64(&p.fetchRequests, 1)
	fctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := xsync.NewMapOf[string, *event.Event]()
	label := p.subscriberLabel()
	var finished atomic.Int32

	var wg sync.WaitGroup
	for _, e := range conns {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			uri := e.ep.URI
			sub, err := e.ch.Subscribe(fctx, label, filters)
			if err != nil {
				logging.Warn("fetch: subscribe to %s failed: %v", uri, err)
				finished.Add(1)
				return
			}
			defer sub.Close()

			n := 0
			for {
				select {
				case ev, ok := <-sub.Events:
					if !ok {
						finished.Add(1)
						return
					}
					if !p.accept(uri, filters, ev) {
						continue
					}
					if _, loaded := results.LoadOrStore(ev.ID, ev); !loaded {
						n++
					}
				case <-sub.EndOfStoredEvents:
					logging.DebugMethod("relaypool", "Fetch", "%s finished with %d new events", uri, n)
					finished.Add(1)
					return
				case <-fctx.Done():
					return
				}
			}
		}(e)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-fctx.Done():
		cancel()
		<-done
	}

	events := make([]*event.Event, 0, results.Size())
	results.Range(func(id string, ev *event.Event) bool {
		events = append(events, ev)
		return true
	})
	events = filter.Cap(filters, events)
	out := make(map[string]*event.Event, len(events))
	for _, ev := range events {
		out[ev.ID] = ev
	}

	timedOut := int(finished.Load()) < len(conns) && ctx.Err() == nil
	if timedOut {
		atomic.AddInt64(&p.fetchTimeouts, 1)
		logging.DebugMethod("relaypool", "Fetch", "timeout after %s: %d/%d relays finished", timeout, finished.Load(), len(conns))
	}
	atomic.AddInt64(&p.fetchEventsReturned, int64(len(out)))
	p.opts.metrics.FetchDone(time.Since(start).Seconds(), len(out), timedOut)

	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

// FetchList is Fetch with the result ordered newest first.
func (p *Pool) FetchList(ctx context.Context, filters []filter.Filter, timeout time.Duration) ([]*event.Event, error) {
	m, err := p.Fetch(ctx, filters, timeout)
	list := make([]*event.Event, 0, len(m))
	for _, ev := range m {
		list = append(list, ev)
	}
	event.SortNewestFirst(list)
	return list, err
}

// Stream sends filters to every configured relay and calls onEvent for each
// distinct event as it arrives, stored or live. onEvent is never called
// concurrently. A relay whose subscription ends is subscribed again once it
// reconnects; the set of seen ids is shared across those subscriptions, so
// replayed stored events are not delivered twice. Stream blocks until ctx is
// cancelled, returning nil. It fails with ErrNotConnected when no relay is
// connected at the start or once every relay it followed is unconfigured.
func (p *Pool) Stream(ctx context.Context, filters []filter.Filter, onEvent func(*event.Event)) error {
	if !p.IsConnected() {
		return ErrNotConnected
	}
	if len(filters) == 0 {
		filters = []filter.Filter{{}}
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	seen := xsync.NewMapOf[string, struct{}]()
	out := make(chan *event.Event)
	deliver := func(uri string, ev *event.Event) bool {
		if !p.accept(uri, filters, ev) {
			return true
		}
		if _, dup := seen.LoadOrStore(ev.ID, struct{}{}); dup {
			return true
		}
		select {
		case out <- ev:
			return true
		case <-sctx.Done():
			return false
		}
	}

	var uris []string
	p.relays.Range(func(uri string, _ *entry) bool {
		uris = append(uris, uri)
		return true
	})

	var wg sync.WaitGroup
	for _, uri := range uris {
		wg.Add(1)
		go func(uri string) {
			defer wg.Done()
			p.follow(sctx, uri, filters, deliver)
		}(uri)
	}

	allDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(allDone)
	}()

	for {
		select {
		case ev := <-out:
			atomic.AddInt64(&p.streamEvents, 1)
			p.opts.metrics.StreamEvent()
			onEvent(ev)
		case <-allDone:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("stream: %w: relay set replaced", ErrNotConnected)
		case <-ctx.Done():
			cancel()
			<-allDone
			return nil
		}
	}
}

// follow keeps uri subscribed for the lifetime of a Stream. After a
// subscription ends it subscribes again as soon as the relay has reconnected,
// or after the retry interval when the relay never went down. It returns when
// ctx ends or uri is no longer configured.
func (p *Pool) follow(ctx context.Context, uri string, filters []filter.Filter, deliver func(string, *event.Event) bool) {
	var (
		last    *entry
		lastUps int64
		retry   <-chan time.Time
	)
	for {
		wake := p.changes()
		e, ok := p.relays.Load(uri)
		if !ok {
			logging.DebugMethod("relaypool", "Stream", "%s is no longer configured", uri)
			return
		}
		if e.up() && (retry == nil || e != last || e.ups.Load() != lastUps) {
			last, lastUps = e, e.ups.Load()
			if !p.streamFrom(ctx, e, filters, deliver) {
				return
			}
			retry = time.After(p.opts.streamRetry)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-wake:
		case <-retry:
			retry = nil
		}
	}
}

// streamFrom runs one subscription on e until it ends. It reports false when
// the stream itself is over.
func (p *Pool) streamFrom(ctx context.Context, e *entry, filters []filter.Filter, deliver func(string, *event.Event) bool) bool {
	uri := e.ep.URI
	sub, err := e.ch.Subscribe(ctx, p.subscriberLabel(), filters)
	if err != nil {
		logging.Warn("stream: subscribe to %s failed: %v", uri, err)
		return ctx.Err() == nil
	}
	defer sub.Close()
	logging.DebugMethod("relaypool", "Stream", "subscribed to %s", uri)
	for {
		select {
		case ev, ok := <-sub.Events:
			if !ok {
				logging.DebugMethod("relaypool", "Stream", "subscription on %s ended", uri)
				return ctx.Err() == nil
			}
			if !deliver(uri, ev) {
				return false
			}
		case <-ctx.Done():
			return false
		}
	}
}
