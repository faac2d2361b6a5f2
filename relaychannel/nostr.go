// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
package relaychannel

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/girino/relay-client/event"
	"github.com/girino/relay-client/filter"
	"github.com/girino/relay-client/logging"
	"github.com/nbd-wtf/go-nostr"
)

// NostrChannel is a Channel backed by a go-nostr websocket relay.
type NostrChannel struct {
	ep   Endpoint
	sink Sink

	mu    sync.Mutex
	relay *nostr.Relay
	// closing is set while Disconnect tears the connection down so the
	// watcher does not report it as a drop.
	closing bool
}

// NewNostrChannel is a Factory.
func NewNostrChannel(ep Endpoint, sink Sink) Channel {
	if sink == nil {
		sink = NopSink{}
	}
	return &NostrChannel{ep: ep, sink: sink}
}

var _ Channel = (*NostrChannel)(nil)

func (c *NostrChannel) Endpoint() Endpoint { return c.ep }

func (c *NostrChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.relay != nil && c.relay.IsConnected() {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	uri := c.ep.URI
	logging.DebugMethod("relaychannel", "Connect", "connecting to %s", uri)
	rl := nostr.NewRelay(context.Background(), uri,
		nostr.WithNoticeHandler(func(notice string) {
			c.sink.Notice(uri, notice)
		}),
	)
	if err := rl.Connect(ctx); err != nil {
		logging.DebugMethod("relaychannel", "Connect", "failed to connect to %s: %v", uri, err)
		return fmt.Errorf("%s: %w", uri, err)
	}

	c.mu.Lock()
	old := c.relay
	c.relay = rl
	c.closing = false
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	go c.watch(rl)
	c.sink.ConnectionChanged(uri, true)
	logging.DebugMethod("relaychannel", "Connect", "connected to %s", uri)
	return nil
}

// watch reports a drop once the relay's context ends, unless the drop was
// requested through Disconnect or the relay was replaced.
func (c *NostrChannel) watch(rl *nostr.Relay) {
	<-rl.Context().Done()
	c.mu.Lock()
	current := c.relay == rl
	deliberate := c.closing
	if current {
		c.relay = nil
	}
	c.mu.Unlock()
	if current && !deliberate {
		logging.Warn("relay %s disconnected", c.ep.URI)
		c.sink.ConnectionChanged(c.ep.URI, false)
	}
}

func (c *NostrChannel) Disconnect() error {
	c.mu.Lock()
	rl := c.relay
	c.relay = nil
	c.closing = true
	c.mu.Unlock()
	if rl == nil {
		return nil
	}
	err := rl.Close()
	c.sink.ConnectionChanged(c.ep.URI, false)
	return err
}

func (c *NostrChannel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.relay != nil && c.relay.IsConnected()
}

func (c *NostrChannel) current() *nostr.Relay {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.relay
}

func (c *NostrChannel) Publish(ctx context.Context, ev *event.Event) Outcome {
	o := Outcome{URI: c.ep.URI}
	rl := c.current()
	if rl == nil || !rl.IsConnected() {
		o.Message = ErrNotConnected.Error()
		c.sink.PostOutcome(c.ep.URI, o)
		return o
	}
	if err := rl.Publish(ctx, ToNostrEvent(ev)); err != nil {
		o.Message = strings.TrimPrefix(err.Error(), "msg: ")
	} else {
		o.Accepted = true
	}
	c.sink.PostOutcome(c.ep.URI, o)
	return o
}

func (c *NostrChannel) Subscribe(ctx context.Context, subscriber string, filters []filter.Filter) (*Subscription, error) {
	rl := c.current()
	if rl == nil || !rl.IsConnected() {
		return nil, fmt.Errorf("%s: %w", c.ep.URI, ErrNotConnected)
	}

	subCtx, cancel := context.WithCancel(ctx)
	var opts []nostr.SubscriptionOption
	if subscriber != "" {
		opts = append(opts, nostr.WithLabel(subscriber))
	}
	sub, err := rl.Subscribe(subCtx, ToNostrFilters(filters), opts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%s: %w", c.ep.URI, err)
	}

	events := make(chan *event.Event)
	eose := make(chan struct{})
	go func() {
		var once sync.Once
		stored := func() { once.Do(func() { close(eose) }) }
		defer close(events)
		defer stored()
		defer sub.Unsub()

		storedDone := sub.EndOfStoredEvents
		for {
			select {
			case ne, ok := <-sub.Events:
				if !ok {
					return
				}
				select {
				case events <- FromNostrEvent(ne):
				case <-subCtx.Done():
					return
				}
			case <-storedDone:
				storedDone = nil
				stored()
			case reason := <-sub.ClosedReason:
				logging.DebugMethod("relaychannel", "Subscribe", "%s closed subscription: %s", c.ep.URI, reason)
				return
			case <-sub.Context.Done():
				return
			case <-subCtx.Done():
				return
			}
		}
	}()

	return NewSubscription(events, eose, cancel), nil
}

// ToNostrEvent converts to the go-nostr representation.
func ToNostrEvent(ev *event.Event) nostr.Event {
	tags := make(nostr.Tags, len(ev.Tags))
	for i, t := range ev.Tags {
		tags[i] = nostr.Tag(t.Clone())
	}
	return nostr.Event{
		ID:        ev.ID,
		PubKey:    ev.PubKey,
		CreatedAt: nostr.Timestamp(ev.CreatedAt),
		Kind:      ev.Kind,
		Tags:      tags,
		Content:   ev.Content,
		Sig:       ev.Sig,
	}
}

// FromNostrEvent converts from the go-nostr representation.
func FromNostrEvent(ne *nostr.Event) *event.Event {
	var tags event.Tags
	if len(ne.Tags) > 0 {
		tags = make(event.Tags, len(ne.Tags))
		for i, t := range ne.Tags {
			tags[i] = event.Tag(t).Clone()
		}
	}
	return &event.Event{
		ID:        ne.ID,
		PubKey:    ne.PubKey,
		CreatedAt: event.Timestamp(ne.CreatedAt),
		Kind:      ne.Kind,
		Tags:      tags,
		Content:   ne.Content,
		Sig:       ne.Sig,
	}
}

// ToNostrFilters converts filters to their go-nostr form.
func ToNostrFilters(filters []filter.Filter) nostr.Filters {
	out := make(nostr.Filters, len(filters))
	for i := range filters {
		out[i] = ToNostrFilter(&filters[i])
	}
	return out
}

func ToNostrFilter(f *filter.Filter) nostr.Filter {
	nf := nostr.Filter{
		IDs:     f.IDs,
		Authors: f.Authors,
		Kinds:   f.Kinds,
		Limit:   f.Limit,
	}
	if tags := f.TagFilters(); len(tags) > 0 {
		nf.Tags = make(nostr.TagMap, len(tags))
		for k, v := range tags {
			nf.Tags[k] = v
		}
	}
	if f.Since != nil {
		s := nostr.Timestamp(*f.Since)
		nf.Since = &s
	}
	if f.Until != nil {
		u := nostr.Timestamp(*f.Until)
		nf.Until = &u
	}
	return nf
}
