// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
package relaytest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/girino/relay-client/event"
	"github.com/girino/relay-client/filter"
	"github.com/girino/relay-client/relaychannel"
)

// FakeChannel is a scripted relaychannel.Channel. Stored events are replayed
// to matching subscriptions, followed by end-of-stored-events unless Silent
// is set. Live events can be pushed with Emit.
type FakeChannel struct {
	ep   relaychannel.Endpoint
	sink relaychannel.Sink

	mu         sync.Mutex
	connected  bool
	ConnectErr error
	// Silent suppresses end-of-stored-events, simulating a relay that
	// never finishes.
	Silent bool
	// Delay is applied before each stored event is delivered.
	Delay time.Duration
	// Reject, when set, is the message returned for every publish.
	Reject string
	// Hang makes Publish block until its context ends.
	Hang bool

	stored    []*event.Event
	published []*event.Event
	subs      []*fakeSub
	connects  int
}

type fakeSub struct {
	filters []filter.Filter
	live    chan *event.Event
	ctx     context.Context
	// ended is closed when the relay ends the subscription itself.
	ended   chan struct{}
}

// FakeNetwork builds FakeChannels on demand and remembers them by URI so a
// test can script a relay before or after the pool creates it.
type FakeNetwork struct {
	mu       sync.Mutex
	channels map[string]*FakeChannel
}

func NewFakeNetwork() *FakeNetwork {
	return &FakeNetwork{channels: make(map[string]*FakeChannel)}
}

// Relay returns the fake for uri, creating it if needed.
func (n *FakeNetwork) Relay(uri string) *FakeChannel {
	n.mu.Lock()
	defer n.mu.Unlock()
	fc, ok := n.channels[uri]
	if !ok {
		fc = &FakeChannel{ep: relaychannel.Endpoint{URI: uri}, sink: relaychannel.NopSink{}}
		n.channels[uri] = fc
	}
	return fc
}

// Factory hands the pool the scripted channel for each endpoint.
func (n *FakeNetwork) Factory(ep relaychannel.Endpoint, sink relaychannel.Sink) relaychannel.Channel {
	fc := n.Relay(ep.URI)
	fc.mu.Lock()
	fc.ep = ep
	fc.sink = sink
	fc.mu.Unlock()
	return fc
}

var _ relaychannel.Channel = (*FakeChannel)(nil)

// Store adds events the relay will replay to new subscriptions.
func (f *FakeChannel) Store(events ...*event.Event) *FakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored = append(f.stored, events...)
	return f
}

func (f *FakeChannel) Endpoint() relaychannel.Endpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ep
}

func (f *FakeChannel) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connects++
	err := f.ConnectErr
	if err == nil {
		f.connected = true
	}
	sink, uri := f.sink, f.ep.URI
	f.mu.Unlock()
	if err != nil {
		return err
	}
	sink.ConnectionChanged(uri, true)
	return nil
}

func (f *FakeChannel) Disconnect() error {
	f.mu.Lock()
	was := f.connected
	f.connected = false
	sink, uri := f.sink, f.ep.URI
	f.mu.Unlock()
	if was {
		sink.ConnectionChanged(uri, false)
	}
	f.EndSubscriptions()
	return nil
}

// Drop simulates the relay going away. Like a closed connection it ends every
// open subscription.
func (f *FakeChannel) Drop() { _ = f.Disconnect() }

// EndSubscriptions closes every open subscription from the relay side while
// the connection stays up.
func (f *FakeChannel) EndSubscriptions() {
	f.mu.Lock()
	subs := f.subs
	f.subs = nil
	f.mu.Unlock()
	for _, s := range subs {
		close(s.ended)
	}
}

func (f *FakeChannel) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *FakeChannel) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *FakeChannel) Publish(ctx context.Context, ev *event.Event) relaychannel.Outcome {
	f.mu.Lock()
	o := relaychannel.Outcome{URI: f.ep.URI}
	connected, reject, hang, sink := f.connected, f.Reject, f.Hang, f.sink
	if connected && !hang {
		f.published = append(f.published, ev)
	}
	f.mu.Unlock()

	switch {
	case !connected:
		o.Message = relaychannel.ErrNotConnected.Error()
	case hang:
		<-ctx.Done()
		o.Message = ctx.Err().Error()
	case reject != "":
		o.Message = reject
	default:
		o.Accepted = true
	}
	sink.PostOutcome(o.URI, o)
	return o
}

// Published returns the events the relay received.
func (f *FakeChannel) Published() []*event.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*event.Event(nil), f.published...)
}

func (f *FakeChannel) Subscribe(ctx context.Context, subscriber string, filters []filter.Filter) (*relaychannel.Subscription, error) {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return nil, errors.New(f.ep.URI + ": " + relaychannel.ErrNotConnected.Error())
	}
	stored := append([]*event.Event(nil), f.stored...)
	silent, delay := f.Silent, f.Delay
	subCtx, cancel := context.WithCancel(ctx)
	s := &fakeSub{filters: filters, live: make(chan *event.Event), ctx: subCtx, ended: make(chan struct{})}
	f.subs = append(f.subs, s)
	f.mu.Unlock()

	out := make(chan *event.Event)
	eose := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		send := func(ev *event.Event) bool {
			select {
			case out <- ev:
				return true
			case <-s.ended:
				close(out)
				return false
			case <-subCtx.Done():
				return false
			}
		}
		for _, ev := range stored {
			if !filter.MatchesAny(filters, ev) {
				continue
			}
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-s.ended:
					close(out)
					return
				case <-subCtx.Done():
					return
				}
			}
			if !send(ev) {
				return
			}
		}
		if !silent {
			close(eose)
		}
		for {
			select {
			case ev := <-s.live:
				if !send(ev) {
					return
				}
			case <-s.ended:
				close(out)
				return
			case <-subCtx.Done():
				return
			}
		}
	}()

	return relaychannel.NewSubscription(out, eose, func() {
		cancel()
		<-done
		f.mu.Lock()
		for i, other := range f.subs {
			if other == s {
				f.subs = append(f.subs[:i], f.subs[i+1:]...)
				break
			}
		}
		f.mu.Unlock()
	}), nil
}

// Emit pushes ev to every open subscription whose filters match, as a live
// event. Unmatched delivery can be forced with raw.
func (f *FakeChannel) Emit(ev *event.Event, raw bool) {
	f.mu.Lock()
	subs := append([]*fakeSub(nil), f.subs...)
	f.mu.Unlock()
	for _, s := range subs {
		if !raw && !filter.MatchesAny(s.filters, ev) {
			continue
		}
		select {
		case s.live <- ev:
		case <-s.ended:
		case <-s.ctx.Done():
		}
	}
}

// Subscriptions is the number of subscriptions currently open.
func (f *FakeChannel) Subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
