// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
package relaychannel

import (
	"context"
	"errors"
	"sync"

	"github.com/girino/relay-client/event"
	"github.com/girino/relay-client/filter"
)

var ErrNotConnected = errors.New("relay not connected")

// Outcome is a relay's answer to a publish.
type Outcome struct {
	URI      string `json:"uri"`
	Accepted bool   `json:"accepted"`
	Message  string `json:"message,omitempty"`
}

// Sink receives the asynchronous notifications a channel produces. Calls may
// come from any goroutine.
type Sink interface {
	ConnectionChanged(uri string, connected bool)
	Notice(uri string, msg string)
	PostOutcome(uri string, o Outcome)
}

// Channel is one relay connection.
type Channel interface {
	Endpoint() Endpoint
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool
	// Publish sends ev and waits for the relay's acknowledgement or ctx.
	Publish(ctx context.Context, ev *event.Event) Outcome
	// Subscribe opens a subscription. Events arrive on the returned
	// subscription until ctx ends or Close is called.
	Subscribe(ctx context.Context, subscriber string, filters []filter.Filter) (*Subscription, error)
}

// Factory builds a channel for ep reporting to sink.
type Factory func(ep Endpoint, sink Sink) Channel

// Subscription carries the events of one subscription. EndOfStoredEvents is
// closed once the relay has sent everything it had stored, or when the
// subscription ends before that. Events is closed when the subscription ends.
type Subscription struct {
	Events            <-chan *event.Event
	EndOfStoredEvents <-chan struct{}

	once   sync.Once
	cancel func()
}

// NewSubscription wraps the given channels; cancel is invoked once on Close.
func NewSubscription(events <-chan *event.Event, eose <-chan struct{}, cancel func()) *Subscription {
	return &Subscription{Events: events, EndOfStoredEvents: eose, cancel: cancel}
}

// Close ends the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// NopSink discards every notification.
type NopSink struct{}

func (NopSink) ConnectionChanged(string, bool) {}
func (NopSink) Notice(string, string)          {}
func (NopSink) PostOutcome(string, Outcome)    {}
