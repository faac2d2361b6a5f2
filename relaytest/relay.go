// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
//
// Relaytest - in-process relays and scripted channels for tests.
package relaytest

import (
	"context"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/fiatjaf/eventstore/slicestore"
	"github.com/fiatjaf/khatru"
	"github.com/girino/relay-client/event"
	"github.com/girino/relay-client/relaychannel"
	"github.com/nbd-wtf/go-nostr"
)

// Relay is a khatru relay with an in-memory store served over httptest.
type Relay struct {
	URL    string
	Khatru *khatru.Relay
	Store  *slicestore.SliceStore
	server *httptest.Server
	conns  *trackingListener
}

// trackingListener remembers accepted connections. httptest does not close
// hijacked websocket connections, so Drop closes them here.
type trackingListener struct {
	net.Listener

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

func (l *trackingListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	tc := &trackedConn{Conn: c, l: l}
	l.mu.Lock()
	l.conns[tc] = struct{}{}
	l.mu.Unlock()
	return tc, nil
}

func (l *trackingListener) closeAll() {
	l.mu.Lock()
	conns := make([]net.Conn, 0, len(l.conns))
	for c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

type trackedConn struct {
	net.Conn
	l    *trackingListener
	once sync.Once
}

func (c *trackedConn) Close() error {
	c.once.Do(func() {
		c.l.mu.Lock()
		delete(c.l.conns, c)
		c.l.mu.Unlock()
	})
	return c.Conn.Close()
}

type RelayOption func(*khatru.Relay)

// RejectAll makes the relay refuse every published event with msg.
func RejectAll(msg string) RelayOption {
	return func(r *khatru.Relay) {
		r.RejectEvent = append(r.RejectEvent, func(ctx context.Context, ev *nostr.Event) (bool, string) {
			return true, msg
		})
	}
}

// NewRelay starts a relay and stops it when the test ends.
func NewRelay(t testing.TB, opts ...RelayOption) *Relay {
	t.Helper()
	store := &slicestore.SliceStore{}
	if err := store.Init(); err != nil {
		t.Fatalf("init slicestore: %v", err)
	}

	kr := khatru.NewRelay()
	kr.StoreEvent = append(kr.StoreEvent, store.SaveEvent)
	kr.QueryEvents = append(kr.QueryEvents, store.QueryEvents)
	kr.CountEvents = append(kr.CountEvents, store.CountEvents)
	kr.DeleteEvent = append(kr.DeleteEvent, store.DeleteEvent)
	kr.ReplaceEvent = append(kr.ReplaceEvent, store.ReplaceEvent)
	for _, opt := range opts {
		opt(kr)
	}

	srv := httptest.NewUnstartedServer(kr)
	tl := &trackingListener{Listener: srv.Listener, conns: make(map[net.Conn]struct{})}
	srv.Listener = tl
	srv.Start()
	r := &Relay{
		URL:    "ws" + strings.TrimPrefix(srv.URL, "http"),
		Khatru: kr,
		Store:  store,
		server: srv,
		conns:  tl,
	}
	t.Cleanup(r.Close)
	return r
}

// Endpoint returns the relay as a pool endpoint.
func (r *Relay) Endpoint() relaychannel.Endpoint {
	return relaychannel.Endpoint{URI: r.URL}
}

// Seed stores events directly, bypassing the websocket.
func (r *Relay) Seed(t testing.TB, events ...*event.Event) {
	t.Helper()
	for _, ev := range events {
		ne := relaychannel.ToNostrEvent(ev)
		if err := r.Store.SaveEvent(context.Background(), &ne); err != nil {
			t.Fatalf("seed %s: %v", ev.ID, err)
		}
	}
}

// Stored returns everything the relay holds matching f.
func (r *Relay) Stored(t testing.TB, f nostr.Filter) []*event.Event {
	t.Helper()
	ch, err := r.Store.QueryEvents(context.Background(), f)
	if err != nil {
		t.Fatalf("query store: %v", err)
	}
	var out []*event.Event
	for ne := range ch {
		out = append(out, relaychannel.FromNostrEvent(ne))
	}
	return out
}

// Drop closes every open client connection, websockets included, while the
// relay keeps accepting new ones.
func (r *Relay) Drop() {
	r.conns.closeAll()
}

// Close stops the server and drops every open connection.
func (r *Relay) Close() {
	r.Drop()
	r.server.CloseClientConnections()
	r.server.Close()
}
