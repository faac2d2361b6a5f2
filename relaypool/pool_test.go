// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
package relaypool

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/girino/relay-client/event"
	"github.com/girino/relay-client/filter"
	"github.com/girino/relay-client/metrics"
	"github.com/girino/relay-client/relaychannel"
	"github.com/girino/relay-client/relaytest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	relayA = "wss://a.example"
	relayB = "wss://b.example"
	relayC = "wss://c.example"
)

func endpoints(uris ...string) []relaychannel.Endpoint {
	out := make([]relaychannel.Endpoint, len(uris))
	for i, u := range uris {
		out[i] = relaychannel.Endpoint{URI: u}
	}
	return out
}

func newFakePool(t *testing.T, net *relaytest.FakeNetwork, opts ...Option) *Pool {
	t.Helper()
	p := New(append([]Option{WithChannelFactory(net.Factory)}, opts...)...)
	require.NoError(t, p.Configure(endpoints(relayA, relayB, relayC)))
	return p
}

func notes() []filter.Filter {
	return []filter.Filter{*filter.New().AddKinds(event.KindTextNote)}
}

func TestConfigureValidatesAndDeduplicates(t *testing.T) {
	p := New(WithChannelFactory(relaytest.NewFakeNetwork().Factory))

	err := p.Configure(endpoints("https://nope.example"))
	assert.ErrorIs(t, err, ErrInvalidEndpoint)

	require.NoError(t, p.Configure(endpoints("wss://A.example/", "wss://a.example", relayB)))
	eps := p.Endpoints()
	require.Len(t, eps, 2)
	assert.Equal(t, "wss://a.example", eps[0].URI)
	assert.Equal(t, relayB, eps[1].URI)
	assert.Equal(t, StateUnconfigured, p.States()[relayB])
}

func TestConnectAllWithoutEndpoints(t *testing.T) {
	p := New(WithChannelFactory(relaytest.NewFakeNetwork().Factory))
	assert.ErrorIs(t, p.ConnectAll(context.Background(), nil), ErrNoEndpoints)
	assert.False(t, p.IsConnected())
}

func TestConnectAllIsolatesFailures(t *testing.T) {
	net := relaytest.NewFakeNetwork()
	net.Relay(relayB).ConnectErr = errors.New("refused")
	p := newFakePool(t, net)

	var mu sync.Mutex
	var connected []string
	require.NoError(t, p.ConnectAll(context.Background(), func(uri string) {
		mu.Lock()
		connected = append(connected, uri)
		mu.Unlock()
	}))

	sort.Strings(connected)
	assert.Equal(t, []string{relayA, relayC}, connected)
	assert.True(t, p.IsConnected())

	states := p.States()
	assert.Equal(t, StateConnected, states[relayA])
	assert.Equal(t, StateDisconnected, states[relayB])
	assert.Equal(t, StateConnected, states[relayC])
}

func TestConnectAllTotalFailure(t *testing.T) {
	net := relaytest.NewFakeNetwork()
	for _, u := range []string{relayA, relayB, relayC} {
		net.Relay(u).ConnectErr = errors.New("down")
	}
	p := newFakePool(t, net)

	err := p.ConnectAll(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoRelayAvailable)
	assert.Contains(t, err.Error(), relayB+": down")
	assert.False(t, p.IsConnected())
}

func TestConnectAllReusesChannel(t *testing.T) {
	net := relaytest.NewFakeNetwork()
	p := newFakePool(t, net)
	require.NoError(t, p.ConnectAll(context.Background(), nil))
	require.NoError(t, p.ConnectAll(context.Background(), nil))
	assert.Equal(t, 1, net.Relay(relayA).Connects())

	net.Relay(relayA).Drop()
	assert.Equal(t, StateDisconnected, p.States()[relayA])
	require.NoError(t, p.ConnectAll(context.Background(), nil))
	assert.Equal(t, 2, net.Relay(relayA).Connects())
	assert.Equal(t, StateConnected, p.States()[relayA])
}

func TestDisconnectAllIdempotent(t *testing.T) {
	net := relaytest.NewFakeNetwork()
	p := newFakePool(t, net)
	require.NoError(t, p.ConnectAll(context.Background(), nil))

	p.DisconnectAll()
	p.DisconnectAll()
	assert.False(t, p.IsConnected())
	assert.False(t, net.Relay(relayA).IsConnected())
	for uri, st := range p.States() {
		assert.Equal(t, StateDisconnected, st, uri)
	}

	// stale sinks must not resurrect the old entries
	require.NoError(t, net.Relay(relayA).Connect(context.Background()))
	assert.Equal(t, StateDisconnected, p.States()[relayA])
}

func TestConfigureTearsDownPrevious(t *testing.T) {
	net := relaytest.NewFakeNetwork()
	p := newFakePool(t, net)
	require.NoError(t, p.ConnectAll(context.Background(), nil))

	require.NoError(t, p.Configure(endpoints("wss://d.example")))
	assert.False(t, net.Relay(relayA).IsConnected())
	assert.False(t, p.IsConnected())
	assert.Len(t, p.States(), 1)
}

func TestFetchDeduplicatesAcrossRelays(t *testing.T) {
	s := relaytest.NewSigner(t)
	e1 := s.Event(t, event.KindTextNote, "one", 100)
	e2 := s.Event(t, event.KindTextNote, "two", 200)
	e3 := s.Event(t, event.KindTextNote, "three", 300)

	net := relaytest.NewFakeNetwork()
	net.Relay(relayA).Store(e1, e2)
	net.Relay(relayB).Store(e2, e3)
	net.Relay(relayC).Store(e1, e3)
	p := newFakePool(t, net)
	require.NoError(t, p.ConnectAll(context.Background(), nil))

	got, err := p.Fetch(context.Background(), notes(), time.Second)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	for _, ev := range []*event.Event{e1, e2, e3} {
		assert.Equal(t, ev.Content, got[ev.ID].Content)
	}
	assert.Equal(t, int64(0), p.Stats().FetchTimeouts)
}

func TestFetchUnionWhenSomeRelaysFail(t *testing.T) {
	s := relaytest.NewSigner(t)
	e1 := s.Event(t, event.KindTextNote, "one", 100)
	e2 := s.Event(t, event.KindTextNote, "two", 200)

	net := relaytest.NewFakeNetwork()
	net.Relay(relayA).Store(e1)
	net.Relay(relayB).ConnectErr = errors.New("unreachable")
	net.Relay(relayB).Store(e2)
	net.Relay(relayC).Store(e2)
	p := newFakePool(t, net)
	require.NoError(t, p.ConnectAll(context.Background(), nil))

	got, err := p.Fetch(context.Background(), notes(), time.Second)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestFetchTimeoutReturnsPartial(t *testing.T) {
	s := relaytest.NewSigner(t)
	e1 := s.Event(t, event.KindTextNote, "fast", 100)
	e2 := s.Event(t, event.KindTextNote, "stuck", 200)

	net := relaytest.NewFakeNetwork()
	net.Relay(relayA).Store(e1)
	net.Relay(relayB).Store(e2).Silent = true
	p := newFakePool(t, net)
	require.NoError(t, p.ConnectAll(context.Background(), nil))

	start := time.Now()
	got, err := p.Fetch(context.Background(), notes(), 200*time.Millisecond)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Len(t, got, 2)
	assert.Equal(t, int64(1), p.Stats().FetchTimeouts)
}

func TestFetchCancelledKeepsPartial(t *testing.T) {
	s := relaytest.NewSigner(t)
	e1 := s.Event(t, event.KindTextNote, "early", 100)

	net := relaytest.NewFakeNetwork()
	net.Relay(relayA).Store(e1).Silent = true
	p := newFakePool(t, net)
	require.NoError(t, p.ConnectAll(context.Background(), nil))

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	got, err := p.Fetch(ctx, notes(), 10*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, got, e1.ID)
}

func TestFetchNotConnected(t *testing.T) {
	p := newFakePool(t, relaytest.NewFakeNetwork())
	got, err := p.Fetch(context.Background(), notes(), time.Second)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, got)
}

func TestFetchDropsInvalidAndUnmatched(t *testing.T) {
	s := relaytest.NewSigner(t)
	good := s.Event(t, event.KindTextNote, "good", 100)
	forged := good.Clone()
	forged.Content = "forged"
	meta := s.Event(t, event.KindMetadata, "{}", 100)

	net := relaytest.NewFakeNetwork()
	net.Relay(relayA).Store(good, forged, meta)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	p := newFakePool(t, net, WithMetrics(m))
	require.NoError(t, p.ConnectAll(context.Background(), nil))

	got, err := p.Fetch(context.Background(), notes(), time.Second)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "good", got[good.ID].Content)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DroppedEvents.WithLabelValues("invalid")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ConnectedRelays))
}

func TestFetchCapsLimit(t *testing.T) {
	s := relaytest.NewSigner(t)
	net := relaytest.NewFakeNetwork()
	for i := 0; i < 8; i++ {
		net.Relay(relayA).Store(s.Event(t, event.KindTextNote, "n", event.Timestamp(100+i)))
	}
	p := newFakePool(t, net)
	require.NoError(t, p.ConnectAll(context.Background(), nil))

	f := filter.New().AddKinds(event.KindTextNote).AddAuthors(s.PublicKey()).SetLimit(5)
	list, err := p.FetchList(context.Background(), []filter.Filter{*f}, time.Second)
	require.NoError(t, err)
	require.Len(t, list, 5)
	assert.Equal(t, event.Timestamp(107), list[0].CreatedAt)
	assert.Equal(t, event.Timestamp(103), list[4].CreatedAt)
}

func TestStreamDeliversDistinctEventsUntilCancelled(t *testing.T) {
	s := relaytest.NewSigner(t)
	stored := s.Event(t, event.KindTextNote, "stored", 100)
	live := s.Event(t, event.KindTextNote, "live", 200)
	other := s.Event(t, event.KindMetadata, "{}", 200)

	net := relaytest.NewFakeNetwork()
	net.Relay(relayA).Store(stored)
	net.Relay(relayB).Store(stored)
	p := newFakePool(t, net)
	require.NoError(t, p.ConnectAll(context.Background(), nil))

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan *event.Event, 10)
	errc := make(chan error, 1)
	go func() {
		errc <- p.Stream(ctx, notes(), func(ev *event.Event) { got <- ev })
	}()

	require.Equal(t, "stored", receive(t, got).Content)

	require.Eventually(t, func() bool {
		return net.Relay(relayA).Subscriptions() == 1 && net.Relay(relayB).Subscriptions() == 1
	}, time.Second, 10*time.Millisecond)
	net.Relay(relayA).Emit(live, false)
	net.Relay(relayB).Emit(live, false)
	net.Relay(relayC).Emit(other, true)
	require.Equal(t, "live", receive(t, got).Content)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after cancel")
	}
	assert.Empty(t, got)
	assert.Equal(t, 0, net.Relay(relayA).Subscriptions())
	assert.Equal(t, int64(2), p.Stats().StreamEvents)
}

func receive(t *testing.T, ch <-chan *event.Event) *event.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return nil
	}
}

func TestStreamResubscribesAfterReconnect(t *testing.T) {
	s := relaytest.NewSigner(t)
	stored := s.Event(t, event.KindTextNote, "stored", 100)
	live := s.Event(t, event.KindTextNote, "after reconnect", 200)

	net := relaytest.NewFakeNetwork()
	net.Relay(relayA).Store(stored)
	p := New(WithChannelFactory(net.Factory))
	require.NoError(t, p.Configure(endpoints(relayA)))
	require.NoError(t, p.ConnectAll(context.Background(), nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan *event.Event, 10)
	errc := make(chan error, 1)
	go func() {
		errc <- p.Stream(ctx, notes(), func(ev *event.Event) { got <- ev })
	}()
	require.Equal(t, "stored", receive(t, got).Content)

	fc := net.Relay(relayA)
	require.Eventually(t, func() bool { return fc.Subscriptions() == 1 }, time.Second, 10*time.Millisecond)
	fc.Drop()
	assert.Equal(t, StateDisconnected, p.States()[relayA])
	select {
	case err := <-errc:
		t.Fatalf("stream ended after a single drop: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	p.CheckHealth(context.Background())
	require.Eventually(t, func() bool { return fc.Subscriptions() == 1 }, 2*time.Second, 10*time.Millisecond)
	fc.Emit(live, false)
	require.Equal(t, "after reconnect", receive(t, got).Content)

	// the stored event replayed by the new subscription was already seen
	assert.Empty(t, got)
	assert.Equal(t, int64(2), p.Stats().StreamEvents)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after cancel")
	}
}

func TestStreamRetriesSubscriptionEndedByRelay(t *testing.T) {
	s := relaytest.NewSigner(t)
	live := s.Event(t, event.KindTextNote, "live", 200)

	net := relaytest.NewFakeNetwork()
	p := New(WithChannelFactory(net.Factory), WithStreamRetry(50*time.Millisecond))
	require.NoError(t, p.Configure(endpoints(relayA)))
	require.NoError(t, p.ConnectAll(context.Background(), nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan *event.Event, 10)
	go func() { _ = p.Stream(ctx, notes(), func(ev *event.Event) { got <- ev }) }()

	fc := net.Relay(relayA)
	require.Eventually(t, func() bool { return fc.Subscriptions() == 1 }, time.Second, 10*time.Millisecond)
	fc.EndSubscriptions()
	require.Equal(t, 0, fc.Subscriptions())
	assert.True(t, p.IsConnected())

	require.Eventually(t, func() bool { return fc.Subscriptions() == 1 }, 2*time.Second, 10*time.Millisecond)
	fc.Emit(live, false)
	assert.Equal(t, "live", receive(t, got).Content)
	assert.Equal(t, 1, fc.Connects())
}

func TestStreamEndsWhenRelaySetReplaced(t *testing.T) {
	net := relaytest.NewFakeNetwork()
	p := New(WithChannelFactory(net.Factory))
	require.NoError(t, p.Configure(endpoints(relayA)))
	require.NoError(t, p.ConnectAll(context.Background(), nil))

	errc := make(chan error, 1)
	go func() { errc <- p.Stream(context.Background(), notes(), func(*event.Event) {}) }()
	require.Eventually(t, func() bool { return net.Relay(relayA).Subscriptions() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, p.Configure(endpoints(relayB)))
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrNotConnected)
	case <-time.After(2 * time.Second):
		t.Fatal("stream kept following a removed relay")
	}
}

func TestStreamNotConnected(t *testing.T) {
	p := newFakePool(t, relaytest.NewFakeNetwork())
	err := p.Stream(context.Background(), notes(), func(*event.Event) {})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestPublishReportsEveryOutcome(t *testing.T) {
	s := relaytest.NewSigner(t)
	ev := s.Event(t, event.KindTextNote, "hello", event.Now())

	net := relaytest.NewFakeNetwork()
	net.Relay(relayB).Reject = "blocked: spam"
	p := newFakePool(t, net)
	require.NoError(t, p.ConnectAll(context.Background(), nil))

	outcomes, err := p.Publish(context.Background(), ev)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	assert.Equal(t, 2, Accepted(outcomes))
	assert.Equal(t, relayB, outcomes[1].URI)
	assert.False(t, outcomes[1].Accepted)
	assert.Equal(t, "blocked: spam", outcomes[1].Message)
	assert.Len(t, net.Relay(relayA).Published(), 1)

	st := p.Stats()
	assert.Equal(t, int64(3), st.PublishAttempts)
	assert.Equal(t, int64(2), st.PublishSuccesses)
	assert.Equal(t, int64(1), st.PublishFailures)
}

func TestPublishNoneAccepted(t *testing.T) {
	s := relaytest.NewSigner(t)
	ev := s.Event(t, event.KindTextNote, "hello", event.Now())

	net := relaytest.NewFakeNetwork()
	net.Relay(relayA).Reject = "no"
	net.Relay(relayB).Hang = true
	net.Relay(relayC).ConnectErr = errors.New("down")
	p := newFakePool(t, net, WithPublishTimeout(100*time.Millisecond))
	require.NoError(t, p.ConnectAll(context.Background(), nil))

	start := time.Now()
	outcomes, err := p.Publish(context.Background(), ev)
	require.ErrorIs(t, err, ErrNotAccepted)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Len(t, outcomes, 2)
	assert.Contains(t, err.Error(), relayA+": no")
}

func TestPublishRejectsUnsignedEvent(t *testing.T) {
	p := newFakePool(t, relaytest.NewFakeNetwork())
	_, err := p.Publish(context.Background(), &event.Event{Kind: 1, Content: "x"})
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestNoticeHandler(t *testing.T) {
	net := relaytest.NewFakeNetwork()
	var got []string
	p := newFakePool(t, net, WithNoticeHandler(func(uri, msg string) {
		got = append(got, uri+" "+msg)
	}))
	require.NoError(t, p.ConnectAll(context.Background(), nil))

	e, ok := p.relays.Load(relayA)
	require.True(t, ok)
	(&sink{pool: p, entry: e}).Notice(relayA, "rate limited")
	assert.Equal(t, []string{relayA + " rate limited"}, got)
	assert.Equal(t, int64(1), p.Stats().Notices)
}

func TestCheckHealth(t *testing.T) {
	net := relaytest.NewFakeNetwork()
	net.Relay(relayA).ConnectErr = errors.New("down")
	net.Relay(relayB).ConnectErr = errors.New("down")
	p := newFakePool(t, net)
	_ = p.ConnectAll(context.Background(), nil)

	for i := 0; i < 3; i++ {
		p.CheckHealth(context.Background())
	}
	assert.Equal(t, HealthYellow, p.Health())
	st := p.Stats()
	assert.Equal(t, int64(1), st.LiveRelays)
	assert.Equal(t, int64(2), st.DeadRelays)

	net.Relay(relayA).ConnectErr = nil
	p.CheckHealth(context.Background())
	assert.Equal(t, HealthGreen, p.Health())
	assert.Equal(t, StateConnected, p.States()[relayA])

	b, err := json.Marshal(p.Stats())
	require.NoError(t, err)
	assert.Contains(t, string(b), `"`+relayA+`":"connected"`)
}

func TestHealthThresholds(t *testing.T) {
	assert.Equal(t, HealthGreen, healthState(2))
	assert.Equal(t, HealthYellow, healthState(3))
	assert.Equal(t, HealthYellow, healthState(9))
	assert.Equal(t, HealthRed, healthState(10))
}

func TestStateText(t *testing.T) {
	var s State
	require.NoError(t, s.UnmarshalText([]byte("connected")))
	assert.Equal(t, StateConnected, s)
	assert.Error(t, s.UnmarshalText([]byte("bogus")))

	var stats Stats
	require.NoError(t, json.Unmarshal([]byte(`{"relays":{"wss://a":"disconnected"}}`), &stats))
	assert.Equal(t, StateDisconnected, stats.Relays["wss://a"])
}
