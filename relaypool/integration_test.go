// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
package relaypool

import (
	"context"
	"testing"
	"time"

	"github.com/girino/relay-client/event"
	"github.com/girino/relay-client/filter"
	"github.com/girino/relay-client/relaychannel"
	"github.com/girino/relay-client/relaytest"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolAgainstKhatruRelays(t *testing.T) {
	r1 := relaytest.NewRelay(t)
	r2 := relaytest.NewRelay(t)
	s := relaytest.NewSigner(t)

	old := s.Event(t, event.KindTextNote, "old", 100)
	shared := s.Event(t, event.KindTextNote, "shared", 200)
	r1.Seed(t, old, shared)
	r2.Seed(t, shared)

	p := New()
	require.NoError(t, p.Configure([]relaychannel.Endpoint{
		r1.Endpoint(),
		r2.Endpoint(),
		{URI: "ws://127.0.0.1:1"},
	}))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, p.ConnectAll(ctx, nil))
	defer p.DisconnectAll()
	assert.Equal(t, StateDisconnected, p.States()["ws://127.0.0.1:1"])

	f := filter.New().AddKinds(event.KindTextNote).AddAuthors(s.PublicKey())
	got, err := p.Fetch(ctx, []filter.Filter{*f}, 5*time.Second)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, int64(0), p.Stats().FetchTimeouts)

	fresh := s.Event(t, event.KindTextNote, "fresh", event.Now())
	outcomes, err := p.Publish(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, 2, Accepted(outcomes))

	stored := r2.Stored(t, nostr.Filter{IDs: []string{fresh.ID}})
	require.Len(t, stored, 1)
	assert.Equal(t, "fresh", stored[0].Content)
}

func TestPoolStreamsLiveEventsFromKhatru(t *testing.T) {
	r := relaytest.NewRelay(t)
	s := relaytest.NewSigner(t)

	p := New()
	require.NoError(t, p.Configure([]relaychannel.Endpoint{r.Endpoint()}))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, p.ConnectAll(ctx, nil))
	defer p.DisconnectAll()

	streamCtx, stop := context.WithCancel(ctx)
	got := make(chan *event.Event, 4)
	done := make(chan error, 1)
	go func() {
		f := filter.New().AddKinds(event.KindTextNote).SetSince(event.Now() - 5)
		done <- p.Stream(streamCtx, []filter.Filter{*f}, func(ev *event.Event) { got <- ev })
	}()

	// khatru only broadcasts to subscriptions it already knows about
	time.Sleep(200 * time.Millisecond)
	ev := s.Event(t, event.KindTextNote, "live", event.Now())
	_, err := p.Publish(ctx, ev)
	require.NoError(t, err)

	select {
	case in := <-got:
		assert.Equal(t, ev.ID, in.ID)
		assert.True(t, event.Verify(in))
	case <-time.After(5 * time.Second):
		t.Fatal("live event not streamed")
	}

	stop()
	require.NoError(t, <-done)
}

func TestPoolStreamSurvivesKhatruDrop(t *testing.T) {
	r := relaytest.NewRelay(t)
	s := relaytest.NewSigner(t)

	p := New()
	require.NoError(t, p.Configure([]relaychannel.Endpoint{r.Endpoint()}))
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	require.NoError(t, p.ConnectAll(ctx, nil))
	defer p.DisconnectAll()

	streamCtx, stop := context.WithCancel(ctx)
	got := make(chan *event.Event, 4)
	done := make(chan error, 1)
	go func() {
		f := filter.New().AddKinds(event.KindTextNote).SetSince(event.Now() - 5)
		done <- p.Stream(streamCtx, []filter.Filter{*f}, func(ev *event.Event) { got <- ev })
	}()
	time.Sleep(200 * time.Millisecond)

	r.Drop()
	require.Eventually(t, func() bool { return !p.IsConnected() }, 5*time.Second, 20*time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("stream ended after the relay dropped: %v", err)
	default:
	}

	p.CheckHealth(ctx)
	require.True(t, p.IsConnected())
	time.Sleep(200 * time.Millisecond)

	ev := s.Event(t, event.KindTextNote, "after drop", event.Now())
	_, err := p.Publish(ctx, ev)
	require.NoError(t, err)

	select {
	case in := <-got:
		assert.Equal(t, ev.ID, in.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("event from the reconnected relay not streamed")
	}

	stop()
	require.NoError(t, <-done)
}

func TestKhatruRejectionSurfacesAsOutcome(t *testing.T) {
	r := relaytest.NewRelay(t, relaytest.RejectAll("blocked: test"))
	s := relaytest.NewSigner(t)

	p := New()
	require.NoError(t, p.Configure([]relaychannel.Endpoint{r.Endpoint()}))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, p.ConnectAll(ctx, nil))
	defer p.DisconnectAll()

	outcomes, err := p.Publish(ctx, s.Event(t, event.KindTextNote, "nope", event.Now()))
	require.ErrorIs(t, err, ErrNotAccepted)
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Accepted)
	assert.Contains(t, outcomes[0].Message, "blocked: test")
}
