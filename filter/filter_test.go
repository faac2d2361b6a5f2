// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
package filter

import (
	"encoding/json"
	"testing"

	"github.com/girino/relay-client/event"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func note(id string, author string, kind int, at event.Timestamp, tags ...event.Tag) *event.Event {
	return &event.Event{ID: id, PubKey: author, Kind: kind, CreatedAt: at, Tags: tags}
}

func TestMatchesEmptyFilter(t *testing.T) {
	f := New()
	assert.True(t, f.IsEmpty())
	assert.True(t, f.Matches(note("a", "x", 1, 10)))
	assert.False(t, f.Matches(nil))
}

func TestMatchesAndAcrossOrWithin(t *testing.T) {
	f := New().AddKinds(1, 7).AddAuthors("alice", "bob")

	assert.True(t, f.Matches(note("1", "alice", 1, 10)))
	assert.True(t, f.Matches(note("2", "bob", 7, 10)))
	assert.False(t, f.Matches(note("3", "carol", 1, 10)))
	assert.False(t, f.Matches(note("4", "alice", 3, 10)))
}

func TestMatchesTimeRangeInclusive(t *testing.T) {
	f := New().SetTimeRange(100, 200)

	assert.True(t, f.Matches(note("a", "x", 1, 100)))
	assert.True(t, f.Matches(note("b", "x", 1, 200)))
	assert.False(t, f.Matches(note("c", "x", 1, 99)))
	assert.False(t, f.Matches(note("d", "x", 1, 201)))
}

func TestMatchesTags(t *testing.T) {
	f := New().AddTag("#p", "bob").AddTag("t", "nostr")

	assert.Equal(t, []string{"bob"}, f.PubKeys)
	assert.Equal(t, []string{"nostr"}, f.TagValues("t"))

	ok := note("a", "x", 1, 1, event.NewTag("p", "bob"), event.NewTag("t", "nostr"))
	missingT := note("b", "x", 1, 1, event.NewTag("p", "bob"))
	wrongP := note("c", "x", 1, 1, event.NewTag("p", "eve"), event.NewTag("t", "nostr"))

	assert.True(t, f.Matches(ok))
	assert.False(t, f.Matches(missingT))
	assert.False(t, f.Matches(wrongP))
}

func TestBuilderDeduplicates(t *testing.T) {
	f := New().AddKinds(1, 1, 3).AddAuthors("a").AddAuthors("a", "b").AddIDs("x", "x")
	assert.Equal(t, []int{1, 3}, f.Kinds)
	assert.Equal(t, []string{"a", "b"}, f.Authors)
	assert.Equal(t, []string{"x"}, f.IDs)
	assert.Equal(t, 0, New().SetLimit(-5).Limit)
}

func TestMarshalOmitsAbsentFields(t *testing.T) {
	b, err := json.Marshal(New())
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(b))

	f := &Filter{Kinds: []int{}, Authors: nil, Limit: 0}
	b, err = json.Marshal(f)
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(b))
}

func TestMarshalFieldOrder(t *testing.T) {
	f := New().
		AddIDs("id1").
		AddAuthors("pk1").
		AddKinds(1).
		AddTag("e", "ev1").
		AddTag("p", "pk2").
		AddTag("t", "go").
		AddTag("d", "slug").
		SetTimeRange(10, 20).
		SetLimit(5)

	b, err := json.Marshal(f)
	require.NoError(t, err)
	assert.Equal(t,
		`{"ids":["id1"],"authors":["pk1"],"kinds":[1],"#e":["ev1"],"#p":["pk2"],"#d":["slug"],"#t":["go"],"since":10,"until":20,"limit":5}`,
		string(b))
}

func TestUnmarshalRoundTrip(t *testing.T) {
	in := `{"kinds":[0,3],"authors":["abc"],"#p":["def"],"#r":["wss://x"],"since":5,"limit":2}`
	var f Filter
	require.NoError(t, json.Unmarshal([]byte(in), &f))

	assert.Equal(t, []int{0, 3}, f.Kinds)
	assert.Equal(t, []string{"abc"}, f.Authors)
	assert.Equal(t, []string{"def"}, f.PubKeys)
	assert.Equal(t, []string{"wss://x"}, f.Extensions["r"])
	require.NotNil(t, f.Since)
	assert.Equal(t, event.Timestamp(5), *f.Since)
	assert.Nil(t, f.Until)
	assert.Equal(t, 2, f.Limit)

	var bad Filter
	assert.Error(t, json.Unmarshal([]byte(`{"kinds":"nope"}`), &bad))
}

func TestWireFormatAcceptedByGoNostr(t *testing.T) {
	f := New().AddKinds(1).AddAuthors("pk").AddTag("p", "x").SetSince(42).SetLimit(3)
	b, err := json.Marshal(f)
	require.NoError(t, err)

	var nf nostr.Filter
	require.NoError(t, json.Unmarshal(b, &nf))
	assert.Equal(t, []int{1}, nf.Kinds)
	assert.Equal(t, []string{"pk"}, nf.Authors)
	assert.Equal(t, []string{"x"}, nf.Tags["p"])
	require.NotNil(t, nf.Since)
	assert.Equal(t, nostr.Timestamp(42), *nf.Since)
	assert.Equal(t, 3, nf.Limit)
}

func TestCloneIsDeep(t *testing.T) {
	f := New().AddKinds(1).AddTag("t", "a").SetSince(1)
	c := f.Clone()
	c.Kinds[0] = 2
	c.Extensions["t"][0] = "b"
	*c.Since = 9

	assert.Equal(t, 1, f.Kinds[0])
	assert.Equal(t, "a", f.Extensions["t"][0])
	assert.Equal(t, event.Timestamp(1), *f.Since)
}

func TestMatchesAny(t *testing.T) {
	filters := []Filter{*New().AddKinds(0), *New().AddKinds(3)}
	assert.True(t, MatchesAny(filters, note("a", "x", 3, 1)))
	assert.False(t, MatchesAny(filters, note("b", "x", 1, 1)))
	assert.False(t, MatchesAny(nil, note("c", "x", 1, 1)))
}

func TestCapKeepsNewestPerFilter(t *testing.T) {
	events := []*event.Event{
		note("a", "x", 1, 10),
		note("b", "x", 1, 30),
		note("c", "x", 1, 20),
		note("d", "x", 0, 5),
	}
	filters := []Filter{*New().AddKinds(1).SetLimit(2), *New().AddKinds(0)}

	out := Cap(filters, events)
	require.Len(t, out, 3)
	assert.Equal(t, "b", out[0].ID)
	assert.Equal(t, "c", out[1].ID)
	assert.Equal(t, "d", out[2].ID)

	// the input slice order is left alone
	assert.Equal(t, "a", events[0].ID)
}

func TestCapTieBreaksOnID(t *testing.T) {
	events := []*event.Event{note("bb", "x", 1, 10), note("aa", "x", 1, 10)}
	out := Cap([]Filter{*New().SetLimit(1)}, events)
	require.Len(t, out, 1)
	assert.Equal(t, "aa", out[0].ID)
}
