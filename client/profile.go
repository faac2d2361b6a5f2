// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
package client

import (
	"context"
	"errors"
	"sort"

	"github.com/girino/relay-client/event"
	"github.com/girino/relay-client/filter"
	"github.com/girino/relay-client/logging"
	"github.com/tidwall/gjson"
)

// RelayPref is a relay someone reads from and/or writes to.
type RelayPref struct {
	URL   string `json:"url"`
	Read  bool   `json:"read"`
	Write bool   `json:"write"`
}

// Follow is one entry of a contact list.
type Follow struct {
	PubKey  string `json:"pubkey"`
	Relay   string `json:"relay,omitempty"`
	Petname string `json:"petname,omitempty"`
}

// FollowGraph is the content of someone's latest contact list.
type FollowGraph struct {
	Event   *event.Event `json:"-"`
	Follows []Follow     `json:"follows"`
	Relays  []RelayPref  `json:"relays,omitempty"`
}

// PubKeys lists the followed keys in contact list order.
func (g *FollowGraph) PubKeys() []string {
	out := make([]string, len(g.Follows))
	for i, f := range g.Follows {
		out[i] = f.PubKey
	}
	return out
}

// Profile is someone's metadata document merged with their relay and follow
// preferences. Fields the document does not carry are left empty.
type Profile struct {
	PubKey      string          `json:"pubkey"`
	Name        string          `json:"name,omitempty"`
	DisplayName string          `json:"display_name,omitempty"`
	About       string          `json:"about,omitempty"`
	Picture     string          `json:"picture,omitempty"`
	Website     string          `json:"website,omitempty"`
	Nip05       string          `json:"nip05,omitempty"`
	Banner      string          `json:"banner,omitempty"`
	Lud16       string          `json:"lud16,omitempty"`
	Relays      []RelayPref     `json:"relays,omitempty"`
	Following   []string        `json:"following,omitempty"`
	UpdatedAt   event.Timestamp `json:"updated_at,omitempty"`
}

// ParseProfile reads a metadata document. Malformed JSON yields an empty
// profile and values of the wrong type are skipped.
func ParseProfile(content string) Profile {
	var p Profile
	if !gjson.Valid(content) {
		return p
	}
	doc := gjson.Parse(content)
	if !doc.IsObject() {
		return p
	}
	str := func(keys ...string) string {
		for _, k := range keys {
			if v := doc.Get(k); v.Type == gjson.String && v.Str != "" {
				return v.Str
			}
		}
		return ""
	}
	p.Name = str("name", "username")
	p.DisplayName = str("display_name", "displayName")
	p.About = str("about")
	p.Picture = str("picture")
	p.Website = str("website")
	p.Nip05 = str("nip05")
	p.Banner = str("banner")
	p.Lud16 = str("lud16")
	return p
}

// ParseRelayMap reads the relay map some clients store as contact list
// content: {"wss://relay": {"read": true, "write": false}}. The result is
// sorted by URL.
func ParseRelayMap(content string) []RelayPref {
	if !gjson.Valid(content) {
		return nil
	}
	doc := gjson.Parse(content)
	if !doc.IsObject() {
		return nil
	}
	var out []RelayPref
	doc.ForEach(func(key, value gjson.Result) bool {
		if key.Str == "" || !value.IsObject() {
			return true
		}
		out = append(out, RelayPref{
			URL:   key.Str,
			Read:  value.Get("read").Bool(),
			Write: value.Get("write").Bool(),
		})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// ParseRelayList reads a relay list event's "r" tags. A tag without a
// marker means both read and write.
func ParseRelayList(ev *event.Event) []RelayPref {
	var out []RelayPref
	for _, t := range ev.Tags.GetAll("r") {
		url := t.Value()
		if url == "" {
			continue
		}
		pref := RelayPref{URL: url, Read: true, Write: true}
		if len(t) > 2 {
			switch t[2] {
			case "read":
				pref.Write = false
			case "write":
				pref.Read = false
			}
		}
		out = append(out, pref)
	}
	return out
}

// ParseFollowGraph reads a contact list event.
func ParseFollowGraph(ev *event.Event) *FollowGraph {
	g := &FollowGraph{Event: ev, Relays: ParseRelayMap(ev.Content)}
	seen := make(map[string]bool)
	for _, t := range ev.Tags.GetAll("p") {
		pk := t.Value()
		if !event.IsValidPublicKey(pk) || seen[pk] {
			continue
		}
		seen[pk] = true
		f := Follow{PubKey: pk, Relay: t.Relay()}
		if len(t) > 3 {
			f.Petname = t[3]
		}
		g.Follows = append(g.Follows, f)
	}
	return g
}

// mergeRelays overlays prefs on base, matching by URL.
func mergeRelays(base, prefs []RelayPref) []RelayPref {
	idx := make(map[string]int, len(base))
	out := append([]RelayPref(nil), base...)
	for i, r := range out {
		idx[r.URL] = i
	}
	for _, r := range prefs {
		if i, ok := idx[r.URL]; ok {
			out[i] = r
			continue
		}
		idx[r.URL] = len(out)
		out = append(out, r)
	}
	return out
}

// latest fetches the newest event of kind by author.
func (c *Client) latest(ctx context.Context, kind int, author string) (*event.Event, error) {
	f := filter.New().AddKinds(kind).AddAuthors(author).SetLimit(1)
	m, err := c.pool.Fetch(ctx, []filter.Filter{*f}, c.fetchTimeout)
	if err != nil && len(m) == 0 {
		return nil, err
	}
	var latest *event.Event
	for _, ev := range m {
		if ev.Newer(latest) {
			latest = ev
		}
	}
	return latest, nil
}

// FetchFollowGraph returns the newest contact list of pubkey, or of the
// client itself when pubkey is empty. On equal timestamps the smallest id
// wins.
func (c *Client) FetchFollowGraph(ctx context.Context, pubkey string) (*FollowGraph, error) {
	pk, err := c.resolve(pubkey)
	if err != nil {
		return nil, err
	}
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}
	ev, err := c.latest(ctx, event.KindContactList, pk)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, ErrNotFound
	}
	return ParseFollowGraph(ev), nil
}

// FetchRelayList returns the relays pubkey advertises in its relay list.
func (c *Client) FetchRelayList(ctx context.Context, pubkey string) ([]RelayPref, error) {
	pk, err := c.resolve(pubkey)
	if err != nil {
		return nil, err
	}
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}
	ev, err := c.latest(ctx, event.KindRelayList, pk)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, ErrNotFound
	}
	return ParseRelayList(ev), nil
}

// FetchProfile returns the newest metadata of pubkey merged with its follow
// graph and relay list. Missing pieces are left empty rather than failing.
func (c *Client) FetchProfile(ctx context.Context, pubkey string) (*Profile, error) {
	pk, err := c.resolve(pubkey)
	if err != nil {
		return nil, err
	}
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	meta, err := c.latest(ctx, event.KindMetadata, pk)
	if err != nil {
		return nil, err
	}
	var profile Profile
	if meta != nil {
		profile = ParseProfile(meta.Content)
		profile.UpdatedAt = meta.CreatedAt
	}
	profile.PubKey = pk

	graph, err := c.FetchFollowGraph(ctx, pk)
	switch {
	case err == nil:
		profile.Relays = graph.Relays
		profile.Following = graph.PubKeys()
	case errors.Is(err, ErrNotFound):
	default:
		logging.Warn("profile %s: follow graph unavailable: %v", pk, err)
	}

	relays, err := c.FetchRelayList(ctx, pk)
	switch {
	case err == nil:
		profile.Relays = mergeRelays(profile.Relays, relays)
	case errors.Is(err, ErrNotFound):
	default:
		logging.Warn("profile %s: relay list unavailable: %v", pk, err)
	}
	return &profile, nil
}

// FetchFollowers returns the distinct authors of contact lists that list
// pubkey, sorted.
func (c *Client) FetchFollowers(ctx context.Context, pubkey string) ([]string, error) {
	pk, err := c.resolve(pubkey)
	if err != nil {
		return nil, err
	}
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	f := filter.New().AddKinds(event.KindContactList).AddTag("p", pk)
	m, err := c.pool.Fetch(ctx, []filter.Filter{*f}, c.fetchTimeout)
	seen := make(map[string]bool, len(m))
	followers := make([]string, 0, len(m))
	for _, ev := range m {
		if !seen[ev.PubKey] {
			seen[ev.PubKey] = true
			followers = append(followers, ev.PubKey)
		}
	}
	sort.Strings(followers)
	return followers, err
}

// FetchEvent returns the event with the given id.
func (c *Client) FetchEvent(ctx context.Context, id string) (*event.Event, error) {
	if !event.IsValidID(id) {
		return nil, errors.New("invalid event id")
	}
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}
	f := filter.New().AddIDs(id)
	m, err := c.pool.Fetch(ctx, []filter.Filter{*f}, c.fetchTimeout)
	if ev, ok := m[id]; ok {
		return ev, nil
	}
	if err != nil {
		return nil, err
	}
	return nil, ErrNotFound
}
