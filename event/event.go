// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
//
// Event - signed, content-addressed records exchanged with relays.
package event

import (
	"encoding/json"
	"sort"
	"time"
)

// Timestamp is a unix time in seconds, as carried on the wire.
type Timestamp int64

// Now returns the current time as a Timestamp.
func Now() Timestamp { return Timestamp(time.Now().Unix()) }

// FromTime converts t to a Timestamp, dropping sub-second precision.
func FromTime(t time.Time) Timestamp { return Timestamp(t.Unix()) }

// Time returns the Timestamp as a time.Time in UTC.
func (t Timestamp) Time() time.Time { return time.Unix(int64(t), 0).UTC() }

// Event is the primary record of the protocol. Once ID and Sig are set the
// event must be treated as immutable: any change invalidates both.
type Event struct {
	// ID is the lowercase hex SHA-256 of the canonical form.
	ID string `json:"id"`
	// PubKey is the author's x-only public key in lowercase hex.
	PubKey    string    `json:"pubkey"`
	CreatedAt Timestamp `json:"created_at"`
	Kind      int       `json:"kind"`
	Tags      Tags      `json:"tags"`
	Content   string    `json:"content"`
	// Sig is the BIP-340 signature over the raw ID bytes, lowercase hex.
	Sig string `json:"sig"`
}

// String returns the JSON object form of the event.
func (ev *Event) String() string {
	b, _ := json.Marshal(ev)
	return string(b)
}

// Clone returns a deep copy of ev.
func (ev *Event) Clone() *Event {
	c := *ev
	c.Tags = ev.Tags.Clone()
	return &c
}

// Newer reports whether ev should be preferred over other when picking the
// most recent event: greater created_at wins, ties go to the smaller id so the
// choice is deterministic regardless of arrival order.
func (ev *Event) Newer(other *Event) bool {
	if other == nil {
		return true
	}
	if ev.CreatedAt != other.CreatedAt {
		return ev.CreatedAt > other.CreatedAt
	}
	return ev.ID < other.ID
}

// Descending sorts events newest first with the same tie-break as Newer.
type Descending []*Event

func (d Descending) Len() int           { return len(d) }
func (d Descending) Less(i, j int) bool { return d[i].Newer(d[j]) }
func (d Descending) Swap(i, j int)      { d[i], d[j] = d[j], d[i] }

// SortNewestFirst sorts events in place, newest first.
func SortNewestFirst(events []*Event) {
	sort.Sort(Descending(events))
}

// Latest returns the newest event in events, or nil when empty.
func Latest(events []*Event) (latest *Event) {
	for _, ev := range events {
		if ev.Newer(latest) {
			latest = ev
		}
	}
	return latest
}
