// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
//
// Filter - structured queries sent to relays and matched locally.
package filter

import (
	"slices"

	"github.com/girino/relay-client/event"
)

// Filter is a query where every populated field must match (AND) and any
// value within a field may match (OR). A zero Filter matches everything.
//
// The "e" and "p" tag filters have dedicated fields. Any other tag name is
// carried in Extensions so relays supporting custom tags are still reachable.
type Filter struct {
	IDs     []string
	Authors []string
	Kinds   []int
	// Events holds "#e" values (referenced event ids).
	Events []string
	// PubKeys holds "#p" values (referenced public keys).
	PubKeys []string
	// Extensions maps a tag name (without '#') to accepted values.
	Extensions map[string][]string
	Since      *event.Timestamp
	Until      *event.Timestamp
	// Limit caps the number of stored events returned; 0 means unset.
	Limit int
}

// New returns an empty filter ready for chaining.
func New() *Filter { return &Filter{} }

func (f *Filter) AddKinds(kinds ...int) *Filter {
	f.Kinds = appendUnique(f.Kinds, kinds...)
	return f
}

func (f *Filter) AddAuthors(pubkeys ...string) *Filter {
	f.Authors = appendUnique(f.Authors, pubkeys...)
	return f
}

func (f *Filter) AddIDs(ids ...string) *Filter {
	f.IDs = appendUnique(f.IDs, ids...)
	return f
}

// AddTag adds accepted values for the tag called name. A leading '#' is
// tolerated.
func (f *Filter) AddTag(name string, values ...string) *Filter {
	if len(name) > 1 && name[0] == '#' {
		name = name[1:]
	}
	switch name {
	case "e":
		f.Events = appendUnique(f.Events, values...)
	case "p":
		f.PubKeys = appendUnique(f.PubKeys, values...)
	default:
		if f.Extensions == nil {
			f.Extensions = make(map[string][]string)
		}
		f.Extensions[name] = appendUnique(f.Extensions[name], values...)
	}
	return f
}

func (f *Filter) SetSince(t event.Timestamp) *Filter {
	f.Since = &t
	return f
}

func (f *Filter) SetUntil(t event.Timestamp) *Filter {
	f.Until = &t
	return f
}

// SetTimeRange sets both bounds, inclusive.
func (f *Filter) SetTimeRange(since, until event.Timestamp) *Filter {
	return f.SetSince(since).SetUntil(until)
}

func (f *Filter) SetLimit(n int) *Filter {
	if n < 0 {
		n = 0
	}
	f.Limit = n
	return f
}

// TagValues returns the accepted values for tag name, nil when unconstrained.
func (f *Filter) TagValues(name string) []string {
	switch name {
	case "e":
		return f.Events
	case "p":
		return f.PubKeys
	default:
		return f.Extensions[name]
	}
}

// TagFilters returns every tag constraint keyed by tag name, reserved ones
// included.
func (f *Filter) TagFilters() map[string][]string {
	out := make(map[string][]string, len(f.Extensions)+2)
	for k, v := range f.Extensions {
		if len(v) > 0 {
			out[k] = v
		}
	}
	if len(f.Events) > 0 {
		out["e"] = f.Events
	}
	if len(f.PubKeys) > 0 {
		out["p"] = f.PubKeys
	}
	return out
}

// IsEmpty reports whether no field is populated.
func (f *Filter) IsEmpty() bool {
	return len(f.IDs) == 0 && len(f.Authors) == 0 && len(f.Kinds) == 0 &&
		len(f.TagFilters()) == 0 && f.Since == nil && f.Until == nil && f.Limit == 0
}

// Matches checks ev against every populated field. Limit is not an event
// property and is ignored here; see Cap.
func (f *Filter) Matches(ev *event.Event) bool {
	if ev == nil {
		return false
	}
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, ev.ID) {
		return false
	}
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, ev.Kind) {
		return false
	}
	if len(f.Authors) > 0 && !slices.Contains(f.Authors, ev.PubKey) {
		return false
	}
	for name, values := range f.TagFilters() {
		if !ev.Tags.ContainsAny(name, values) {
			return false
		}
	}
	if f.Since != nil && ev.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && ev.CreatedAt > *f.Until {
		return false
	}
	return true
}

// MatchesAny reports whether ev matches at least one filter. An empty filter
// list matches nothing.
func MatchesAny(filters []Filter, ev *event.Event) bool {
	for i := range filters {
		if filters[i].Matches(ev) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (f *Filter) Clone() *Filter {
	c := &Filter{
		IDs:     slices.Clone(f.IDs),
		Authors: slices.Clone(f.Authors),
		Kinds:   slices.Clone(f.Kinds),
		Events:  slices.Clone(f.Events),
		PubKeys: slices.Clone(f.PubKeys),
		Limit:   f.Limit,
	}
	if f.Extensions != nil {
		c.Extensions = make(map[string][]string, len(f.Extensions))
		for k, v := range f.Extensions {
			c.Extensions[k] = slices.Clone(v)
		}
	}
	if f.Since != nil {
		s := *f.Since
		c.Since = &s
	}
	if f.Until != nil {
		u := *f.Until
		c.Until = &u
	}
	return c
}

func appendUnique[T comparable](dst []T, values ...T) []T {
	for _, v := range values {
		if !slices.Contains(dst, v) {
			dst = append(dst, v)
		}
	}
	return dst
}
