// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
package filter

import "github.com/girino/relay-client/event"

// Cap enforces filter limits on the caller side, for relays that ignore
// them. For each filter with a limit only its newest matching events are
// kept; an event survives if any filter keeps it. The result is newest first.
func Cap(filters []Filter, events []*event.Event) []*event.Event {
	sorted := make([]*event.Event, len(events))
	copy(sorted, events)
	event.SortNewestFirst(sorted)

	keep := make(map[*event.Event]bool, len(sorted))
	for i := range filters {
		f := &filters[i]
		n := 0
		for _, ev := range sorted {
			if !f.Matches(ev) {
				continue
			}
			if f.Limit > 0 && n >= f.Limit {
				break
			}
			keep[ev] = true
			n++
		}
	}

	out := sorted[:0]
	for _, ev := range sorted {
		if keep[ev] {
			out = append(out, ev)
		}
	}
	return out
}
