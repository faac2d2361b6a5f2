// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
package event

// Tag is an identifier followed by its ordered data, encoded on the wire as a
// flat array: ["e", "<id>", "<relay>", "<marker>"].
type Tag []string

// NewTag builds a tag from an identifier and its data.
func NewTag(identifier string, data ...string) Tag {
	t := make(Tag, 0, len(data)+1)
	t = append(t, identifier)
	return append(t, data...)
}

// Identifier is the tag name, "" for an empty tag.
func (t Tag) Identifier() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// Data returns everything after the identifier.
func (t Tag) Data() []string {
	if len(t) < 2 {
		return nil
	}
	return t[1:]
}

// Value is the first data element, "" when absent.
func (t Tag) Value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// Relay is the second data element (the relay hint on "e" and "p" tags).
func (t Tag) Relay() string {
	if len(t) < 3 {
		return ""
	}
	return t[2]
}

// Marker is the third data element (NIP-10 "root"/"reply" on "e" tags).
func (t Tag) Marker() string {
	if len(t) < 4 {
		return ""
	}
	return t[3]
}

// Clone returns a copy that does not share the backing array.
func (t Tag) Clone() Tag {
	if t == nil {
		return nil
	}
	c := make(Tag, len(t))
	copy(c, t)
	return c
}

// Tags is the ordered tag list of an event. Order is part of the canonical
// form and therefore of the event id.
type Tags []Tag

// GetAll returns the tags whose identifier is name, in order.
func (tags Tags) GetAll(name string) (out Tags) {
	for _, t := range tags {
		if t.Identifier() == name && len(t) > 1 {
			out = append(out, t)
		}
	}
	return
}

// Values returns the first data element of every tag named name.
func (tags Tags) Values(name string) (out []string) {
	for _, t := range tags.GetAll(name) {
		out = append(out, t.Value())
	}
	return
}

// ContainsAny reports whether a tag named name has a value in values.
func (tags Tags) ContainsAny(name string, values []string) bool {
	for _, t := range tags {
		if t.Identifier() != name || len(t) < 2 {
			continue
		}
		for _, v := range values {
			if t[1] == v {
				return true
			}
		}
	}
	return false
}

func (tags Tags) Clone() Tags {
	if tags == nil {
		return nil
	}
	c := make(Tags, len(tags))
	for i, t := range tags {
		c[i] = t.Clone()
	}
	return c
}
