// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
package filter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/girino/relay-client/event"
)

// MarshalJSON writes the wire form. Tag filters are promoted to top level
// "#<name>" keys and absent fields are left out entirely, never null. Keys
// come out in a fixed order so equal filters encode identically.
func (f Filter) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	field := func(key string, value any) error {
		b, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("filter field %s: %w", key, err)
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		buf.WriteString(strconv.Quote(key))
		buf.WriteByte(':')
		buf.Write(b)
		return nil
	}

	type kv struct {
		key   string
		value any
	}
	fields := make([]kv, 0, 8)
	if len(f.IDs) > 0 {
		fields = append(fields, kv{"ids", f.IDs})
	}
	if len(f.Authors) > 0 {
		fields = append(fields, kv{"authors", f.Authors})
	}
	if len(f.Kinds) > 0 {
		fields = append(fields, kv{"kinds", f.Kinds})
	}
	if len(f.Events) > 0 {
		fields = append(fields, kv{"#e", f.Events})
	}
	if len(f.PubKeys) > 0 {
		fields = append(fields, kv{"#p", f.PubKeys})
	}
	ext := make([]string, 0, len(f.Extensions))
	for name, values := range f.Extensions {
		if len(values) > 0 && name != "e" && name != "p" {
			ext = append(ext, name)
		}
	}
	sort.Strings(ext)
	for _, name := range ext {
		fields = append(fields, kv{"#" + name, f.Extensions[name]})
	}
	if f.Since != nil {
		fields = append(fields, kv{"since", int64(*f.Since)})
	}
	if f.Until != nil {
		fields = append(fields, kv{"until", int64(*f.Until)})
	}
	if f.Limit > 0 {
		fields = append(fields, kv{"limit", f.Limit})
	}
	for _, fv := range fields {
		if err := field(fv.key, fv.value); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the wire form, collecting every "#<name>" key into the
// matching tag filter.
func (f *Filter) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("decode filter: %w", err)
	}
	*f = Filter{}
	for key, value := range raw {
		var err error
		switch {
		case key == "ids":
			err = json.Unmarshal(value, &f.IDs)
		case key == "authors":
			err = json.Unmarshal(value, &f.Authors)
		case key == "kinds":
			err = json.Unmarshal(value, &f.Kinds)
		case key == "since":
			var ts event.Timestamp
			if err = json.Unmarshal(value, &ts); err == nil {
				f.Since = &ts
			}
		case key == "until":
			var ts event.Timestamp
			if err = json.Unmarshal(value, &ts); err == nil {
				f.Until = &ts
			}
		case key == "limit":
			err = json.Unmarshal(value, &f.Limit)
		case strings.HasPrefix(key, "#") && len(key) > 1:
			var values []string
			if err = json.Unmarshal(value, &values); err == nil {
				f.AddTag(key[1:], values...)
			}
		}
		if err != nil {
			return fmt.Errorf("decode filter field %q: %w", key, err)
		}
	}
	return nil
}

func (f Filter) String() string {
	b, _ := f.MarshalJSON()
	return string(b)
}
