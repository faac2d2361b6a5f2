// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
//
// RelayChannel - the connection to a single relay as seen by the pool.
package relaychannel

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrInvalidEndpoint = errors.New("invalid relay endpoint")

// Endpoint is a relay address plus an optional display name.
type Endpoint struct {
	URI  string `json:"uri" mapstructure:"uri"`
	Name string `json:"name,omitempty" mapstructure:"name"`
}

// ParseEndpoint accepts either a full ws/wss URI or a bare host, which is
// assumed to be served over wss.
func ParseEndpoint(s string) (Endpoint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Endpoint{}, fmt.Errorf("%w: empty", ErrInvalidEndpoint)
	}
	if !strings.Contains(s, "://") {
		s = "wss://" + s
	}
	ep := Endpoint{URI: NormalizeURI(s)}
	if err := ep.Validate(); err != nil {
		return Endpoint{}, err
	}
	return ep, nil
}

// ParseEndpoints parses a list of relay addresses, skipping blanks.
func ParseEndpoints(list []string) ([]Endpoint, error) {
	out := make([]Endpoint, 0, len(list))
	for _, s := range list {
		if strings.TrimSpace(s) == "" {
			continue
		}
		ep, err := ParseEndpoint(s)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, nil
}

// NormalizeURI lowercases scheme and host and drops a trailing slash so the
// same relay written two ways maps to one key.
func NormalizeURI(s string) string {
	s = strings.TrimSpace(s)
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return s
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Path == "/" {
		u.Path = ""
	}
	return u.String()
}

// Validate checks the URI uses the ws or wss scheme and names a host.
func (e Endpoint) Validate() error {
	u, err := url.Parse(e.URI)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidEndpoint, e.URI, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: %s: scheme must be ws or wss", ErrInvalidEndpoint, e.URI)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: %s: missing host", ErrInvalidEndpoint, e.URI)
	}
	return nil
}

func (e Endpoint) String() string {
	if e.Name != "" {
		return e.Name + " (" + e.URI + ")"
	}
	return e.URI
}
