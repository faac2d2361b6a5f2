// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
package relaytest

import (
	"testing"

	"github.com/girino/relay-client/event"
)

// Signer produces valid signed events for one generated key.
type Signer struct {
	Key *event.SecretKey
}

func NewSigner(t testing.TB) *Signer {
	t.Helper()
	return &Signer{Key: event.GeneratePrivateKey()}
}

func (s *Signer) PublicKey() string { return s.Key.PublicKey() }

// Event signs a new event. Tags may be nil.
func (s *Signer) Event(t testing.TB, kind int, content string, at event.Timestamp, tags ...event.Tag) *event.Event {
	t.Helper()
	ev := &event.Event{
		CreatedAt: at,
		Kind:      kind,
		Tags:      event.Tags(tags),
		Content:   content,
	}
	if err := event.Finalize(ev, s.Key); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	return ev
}
