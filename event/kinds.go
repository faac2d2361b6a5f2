// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
package event

// Event kinds used by the client.
const (
	KindMetadata       = 0
	KindTextNote       = 1
	KindRecommendRelay = 2
	KindContactList    = 3
	KindDeletion       = 5
	KindReaction       = 7
	KindRelayList      = 10002
)

// KindName returns a short label for the well-known kinds, used in logs.
func KindName(kind int) string {
	switch kind {
	case KindMetadata:
		return "metadata"
	case KindTextNote:
		return "note"
	case KindRecommendRelay:
		return "recommend-relay"
	case KindContactList:
		return "contact-list"
	case KindDeletion:
		return "deletion"
	case KindReaction:
		return "reaction"
	case KindRelayList:
		return "relay-list"
	default:
		return "unknown"
	}
}
