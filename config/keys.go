// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
package config

import (
	"fmt"
	"strings"

	"github.com/girino/relay-client/event"
	nip19 "github.com/nbd-wtf/go-nostr/nip19"
)

// ParseSecretKey accepts a hex or nsec private key and returns it as hex.
func ParseSecretKey(s string) (string, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "nsec") {
		pfx, val, err := nip19.Decode(s)
		if err != nil || pfx != "nsec" {
			return "", fmt.Errorf("%w: bad nsec", event.ErrInvalidSecretKey)
		}
		hexKey, ok := val.(string)
		if !ok {
			return "", fmt.Errorf("%w: bad nsec", event.ErrInvalidSecretKey)
		}
		s = hexKey
	}
	sk, err := event.ParseSecretKey(strings.ToLower(s))
	if err != nil {
		return "", err
	}
	defer sk.Zero()
	return sk.Hex(), nil
}

// ParsePublicKey accepts a hex or npub public key and returns it as hex.
func ParsePublicKey(s string) (string, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "npub") {
		pfx, val, err := nip19.Decode(s)
		if err != nil || pfx != "npub" {
			return "", fmt.Errorf("invalid npub %q", s)
		}
		hexKey, ok := val.(string)
		if !ok {
			return "", fmt.Errorf("invalid npub %q", s)
		}
		s = hexKey
	}
	s = strings.ToLower(s)
	if !event.IsValidPublicKey(s) {
		return "", fmt.Errorf("invalid public key %q", s)
	}
	return s, nil
}

// PublicKeyOf derives the hex public key of a hex or nsec private key.
func PublicKeyOf(secret string) (string, error) {
	hexKey, err := ParseSecretKey(secret)
	if err != nil {
		return "", err
	}
	return event.GetPublicKey(hexKey)
}

// EncodeKeys renders a hex key pair in bech32 form.
func EncodeKeys(pub, priv string) (npub, nsec string, err error) {
	if npub, err = nip19.EncodePublicKey(pub); err != nil {
		return "", "", err
	}
	if priv != "" {
		if nsec, err = nip19.EncodePrivateKey(priv); err != nil {
			return "", "", err
		}
	}
	return npub, nsec, nil
}
