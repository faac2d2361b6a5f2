// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
package event

import (
	"encoding/hex"
	"errors"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"lukechampine.com/frand"
)

// ErrInvalidSecretKey is returned for key material that is not a valid
// 32-byte secp256k1 scalar in hex.
var ErrInvalidSecretKey = errors.New("invalid secret key")

// SecretKey holds private key material in memory. It is never serialized by
// this package unless Hex is called explicitly.
type SecretKey struct {
	key *btcec.PrivateKey
}

// ParseSecretKey decodes a 64 character hex private key.
func ParseSecretKey(s string) (*SecretKey, error) {
	if len(s) != 64 {
		return nil, ErrInvalidSecretKey
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidSecretKey
	}
	var scalar btcec.ModNScalar
	if overflow := scalar.SetByteSlice(b); overflow || scalar.IsZero() {
		return nil, ErrInvalidSecretKey
	}
	sk, _ := btcec.PrivKeyFromBytes(b)
	return &SecretKey{key: sk}, nil
}

// PublicKey returns the x-only public key as lowercase hex.
func (sk *SecretKey) PublicKey() string {
	return hex.EncodeToString(schnorr.SerializePubKey(sk.key.PubKey()))
}

// Hex exports the private key. Callers own what happens to the result.
func (sk *SecretKey) Hex() string {
	return hex.EncodeToString(sk.key.Serialize())
}

// Zero wipes the key material. The SecretKey is unusable afterwards.
func (sk *SecretKey) Zero() {
	if sk == nil || sk.key == nil {
		return
	}
	sk.key.Zero()
	sk.key = nil
}

// GeneratePrivateKey draws a uniformly random scalar in [1, n-1], retrying
// on zero or overflow.
func GeneratePrivateKey() *SecretKey {
	b := make([]byte, 32)
	for {
		frand.Read(b)
		var scalar btcec.ModNScalar
		if overflow := scalar.SetByteSlice(b); overflow || scalar.IsZero() {
			continue
		}
		sk, _ := btcec.PrivKeyFromBytes(b)
		return &SecretKey{key: sk}
	}
}

// GenerateKeyPair returns a fresh public/private key pair as lowercase hex.
func GenerateKeyPair() (pub, priv string) {
	sk := GeneratePrivateKey()
	defer sk.Zero()
	return sk.PublicKey(), sk.Hex()
}

// GetPublicKey derives the public key for a hex private key.
func GetPublicKey(priv string) (string, error) {
	sk, err := ParseSecretKey(priv)
	if err != nil {
		return "", err
	}
	defer sk.Zero()
	return sk.PublicKey(), nil
}

// IsValidPublicKey reports whether s is a lowercase hex x-only public key on
// the curve.
func IsValidPublicKey(s string) bool {
	if len(s) != 64 || strings.ToLower(s) != s {
		return false
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return false
	}
	_, err = schnorr.ParsePubKey(b)
	return err == nil
}

// IsValidID reports whether s looks like an event id.
func IsValidID(s string) bool {
	if len(s) != 64 || strings.ToLower(s) != s {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
