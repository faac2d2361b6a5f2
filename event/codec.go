// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
package event

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/minio/sha256-simd"
)

var (
	// ErrInvalidID is returned when an event id is not 32 bytes of hex.
	ErrInvalidID = errors.New("event id must be 64 hex characters")
	// ErrSelfVerification means a freshly produced signature did not verify
	// against the signer's own public key. It is never safe to continue.
	ErrSelfVerification = errors.New("signature failed self-verification")
)

// Canonicalize returns the fixed-order, whitespace-free array encoding
// [id-or-0,pubkey,created_at,kind,tags,content]. With includeID false the
// first element is the literal 0 and the result is the preimage of the id.
func Canonicalize(ev *Event, includeID bool) string {
	return string(appendCanonical(nil, ev, includeID))
}

func appendCanonical(dst []byte, ev *Event, includeID bool) []byte {
	dst = append(dst, '[')
	if includeID {
		dst = appendQuoted(dst, ev.ID)
	} else {
		dst = append(dst, '0')
	}
	dst = append(dst, ',')
	dst = appendQuoted(dst, ev.PubKey)
	dst = append(dst, ',')
	dst = strconv.AppendInt(dst, int64(ev.CreatedAt), 10)
	dst = append(dst, ',')
	dst = strconv.AppendInt(dst, int64(ev.Kind), 10)
	dst = append(dst, ',')
	dst = appendTags(dst, ev.Tags)
	dst = append(dst, ',')
	dst = appendQuoted(dst, ev.Content)
	return append(dst, ']')
}

func appendTags(dst []byte, tags Tags) []byte {
	dst = append(dst, '[')
	for i, t := range tags {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = appendTag(dst, t)
	}
	return append(dst, ']')
}

func appendTag(dst []byte, t Tag) []byte {
	dst = append(dst, '[')
	for i, s := range t {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = appendQuoted(dst, s)
	}
	return append(dst, ']')
}

const hexDigits = "0123456789abcdef"

// appendQuoted escapes s per RFC 8259 the way NIP-01 requires: the two
// mandatory escapes, the short forms for \b \t \n \f \r and \u00xx for the
// remaining control bytes. Everything else, '/' and non-ASCII included, is
// copied verbatim.
func appendQuoted(dst []byte, s string) []byte {
	dst = append(dst, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			dst = append(dst, '\\', '"')
		case c == '\\':
			dst = append(dst, '\\', '\\')
		case c >= 0x20:
			dst = append(dst, c)
		case c == '\b':
			dst = append(dst, '\\', 'b')
		case c == '\t':
			dst = append(dst, '\\', 't')
		case c == '\n':
			dst = append(dst, '\\', 'n')
		case c == '\f':
			dst = append(dst, '\\', 'f')
		case c == '\r':
			dst = append(dst, '\\', 'r')
		default:
			dst = append(dst, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xf])
		}
	}
	return append(dst, '"')
}

// MarshalJSON encodes the tag list with the same escaping as the canonical
// form, and a nil list as [].
func (tags Tags) MarshalJSON() ([]byte, error) {
	return appendTags(nil, tags), nil
}

func (t Tag) MarshalJSON() ([]byte, error) {
	return appendTag(nil, t), nil
}

// idBytes is the raw SHA-256 of the canonical form.
func idBytes(ev *Event) [32]byte {
	return sha256.Sum256(appendCanonical(nil, ev, false))
}

// ComputeID returns the lowercase hex id for the event's current fields.
func ComputeID(ev *Event) string {
	h := idBytes(ev)
	return hex.EncodeToString(h[:])
}

// Sign produces a BIP-340 signature over ev.ID. The id is decoded from hex and
// the 32 raw bytes are signed directly. The signature is checked against the
// signer's own public key before it is returned.
func Sign(ev *Event, sk *SecretKey) (string, error) {
	if sk == nil || sk.key == nil {
		return "", ErrInvalidSecretKey
	}
	id, err := hex.DecodeString(ev.ID)
	if err != nil || len(id) != 32 {
		return "", ErrInvalidID
	}
	sig, err := schnorr.Sign(sk.key, id)
	if err != nil {
		return "", fmt.Errorf("sign event %s: %w", ev.ID, err)
	}
	if !sig.Verify(id, sk.key.PubKey()) {
		return "", ErrSelfVerification
	}
	return hex.EncodeToString(sig.Serialize()), nil
}

// Finalize stamps the author, id and signature on ev using sk. On error ev is
// left without an id or signature.
func Finalize(ev *Event, sk *SecretKey) error {
	if sk == nil || sk.key == nil {
		return ErrInvalidSecretKey
	}
	ev.PubKey = sk.PublicKey()
	ev.ID = ComputeID(ev)
	sig, err := Sign(ev, sk)
	if err != nil {
		ev.ID, ev.Sig = "", ""
		return err
	}
	ev.Sig = sig
	return nil
}

// Verify reports whether ev's id matches its fields and its signature is
// valid for its pubkey. A mismatched id fails without looking at the
// signature.
func Verify(ev *Event) bool {
	ok, _ := CheckSignature(ev)
	return ok
}

// CheckSignature is Verify with the reason for a failure.
func CheckSignature(ev *Event) (bool, error) {
	h := idBytes(ev)
	if hex.EncodeToString(h[:]) != ev.ID {
		return false, fmt.Errorf("id mismatch for event %q", ev.ID)
	}
	pkBytes, err := hex.DecodeString(ev.PubKey)
	if err != nil {
		return false, fmt.Errorf("pubkey %q is invalid hex: %w", ev.PubKey, err)
	}
	pk, err := schnorr.ParsePubKey(pkBytes)
	if err != nil {
		return false, fmt.Errorf("invalid pubkey %q: %w", ev.PubKey, err)
	}
	sigBytes, err := hex.DecodeString(ev.Sig)
	if err != nil {
		return false, fmt.Errorf("signature is invalid hex: %w", err)
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false, fmt.Errorf("failed to parse signature: %w", err)
	}
	return sig.Verify(h[:], pk), nil
}
