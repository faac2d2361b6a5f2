// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	knownPriv = "7f4c11a9742721d66e40e321ca50b682c27f7422190c14a187525e69e604836a"
	knownPub  = "7cef86754ddf07395c289c30fe31219de938c6d707d6b478a8682fc75795e8b9"
)

func flags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.StringSlice("relays", nil, "")
	fs.String("secret-key", "", "")
	fs.String("public-key", "", "")
	fs.String("verbose", "", "")
	fs.Duration("fetch-timeout", 0, "")
	fs.String("log-level", "", "")
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoadDefaultsWithFlags(t *testing.T) {
	cfg, err := Load("", flags(t, "--relays", "relay.one,wss://relay.two"))
	require.NoError(t, err)

	assert.Equal(t, []string{"relay.one", "wss://relay.two"}, cfg.Relays)
	assert.Equal(t, 10*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 7*time.Second, cfg.PublishTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)

	eps, err := cfg.Endpoints()
	require.NoError(t, err)
	assert.Equal(t, "wss://relay.one", eps[0].URI)
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
relays:
  - wss://file.example
fetch_timeout: 3s
logging:
  level: warn
  format: json
`), 0o600))

	t.Setenv("RELAY_CLIENT_LOGGING_LEVEL", "error")
	t.Setenv("VERBOSE", "relaypool")

	cfg, err := Load(path, flags(t, "--fetch-timeout", "2s"))
	require.NoError(t, err)
	assert.Equal(t, []string{"wss://file.example"}, cfg.Relays)
	assert.Equal(t, 2*time.Second, cfg.FetchTimeout)
	assert.Equal(t, "error", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "relaypool", cfg.Verbose)
}

func TestLoadRelaysFromEnv(t *testing.T) {
	t.Setenv("RELAY_CLIENT_RELAYS", "wss://a.example, wss://b.example")
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"wss://a.example", "wss://b.example"}, cfg.Relays)
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := Load("", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Relays")

	_, err = Load("", flags(t, "--relays", "https://nope.example"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relayurl")

	_, err = Load("", flags(t, "--relays", "wss://a", "--secret-key", "abc"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seckey")

	_, err = Load("", flags(t, "--relays", "wss://a", "--log-level", "chatty"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oneof")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestIdentity(t *testing.T) {
	npub, nsec, err := EncodeKeys(knownPub, knownPriv)
	require.NoError(t, err)

	cfg := &Config{SecretKey: nsec}
	key, private, err := cfg.Identity()
	require.NoError(t, err)
	assert.True(t, private)
	assert.Equal(t, knownPriv, key)

	cfg = &Config{PublicKey: npub}
	key, private, err = cfg.Identity()
	require.NoError(t, err)
	assert.False(t, private)
	assert.Equal(t, knownPub, key)

	key, private, err = (&Config{}).Identity()
	require.NoError(t, err)
	assert.Empty(t, key)
	assert.False(t, private)
}

func TestMismatchedKeys(t *testing.T) {
	other := "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d"
	_, err := Load("", flags(t, "--relays", "wss://a", "--secret-key", knownPriv, "--public-key", other))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")

	cfg, err := Load("", flags(t, "--relays", "wss://a", "--secret-key", knownPriv, "--public-key", knownPub))
	require.NoError(t, err)
	assert.Equal(t, knownPub, cfg.PublicKey)
}

func TestParseKeys(t *testing.T) {
	pub, err := PublicKeyOf(knownPriv)
	require.NoError(t, err)
	assert.Equal(t, knownPub, pub)

	upper, err := ParsePublicKey("  7CEF86754DDF07395C289C30FE31219DE938C6D707D6B478A8682FC75795E8B9 ")
	require.NoError(t, err)
	assert.Equal(t, knownPub, upper)

	_, err = ParsePublicKey("npub1invalid")
	assert.Error(t, err)
	_, err = ParseSecretKey("nsec1invalid")
	assert.Error(t, err)
}
