// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
//
// Client - identity plus high level operations over a relay pool.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/girino/relay-client/event"
	"github.com/girino/relay-client/logging"
	"github.com/girino/relay-client/relaychannel"
	"github.com/girino/relay-client/relaypool"
)

var (
	ErrIdentityRequired   = errors.New("a public key is required")
	ErrPrivateKeyRequired = errors.New("a private key is required")
	ErrInvalidPublicKey   = errors.New("invalid public key")
	ErrNotFound           = errors.New("not found")
)

const DefaultPostBuffer = 64

// Client holds an identity and drives a relay pool on its behalf. The
// private key, when present, never leaves the client; it is only used to
// sign outgoing events.
type Client struct {
	pool         *relaypool.Pool
	fetchTimeout time.Duration
	posts        chan Post

	mu     sync.RWMutex
	pubkey string
	secret *event.SecretKey
}

type config struct {
	poolOptions  []relaypool.Option
	fetchTimeout time.Duration
	postBuffer   int
}

type Option func(*config)

// WithPoolOptions passes options through to the relay pool.
func WithPoolOptions(opts ...relaypool.Option) Option {
	return func(c *config) { c.poolOptions = append(c.poolOptions, opts...) }
}

// WithFetchTimeout bounds every fetch the client makes.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *config) { c.fetchTimeout = d }
}

// WithPostBuffer sizes the channel returned by Posts.
func WithPostBuffer(n int) Option {
	return func(c *config) { c.postBuffer = n }
}

// New builds a client for the given relays. key may be empty, a hex public
// key, or a hex private key when isPrivate is set. No connection is made
// until one is needed or Connect is called.
func New(key string, isPrivate bool, endpoints []relaychannel.Endpoint, opts ...Option) (*Client, error) {
	cfg := config{fetchTimeout: relaypool.DefaultFetchTimeout, postBuffer: DefaultPostBuffer}
	for _, apply := range opts {
		apply(&cfg)
	}
	if cfg.postBuffer < 0 {
		cfg.postBuffer = 0
	}

	c := &Client{
		pool:         relaypool.New(cfg.poolOptions...),
		fetchTimeout: cfg.fetchTimeout,
		posts:        make(chan Post, cfg.postBuffer),
	}
	if err := c.RotateIdentity(key, isPrivate); err != nil {
		return nil, err
	}
	if err := c.pool.Configure(endpoints); err != nil {
		return nil, err
	}
	return c, nil
}

// Pool exposes the underlying relay pool.
func (c *Client) Pool() *relaypool.Pool { return c.pool }

// PublicKey returns the hex public key, empty when no identity is set.
func (c *Client) PublicKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pubkey
}

func (c *Client) HasPrivateKey() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.secret != nil
}

// RotateIdentity replaces the key material. A private key also sets the
// matching public key; a public key drops any private key held. An empty key
// clears the identity.
func (c *Client) RotateIdentity(key string, isPrivate bool) error {
	var (
		pub    string
		secret *event.SecretKey
	)
	switch {
	case key == "":
	case isPrivate:
		sk, err := event.ParseSecretKey(key)
		if err != nil {
			return err
		}
		secret, pub = sk, sk.PublicKey()
	default:
		if !event.IsValidPublicKey(key) {
			return fmt.Errorf("%w: %q", ErrInvalidPublicKey, key)
		}
		pub = key
	}

	c.mu.Lock()
	old := c.secret
	c.pubkey, c.secret = pub, secret
	c.mu.Unlock()
	if old != nil && old != secret {
		old.Zero()
	}
	c.pool.SetSubscriber(pub)
	logging.DebugMethod("client", "RotateIdentity", "identity set to %q (private=%v)", pub, secret != nil)
	return nil
}

// SetRelays replaces the relay set, disconnecting the old one, and connects
// the new one when connect is set.
func (c *Client) SetRelays(ctx context.Context, endpoints []relaychannel.Endpoint, connect bool) error {
	if err := c.pool.Configure(endpoints); err != nil {
		return err
	}
	if !connect {
		return nil
	}
	return c.pool.ConnectAll(ctx, nil)
}

// Connect connects every configured relay. onConnected may be nil.
func (c *Client) Connect(ctx context.Context, onConnected func(uri string)) error {
	return c.pool.ConnectAll(ctx, onConnected)
}

func (c *Client) Disconnect() { c.pool.DisconnectAll() }

func (c *Client) IsConnected() bool { return c.pool.IsConnected() }

// Close disconnects and wipes the private key.
func (c *Client) Close() error {
	c.pool.DisconnectAll()
	c.mu.Lock()
	if c.secret != nil {
		c.secret.Zero()
		c.secret = nil
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) ensureConnected(ctx context.Context) error {
	if c.pool.IsConnected() {
		return nil
	}
	logging.DebugMethod("client", "ensureConnected", "no relay connected, connecting")
	return c.pool.ConnectAll(ctx, nil)
}

// resolve returns pubkey, or the client's own key when pubkey is empty.
func (c *Client) resolve(pubkey string) (string, error) {
	if pubkey == "" {
		pubkey = c.PublicKey()
		if pubkey == "" {
			return "", ErrIdentityRequired
		}
		return pubkey, nil
	}
	if !event.IsValidPublicKey(pubkey) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPublicKey, pubkey)
	}
	return pubkey, nil
}
