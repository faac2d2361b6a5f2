// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
//
// RelayPool - fan-out of connect, query and publish across many relays.
package relaypool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/girino/relay-client/logging"
	"github.com/girino/relay-client/metrics"
	"github.com/girino/relay-client/relaychannel"
	"github.com/puzpuzpuz/xsync/v3"
)

var (
	ErrNoEndpoints      = errors.New("no relay endpoints configured")
	ErrNotConnected     = errors.New("no relay connected")
	ErrNoRelayAvailable = errors.New("no relay could be connected")
	ErrNotAccepted      = errors.New("event not accepted by any relay")
	ErrInvalidEndpoint  = relaychannel.ErrInvalidEndpoint
)

const (
	DefaultFetchTimeout   = 10 * time.Second
	DefaultPublishTimeout = 7 * time.Second
	DefaultConnectTimeout = 7 * time.Second
	// DefaultStreamRetry is how long Stream waits before subscribing again
	// to a relay that ended a subscription without disconnecting.
	DefaultStreamRetry    = 5 * time.Second
)

// State is the connection state of one endpoint.
type State int32

const (
	StateUnconfigured State = iota
	StateConnecting
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for st := StateUnconfigured; st <= StateDisconnected; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown relay state %q", b)
}

// entry is one registered endpoint. The channel and its sink are fixed when
// the entry is created and are dropped together by replacing the entry.
type entry struct {
	ep    relaychannel.Endpoint
	ch    relaychannel.Channel
	state atomic.Int32
	// ups counts the times the channel reported itself connected.
	ups   atomic.Int64
}

func (e *entry) State() State     { return State(e.state.Load()) }
func (e *entry) setState(s State) { e.state.Store(int32(s)) }

func (e *entry) up() bool {
	return e.ch != nil && e.State() == StateConnected && e.ch.IsConnected()
}

func (p *Pool) newEntry(ep relaychannel.Endpoint) *entry {
	e := &entry{ep: ep}
	e.ch = p.opts.factory(ep, &sink{pool: p, entry: e})
	return e
}

// Pool fans operations out to every configured relay and merges the answers.
type Pool struct {
	opts options

	// mu serializes reconfiguration against connect and teardown. Queries
	// only read the table and never take it.
	mu     sync.Mutex
	relays *xsync.MapOf[string, *entry]
	order  []string

	subscriber atomic.Value // string

	// changed is closed and replaced whenever a relay connects or the
	// endpoint set is replaced.
	changedMu sync.Mutex
	changed   chan struct{}

	publishAttempts     int64
	publishSuccesses    int64
	publishFailures     int64
	fetchRequests       int64
	fetchEventsReturned int64
	fetchTimeouts       int64
	streamEvents        int64
	droppedEvents       int64
	notices             int64

	consecutiveHealthFailures int64
	liveRelays                int64
	deadRelays                int64
}

type options struct {
	factory        relaychannel.Factory
	fetchTimeout   time.Duration
	publishTimeout time.Duration
	connectTimeout time.Duration
	streamRetry    time.Duration
	metrics        *metrics.Collectors
	onNotice       func(uri, msg string)
	verify         bool
	subscriber     string
}

type Option func(*options)

// WithChannelFactory replaces the go-nostr backed channel.
func WithChannelFactory(f relaychannel.Factory) Option {
	return func(o *options) { o.factory = f }
}

func WithFetchTimeout(d time.Duration) Option {
	return func(o *options) { o.fetchTimeout = d }
}

func WithPublishTimeout(d time.Duration) Option {
	return func(o *options) { o.publishTimeout = d }
}

func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) { o.connectTimeout = d }
}

func WithStreamRetry(d time.Duration) Option {
	return func(o *options) { o.streamRetry = d }
}

func WithMetrics(c *metrics.Collectors) Option {
	return func(o *options) { o.metrics = c }
}

// WithNoticeHandler is called for every NOTICE a relay sends.
func WithNoticeHandler(fn func(uri, msg string)) Option {
	return func(o *options) { o.onNotice = fn }
}

// WithoutVerification accepts inbound events without checking id and
// signature. Filter matching still applies.
func WithoutVerification() Option {
	return func(o *options) { o.verify = false }
}

// WithSubscriber sets the label sent with subscriptions.
func WithSubscriber(pubkey string) Option {
	return func(o *options) { o.subscriber = pubkey }
}

func New(opts ...Option) *Pool {
	o := options{
		factory:        relaychannel.NewNostrChannel,
		fetchTimeout:   DefaultFetchTimeout,
		publishTimeout: DefaultPublishTimeout,
		connectTimeout: DefaultConnectTimeout,
		streamRetry:    DefaultStreamRetry,
		verify:         true,
	}
	for _, apply := range opts {
		apply(&o)
	}
	p := &Pool{opts: o, relays: xsync.NewMapOf[string, *entry](), changed: make(chan struct{})}
	p.subscriber.Store(o.subscriber)
	return p
}

// SetSubscriber updates the subscription label, typically after an identity
// change.
func (p *Pool) SetSubscriber(pubkey string) { p.subscriber.Store(pubkey) }

func (p *Pool) subscriberLabel() string {
	s, _ := p.subscriber.Load().(string)
	return s
}

// changes returns a channel closed on the next connect or reconfiguration.
func (p *Pool) changes() <-chan struct{} {
	p.changedMu.Lock()
	defer p.changedMu.Unlock()
	return p.changed
}

func (p *Pool) notifyChanged() {
	p.changedMu.Lock()
	close(p.changed)
	p.changed = make(chan struct{})
	p.changedMu.Unlock()
}

// Configure replaces the endpoint set. Every current channel is torn down
// first, so the pool never mixes old and new endpoints.
func (p *Pool) Configure(endpoints []relaychannel.Endpoint) error {
	normalized := make([]relaychannel.Endpoint, 0, len(endpoints))
	seen := make(map[string]bool, len(endpoints))
	for _, ep := range endpoints {
		ep.URI = relaychannel.NormalizeURI(ep.URI)
		if err := ep.Validate(); err != nil {
			return err
		}
		if seen[ep.URI] {
			continue
		}
		seen[ep.URI] = true
		normalized = append(normalized, ep)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.teardownLocked()
	p.relays.Clear()
	p.order = p.order[:0]
	for _, ep := range normalized {
		p.order = append(p.order, ep.URI)
		p.relays.Store(ep.URI, &entry{ep: ep})
	}
	p.notifyChanged()
	logging.DebugMethod("relaypool", "Configure", "configured %d endpoints", len(normalized))
	return nil
}

// Endpoints returns the configured endpoints in configuration order.
func (p *Pool) Endpoints() []relaychannel.Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]relaychannel.Endpoint, 0, len(p.order))
	for _, uri := range p.order {
		if e, ok := p.relays.Load(uri); ok {
			out = append(out, e.ep)
		}
	}
	return out
}

// ConnectAll connects every configured endpoint concurrently, reusing the
// channel already registered for it. onConnected, if set, is called once per
// endpoint that connects; calls are serialized. The pool counts as connected
// as soon as one relay is up, so only a total failure is an error.
func (p *Pool) ConnectAll(ctx context.Context, onConnected func(uri string)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.relays.Size() == 0 {
		return ErrNoEndpoints
	}

	var (
		wg     sync.WaitGroup
		cbMu   sync.Mutex
		errsMu sync.Mutex
		errs   []error
		up     atomic.Int32
	)
	p.relays.Range(func(uri string, e *entry) bool {
		if e.ch == nil {
			e = p.newEntry(e.ep)
			p.relays.Store(uri, e)
		}
		if e.ch.IsConnected() {
			e.setState(StateConnected)
			up.Add(1)
			return true
		}
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			e.setState(StateConnecting)
			cctx, cancel := context.WithTimeout(ctx, p.opts.connectTimeout)
			defer cancel()

			if err := e.ch.Connect(cctx); err != nil {
				e.setState(StateDisconnected)
				errsMu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", e.ep.URI, err))
				errsMu.Unlock()
				logging.Warn("failed to connect to %s: %v", e.ep.URI, err)
				return
			}
			e.setState(StateConnected)
			up.Add(1)
			if onConnected != nil {
				cbMu.Lock()
				onConnected(e.ep.URI)
				cbMu.Unlock()
			}
		}(e)
		return true
	})
	wg.Wait()
	p.updateConnectedGauge()
	p.notifyChanged()

	if up.Load() == 0 {
		return fmt.Errorf("%w: %w", ErrNoRelayAvailable, errors.Join(errs...))
	}
	logging.DebugMethod("relaypool", "ConnectAll", "%d/%d relays connected", up.Load(), p.relays.Size())
	return nil
}

// DisconnectAll closes every channel. The endpoints stay configured and a
// later ConnectAll builds fresh channels. Calling it twice is harmless.
func (p *Pool) DisconnectAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.teardownLocked()
}

func (p *Pool) teardownLocked() {
	p.relays.Range(func(uri string, e *entry) bool {
		// unregister first so the sink ignores the disconnect it causes
		idle := &entry{ep: e.ep}
		idle.setState(StateDisconnected)
		p.relays.Store(uri, idle)
		if e.ch != nil {
			if err := e.ch.Disconnect(); err != nil {
				logging.DebugMethod("relaypool", "DisconnectAll", "closing %s: %v", uri, err)
			}
		}
		e.setState(StateDisconnected)
		return true
	})
	p.updateConnectedGauge()
}

// IsConnected reports whether at least one relay is connected.
func (p *Pool) IsConnected() bool {
	return len(p.connected()) > 0
}

// States returns the state of every configured endpoint keyed by URI.
func (p *Pool) States() map[string]State {
	out := make(map[string]State, p.relays.Size())
	p.relays.Range(func(uri string, e *entry) bool {
		out[uri] = e.State()
		return true
	})
	return out
}

// connected snapshots the entries whose channel is up.
func (p *Pool) connected() []*entry {
	var out []*entry
	p.relays.Range(func(uri string, e *entry) bool {
		if e.up() {
			out = append(out, e)
		}
		return true
	})
	return out
}

func (p *Pool) updateConnectedGauge() {
	if p.opts.metrics != nil {
		p.opts.metrics.SetConnected(len(p.connected()))
	}
}

// sink is the single notification target of one channel. It only acts while
// its entry is still the one registered for the URI.
type sink struct {
	pool  *Pool
	entry *entry
}

func (s *sink) current() bool {
	e, ok := s.pool.relays.Load(s.entry.ep.URI)
	return ok && e == s.entry
}

func (s *sink) ConnectionChanged(uri string, connected bool) {
	if !s.current() {
		return
	}
	if connected {
		s.entry.setState(StateConnected)
		s.entry.ups.Add(1)
	} else {
		s.entry.setState(StateDisconnected)
		logging.DebugMethod("relaypool", "ConnectionChanged", "%s disconnected", uri)
	}
	s.pool.updateConnectedGauge()
	if connected {
		s.pool.notifyChanged()
	}
}

func (s *sink) Notice(uri string, msg string) {
	if !s.current() {
		return
	}
	atomic.AddInt64(&s.pool.notices, 1)
	s.pool.opts.metrics.Notice(uri)
	logging.Info("NOTICE from %s: %s", uri, msg)
	if s.pool.opts.onNotice != nil {
		s.pool.opts.onNotice(uri, msg)
	}
}

func (s *sink) PostOutcome(uri string, o relaychannel.Outcome) {
	if !s.current() {
		return
	}
	logging.DebugMethod("relaypool", "PostOutcome", "%s accepted=%v %s", uri, o.Accepted, o.Message)
}
