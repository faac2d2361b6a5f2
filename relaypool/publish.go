// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
package relaypool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/girino/relay-client/event"
	"github.com/girino/relay-client/logging"
	"github.com/girino/relay-client/relaychannel"
)

var ErrInvalidEvent = errors.New("event id or signature is invalid")

// Publish sends ev to every connected relay concurrently, each bounded by the
// publish timeout, and waits for all of them. Every outcome is returned,
// sorted by relay URI. The error is nil as long as one relay accepted; when
// none did it wraps ErrNotAccepted and lists each relay's reason.
func (p *Pool) Publish(ctx context.Context, ev *event.Event) ([]relaychannel.Outcome, error) {
	if ok, err := event.CheckSignature(ev); !ok {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	conns := p.connected()
	if len(conns) == 0 {
		logging.Warn("no relays connected, not publishing event %s", ev.ID)
		return nil, ErrNotConnected
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = make([]relaychannel.Outcome, 0, len(conns))
	)
	for _, e := range conns {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			uri := e.ep.URI
			cctx, cancel := context.WithTimeout(ctx, p.opts.publishTimeout)
			defer cancel()

			logging.DebugMethod("relaypool", "Publish", "publishing event %s to %s", ev.ID, uri)
			atomic.AddInt64(&p.publishAttempts, 1)
			p.opts.metrics.PublishAttempt(uri)

			o := e.ch.Publish(cctx, ev)
			o.URI = uri
			if o.Accepted {
				atomic.AddInt64(&p.publishSuccesses, 1)
				logging.DebugMethod("relaypool", "Publish", "publish to %s succeeded for event %s", uri, ev.ID)
			} else {
				atomic.AddInt64(&p.publishFailures, 1)
				logging.Warn("publish to %s failed: %s", uri, o.Message)
			}
			p.opts.metrics.PublishResult(uri, o.Accepted)

			mu.Lock()
			outcomes = append(outcomes, o)
			mu.Unlock()
		}(e)
	}
	wg.Wait()

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].URI < outcomes[j].URI })

	var failures []string
	for _, o := range outcomes {
		if o.Accepted {
			return outcomes, nil
		}
		failures = append(failures, o.URI+": "+o.Message)
	}
	return outcomes, fmt.Errorf("%w: %s", ErrNotAccepted, strings.Join(failures, "; "))
}

// Accepted counts the accepting relays in outcomes.
func Accepted(outcomes []relaychannel.Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Accepted {
			n++
		}
	}
	return n
}
