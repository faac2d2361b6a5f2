// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
package client

import (
	"context"

	"github.com/girino/relay-client/event"
	"github.com/girino/relay-client/filter"
	"github.com/girino/relay-client/logging"
)

// FeedOptions narrows the global feed. Zero values leave a field open.
type FeedOptions struct {
	Limit   int
	Since   *event.Timestamp
	Authors []string
}

func (o FeedOptions) filter() filter.Filter {
	f := filter.New().AddKinds(event.KindTextNote).AddAuthors(o.Authors...).SetLimit(o.Limit)
	if o.Since != nil {
		f.SetSince(*o.Since)
	}
	return *f
}

// Posts is where StreamGlobalFeed delivers. The channel is shared by every
// stream of this client and is never closed.
func (c *Client) Posts() <-chan Post { return c.posts }

// StreamGlobalFeed subscribes to text notes on every connected relay and
// sends each distinct one to Posts until ctx is cancelled. Delivery blocks
// while Posts is full.
func (c *Client) StreamGlobalFeed(ctx context.Context, opts FeedOptions) error {
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}
	logging.DebugMethod("client", "StreamGlobalFeed", "streaming notes (limit=%d authors=%d)", opts.Limit, len(opts.Authors))
	return c.pool.Stream(ctx, []filter.Filter{opts.filter()}, func(ev *event.Event) {
		select {
		case c.posts <- PostFromEvent(ev):
		case <-ctx.Done():
		}
	})
}
