// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
package client

import (
	"context"
	"errors"

	"github.com/girino/relay-client/event"
	"github.com/girino/relay-client/filter"
	"github.com/girino/relay-client/logging"
	"github.com/girino/relay-client/relaychannel"
	"github.com/girino/relay-client/relaypool"
)

// Post is a text note as shown to a reader.
type Post struct {
	ID        string          `json:"id"`
	Author    string          `json:"author"`
	Content   string          `json:"content"`
	CreatedAt event.Timestamp `json:"created_at"`
	// RootID and ReplyID are the thread root and the direct parent, empty for
	// top level posts. For a direct reply to the root both are the root.
	RootID   string       `json:"root_id,omitempty"`
	ReplyID  string       `json:"reply_id,omitempty"`
	Mentions []string     `json:"mentions,omitempty"`
	Event    *event.Event `json:"-"`
}

func (p Post) IsReply() bool { return p.ReplyID != "" }

// PostFromEvent reads thread references from "e" tags, preferring the
// root/reply markers and falling back to the positional convention where
// the first tag is the root and the last the parent.
func PostFromEvent(ev *event.Event) Post {
	p := Post{
		ID:        ev.ID,
		Author:    ev.PubKey,
		Content:   ev.Content,
		CreatedAt: ev.CreatedAt,
		Mentions:  ev.Tags.Values("p"),
		Event:     ev,
	}

	refs := ev.Tags.GetAll("e")
	var positional []string
	for _, t := range refs {
		switch t.Marker() {
		case "root":
			p.RootID = t.Value()
		case "reply":
			p.ReplyID = t.Value()
		case "mention":
		default:
			positional = append(positional, t.Value())
		}
	}
	if p.RootID == "" && p.ReplyID == "" && len(positional) > 0 {
		p.RootID = positional[0]
		p.ReplyID = positional[len(positional)-1]
	}
	if p.ReplyID == "" {
		p.ReplyID = p.RootID
	}
	return p
}

// FetchPosts returns the client's own text notes, newest first.
func (c *Client) FetchPosts(ctx context.Context) ([]Post, error) {
	pub := c.PublicKey()
	if pub == "" {
		return nil, ErrIdentityRequired
	}
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	f := filter.New().AddKinds(event.KindTextNote).AddAuthors(pub)
	events, err := c.pool.FetchList(ctx, []filter.Filter{*f}, c.fetchTimeout)
	posts := make([]Post, len(events))
	for i, ev := range events {
		posts[i] = PostFromEvent(ev)
	}
	logging.DebugMethod("client", "FetchPosts", "fetched %d posts for %s", len(posts), pub)
	return posts, err
}

// SendPost signs and publishes a text note.
func (c *Client) SendPost(ctx context.Context, content string) (*event.Event, error) {
	return c.send(ctx, content, nil)
}

// SendReply signs and publishes a text note replying to parent. The reply
// references the thread root and, when it is not the root itself, the
// parent. The parent's author and everyone it mentions are tagged.
func (c *Client) SendReply(ctx context.Context, content string, parent *event.Event) (*event.Event, error) {
	if parent == nil || parent.ID == "" {
		return nil, errors.New("reply needs a parent event")
	}
	return c.send(ctx, content, replyTags(parent, c.PublicKey()))
}

func replyTags(parent *event.Event, self string) event.Tags {
	root := parent.ID
	if p := PostFromEvent(parent); p.RootID != "" {
		root = p.RootID
	}

	var tags event.Tags
	if root == parent.ID {
		tags = append(tags, event.NewTag("e", parent.ID, "", "root"))
	} else {
		tags = append(tags,
			event.NewTag("e", root, "", "root"),
			event.NewTag("e", parent.ID, "", "reply"),
		)
	}

	seen := map[string]bool{self: true}
	for _, pk := range append([]string{parent.PubKey}, parent.Tags.Values("p")...) {
		if pk == "" || seen[pk] {
			continue
		}
		seen[pk] = true
		tags = append(tags, event.NewTag("p", pk))
	}
	return tags
}

func (c *Client) send(ctx context.Context, content string, tags event.Tags) (*event.Event, error) {
	ev := &event.Event{
		CreatedAt: event.Now(),
		Kind:      event.KindTextNote,
		Tags:      tags,
		Content:   content,
	}

	c.mu.RLock()
	sk := c.secret
	var err error
	if sk == nil {
		err = ErrPrivateKeyRequired
	} else {
		err = event.Finalize(ev, sk)
	}
	c.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	if _, err := c.PublishEvent(ctx, ev); err != nil {
		return ev, err
	}
	return ev, nil
}

// PublishEvent publishes an already signed event, connecting first if
// needed, and returns every relay's outcome.
func (c *Client) PublishEvent(ctx context.Context, ev *event.Event) ([]relaychannel.Outcome, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}
	outcomes, err := c.pool.Publish(ctx, ev)
	if err != nil {
		logging.Warn("publish of %s failed: %v", ev.ID, err)
		return outcomes, err
	}
	logging.DebugMethod("client", "PublishEvent", "event %s accepted by %d/%d relays", ev.ID, relaypool.Accepted(outcomes), len(outcomes))
	return outcomes, nil
}
