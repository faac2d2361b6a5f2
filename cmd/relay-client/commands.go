// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/girino/relay-client/client"
	"github.com/girino/relay-client/config"
	"github.com/girino/relay-client/event"
	nip19 "github.com/nbd-wtf/go-nostr/nip19"
	"github.com/spf13/cobra"
)

const healthInterval = 30 * time.Second

func versionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the version number",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{offline: "true"},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(a.out, versionString())
		},
	}
}

type keyPair struct {
	PubKey string `json:"pubkey"`
	SecKey string `json:"seckey,omitempty"`
	Npub   string `json:"npub"`
	Nsec   string `json:"nsec,omitempty"`
}

func keygenCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "keygen",
		Short:       "Generate a new key pair",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{offline: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			pub, priv := event.GenerateKeyPair()
			npub, nsec, err := config.EncodeKeys(pub, priv)
			if err != nil {
				return err
			}
			return a.printJSON(keyPair{PubKey: pub, SecKey: priv, Npub: npub, Nsec: nsec})
		},
	}
}

func whoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the configured identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pub := a.client.PublicKey()
			if pub == "" {
				return client.ErrIdentityRequired
			}
			npub, _, err := config.EncodeKeys(pub, "")
			if err != nil {
				return err
			}
			return a.printJSON(struct {
				keyPair
				CanSign bool `json:"can_sign"`
			}{keyPair{PubKey: pub, Npub: npub}, a.client.HasPrivateKey()})
		},
	}
}

func postCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "post <content>...",
		Short: "Sign and publish a text note",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ev, err := a.client.SendPost(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			return a.printJSON(ev)
		},
	}
}

func replyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reply <event-id> <content>...",
		Short: "Reply to an event",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEventID(args[0])
			if err != nil {
				return err
			}
			parent, err := a.client.FetchEvent(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("fetch parent %s: %w", id, err)
			}
			ev, err := a.client.SendReply(cmd.Context(), strings.Join(args[1:], " "), parent)
			if err != nil {
				return err
			}
			return a.printJSON(ev)
		},
	}
}

func postsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "posts",
		Short: "List your own text notes, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			posts, err := a.client.FetchPosts(cmd.Context())
			if err != nil && len(posts) == 0 {
				return err
			}
			return a.printJSON(posts)
		},
	}
}

func eventCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "event <event-id>",
		Short: "Fetch a single event by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEventID(args[0])
			if err != nil {
				return err
			}
			ev, err := a.client.FetchEvent(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.printJSON(ev)
		},
	}
}

func profileCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "profile [pubkey]",
		Short: "Show a profile, yours when no key is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pk, err := pubkeyArg(args)
			if err != nil {
				return err
			}
			profile, err := a.client.FetchProfile(cmd.Context(), pk)
			if err != nil {
				return err
			}
			return a.printJSON(profile)
		},
	}
}

func followsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "follows [pubkey]",
		Short: "Show the latest contact list",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pk, err := pubkeyArg(args)
			if err != nil {
				return err
			}
			graph, err := a.client.FetchFollowGraph(cmd.Context(), pk)
			if err != nil {
				return err
			}
			return a.printJSON(graph)
		},
	}
}

func followersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "followers [pubkey]",
		Short: "List the keys whose contact list includes pubkey",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pk, err := pubkeyArg(args)
			if err != nil {
				return err
			}
			followers, err := a.client.FetchFollowers(cmd.Context(), pk)
			if err != nil && len(followers) == 0 {
				return err
			}
			return a.printJSON(followers)
		},
	}
}

func relaysCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "relays [pubkey]",
		Short: "Show the advertised relay list",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pk, err := pubkeyArg(args)
			if err != nil {
				return err
			}
			relays, err := a.client.FetchRelayList(cmd.Context(), pk)
			if err != nil {
				return err
			}
			return a.printJSON(relays)
		},
	}
}

func feedCmd(a *app) *cobra.Command {
	var (
		limit    int
		maxPosts int
		since    time.Duration
		authors  []string
	)
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Stream text notes from every relay, one JSON object per line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := client.FeedOptions{Limit: limit}
			for _, s := range authors {
				pk, err := config.ParsePublicKey(s)
				if err != nil {
					return err
				}
				opts.Authors = append(opts.Authors, pk)
			}
			if since > 0 {
				ts := event.FromTime(time.Now().Add(-since))
				opts.Since = &ts
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			go a.client.Pool().MonitorHealth(ctx, healthInterval)

			errc := make(chan error, 1)
			go func() { errc <- a.client.StreamGlobalFeed(ctx, opts) }()

			enc := json.NewEncoder(a.out)
			for n := 0; maxPosts <= 0 || n < maxPosts; n++ {
				select {
				case p := <-a.client.Posts():
					if err := enc.Encode(p); err != nil {
						return err
					}
				case err := <-errc:
					return err
				case <-ctx.Done():
					return nil
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "stored notes each relay sends before live ones (0 for no limit)")
	cmd.Flags().IntVar(&maxPosts, "max", 0, "exit after this many notes (0 to run until interrupted)")
	cmd.Flags().DurationVar(&since, "since", 0, "only notes newer than this, e.g. 1h")
	cmd.Flags().StringSliceVar(&authors, "author", nil, "only notes by these keys, hex or npub")
	return cmd
}

func statsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Connect, run a health check and print the pool counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			connectErr := a.client.Connect(cmd.Context(), nil)
			a.client.Pool().CheckHealth(cmd.Context())
			if err := a.printJSON(a.client.Pool().Stats()); err != nil {
				return err
			}
			return connectErr
		},
	}
}

// pubkeyArg returns the optional hex or npub key argument as hex.
func pubkeyArg(args []string) (string, error) {
	if len(args) == 0 {
		return "", nil
	}
	return config.ParsePublicKey(args[0])
}

// parseEventID accepts a hex id or a note1 reference.
func parseEventID(s string) (string, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "note1") {
		pfx, val, err := nip19.Decode(s)
		if err != nil || pfx != "note" {
			return "", fmt.Errorf("invalid note reference %q", s)
		}
		id, ok := val.(string)
		if !ok {
			return "", fmt.Errorf("invalid note reference %q", s)
		}
		s = id
	}
	s = strings.ToLower(s)
	if !event.IsValidID(s) {
		return "", fmt.Errorf("invalid event id %q", s)
	}
	return s, nil
}
