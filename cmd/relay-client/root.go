// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/girino/relay-client/client"
	"github.com/girino/relay-client/config"
	"github.com/girino/relay-client/logging"
	"github.com/girino/relay-client/metrics"
	"github.com/girino/relay-client/relaypool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// offline marks commands that run without configuration or relays.
const offline = "offline"

// app is the state shared by every command of one invocation.
type app struct {
	cfgFile string
	cfg     *config.Config
	client  *client.Client
	reg     *prometheus.Registry
	server  *http.Server
	out     io.Writer
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string, out, errOut io.Writer) int {
	a := &app{out: out}
	defer a.close()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(errOut, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "relay-client",
		Short: "Read from and publish to a set of Nostr relays",
		Long: `relay-client talks to every configured relay at once: queries are merged
and deduplicated, posts are published everywhere and reported per relay.`,
		Example: `
  relay-client posts --relays wss://relay.one,wss://relay.two --public-key npub1...
  relay-client post "hello" --secret-key nsec1...
  relay-client feed --limit 20 --max 100
  relay-client --config client.yaml profile npub1...`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.Annotations = map[string]string{offline: "true"}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.cfgFile, "config", "c", "", "path to a config file (yaml, json or toml)")
	pf.StringSlice("relays", nil, "relay URLs, comma separated (env: RELAY_CLIENT_RELAYS)")
	pf.String("secret-key", "", "private key, hex or nsec (env: RELAY_CLIENT_SECRET_KEY)")
	pf.String("public-key", "", "public key, hex or npub (env: RELAY_CLIENT_PUBLIC_KEY)")
	pf.String("verbose", "", "verbose logging: '1' for all, 'relaypool' for a module, 'relaypool.Fetch,client' for methods (env: VERBOSE)")
	pf.Duration("fetch-timeout", relaypool.DefaultFetchTimeout, "how long a query waits for relays")
	pf.Duration("publish-timeout", relaypool.DefaultPublishTimeout, "how long a publish waits for each relay")
	pf.Duration("connect-timeout", relaypool.DefaultConnectTimeout, "how long a connection attempt may take")
	pf.String("metrics-addr", "", "serve /metrics and /stats on this address, e.g. :9090")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "console", "log format (console or json)")
	pf.String("log-file", "", "write logs to this file, rotated, instead of stderr")

	root.AddCommand(
		versionCmd(a),
		keygenCmd(a),
		whoamiCmd(a),
		postCmd(a),
		replyCmd(a),
		postsCmd(a),
		eventCmd(a),
		profileCmd(a),
		followsCmd(a),
		followersCmd(a),
		relaysCmd(a),
		feedCmd(a),
		statsCmd(a),
	)
	return root
}

// setup loads configuration and builds the client for commands that need
// one.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations[offline] == "true" {
		return nil
	}

	cfg, err := config.Load(a.cfgFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	a.cfg = cfg

	err = logging.Init(
		logging.WithLevel(cfg.Logging.Level),
		logging.WithFormat(cfg.Logging.Format),
		logging.WithFile(cfg.Logging.File),
		logging.WithRotation(cfg.Logging.MaxSize, cfg.Logging.MaxBackups, cfg.Logging.MaxAge),
		logging.WithComponent(ProjectName),
	)
	if err != nil {
		return err
	}
	logging.SetVerbose(cfg.Verbose)

	key, private, err := cfg.Identity()
	if err != nil {
		return err
	}
	endpoints, err := cfg.Endpoints()
	if err != nil {
		return err
	}

	a.reg = prometheus.NewRegistry()
	collectors := metrics.New(a.reg)

	a.client, err = client.New(key, private, endpoints,
		client.WithFetchTimeout(cfg.FetchTimeout),
		client.WithPoolOptions(
			relaypool.WithFetchTimeout(cfg.FetchTimeout),
			relaypool.WithPublishTimeout(cfg.PublishTimeout),
			relaypool.WithConnectTimeout(cfg.ConnectTimeout),
			relaypool.WithMetrics(collectors),
			relaypool.WithNoticeHandler(func(uri, msg string) {
				logging.Info("notice from %s: %s", uri, msg)
			}),
		),
	)
	if err != nil {
		return err
	}
	logging.DebugMethod("main", "setup", "client ready with %d relays", len(endpoints))

	if cfg.MetricsAddr != "" {
		a.serveMetrics(cfg.MetricsAddr)
	}
	return nil
}

// serveMetrics exposes the Prometheus registry and the pool counters.
func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/stats", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(a.client.Pool().Stats()); err != nil {
			http.Error(w, "failed to encode stats", http.StatusInternalServerError)
		}
	})

	a.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logging.Info("serving metrics on %s", addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("metrics server: %v", err)
		}
	}()
}

func (a *app) close() {
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = a.server.Shutdown(ctx)
		cancel()
	}
	if a.client != nil {
		_ = a.client.Close()
	}
	_ = logging.Sync()
}

// printJSON writes v to the command output, indented.
func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
