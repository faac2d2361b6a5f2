// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
//
// relay-client - command line access to a set of Nostr relays.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/girino/relay-client/logging"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
		sig := <-signals
		logging.Info("received %s, shutting down", sig)
		cancel()
	}()

	os.Exit(Execute(ctx, os.Args[1:], os.Stdout, os.Stderr))
}
