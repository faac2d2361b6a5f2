// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
//
// Configuration for the local development relay.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/fiatjaf/khatru"
	"github.com/girino/relay-client/config"
	"github.com/spf13/pflag"
)

// getEnvOr returns the environment variable value or a default if not set
func getEnvOr(env, defaultValue string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	return defaultValue
}

func getEnvIntOr(env string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(env)); err == nil {
		return v
	}
	return defaultValue
}

// Config holds runtime configuration coming from environment and CLI flags.
type Config struct {
	Addr    string
	Verbose string

	RelayName        string
	RelayDescription string
	RelayContact     string
	RelaySecKey      string

	// requests allowed per client IP per minute, 0 disables the limit
	FilterRate     int
	ConnectionRate int
}

// LoadConfig reads environment variables and then args. Flags override env
// values.
func LoadConfig(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("khatru-relay", pflag.ContinueOnError)
	cfg := &Config{}
	fs.StringVar(&cfg.Addr, "addr", getEnvOr("ADDR", ":10547"), "address to listen on (env: ADDR)")
	fs.StringVar(&cfg.Verbose, "verbose", os.Getenv("VERBOSE"), "verbose logging control, same syntax as relay-client (env: VERBOSE)")
	fs.StringVar(&cfg.RelayName, "relay-name", getEnvOr("RELAY_NAME", "relay-client dev relay"), "relay name (env: RELAY_NAME)")
	fs.StringVar(&cfg.RelayDescription, "relay-description", getEnvOr("RELAY_DESCRIPTION", "in-memory relay for trying relay-client locally"), "relay description (env: RELAY_DESCRIPTION)")
	fs.StringVar(&cfg.RelayContact, "relay-contact", os.Getenv("RELAY_CONTACT"), "relay contact (env: RELAY_CONTACT)")
	fs.StringVar(&cfg.RelaySecKey, "relay-seckey", os.Getenv("RELAY_SECKEY"), "relay secret key, hex or nsec; its public key is advertised (env: RELAY_SECKEY)")
	fs.IntVar(&cfg.FilterRate, "filter-rate", getEnvIntOr("FILTER_RATE", 0), "REQ filters per IP per minute (env: FILTER_RATE)")
	fs.IntVar(&cfg.ConnectionRate, "connection-rate", getEnvIntOr("CONNECTION_RATE", 0), "connections per IP per minute (env: CONNECTION_RATE)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.FilterRate < 0 || cfg.ConnectionRate < 0 {
		return nil, fmt.Errorf("rates must not be negative")
	}
	return cfg, nil
}

// ApplyToRelay applies config NIP-11 fields to a khatru Relay instance.
func ApplyToRelay(r *khatru.Relay, cfg *Config) error {
	r.Info.Name = cfg.RelayName
	r.Info.Description = cfg.RelayDescription
	r.Info.Contact = cfg.RelayContact
	r.Info.Software = "https://github.com/girino/relay-client"
	r.Info.Version = Version
	if cfg.RelaySecKey != "" {
		pk, err := config.PublicKeyOf(cfg.RelaySecKey)
		if err != nil {
			return fmt.Errorf("relay secret key: %w", err)
		}
		r.Info.PubKey = pk
	}
	ensureSupportedNips(r, []int{1, 11, 45})
	return nil
}

func ensureSupportedNips(r *khatru.Relay, nips []int) {
	present := map[int]bool{}
	for _, v := range r.Info.SupportedNIPs {
		switch vv := v.(type) {
		case int:
			present[vv] = true
		case int64:
			present[int(vv)] = true
		case float64:
			present[int(vv)] = true
		}
	}
	for _, ni := range nips {
		if !present[ni] {
			r.Info.SupportedNIPs = append(r.Info.SupportedNIPs, ni)
		}
	}
}
