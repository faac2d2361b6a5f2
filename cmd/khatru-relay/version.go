// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
package main

// Version is the application version string, set at build time via
//
//	go build -ldflags "-X main.Version=<version>"
var Version = "dev"
