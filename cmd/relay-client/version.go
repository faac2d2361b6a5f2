// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
package main

// ProjectName is the display name of the project
const ProjectName = "relay-client"

// Version is the application version string.
// It is meant to be overridden at build time via:
//
//	go build -ldflags "-X main.Version=<version>"
//
// Default value is for non-ldflags development builds.
var Version = "dev"

// versionString is what the version command prints.
func versionString() string {
	return ProjectName + " " + Version
}
