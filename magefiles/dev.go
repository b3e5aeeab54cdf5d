//go:build mage

// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"os"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Dev groups targets for local development against a throwaway database.
type Dev mg.Namespace

// Serve builds fieldkit and runs the reference server on .fieldkit-db.
// FIELDKIT_LISTEN_ADDR overrides the listen address.
func (Dev) Serve() error {
	mg.Deps(Build)
	return sh.RunV(binaryPath(), "serve", "--data-dir", devDataDir, "--log-level", "debug")
}

// Reset removes the development database.
func (Dev) Reset() error {
	return os.RemoveAll(devDataDir)
}

// Export dumps the development database to ./export as JSONL.
func (Dev) Export() error {
	mg.Deps(Build)
	return sh.RunV(binaryPath(), "export", "--data-dir", devDataDir, "export")
}
