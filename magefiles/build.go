//go:build mage

// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

// Package main provides build targets for fieldkit using Mage.
//
//	mage build        Compile the fieldkit binary to bin/
//	mage install      Install fieldkit to GOPATH/bin
//	mage test:all     Run every test
//	mage test:race    Run every test with the race detector
//	mage test:cover   Write coverage.out and print per-function coverage
//	mage lint         Run go vet and golangci-lint
//	mage dev:serve    Build and run the reference server on ./.fieldkit-db
//	mage stats        Print lines of code per package
package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binGo       = "go"
	binaryName  = "fieldkit"
	binaryDir   = "bin"
	cmdDir      = "./cmd/fieldkit"
	versionVar  = "github.com/mesh-intelligence/fieldkit/pkg/fieldkit.Version"
	devDataDir  = ".fieldkit-db"
	coverOutput = "coverage.out"
)

// binaryPath is the build output.
func binaryPath() string {
	return filepath.Join(binaryDir, binaryName)
}

// version returns the git description of HEAD without the leading "v", or
// "" outside a git checkout.
func version() string {
	out, err := sh.Output("git", "describe", "--tags", "--always", "--dirty")
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.TrimSpace(out), "v")
}

// Build compiles the fieldkit binary to bin/, stamping the version from git.
func Build() error {
	if err := os.MkdirAll(binaryDir, 0o755); err != nil {
		return err
	}
	args := []string{"build", "-v", "-o", binaryPath()}
	if v := version(); v != "" {
		args = append(args, "-ldflags", "-X "+versionVar+"="+v)
	}
	return sh.RunV(binGo, append(args, cmdDir)...)
}

// Clean removes build artifacts and coverage output.
func Clean() error {
	for _, p := range []string{binaryDir, coverOutput} {
		if err := os.RemoveAll(p); err != nil {
			return err
		}
	}
	return sh.RunV(binGo, "clean")
}

// Install builds and copies the binary to GOPATH/bin.
func Install() error {
	mg.Deps(Build)
	gopath, err := sh.Output(binGo, "env", "GOPATH")
	if err != nil {
		return err
	}
	return sh.Copy(filepath.Join(gopath, "bin", binaryName), binaryPath())
}
