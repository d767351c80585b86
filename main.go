// Copyright (c) 2026 Doorkeeper Team
// Doorkeeper - fingerprint credential synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

// Command-line entrypoint for Doorkeeper.
//
// Usage:
//
//	go run . [flags]
//	./doorkeeper serve
//
// This launches the Doorkeeper CLI. See --help for options.
package main

import (
	"os"

	"github.com/toeirei/doorkeeper/internal/logging"
	"github.com/toeirei/doorkeeper/ui/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		logging.Errorf("%v", err)
		os.Exit(1)
	}
}
