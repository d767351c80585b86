// Copyright (c) 2026 Doorkeeper Team
// Doorkeeper - fingerprint credential synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

// Command doorkeeper runs the fingerprint gateway. It is the same binary as
// the module root, installable with
//
//	go install github.com/toeirei/doorkeeper/cmd/doorkeeper@latest
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
