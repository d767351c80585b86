// Copyright (c) 2026 Doorkeeper Team
// Doorkeeper - fingerprint credential synchronization
// This source code is licensed under the MIT license found in the LICENSE file.
//
// Package cli implements the command-line interface for Doorkeeper using Cobra.
// It loads configuration, opens a client.Gateway and delegates every command
// to it. CLI code should remain thin and delegate business logic to the
// client and internal packages.
package cli
