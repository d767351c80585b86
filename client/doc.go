// Copyright (c) 2026 Doorkeeper Team
// Doorkeeper - fingerprint credential synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

// Package client exposes the gateway as a library so other services can
// enroll and revoke fingerprints without going through the CLI. Gateway is
// the real implementation; MockClient lets callers stub single methods.
package client
