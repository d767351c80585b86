// Copyright (c) 2026 Doorkeeper Team
// Doorkeeper - fingerprint credential synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

// Package core is the synchronization facade: it combines the credential
// store, the lifecycle state machine and the command correlator into the
// operations exposed to the CLI and to embedding services. Keep these
// interfaces minimal; they describe side-effect boundaries.
package core

import (
	"context"
	"time"

	"github.com/toeirei/doorkeeper/internal/db"
	"github.com/toeirei/doorkeeper/internal/model"
	"github.com/toeirei/doorkeeper/internal/transport"
)

// Commander sends device commands. *correlator.Correlator implements it.
type Commander interface {
	Issue(ctx context.Context, id int, kind model.CommandKind, payload []byte, timeout time.Duration) (model.DeviceReply, error)
	Send(ctx context.Context, topic string, payload []byte) error
}

// ReconcileStore is the persistence the reconciler replays divergences against.
type ReconcileStore interface {
	db.CredentialStore
	db.DivergenceStore
}

// AccessStore resolves credential owners and persists access events.
type AccessStore interface {
	Get(ctx context.Context, id int) (model.Credential, error)
	db.AccessLogWriter
}

// Subscriber is the part of the transport the access recorder needs.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, buffer int) (*transport.Subscription, error)
}
