// Copyright (c) 2026 Doorkeeper Team
// Doorkeeper - fingerprint credential synchronization
// This source code is licensed under the MIT license found in the LICENSE file.
package client

import (
	"time"

	"github.com/toeirei/doorkeeper/internal/config"
	"github.com/toeirei/doorkeeper/internal/db"
	"github.com/toeirei/doorkeeper/internal/transport"
)

// Config is the gateway configuration, as loaded by the CLI.
type Config = config.Config

// NewDefaultConfig returns the built-in configuration with an in-memory
// database and transport, suitable for tests and embedding experiments.
func NewDefaultConfig() Config {
	return Config{
		Database: config.Database{
			Type:            "sqlite",
			Dsn:             "file:doorkeeper?mode=memory&cache=shared",
			MaxOpenConns:    25,
			MaxIdleConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Transport: transport.Config{Type: "memory", QoS: 1, ConnectTimeout: 10 * time.Second},
		Device:    config.Device{CommandTimeout: 30 * time.Second},
		Sweep:     config.Sweep{Interval: 2 * time.Minute, RunOnStart: true},
		Log:       config.Log{Level: "info"},
		Language:  "en",
	}
}

type options struct {
	store db.Store
	tr    transport.Transport
	clock func() time.Time
}

// Option customizes New.
type Option func(*options)

// WithStore uses st instead of opening cfg.Database. The caller keeps
// ownership of st.
func WithStore(st db.Store) Option {
	return func(o *options) { o.store = st }
}

// WithTransport uses tr instead of dialing cfg.Transport. The caller keeps
// ownership of tr.
func WithTransport(tr transport.Transport) Option {
	return func(o *options) { o.tr = tr }
}

// WithClock overrides the time source of the lifecycle and the sweeper.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

func poolOptions(d config.Database) db.PoolOptions {
	p := db.DefaultPoolOptions()
	if d.MaxOpenConns > 0 {
		p.MaxOpenConns = d.MaxOpenConns
	}
	if d.MaxIdleConns > 0 {
		p.MaxIdleConns = d.MaxIdleConns
	}
	if d.ConnMaxLifetime > 0 {
		p.ConnMaxLifetime = d.ConnMaxLifetime
	}
	return p
}
