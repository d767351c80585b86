// Copyright (c) 2026 Doorkeeper Team
// Doorkeeper - fingerprint credential synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

// Package config loads, validates and persists the gateway configuration.
// Values come from defaults, a doorkeeper.yaml file, DOORKEEPER_* environment
// variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/toeirei/doorkeeper/internal/transport"
)

type Database struct {
	Type            string        `mapstructure:"type" yaml:"type"`
	Dsn             string        `mapstructure:"dsn" yaml:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

type Device struct {
	// CommandTimeout bounds each create/delete round-trip to the sensor.
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
}

type Sweep struct {
	Interval   time.Duration `mapstructure:"interval" yaml:"interval"`
	RunOnStart bool          `mapstructure:"run_on_start" yaml:"run_on_start"`
}

type Log struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// Config is the full gateway configuration.
type Config struct {
	Database  Database         `mapstructure:"database" yaml:"database"`
	Transport transport.Config `mapstructure:"transport" yaml:"transport"`
	Device    Device           `mapstructure:"device" yaml:"device"`
	Sweep     Sweep            `mapstructure:"sweep" yaml:"sweep"`
	Log       Log              `mapstructure:"log" yaml:"log"`
	Language  string           `mapstructure:"language" yaml:"language"`
}

// Defaults returns the built-in values, keyed the way viper addresses them.
func Defaults() map[string]any {
	return map[string]any{
		"database.type":              "sqlite",
		"database.dsn":               "./doorkeeper.db",
		"database.max_open_conns":    25,
		"database.max_idle_conns":    25,
		"database.conn_max_lifetime": "5m",
		"transport.type":             "mqtt",
		"transport.broker":           "tcp://localhost:1883",
		"transport.qos":              1,
		"transport.redis_addr":       "localhost:6379",
		"transport.connect_timeout":  "10s",
		"device.command_timeout":     "30s",
		"sweep.interval":             "2m",
		"sweep.run_on_start":         true,
		"log.level":                  "info",
		"language":                   "en",
	}
}

// Validate rejects values the gateway cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.Database.Type {
	case "sqlite", "mysql", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.type %q is not one of sqlite, mysql, postgres", c.Database.Type))
	}
	if strings.TrimSpace(c.Database.Dsn) == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Database.MaxOpenConns < 0 || c.Database.MaxIdleConns < 0 {
		errs = append(errs, errors.New("database connection limits must not be negative"))
	}
	switch c.Transport.Type {
	case "", "memory", "redis":
	case "mqtt":
		if c.Transport.Broker == "" {
			errs = append(errs, errors.New("transport.broker is required for mqtt"))
		}
	default:
		errs = append(errs, fmt.Errorf("transport.type %q is not one of mqtt, redis, memory", c.Transport.Type))
	}
	if c.Transport.QoS > 2 {
		errs = append(errs, fmt.Errorf("transport.qos %d is out of range 0-2", c.Transport.QoS))
	}
	if c.Device.CommandTimeout <= 0 {
		errs = append(errs, errors.New("device.command_timeout must be positive"))
	}
	if c.Sweep.Interval <= 0 {
		errs = append(errs, errors.New("sweep.interval must be positive"))
	}
	return errors.Join(errs...)
}

// GetConfigPath returns the full path for the configuration file.
func GetConfigPath(system bool) (string, error) {
	var configDir string
	if system {
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), "Doorkeeper")
		default:
			configDir = "/etc/doorkeeper"
		}
	} else {
		dir, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(dir, "doorkeeper")
	}
	return filepath.Join(configDir, "doorkeeper.yaml"), nil
}

// LoadConfig resolves T from defaults, the first doorkeeper.yaml found (or
// the explicit path), the environment and the flags of cmd. A missing
// config file is reported as viper.ConfigFileNotFoundError together with
// the defaults-based value.
func LoadConfig[T any](cmd *cobra.Command, defaults map[string]any, explicitPath *string) (T, error) {
	var c T
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("doorkeeper")
	v.SetConfigType("yaml")
	if explicitPath != nil {
		v.SetConfigFile(*explicitPath)
	}
	if userConfigPath, err := GetConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(userConfigPath))
	}
	if systemConfigPath, err := GetConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(systemConfigPath))
	}
	v.AddConfigPath(".")

	var notFound error
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return c, err
		}
		notFound = err
	}
	if notFound == nil && v.ConfigFileUsed() != "" {
		// An empty file parses fine but configures nothing; treat it as absent.
		if fi, err := os.Stat(v.ConfigFileUsed()); err == nil && fi.Size() == 0 {
			notFound = viper.ConfigFileNotFoundError{}
		}
	}

	v.SetEnvPrefix("doorkeeper")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cmd != nil {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return c, err
		}
	}

	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&c, hook); err != nil {
		return c, err
	}
	return c, notFound
}

// WriteConfigFile persists c as YAML at the user or system config path and
// returns the path written.
func WriteConfigFile[T any](c *T, system bool) (string, error) {
	path, err := GetConfigPath(system)
	if err != nil {
		return "", err
	}
	return path, WriteConfigFileTo(c, path)
}

// WriteConfigFileTo persists c as YAML at path.
func WriteConfigFileTo[T any](c *T, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", configDir, err)
	}
	// 0600: the file may carry broker and database credentials.
	return os.WriteFile(path, data, 0o600)
}
