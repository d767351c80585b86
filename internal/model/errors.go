// Copyright (c) 2026 Doorkeeper Team
// Doorkeeper - fingerprint credential synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

package model

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed or missing input rejected before any I/O.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned when a credential id has no row.
	ErrNotFound = errors.New("credential not found")
	// ErrDuplicate is returned when inserting an id that already exists.
	ErrDuplicate = fmt.Errorf("duplicate credential: %w", ErrValidation)
	// ErrDeviceTimeout is returned when the sensor did not answer before the deadline.
	ErrDeviceTimeout = errors.New("device did not reply in time")
	// ErrDeviceRejected is returned when the sensor answered with a failure status.
	ErrDeviceRejected = errors.New("device rejected command")
	// ErrTransport wraps publish/subscribe connection failures.
	ErrTransport = errors.New("transport error")
	// ErrStore wraps persistence failures.
	ErrStore = errors.New("store error")
	// ErrDiverged is returned when the device acknowledged a command but the
	// matching store write failed. Operators must reconcile.
	ErrDiverged = errors.New("device and store diverged")
	// ErrCommandInFlight is returned when a command for the same credential is outstanding.
	ErrCommandInFlight = errors.New("command already in flight for credential")
	// ErrInvalidTransition is returned for lifecycle changes the state table forbids.
	ErrInvalidTransition = errors.New("invalid credential state transition")
)

// DeviceRejectedError carries the failure message echoed by the device.
type DeviceRejectedError struct {
	ID      int
	Kind    CommandKind
	Message string
}

func (e *DeviceRejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("device rejected %s for credential %d", e.Kind, e.ID)
	}
	return fmt.Sprintf("device rejected %s for credential %d: %s", e.Kind, e.ID, e.Message)
}

// Is lets errors.Is(err, ErrDeviceRejected) match.
func (e *DeviceRejectedError) Is(target error) bool {
	return target == ErrDeviceRejected
}

// Validationf builds an ErrValidation with a formatted reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Retryable reports whether a failed operation may succeed if repeated
// unchanged. A device rejection is a definitive answer and is not retryable.
func Retryable(err error) bool {
	return errors.Is(err, ErrDeviceTimeout) || errors.Is(err, ErrTransport)
}
