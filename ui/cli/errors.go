// Copyright (c) 2026 Doorkeeper Team
// Doorkeeper - fingerprint credential synchronization
// This source code is licensed under the MIT license found in the LICENSE file.
package cli

import (
	"errors"

	"github.com/toeirei/doorkeeper/client"
	"github.com/toeirei/doorkeeper/internal/i18n"
)

// localizedError keeps the original chain for errors.Is while printing a
// translated message.
type localizedError struct {
	msg string
	err error
}

func (e *localizedError) Error() string { return e.msg }
func (e *localizedError) Unwrap() error { return e.err }

// The order matters: ErrDiverged chains also carry the store cause, and a
// duplicate is a validation error too.
var errorMessages = []struct {
	target error
	id     string
}{
	{client.ErrDiverged, "error.diverged"},
	{client.ErrDeviceRejected, "error.device_rejected"},
	{client.ErrDeviceTimeout, "error.device_timeout"},
	{client.ErrNotFound, "error.not_found"},
	{client.ErrValidation, "error.validation"},
	{client.ErrTransport, "error.transport"},
}

func localize(err error) error {
	if err == nil {
		return nil
	}
	var le *localizedError
	if errors.As(err, &le) {
		return err
	}
	for _, m := range errorMessages {
		if errors.Is(err, m.target) {
			return &localizedError{msg: i18n.T(m.id, err), err: err}
		}
	}
	return err
}
