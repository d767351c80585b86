// Copyright (c) 2026 Doorkeeper Team
// Doorkeeper - fingerprint credential synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

package model

import (
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Descriptor is the input for enrolling or registering a credential.
type Descriptor struct {
	ID         int        `json:"id"`
	Name       string     `json:"name"`
	OwnerID    *string    `json:"ownerId,omitempty"`
	ValidUntil *time.Time `json:"validUntil,omitempty"`
}

// ValidateAt checks the descriptor fields against the reference time now.
// The returned error wraps ErrValidation.
func (d Descriptor) ValidateAt(now time.Time) error {
	err := validation.ValidateStruct(&d,
		validation.Field(&d.ID, validation.Required, validation.Min(1)),
		validation.Field(&d.Name, validation.Required, validation.Length(1, 255)),
		validation.Field(&d.OwnerID, validation.NilOrNotEmpty, validation.Length(1, 64)),
		validation.Field(&d.ValidUntil, validation.By(futureAt(now))),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// Credential builds the row inserted once the descriptor is accepted. A
// descriptor with a valid_until starts active, otherwise pending.
func (d Descriptor) Credential(now time.Time) Credential {
	c := Credential{
		ID:        d.ID,
		OwnerID:   d.OwnerID,
		Name:      d.Name,
		Status:    StatusPending,
		CreatedAt: now,
	}
	if d.ValidUntil != nil {
		vu := d.ValidUntil.UTC()
		c.ValidUntil = &vu
		c.Status = StatusActive
	}
	return c
}

var errNotFuture = errors.New("must be in the future")

func futureAt(now time.Time) validation.RuleFunc {
	return func(value any) error {
		t, ok := value.(*time.Time)
		if !ok || t == nil {
			return nil
		}
		if !t.After(now) {
			return errNotFuture
		}
		return nil
	}
}

// ValidateValidUntil enforces the enable precondition: validUntil must be
// strictly after now.
func ValidateValidUntil(validUntil, now time.Time) error {
	if validUntil.IsZero() {
		return Validationf("valid_until is required")
	}
	if !validUntil.After(now) {
		return Validationf("valid_until %s %s", validUntil.UTC().Format(time.RFC3339), errNotFuture)
	}
	return nil
}
