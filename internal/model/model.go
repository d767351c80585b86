// Copyright (c) 2026 Doorkeeper Team
// Doorkeeper - fingerprint credential synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

// Package model holds the domain types shared by the store, the device
// protocol and the lifecycle code.
package model

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a credential.
type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	// StatusDeleted is terminal and never persisted; a deleted credential has no row.
	StatusDeleted Status = "deleted"
)

// Valid reports whether s is one of the persisted states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusInactive:
		return true
	}
	return false
}

// Credential is a fingerprint template enrolled on the sensor and bound to a user.
type Credential struct {
	ID         int
	OwnerID    *string
	Name       string
	Status     Status
	ValidUntil *time.Time
	CreatedAt  time.Time
}

// String returns a compact representation used in logs and CLI output.
func (c Credential) String() string {
	owner := "-"
	if c.OwnerID != nil {
		owner = *c.OwnerID
	}
	if c.ValidUntil != nil {
		return fmt.Sprintf("#%d %q owner=%s %s until %s", c.ID, c.Name, owner, c.Status, c.ValidUntil.UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf("#%d %q owner=%s %s", c.ID, c.Name, owner, c.Status)
}

// ExpiredAt reports whether the credential carries a valid_until at or before now.
func (c Credential) ExpiredAt(now time.Time) bool {
	return c.ValidUntil != nil && !c.ValidUntil.After(now)
}

// CommandKind identifies a device command that expects a reply.
type CommandKind string

const (
	CommandCreate CommandKind = "create"
	CommandDelete CommandKind = "delete"
)

// Device topics.
const (
	TopicCreate          = "/create"
	TopicDelete          = "/delete"
	TopicUnlock          = "/unlock"
	TopicCancel          = "/cancel"
	TopicCreateResponse  = "/create/response"
	TopicDeleteResponse  = "/delete/response"
	TopicExpired         = "/expiredFingerprints"
	TopicAccessEvent     = "/fingerprint"
	ReplyStatusSuccess   = "success"
	ReplyStatusFailure   = "failure"
	defaultReplySuffix   = "/response"
	defaultCommandPrefix = "/"
)

// CommandTopic returns the topic a command of kind k is published on.
func CommandTopic(k CommandKind) string {
	return defaultCommandPrefix + string(k)
}

// ReplyTopic returns the topic the device answers a command of kind k on.
func ReplyTopic(k CommandKind) string {
	return CommandTopic(k) + defaultReplySuffix
}

// DeviceReply is the JSON acknowledgement the sensor publishes after a command.
type DeviceReply struct {
	Status  string `json:"status"`
	ID      int    `json:"id"`
	Message string `json:"message,omitempty"`
}

// ExpiryDelta lists the credentials retired by one sweep pass. It is only
// ever broadcast, never stored.
type ExpiryDelta struct {
	List []int `json:"list"`
}

// AccessEvent is a scan result reported by the sensor on the access topic.
type AccessEvent struct {
	FingerID     int    `json:"fingerId"`
	AccessResult string `json:"accessResult"`
	EventType    string `json:"eventType"`
}

// AccessLogEntry is a persisted AccessEvent with the resolved owner.
type AccessLogEntry struct {
	ID            int64
	UserID        *string
	FingerprintID int
	AccessResult  string
	EventType     string
	AccessTime    time.Time
}

// Divergence records a device-acknowledged command whose store write failed,
// leaving the sensor and the store out of sync until it is replayed.
type Divergence struct {
	ID           int64
	CredentialID int
	Kind         CommandKind
	Payload      []byte
	Error        string
	Attempts     int
	CreatedAt    time.Time
}
