// Copyright (c) 2026 Doorkeeper Team
// Doorkeeper - fingerprint credential synchronization
// This source code is licensed under the MIT license found in the LICENSE file.
package client

import (
	"context"
	"io"
	"time"
)

type MockClient struct {
	BaseClient Client
	Overwrites MockClientOverwrites
}

type MockClientOverwrites struct {
	CancelScan  func(ctx context.Context, payload []byte) error
	Close       func(ctx context.Context) error
	Counts      func(ctx context.Context) (map[Status]int, error)
	Disable     func(ctx context.Context, id int) (Credential, error)
	Divergences func(ctx context.Context) ([]Divergence, error)
	Enable      func(ctx context.Context, id int, validUntil time.Time) (Credential, error)
	Enroll      func(ctx context.Context, d Descriptor) (Credential, error)
	Export      func(ctx context.Context, w io.Writer) (int, error)
	Get         func(ctx context.Context, id int) (Credential, error)
	Import      func(ctx context.Context, r io.Reader) (ImportResult, error)
	ListAll     func(ctx context.Context) ([]Credential, error)
	ListByOwner func(ctx context.Context, ownerID string) ([]Credential, error)
	Reconcile   func(ctx context.Context) (int, error)
	Register    func(ctx context.Context, d Descriptor) (Credential, error)
	RequestScan func(ctx context.Context, payload []byte) error
	Revoke      func(ctx context.Context, id int) error
	Sweep       func(ctx context.Context) (ExpiryDelta, error)
	Unlock      func(ctx context.Context, payload []byte) error
}

var _ Client = (*MockClient)(nil)

// client := NewMockClient(nil, MockClientOverwrites{ /* overwrite Client methods here... */ })
func NewMockClient(base Client, overwrites MockClientOverwrites) *MockClient {
	return &MockClient{
		BaseClient: base,
		Overwrites: overwrites,
	}
}

// --- Client implementation ---

func (m *MockClient) CancelScan(ctx context.Context, payload []byte) error {
	if m.Overwrites.CancelScan != nil {
		return m.Overwrites.CancelScan(ctx, payload)
	} else if m.BaseClient != nil {
		return m.BaseClient.CancelScan(ctx, payload)
	}
	panic("MockClient.CancelScan not implemented")
}
func (m *MockClient) Close(ctx context.Context) error {
	if m.Overwrites.Close != nil {
		return m.Overwrites.Close(ctx)
	} else if m.BaseClient != nil {
		return m.BaseClient.Close(ctx)
	}
	panic("MockClient.Close not implemented")
}
func (m *MockClient) Counts(ctx context.Context) (map[Status]int, error) {
	if m.Overwrites.Counts != nil {
		return m.Overwrites.Counts(ctx)
	} else if m.BaseClient != nil {
		return m.BaseClient.Counts(ctx)
	}
	panic("MockClient.Counts not implemented")
}
func (m *MockClient) Disable(ctx context.Context, id int) (Credential, error) {
	if m.Overwrites.Disable != nil {
		return m.Overwrites.Disable(ctx, id)
	} else if m.BaseClient != nil {
		return m.BaseClient.Disable(ctx, id)
	}
	panic("MockClient.Disable not implemented")
}
func (m *MockClient) Divergences(ctx context.Context) ([]Divergence, error) {
	if m.Overwrites.Divergences != nil {
		return m.Overwrites.Divergences(ctx)
	} else if m.BaseClient != nil {
		return m.BaseClient.Divergences(ctx)
	}
	panic("MockClient.Divergences not implemented")
}
func (m *MockClient) Enable(ctx context.Context, id int, validUntil time.Time) (Credential, error) {
	if m.Overwrites.Enable != nil {
		return m.Overwrites.Enable(ctx, id, validUntil)
	} else if m.BaseClient != nil {
		return m.BaseClient.Enable(ctx, id, validUntil)
	}
	panic("MockClient.Enable not implemented")
}
func (m *MockClient) Enroll(ctx context.Context, d Descriptor) (Credential, error) {
	if m.Overwrites.Enroll != nil {
		return m.Overwrites.Enroll(ctx, d)
	} else if m.BaseClient != nil {
		return m.BaseClient.Enroll(ctx, d)
	}
	panic("MockClient.Enroll not implemented")
}
func (m *MockClient) Export(ctx context.Context, w io.Writer) (int, error) {
	if m.Overwrites.Export != nil {
		return m.Overwrites.Export(ctx, w)
	} else if m.BaseClient != nil {
		return m.BaseClient.Export(ctx, w)
	}
	panic("MockClient.Export not implemented")
}
func (m *MockClient) Get(ctx context.Context, id int) (Credential, error) {
	if m.Overwrites.Get != nil {
		return m.Overwrites.Get(ctx, id)
	} else if m.BaseClient != nil {
		return m.BaseClient.Get(ctx, id)
	}
	panic("MockClient.Get not implemented")
}
func (m *MockClient) Import(ctx context.Context, r io.Reader) (ImportResult, error) {
	if m.Overwrites.Import != nil {
		return m.Overwrites.Import(ctx, r)
	} else if m.BaseClient != nil {
		return m.BaseClient.Import(ctx, r)
	}
	panic("MockClient.Import not implemented")
}
func (m *MockClient) ListAll(ctx context.Context) ([]Credential, error) {
	if m.Overwrites.ListAll != nil {
		return m.Overwrites.ListAll(ctx)
	} else if m.BaseClient != nil {
		return m.BaseClient.ListAll(ctx)
	}
	panic("MockClient.ListAll not implemented")
}
func (m *MockClient) ListByOwner(ctx context.Context, ownerID string) ([]Credential, error) {
	if m.Overwrites.ListByOwner != nil {
		return m.Overwrites.ListByOwner(ctx, ownerID)
	} else if m.BaseClient != nil {
		return m.BaseClient.ListByOwner(ctx, ownerID)
	}
	panic("MockClient.ListByOwner not implemented")
}
func (m *MockClient) Reconcile(ctx context.Context) (int, error) {
	if m.Overwrites.Reconcile != nil {
		return m.Overwrites.Reconcile(ctx)
	} else if m.BaseClient != nil {
		return m.BaseClient.Reconcile(ctx)
	}
	panic("MockClient.Reconcile not implemented")
}
func (m *MockClient) Register(ctx context.Context, d Descriptor) (Credential, error) {
	if m.Overwrites.Register != nil {
		return m.Overwrites.Register(ctx, d)
	} else if m.BaseClient != nil {
		return m.BaseClient.Register(ctx, d)
	}
	panic("MockClient.Register not implemented")
}
func (m *MockClient) RequestScan(ctx context.Context, payload []byte) error {
	if m.Overwrites.RequestScan != nil {
		return m.Overwrites.RequestScan(ctx, payload)
	} else if m.BaseClient != nil {
		return m.BaseClient.RequestScan(ctx, payload)
	}
	panic("MockClient.RequestScan not implemented")
}
func (m *MockClient) Revoke(ctx context.Context, id int) error {
	if m.Overwrites.Revoke != nil {
		return m.Overwrites.Revoke(ctx, id)
	} else if m.BaseClient != nil {
		return m.BaseClient.Revoke(ctx, id)
	}
	panic("MockClient.Revoke not implemented")
}
func (m *MockClient) Sweep(ctx context.Context) (ExpiryDelta, error) {
	if m.Overwrites.Sweep != nil {
		return m.Overwrites.Sweep(ctx)
	} else if m.BaseClient != nil {
		return m.BaseClient.Sweep(ctx)
	}
	panic("MockClient.Sweep not implemented")
}
func (m *MockClient) Unlock(ctx context.Context, payload []byte) error {
	if m.Overwrites.Unlock != nil {
		return m.Overwrites.Unlock(ctx, payload)
	} else if m.BaseClient != nil {
		return m.BaseClient.Unlock(ctx, payload)
	}
	panic("MockClient.Unlock not implemented")
}
