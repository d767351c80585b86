// Copyright (c) 2026 Doorkeeper Team
// Doorkeeper - fingerprint credential synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

package expiry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toeirei/doorkeeper/internal/db"
	"github.com/toeirei/doorkeeper/internal/lifecycle"
	"github.com/toeirei/doorkeeper/internal/model"
	"github.com/toeirei/doorkeeper/internal/testutil"
	"github.com/toeirei/doorkeeper/internal/transport"
)

type fixture struct {
	store   db.CredentialStore
	machine *lifecycle.Machine
	tr      transport.Transport
	dev     *testutil.FakeDevice
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, testutil.NewStore(t), transport.NewMemory())
}

func newFixtureWith(t *testing.T, store db.CredentialStore, tr transport.Transport) *fixture {
	t.Helper()
	f := &fixture{store: store, tr: tr, now: time.Now().UTC().Truncate(time.Second)}
	f.machine = lifecycle.New(store, lifecycle.WithClock(func() time.Time { return f.now }))
	dev, err := testutil.StartFakeDevice(context.Background(), tr, testutil.Silent())
	require.NoError(t, err)
	f.dev = dev
	t.Cleanup(func() {
		dev.Close()
		_ = tr.Close()
	})
	return f
}

func (f *fixture) insert(t *testing.T, id int, status model.Status, validUntil *time.Time) {
	t.Helper()
	_, err := f.store.Insert(context.Background(), model.Credential{ID: id, Name: "finger", Status: status, ValidUntil: validUntil, CreatedAt: f.now})
	require.NoError(t, err)
}

func (f *fixture) broadcasts(t *testing.T, n int) []model.ExpiryDelta {
	t.Helper()
	require.Eventually(t, func() bool { return len(f.dev.Received(model.TopicExpired)) >= n }, 2*time.Second, 5*time.Millisecond)
	var out []model.ExpiryDelta
	for _, raw := range f.dev.Received(model.TopicExpired) {
		var d model.ExpiryDelta
		require.NoError(t, json.Unmarshal(raw, &d))
		out = append(out, d)
	}
	return out
}

func TestSweepTransitionsOnlyExpired(t *testing.T) {
	f := newFixture(t)
	past := f.now.Add(-time.Minute)
	future := f.now.Add(time.Hour)
	f.insert(t, 1, model.StatusActive, &past)
	f.insert(t, 2, model.StatusActive, &future)

	s := New(f.store, f.machine, f.tr)
	delta, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1}, delta.List)

	a, _ := f.store.Get(context.Background(), 1)
	assert.Equal(t, model.StatusInactive, a.Status)
	assert.Nil(t, a.ValidUntil)
	b, _ := f.store.Get(context.Background(), 2)
	assert.Equal(t, model.StatusActive, b.Status)

	deltas := f.broadcasts(t, 1)
	assert.Equal(t, []int{1}, deltas[0].List)
	assert.JSONEq(t, `{"list":[1]}`, string(f.dev.Received(model.TopicExpired)[0]))
}

func TestConsecutiveSweepsPublishThenEmpty(t *testing.T) {
	f := newFixture(t)
	past := f.now.Add(-time.Minute)
	f.insert(t, 1, model.StatusActive, &past)
	s := New(f.store, f.machine, f.tr)

	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	delta, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, delta.List)

	deltas := f.broadcasts(t, 2)
	assert.Equal(t, []int{1}, deltas[0].List)
	assert.Empty(t, deltas[1].List)
	assert.JSONEq(t, `{"list":[]}`, string(f.dev.Received(model.TopicExpired)[1]))
}

func TestEnableFutureSurvivesSweep(t *testing.T) {
	f := newFixture(t)
	f.insert(t, 3, model.StatusPending, nil)
	_, err := f.machine.Enable(context.Background(), 3, f.now.Add(time.Hour))
	require.NoError(t, err)

	s := New(f.store, f.machine, f.tr)
	delta, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, delta.List)
	c, _ := f.store.Get(context.Background(), 3)
	assert.Equal(t, model.StatusActive, c.Status)

	// Once the clock passes valid_until the next sweep retires it.
	f.now = f.now.Add(2 * time.Hour)
	delta, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{3}, delta.List)
}

func TestStaleValidUntilOnInactiveReportedOnce(t *testing.T) {
	f := newFixture(t)
	past := f.now.Add(-time.Hour)
	f.insert(t, 4, model.StatusInactive, &past)
	f.insert(t, 5, model.StatusPending, &past)
	s := New(f.store, f.machine, f.tr)

	delta, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{4, 5}, delta.List)

	c4, _ := f.store.Get(context.Background(), 4)
	assert.Equal(t, model.StatusInactive, c4.Status)
	assert.Nil(t, c4.ValidUntil)
	c5, _ := f.store.Get(context.Background(), 5)
	assert.Equal(t, model.StatusPending, c5.Status, "status is kept, only the stale timestamp is cleared")

	delta, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, delta.List)
}

func TestDeltaOrderedByValidUntil(t *testing.T) {
	f := newFixture(t)
	older := f.now.Add(-2 * time.Hour)
	old := f.now.Add(-time.Hour)
	f.insert(t, 20, model.StatusActive, &old)
	f.insert(t, 21, model.StatusActive, &older)
	f.insert(t, 19, model.StatusActive, &old)

	delta, err := New(f.store, f.machine, f.tr).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{21, 19, 20}, delta.List)
}

// racingStore removes the first expired row between the scan and the write,
// as a concurrent revoke would.
type racingStore struct {
	db.CredentialStore
}

func (r racingStore) ScanExpired(ctx context.Context, now time.Time) ([]model.Credential, error) {
	rows, err := r.CredentialStore.ScanExpired(ctx, now)
	if err == nil && len(rows) > 0 {
		_, _ = r.CredentialStore.DeleteByID(ctx, rows[0].ID)
	}
	return rows, err
}

func TestConcurrentDeleteIsNotReported(t *testing.T) {
	f := newFixture(t)
	older := f.now.Add(-2 * time.Hour)
	old := f.now.Add(-time.Hour)
	f.insert(t, 1, model.StatusActive, &older)
	f.insert(t, 2, model.StatusActive, &old)

	racing := racingStore{CredentialStore: f.store}
	machine := lifecycle.New(racing, lifecycle.WithClock(func() time.Time { return f.now }))
	delta, err := New(racing, machine, f.tr).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{2}, delta.List)
}

// enablingStore re-enables the first expired row between the scan and the
// write, as an operator racing the sweep would.
type enablingStore struct {
	db.CredentialStore
	machine func() *lifecycle.Machine
	until   time.Time
}

func (e enablingStore) ScanExpired(ctx context.Context, now time.Time) ([]model.Credential, error) {
	rows, err := e.CredentialStore.ScanExpired(ctx, now)
	if err == nil && len(rows) > 0 {
		if _, eerr := e.machine().Enable(ctx, rows[0].ID, e.until); eerr != nil {
			return nil, eerr
		}
	}
	return rows, err
}

func TestConcurrentEnableIsNotOverwritten(t *testing.T) {
	f := newFixture(t)
	old := f.now.Add(-time.Hour)
	until := f.now.Add(time.Hour)
	f.insert(t, 1, model.StatusActive, &old)

	var machine *lifecycle.Machine
	racing := enablingStore{CredentialStore: f.store, machine: func() *lifecycle.Machine { return machine }, until: until}
	machine = lifecycle.New(racing, lifecycle.WithClock(func() time.Time { return f.now }))

	delta, err := New(racing, machine, f.tr).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, delta.List)

	got, err := f.store.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, got.Status)
	require.NotNil(t, got.ValidUntil)
	assert.True(t, got.ValidUntil.Equal(until), "valid_until %v", got.ValidUntil)
}

type failingScan struct {
	db.CredentialStore
}

func (failingScan) ScanExpired(context.Context, time.Time) ([]model.Credential, error) {
	return nil, errors.New("database is locked")
}

func TestLoopSurvivesFailures(t *testing.T) {
	f := newFixture(t)
	store := failingScan{CredentialStore: f.store}

	var runs atomic.Int32
	var mu sync.Mutex
	var lastErr error
	s := New(store, f.machine, f.tr,
		WithInterval(10*time.Millisecond),
		WithRunOnStart(true),
		WithAfterRun(func(_ context.Context, _ model.ExpiryDelta, err error) {
			runs.Add(1)
			mu.Lock()
			lastErr = err
			mu.Unlock()
		}),
	)
	require.NoError(t, s.Start(context.Background()))
	require.Error(t, s.Start(context.Background()), "second Start must fail")

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Error(t, lastErr)
	assert.Empty(t, f.dev.Received(model.TopicExpired), "nothing is published when the scan fails")
}

func TestPublishFailureIsReturned(t *testing.T) {
	flaky := testutil.NewFlakyTransport(transport.NewMemory())
	f := newFixtureWith(t, testutil.NewStore(t), flaky)
	past := f.now.Add(-time.Minute)
	f.insert(t, 1, model.StatusActive, &past)
	flaky.FailPublish(errors.New("broker down"))

	delta, err := New(f.store, f.machine, f.tr).RunOnce(context.Background())
	require.ErrorIs(t, err, model.ErrTransport)
	assert.Equal(t, []int{1}, delta.List)
	c, _ := f.store.Get(context.Background(), 1)
	assert.Equal(t, model.StatusInactive, c.Status)
}

func TestStartRunsImmediately(t *testing.T) {
	f := newFixture(t)
	s := New(f.store, f.machine, f.tr, WithInterval(time.Hour), WithRunOnStart(true))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	f.broadcasts(t, 1)
}
