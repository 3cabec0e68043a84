/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-vlimit/internal/counter"
)

func newTestStore(t *testing.T, slots, configs int) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := CreateStore(StoreOpts{
		RegionPath: filepath.Join(dir, "vlimit.shm"),
		LockPath:   filepath.Join(dir, "vlimit.lock"),
		Slots:      slots,
		Configs:    configs,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCreateStore(t *testing.T) {
	store := newTestStore(t, 0, 3)
	require.Equal(t, 3, store.Configs())
	require.Equal(t, counter.DefaultSlots, store.Slots())
	require.Equal(t, counter.HeaderSize+3*store.BytesPerConfig(), store.Size())
	require.Equal(t, counter.DefaultSlots*(counter.DefaultIPKeySize+4+counter.DefaultResourceKeySize+4), store.BytesPerConfig())

	_, err := CreateStore(StoreOpts{RegionPath: filepath.Join(t.TempDir(), "r"), LockPath: filepath.Join(t.TempDir(), "l")})
	require.Error(t, err, "zero configurations must be rejected")
}

func TestAttachStore(t *testing.T) {
	store := newTestStore(t, 4, 2)

	attached, err := AttachStore(context.Background(), AttachOpts{RegionPath: store.RegionPath(), LockPath: store.LockPath()})
	require.NoError(t, err)
	defer func() { require.NoError(t, attached.Close()) }()
	require.Equal(t, 2, attached.Configs())
	require.Equal(t, 4, attached.Slots())

	// Both stores see the same memory.
	ipTable, err := store.tables.IP(1)
	require.NoError(t, err)
	_, err = ipTable.Increment("10.0.0.1")
	require.NoError(t, err)
	snap, err := attached.Snapshot(1)
	require.NoError(t, err)
	require.Equal(t, Snapshot{ConfigID: 1, IP: []Slot{{Index: 0, Key: "10.0.0.1", Counter: 1}}}, snap)

	_, err = attached.Snapshot(2)
	require.Error(t, err)
}

func TestAttachStore_ReadOnly(t *testing.T) {
	store := newTestStore(t, 4, 1)
	ro, err := AttachStore(context.Background(), AttachOpts{
		RegionPath: store.RegionPath(), LockPath: store.LockPath(), ReadOnly: true,
	})
	require.NoError(t, err)
	defer func() { require.NoError(t, ro.Close()) }()

	_, err = NewEngine(ro, EngineOpts{})
	require.EqualError(t, err, "store is attached in read-only mode")

	snap, err := ro.Snapshot(0)
	require.NoError(t, err)
	require.Empty(t, snap.IP)
	require.Empty(t, snap.Resources)
}

func TestAttachStore_ReadOnlyWithoutWritePermission(t *testing.T) {
	store := newTestStore(t, 4, 1)
	ipTable, err := store.tables.IP(0)
	require.NoError(t, err)
	_, err = ipTable.Increment("10.0.0.1")
	require.NoError(t, err)
	require.NoError(t, os.Chmod(store.RegionPath(), 0o400))
	require.NoError(t, os.Chmod(store.LockPath(), 0o400))

	ro, err := AttachStore(context.Background(), AttachOpts{
		RegionPath: store.RegionPath(), LockPath: store.LockPath(), ReadOnly: true, RetryAttempts: 1,
	})
	require.NoError(t, err)
	defer func() { require.NoError(t, ro.Close()) }()

	// The snapshot waits for a writer holding the lock.
	require.NoError(t, store.Lock())
	snapErr := make(chan error, 1)
	var snap Snapshot
	go func() {
		var sErr error
		snap, sErr = ro.Snapshot(0)
		snapErr <- sErr
	}()
	select {
	case <-snapErr:
		t.Fatal("snapshot must wait while the lock is held")
	case <-time.After(100 * time.Millisecond):
	}
	require.NoError(t, store.Unlock())
	require.NoError(t, <-snapErr)
	require.Equal(t, []Slot{{Index: 0, Key: "10.0.0.1", Counter: 1}}, snap.IP)
}

func TestAttachStore_Retry(t *testing.T) {
	dir := t.TempDir()
	regionPath, lockPath := filepath.Join(dir, "vlimit.shm"), filepath.Join(dir, "vlimit.lock")

	t.Run("gives up", func(t *testing.T) {
		_, err := AttachStore(context.Background(), AttachOpts{
			RegionPath: regionPath, LockPath: lockPath, RetryAttempts: 2, RetryInterval: time.Millisecond,
		})
		require.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("succeeds after region appears", func(t *testing.T) {
		created := make(chan *Store, 1)
		go func() {
			time.Sleep(50 * time.Millisecond)
			s, err := CreateStore(StoreOpts{RegionPath: regionPath, LockPath: lockPath, Slots: 2, Configs: 1})
			if err != nil {
				created <- nil
				return
			}
			created <- s
		}()
		attached, err := AttachStore(context.Background(), AttachOpts{
			RegionPath: regionPath, LockPath: lockPath, RetryAttempts: -1, RetryInterval: 10 * time.Millisecond,
		})
		require.NoError(t, err)
		require.NoError(t, attached.Close())
		s := <-created
		require.NotNil(t, s)
		require.NoError(t, s.Close())
		require.NoError(t, s.Remove())
		require.NoFileExists(t, regionPath)
		require.NoFileExists(t, lockPath)
	})

	t.Run("context canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := AttachStore(ctx, AttachOpts{RegionPath: regionPath, LockPath: lockPath, RetryAttempts: -1})
		require.Error(t, err)
	})
}

func TestAttachStore_LayoutMismatch(t *testing.T) {
	dir := t.TempDir()
	regionPath := filepath.Join(dir, "garbage.shm")
	require.NoError(t, os.WriteFile(regionPath, make([]byte, 128), 0o600))
	_, err := AttachStore(context.Background(), AttachOpts{
		RegionPath: regionPath, LockPath: filepath.Join(dir, "l"), RetryAttempts: 1, RetryInterval: time.Millisecond,
	})
	require.ErrorIs(t, err, ErrLayoutMismatch)
}
