/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/acronis/go-vlimit/internal/counter"
	"github.com/acronis/go-vlimit/internal/shm"
	"github.com/acronis/go-vlimit/log"
)

// Default attach retry parameters.
const (
	DefaultAttachRetryAttempts = 10
	DefaultAttachRetryInterval = 50 * time.Millisecond
)

// Slot is a copy of one occupied counter slot.
type Slot = counter.Slot

// ErrLayoutMismatch is returned when the shared region was created with a different layout.
var ErrLayoutMismatch = counter.ErrLayoutMismatch

// Locker is a mutual exclusion lock that may fail.
type Locker interface {
	Lock() error
	Unlock() error
}

// StoreOpts represents options for creating a Store.
type StoreOpts struct {
	RegionPath string
	LockPath   string
	Slots      int // capacity of every table, counter.DefaultSlots if 0
	Configs    int // number of configuration instances (max configID + 1)
}

// AttachOpts represents options for attaching to an existing Store.
type AttachOpts struct {
	RegionPath string
	LockPath   string
	ReadOnly   bool

	// RetryAttempts and RetryInterval control how attaching is retried
	// while the creator has not finished initializing the region yet.
	RetryAttempts int
	RetryInterval time.Duration
	Logger        log.FieldLogger
}

// Store is the set of counter tables placed in a shared memory region together with the lock that guards them.
type Store struct {
	region   *shm.Region
	lock     *shm.FileLock
	tables   *counter.Tables
	readOnly bool
	owner    bool
}

// CreateStore allocates and zero-initializes the shared region and creates the lock file.
// It is called once at startup before worker processes attach.
func CreateStore(opts StoreOpts) (*Store, error) {
	geo := counter.NewGeometry(opts.Configs)
	if opts.Slots != 0 {
		geo.Slots = opts.Slots
	}
	if err := geo.Validate(); err != nil {
		return nil, err
	}

	region, err := shm.Create(opts.RegionPath, geo.Size())
	if err != nil {
		return nil, err
	}
	tables, err := counter.Format(region.Bytes(), geo)
	if err != nil {
		_ = region.Close()
		return nil, err
	}
	lock, err := shm.CreateLock(opts.LockPath)
	if err != nil {
		_ = region.Close()
		return nil, err
	}
	return &Store{region: region, lock: lock, tables: tables, owner: true}, nil
}

// AttachStore maps the region created by CreateStore and opens the lock.
// Attaching is retried with exponential backoff until opts.RetryAttempts is exhausted or ctx is done.
func AttachStore(ctx context.Context, opts AttachOpts) (*Store, error) {
	attempts := opts.RetryAttempts
	if attempts == 0 {
		attempts = DefaultAttachRetryAttempts
	}
	interval := opts.RetryInterval
	if interval == 0 {
		interval = DefaultAttachRetryInterval
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = interval
	var bo backoff.BackOff = eb
	if attempts > 0 {
		bo = backoff.WithMaxRetries(eb, uint64(attempts))
	}
	bctx := backoff.WithContext(bo, ctx)

	var store *Store
	op := func() error {
		s, err := attachStore(opts)
		if err != nil {
			return err
		}
		store = s
		return nil
	}
	notify := func(err error, delay time.Duration) {
		if opts.Logger != nil {
			opts.Logger.Warn("failed to attach to shared counters, will retry",
				log.Error(err), log.Duration("delay", delay))
		}
	}
	if err := backoff.RetryNotify(op, bctx, notify); err != nil {
		return nil, fmt.Errorf("attach to shared counters: %w", err)
	}
	return store, nil
}

func attachStore(opts AttachOpts) (*Store, error) {
	region, err := shm.Attach(opts.RegionPath, opts.ReadOnly)
	if err != nil {
		return nil, err
	}
	tables, err := counter.Open(region.Bytes())
	if err != nil {
		_ = region.Close()
		return nil, err
	}
	openLock := shm.OpenLock
	if opts.ReadOnly {
		openLock = shm.OpenLockReadOnly
	}
	lock, err := openLock(opts.LockPath)
	if err != nil {
		_ = region.Close()
		return nil, err
	}
	return &Store{region: region, lock: lock, tables: tables, readOnly: opts.ReadOnly}, nil
}

// Lock acquires the cross-process lock.
func (s *Store) Lock() error {
	return s.lock.Lock()
}

// Unlock releases the cross-process lock.
func (s *Store) Unlock() error {
	return s.lock.Unlock()
}

// Configs returns the number of configuration instances the store was sized for.
func (s *Store) Configs() int {
	return s.tables.Geometry().Configs
}

// Slots returns the capacity of every table.
func (s *Store) Slots() int {
	return s.tables.Geometry().Slots
}

// Size returns the size of the shared region in bytes.
func (s *Store) Size() int {
	return s.region.Size()
}

// BytesPerConfig returns the number of bytes occupied by the tables of one configuration.
func (s *Store) BytesPerConfig() int {
	return s.tables.Geometry().PairSize()
}

// RegionPath returns the path of the shared region file.
func (s *Store) RegionPath() string {
	return s.region.Path()
}

// LockPath returns the path of the lock file.
func (s *Store) LockPath() string {
	return s.lock.Path()
}

func (s *Store) tablePair(configID int) (resource, ip *counter.Table, err error) {
	if resource, err = s.tables.Resource(configID); err != nil {
		return nil, nil, err
	}
	if ip, err = s.tables.IP(configID); err != nil {
		return nil, nil, err
	}
	return resource, ip, nil
}

// Snapshot is a copy of the occupied slots of one configuration.
type Snapshot struct {
	ConfigID  int
	IP        []Slot
	Resources []Slot
}

// Snapshot copies the occupied slots of the configuration under the lock.
// A read-only store takes the lock shared, so it needs only read access to the lock file.
func (s *Store) Snapshot(configID int) (Snapshot, error) {
	resTable, ipTable, err := s.tablePair(configID)
	if err != nil {
		return Snapshot{}, err
	}
	lock := s.lock.Lock
	if s.readOnly {
		lock = s.lock.RLock
	}
	if err = lock(); err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{ConfigID: configID, IP: ipTable.Occupants(), Resources: resTable.Occupants()}
	if err = s.Unlock(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Close unmaps the region and closes the lock.
func (s *Store) Close() error {
	return errors.Join(s.region.Close(), s.lock.Close())
}

// Remove deletes the region and lock files. Only the store created by CreateStore removes them.
func (s *Store) Remove() error {
	if !s.owner {
		return nil
	}
	var errs []error
	for _, p := range []string{s.region.Path(), s.lock.Path()} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
