/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package counter implements fixed-capacity tables of string-keyed counters laid out in a flat byte slice,
// so they can live in memory shared between processes. Nothing in this package synchronizes access:
// callers must hold the cross-process lock for every call.
package counter

import (
	"encoding/binary"
	"errors"
	"strings"
)

// Errors returned by the counter protocol.
var (
	ErrTableFull        = errors.New("no free slot in table")
	ErrSlotNotFound     = errors.New("no slot for key")
	ErrCounterUnderflow = errors.New("counter is already zero")
	ErrEmptyKey         = errors.New("empty key")
)

const counterSize = 4

// Slot is a copy of one occupied table entry.
type Slot struct {
	Index   int
	Key     string
	Counter int
}

// Table is a fixed-capacity associative array of key -> counter.
// Each slot is keySize bytes of NUL-padded key followed by a little-endian int32 counter.
// A slot is empty iff the first byte of its key is 0.
type Table struct {
	mem      []byte
	slots    int
	keySize  int
	slotSize int
}

func newTable(mem []byte, slots, keySize int) *Table {
	return &Table{mem: mem, slots: slots, keySize: keySize, slotSize: keySize + counterSize}
}

// NormalizeKey returns the key as it is stored in the table.
func (t *Table) NormalizeKey(key string) string {
	if i := strings.IndexByte(key, 0); i >= 0 {
		key = key[:i]
	}
	if len(key) > t.keySize {
		key = key[:t.keySize]
	}
	return key
}

func (t *Table) keyBytes(i int) []byte {
	off := i * t.slotSize
	return t.mem[off : off+t.keySize]
}

func (t *Table) counterBytes(i int) []byte {
	off := i*t.slotSize + t.keySize
	return t.mem[off : off+counterSize]
}

// Occupied reports whether the slot holds a key.
func (t *Table) Occupied(i int) bool {
	return t.keyBytes(i)[0] != 0
}

// Key returns the key stored in the slot or an empty string for an empty slot.
func (t *Table) Key(i int) string {
	kb := t.keyBytes(i)
	n := 0
	for n < len(kb) && kb[n] != 0 {
		n++
	}
	return string(kb[:n])
}

func (t *Table) keyEquals(i int, key string) bool {
	kb := t.keyBytes(i)
	if kb[0] == 0 {
		return false
	}
	if len(key) < len(kb) && kb[len(key)] != 0 {
		return false
	}
	return string(kb[:len(key)]) == key
}

// Find returns the index of the slot holding the key.
func (t *Table) Find(key string) (int, bool) {
	key = t.NormalizeKey(key)
	if key == "" {
		return 0, false
	}
	for i := 0; i < t.slots; i++ {
		if t.keyEquals(i, key) {
			return i, true
		}
	}
	return 0, false
}

// FindEmpty returns the index of the first empty slot. False means the table is full.
func (t *Table) FindEmpty() (int, bool) {
	for i := 0; i < t.slots; i++ {
		if !t.Occupied(i) {
			return i, true
		}
	}
	return 0, false
}

// Get returns the counter of the slot.
func (t *Table) Get(i int) int {
	return int(int32(binary.LittleEndian.Uint32(t.counterBytes(i)))) //nolint:gosec // stored as int32
}

// Set stores the counter of the slot.
func (t *Table) Set(i, value int) {
	binary.LittleEndian.PutUint32(t.counterBytes(i), uint32(int32(value))) //nolint:gosec // counters are small
}

// Occupy writes the key into the slot and resets its counter.
func (t *Table) Occupy(i int, key string) {
	key = t.NormalizeKey(key)
	kb := t.keyBytes(i)
	n := copy(kb, key)
	clear(kb[n:])
	t.Set(i, 0)
}

// Vacate clears the slot making it indistinguishable from a never used one.
func (t *Table) Vacate(i int) {
	clear(t.keyBytes(i))
	t.Set(i, 0)
}

// Increment finds the slot for the key (allocating an empty one if needed) and increments its counter.
// ErrTableFull is returned, and nothing is modified, when the key is new and no slot is free.
func (t *Table) Increment(key string) (int, error) {
	key = t.NormalizeKey(key)
	if key == "" {
		return 0, ErrEmptyKey
	}
	i, ok := t.Find(key)
	if !ok {
		if i, ok = t.FindEmpty(); !ok {
			return 0, ErrTableFull
		}
		t.Occupy(i, key)
	}
	n := t.Get(i) + 1
	t.Set(i, n)
	return n, nil
}

// Decrement decrements the counter of the existing slot for the key.
// The counter never goes below zero: ErrCounterUnderflow is returned instead.
func (t *Table) Decrement(key string) (int, error) {
	i, ok := t.Find(key)
	if !ok {
		return 0, ErrSlotNotFound
	}
	n := t.Get(i)
	if n <= 0 {
		return n, ErrCounterUnderflow
	}
	n--
	t.Set(i, n)
	return n, nil
}

// ReclaimIfEmpty vacates the slot for the key if its counter is exactly zero.
func (t *Table) ReclaimIfEmpty(key string) bool {
	i, ok := t.Find(key)
	if !ok || t.Get(i) != 0 {
		return false
	}
	t.Vacate(i)
	return true
}

// Current returns the counter for the key or 0 if the key has no slot.
func (t *Table) Current(key string) int {
	if i, ok := t.Find(key); ok {
		return t.Get(i)
	}
	return 0
}

// Occupants returns copies of all occupied slots in index order.
func (t *Table) Occupants() []Slot {
	var res []Slot
	for i := 0; i < t.slots; i++ {
		if t.Occupied(i) {
			res = append(res, Slot{Index: i, Key: t.Key(i), Counter: t.Get(i)})
		}
	}
	return res
}
