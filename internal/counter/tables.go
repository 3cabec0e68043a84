/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package counter

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Default geometry values.
const (
	DefaultSlots           = 512
	DefaultIPKeySize       = 48
	DefaultResourceKeySize = 256
)

// HeaderSize is the size of the header that precedes the table pairs in memory.
const HeaderSize = 32

const headerMagic = "VLIMSHM1"

// ErrLayoutMismatch is returned when memory does not contain tables of the expected layout.
var ErrLayoutMismatch = errors.New("counter tables layout mismatch")

// Geometry describes how table pairs are laid out in memory.
type Geometry struct {
	Slots           int // capacity of every table
	Configs         int // number of table pairs, one per configuration id
	IPKeySize       int
	ResourceKeySize int
}

// NewGeometry returns the geometry for the specified number of configurations with default slot and key sizes.
func NewGeometry(configs int) Geometry {
	return Geometry{
		Slots:           DefaultSlots,
		Configs:         configs,
		IPKeySize:       DefaultIPKeySize,
		ResourceKeySize: DefaultResourceKeySize,
	}
}

// Validate checks the geometry values.
func (g Geometry) Validate() error {
	switch {
	case g.Slots <= 0:
		return fmt.Errorf("slots number must be positive, got %d", g.Slots)
	case g.Configs <= 0:
		return fmt.Errorf("configurations number must be positive, got %d", g.Configs)
	case g.IPKeySize <= 0 || g.ResourceKeySize <= 0:
		return fmt.Errorf("key sizes must be positive, got ip=%d resource=%d", g.IPKeySize, g.ResourceKeySize)
	}
	return nil
}

func (g Geometry) resourceTableSize() int {
	return g.Slots * (g.ResourceKeySize + counterSize)
}

func (g Geometry) ipTableSize() int {
	return g.Slots * (g.IPKeySize + counterSize)
}

// PairSize returns the number of bytes occupied by the tables of one configuration.
func (g Geometry) PairSize() int {
	return g.resourceTableSize() + g.ipTableSize()
}

// Size returns the number of bytes required for the header and all table pairs.
func (g Geometry) Size() int {
	return HeaderSize + g.Configs*g.PairSize()
}

// Tables is the set of table pairs (resource table followed by IP table) for all configurations.
type Tables struct {
	geo Geometry
	mem []byte
}

// Format writes the header and zeroes all tables. The memory must be at least g.Size() bytes long.
func Format(mem []byte, g Geometry) (*Tables, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if len(mem) < g.Size() {
		return nil, fmt.Errorf("memory is too small: %d bytes, need %d", len(mem), g.Size())
	}
	clear(mem[:g.Size()])
	copy(mem, headerMagic)
	binary.LittleEndian.PutUint32(mem[8:], uint32(g.Slots))            //nolint:gosec // validated
	binary.LittleEndian.PutUint32(mem[12:], uint32(g.Configs))         //nolint:gosec // validated
	binary.LittleEndian.PutUint32(mem[16:], uint32(g.IPKeySize))       //nolint:gosec // validated
	binary.LittleEndian.PutUint32(mem[20:], uint32(g.ResourceKeySize)) //nolint:gosec // validated
	return &Tables{geo: g, mem: mem[:g.Size()]}, nil
}

// Open reads the header written by Format and returns the tables it describes.
func Open(mem []byte) (*Tables, error) {
	if len(mem) < HeaderSize || string(mem[:len(headerMagic)]) != headerMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrLayoutMismatch)
	}
	g := Geometry{
		Slots:           int(binary.LittleEndian.Uint32(mem[8:])),
		Configs:         int(binary.LittleEndian.Uint32(mem[12:])),
		IPKeySize:       int(binary.LittleEndian.Uint32(mem[16:])),
		ResourceKeySize: int(binary.LittleEndian.Uint32(mem[20:])),
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLayoutMismatch, err)
	}
	if len(mem) < g.Size() {
		return nil, fmt.Errorf("%w: memory has %d bytes, header describes %d", ErrLayoutMismatch, len(mem), g.Size())
	}
	return &Tables{geo: g, mem: mem[:g.Size()]}, nil
}

// Geometry returns the layout of the tables.
func (ts *Tables) Geometry() Geometry {
	return ts.geo
}

func (ts *Tables) checkConfigID(configID int) error {
	if configID < 0 || configID >= ts.geo.Configs {
		return fmt.Errorf("configuration id %d is out of range [0, %d)", configID, ts.geo.Configs)
	}
	return nil
}

func (ts *Tables) pairOffset(configID int) int {
	return HeaderSize + configID*ts.geo.PairSize()
}

// Resource returns the resource table of the configuration.
func (ts *Tables) Resource(configID int) (*Table, error) {
	if err := ts.checkConfigID(configID); err != nil {
		return nil, err
	}
	off := ts.pairOffset(configID)
	return newTable(ts.mem[off:off+ts.geo.resourceTableSize()], ts.geo.Slots, ts.geo.ResourceKeySize), nil
}

// IP returns the client address table of the configuration.
func (ts *Tables) IP(configID int) (*Table, error) {
	if err := ts.checkConfigID(configID); err != nil {
		return nil, err
	}
	off := ts.pairOffset(configID) + ts.geo.resourceTableSize()
	return newTable(ts.mem[off:off+ts.geo.ipTableSize()], ts.geo.Slots, ts.geo.IPKeySize), nil
}
