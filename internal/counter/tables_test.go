/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package counter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGeometry_Size(t *testing.T) {
	g := Geometry{Slots: 2, Configs: 3, IPKeySize: 4, ResourceKeySize: 6}
	require.Equal(t, 2*(6+4)+2*(4+4), g.PairSize())
	require.Equal(t, HeaderSize+3*g.PairSize(), g.Size())
}

func TestGeometry_Validate(t *testing.T) {
	require.NoError(t, NewGeometry(1).Validate())
	for _, g := range []Geometry{
		{Slots: 0, Configs: 1, IPKeySize: 1, ResourceKeySize: 1},
		{Slots: 1, Configs: 0, IPKeySize: 1, ResourceKeySize: 1},
		{Slots: 1, Configs: 1, IPKeySize: 0, ResourceKeySize: 1},
		{Slots: 1, Configs: 1, IPKeySize: 1, ResourceKeySize: -1},
	} {
		require.Error(t, g.Validate(), "%+v", g)
	}
}

func TestFormatAndOpen(t *testing.T) {
	g := NewGeometry(3)
	mem := make([]byte, g.Size())
	for i := range mem {
		mem[i] = 0xff
	}

	formatted, err := Format(mem, g)
	require.NoError(t, err)
	require.Equal(t, g, formatted.Geometry())

	ip, err := formatted.IP(2)
	require.NoError(t, err)
	require.Empty(t, ip.Occupants(), "formatting must zero the tables")
	_, err = ip.Increment("::1")
	require.NoError(t, err)

	opened, err := Open(mem)
	require.NoError(t, err)
	require.Equal(t, g, opened.Geometry())

	ip2, err := opened.IP(2)
	require.NoError(t, err)
	require.Equal(t, 1, ip2.Current("::1"))
}

func TestFormat_MemoryTooSmall(t *testing.T) {
	g := NewGeometry(2)
	_, err := Format(make([]byte, g.Size()-1), g)
	require.Error(t, err)
}

func TestOpen_Mismatch(t *testing.T) {
	t.Run("bad magic", func(t *testing.T) {
		_, err := Open(make([]byte, 1024))
		require.ErrorIs(t, err, ErrLayoutMismatch)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := Open([]byte("VLIM"))
		require.ErrorIs(t, err, ErrLayoutMismatch)
	})

	t.Run("truncated tables", func(t *testing.T) {
		g := NewGeometry(2)
		mem := make([]byte, g.Size())
		_, err := Format(mem, g)
		require.NoError(t, err)
		_, err = Open(mem[:g.Size()-1])
		require.ErrorIs(t, err, ErrLayoutMismatch)
	})
}

func TestTables_Isolation(t *testing.T) {
	ts := newTestTables(t, NewGeometry(2))

	res0, err := ts.Resource(0)
	require.NoError(t, err)
	ip0, err := ts.IP(0)
	require.NoError(t, err)
	res1, err := ts.Resource(1)
	require.NoError(t, err)
	ip1, err := ts.IP(1)
	require.NoError(t, err)

	for i := 0; i < DefaultSlots; i++ {
		_, err = res0.Increment(string(rune('a'+i%26)) + string(rune('a'+i/26)))
		require.NoError(t, err)
	}
	_, err = res0.Increment("overflow")
	require.ErrorIs(t, err, ErrTableFull)

	require.Empty(t, ip0.Occupants())
	require.Empty(t, res1.Occupants())
	require.Empty(t, ip1.Occupants())

	_, err = ip1.Increment("10.1.1.1")
	require.NoError(t, err)
	require.Equal(t, 0, ip0.Current("10.1.1.1"))
}

func TestTables_ConfigIDOutOfRange(t *testing.T) {
	ts := newTestTables(t, NewGeometry(1))
	_, err := ts.IP(1)
	require.Error(t, err)
	_, err = ts.Resource(-1)
	require.Error(t, err)
}
