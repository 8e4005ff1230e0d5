package flashlib_test

import (
	"testing"

	"github.com/tarndt/flashbd/pkg/devices/rambd"
	"github.com/tarndt/flashbd/pkg/devices/testutil"
	"github.com/tarndt/flashbd/pkg/flashlib"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStrict(t *testing.T, geo flashlib.Geometry, opts ...flashlib.StrictOption) (*flashlib.Strict, *rambd.RAMBD) {
	ram, err := rambd.NewRAMBD(geo)
	require.NoError(t, err)
	strict, err := flashlib.NewStrict(ram, opts...)
	require.NoError(t, err)
	return strict, ram
}

func TestStrictDevice(t *testing.T) {
	geo := flashlib.Geometry{ReadSize: 1, ProgSize: 1, EraseSize: 1024, EraseCount: 8}
	strict, _ := newStrict(t, geo)
	testutil.TestDevice(t, strict, geo)
}

func TestStrictNotErased(t *testing.T) {
	geo := flashlib.Geometry{ReadSize: 1, ProgSize: 16, EraseSize: 256, EraseCount: 4}
	strict, ram := newStrict(t, geo)

	require.NoError(t, strict.ProgramBlock(1, 0, []byte("hello")))
	assert.False(t, strict.IsErased(1))
	assert.True(t, strict.IsErased(0))
	assert.True(t, strict.IsErased(2))

	t.Run("same-region", func(t *testing.T) {
		err := strict.ProgramBlock(1, 0, []byte("jello"))
		require.ErrorIs(t, err, flashlib.ErrNotErased)
		assert.Equal(t, flashlib.CodeNotErased, flashlib.ErrorCode(err))
		assert.Equal(t, []byte("hello"), ram.Bytes()[256:261], "rejected program modified the device")
	})

	t.Run("same-unit", func(t *testing.T) {
		require.ErrorIs(t, strict.ProgramBlock(1, 15, []byte{1}), flashlib.ErrNotErased)
	})

	t.Run("spanning-unit", func(t *testing.T) {
		require.ErrorIs(t, strict.ProgramBlock(1, 8, make([]byte, 16)), flashlib.ErrNotErased)
	})

	t.Run("next-unit", func(t *testing.T) {
		require.NoError(t, strict.ProgramBlock(1, 16, []byte{1}))
	})

	t.Run("after-erase", func(t *testing.T) {
		require.NoError(t, strict.EraseBlock(1))
		assert.True(t, strict.IsErased(1))
		require.NoError(t, strict.ProgramBlock(1, 0, []byte("jello")))
	})

	t.Run("empty", func(t *testing.T) {
		require.NoError(t, strict.ProgramBlock(1, 0, nil))
	})

	t.Run("out-of-range", func(t *testing.T) {
		require.ErrorIs(t, strict.ProgramBlock(4, 0, []byte{1}), flashlib.ErrRange)
		require.ErrorIs(t, strict.ProgramBlock(1, 250, make([]byte, 7)), flashlib.ErrRange)
		assert.False(t, strict.IsErased(4))
	})
}

func TestStrictScan(t *testing.T) {
	geo := flashlib.Geometry{ReadSize: 1, ProgSize: 4, EraseSize: 64, EraseCount: 4}
	ram, err := rambd.NewRAMBD(geo)
	require.NoError(t, err)
	require.NoError(t, ram.ProgramBlock(2, 9, []byte{0}))

	strict, err := flashlib.NewStrict(ram)
	require.NoError(t, err)

	assert.True(t, strict.IsErased(0))
	assert.True(t, strict.IsErased(1))
	assert.False(t, strict.IsErased(2))
	assert.True(t, strict.IsErased(3))

	require.ErrorIs(t, strict.ProgramBlock(2, 8, []byte{1}), flashlib.ErrNotErased)
	require.NoError(t, strict.ProgramBlock(2, 12, []byte{1}))
}

func TestStrictAlignment(t *testing.T) {
	geo := flashlib.Geometry{ReadSize: 4, ProgSize: 8, EraseSize: 64, EraseCount: 4}

	t.Run("enforced", func(t *testing.T) {
		strict, _ := newStrict(t, geo, flashlib.OptEnforceAlignment(true))

		require.NoError(t, strict.ReadBlock(0, 4, make([]byte, 8)))
		require.ErrorIs(t, strict.ReadBlock(0, 1, make([]byte, 4)), flashlib.ErrMisaligned)
		require.ErrorIs(t, strict.ReadBlock(0, 0, make([]byte, 3)), flashlib.ErrMisaligned)

		require.NoError(t, strict.ProgramBlock(0, 8, make([]byte, 16)))
		err := strict.ProgramBlock(1, 4, make([]byte, 8))
		require.ErrorIs(t, err, flashlib.ErrMisaligned)
		assert.Equal(t, flashlib.CodeInval, flashlib.ErrorCode(err))
		require.ErrorIs(t, strict.ProgramBlock(1, 0, make([]byte, 7)), flashlib.ErrMisaligned)
		assert.True(t, strict.IsErased(1))
	})

	t.Run("relaxed", func(t *testing.T) {
		strict, _ := newStrict(t, geo)
		require.NoError(t, strict.ReadBlock(0, 1, make([]byte, 3)))
		require.NoError(t, strict.ProgramBlock(1, 4, make([]byte, 7)))
	})
}

func TestStrictStats(t *testing.T) {
	geo := flashlib.Geometry{ReadSize: 1, ProgSize: 1, EraseSize: 64, EraseCount: 4}
	strict, _ := newStrict(t, geo)

	require.NoError(t, strict.EraseBlock(0))
	require.NoError(t, strict.ProgramBlock(0, 0, make([]byte, 10)))
	require.ErrorIs(t, strict.ProgramBlock(0, 0, make([]byte, 10)), flashlib.ErrNotErased)
	require.NoError(t, strict.ReadBlock(0, 0, make([]byte, 20)))
	require.NoError(t, strict.ReadBlock(0, 0, make([]byte, 5)))
	require.NoError(t, strict.Sync())

	assert.Equal(t, flashlib.Stats{
		Reads: 2, Programs: 1, Erases: 1, Syncs: 1,
		BytesRead: 25, BytesProgrammed: 10,
	}, strict.Stats())
}

func TestStrictClosed(t *testing.T) {
	geo := flashlib.Geometry{ReadSize: 1, ProgSize: 1, EraseSize: 64, EraseCount: 4}
	strict, _ := newStrict(t, geo)

	require.NoError(t, strict.ProgramBlock(0, 0, []byte{1}))
	require.NoError(t, strict.Close())
	require.ErrorIs(t, strict.ProgramBlock(0, 0, []byte{1}), flashlib.ErrClosed)
	require.ErrorIs(t, strict.ReadBlock(0, 0, []byte{1}), flashlib.ErrClosed)
}
