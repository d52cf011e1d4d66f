package blockdev

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/networkfusion/tinyfs-go/drivers/at24cxx"
)

// memI2C is just enough of an AT24Cxx for host tests: word address in the
// first two write bytes, no busy cycle.
type memI2C struct {
	mem  []byte
	addr int
}

func (f *memI2C) Tx(addr uint16, w, r []byte) error {
	if len(w) >= 2 {
		f.addr = int(w[0])<<8 | int(w[1])
		w = w[2:]
	}
	if len(w) > 0 {
		copy(f.mem[f.addr:], w)
	}
	if len(r) > 0 {
		copy(r, f.mem[f.addr:])
	}
	return nil
}

func newEEPROMUnderTest(t *testing.T, geo Geometry, chip int) *EEPROM {
	t.Helper()
	drv := at24cxx.New(&memI2C{mem: make([]byte, chip)})
	drv.Configure(at24cxx.Config{Size: chip, PageSize: 64})
	dev, err := NewEEPROM(drv, geo)
	require.NoError(t, err)
	return dev
}

func TestEEPROM_GeometryMustFitChip(t *testing.T) {
	drv := at24cxx.New(&memI2C{mem: make([]byte, 2048)})
	drv.Configure(at24cxx.Config{Size: 2048})
	_, err := NewEEPROM(drv, testGeo) // 4096 B geometry on a 2 KiB part
	require.ErrorIs(t, err, ErrGeometry)
}

func TestEEPROM_RoundTripAndEmulatedErase(t *testing.T) {
	dev := newEEPROMUnderTest(t, testGeo, 4096)

	require.NoError(t, dev.WriteCluster(5, 3, []byte{1, 2, 3}))
	buf := make([]byte, 4)
	require.NoError(t, dev.ReadCluster(5, 2, buf))
	require.Equal(t, []byte{0, 1, 2, 3}, buf)

	// No erase hardware: sectors are programmed back to 0xFF.
	require.NoError(t, dev.EraseSector(1))
	require.NoError(t, dev.ReadCluster(5, 2, buf))
	require.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, buf)

	require.ErrorIs(t, dev.WriteCluster(16, 0, []byte{1}), ErrOutOfRange)
}
