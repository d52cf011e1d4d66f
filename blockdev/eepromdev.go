package blockdev

import (
	"github.com/networkfusion/tinyfs-go/drivers/at24cxx"
)

// EEPROM is a Device over an AT24Cxx I2C EEPROM. EEPROM cells rewrite in
// place, so erase has no hardware counterpart; it is emulated by programming
// 0xFF, which keeps the marker state machine identical across media.
type EEPROM struct {
	geo Geometry
	dev *at24cxx.Device
}

// NewEEPROM wraps a configured EEPROM driver. SectorSize is a filesystem
// convention here, not a hardware constraint; PageSize should match the chip.
func NewEEPROM(dev *at24cxx.Device, geo Geometry) (*EEPROM, error) {
	if err := geo.Validate(); err != nil {
		return nil, err
	}
	if geo.Capacity > int64(dev.Size()) {
		return nil, ErrGeometry
	}
	return &EEPROM{geo: geo, dev: dev}, nil
}

func (d *EEPROM) Geometry() Geometry { return d.geo }

func (d *EEPROM) ReadCluster(cluster, offset int, buf []byte) error {
	if err := checkSpan(d.geo, cluster, offset, len(buf)); err != nil {
		return err
	}
	addr := int64(cluster)*int64(d.geo.ClusterSize()) + int64(offset)
	_, err := d.dev.ReadAt(buf, addr)
	return err
}

func (d *EEPROM) WriteCluster(cluster, offset int, buf []byte) error {
	if err := checkSpan(d.geo, cluster, offset, len(buf)); err != nil {
		return err
	}
	addr := int64(cluster)*int64(d.geo.ClusterSize()) + int64(offset)
	_, err := d.dev.WriteAt(buf, addr)
	return err
}

func (d *EEPROM) EraseSector(sector int) error {
	if sector < 0 || sector >= d.geo.SectorCount() {
		return ErrOutOfRange
	}
	blank := make([]byte, d.geo.PageSize)
	for i := range blank {
		blank[i] = 0xFF
	}
	base := int64(sector) * int64(d.geo.SectorSize)
	for off := 0; off < d.geo.SectorSize; off += d.geo.PageSize {
		if _, err := d.dev.WriteAt(blank, base+int64(off)); err != nil {
			return err
		}
	}
	return nil
}

func (d *EEPROM) EraseChip() error {
	for s := 0; s < d.geo.SectorCount(); s++ {
		if err := d.EraseSector(s); err != nil {
			return err
		}
	}
	return nil
}
