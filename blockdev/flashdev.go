//go:build tinygo

package blockdev

import (
	"tinygo.org/x/drivers/flash"
)

// Flash is a Device backed by an external SPI/QSPI NOR flash chip through the
// tinygo.org/x/drivers flash driver. The driver owns page programming rules;
// this adapter only translates cluster addressing.
type Flash struct {
	geo Geometry
	dev *flash.Device
}

// NewFlash wraps an already-configured flash device. Geometry must match the
// chip (typically PageSize 256, SectorSize 4096).
func NewFlash(dev *flash.Device, geo Geometry) (*Flash, error) {
	if err := geo.Validate(); err != nil {
		return nil, err
	}
	return &Flash{geo: geo, dev: dev}, nil
}

func (d *Flash) Geometry() Geometry { return d.geo }

func (d *Flash) ReadCluster(cluster, offset int, buf []byte) error {
	if err := checkSpan(d.geo, cluster, offset, len(buf)); err != nil {
		return err
	}
	addr := int64(cluster)*int64(d.geo.ClusterSize()) + int64(offset)
	_, err := d.dev.ReadAt(buf, addr)
	return err
}

func (d *Flash) WriteCluster(cluster, offset int, buf []byte) error {
	if err := checkSpan(d.geo, cluster, offset, len(buf)); err != nil {
		return err
	}
	addr := int64(cluster)*int64(d.geo.ClusterSize()) + int64(offset)
	_, err := d.dev.WriteAt(buf, addr)
	return err
}

func (d *Flash) EraseSector(sector int) error {
	if sector < 0 || sector >= d.geo.SectorCount() {
		return ErrOutOfRange
	}
	// The driver addresses erase by its own sector size; ours matches it.
	return d.dev.EraseSector(uint32(sector))
}

func (d *Flash) EraseChip() error {
	for s := 0; s < d.geo.SectorCount(); s++ {
		if err := d.dev.EraseSector(uint32(s)); err != nil {
			return err
		}
	}
	return nil
}
