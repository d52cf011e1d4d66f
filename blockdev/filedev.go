//go:build !tinygo

package blockdev

import (
	"os"

	"github.com/pkg/errors"
)

// File is a Device backed by a flash image file on the host OS. Useful for
// inspecting on-disk layout with external tools and for recovery work.
type File struct {
	geo Geometry
	f   *os.File
}

// OpenFile opens (or creates) an image file sized to the geometry. A freshly
// created image is written fully erased.
func OpenFile(path string, geo Geometry) (*File, error) {
	if err := geo.Validate(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open image")
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "stat image")
	}
	d := &File{geo: geo, f: f}
	if st.Size() != geo.Capacity {
		if err := f.Truncate(geo.Capacity); err != nil {
			f.Close()
			return nil, errors.Wrap(err, "size image")
		}
		if err := d.EraseChip(); err != nil {
			f.Close()
			return nil, err
		}
	}
	return d, nil
}

func (d *File) Geometry() Geometry { return d.geo }

func (d *File) ReadCluster(cluster, offset int, buf []byte) error {
	if err := checkSpan(d.geo, cluster, offset, len(buf)); err != nil {
		return err
	}
	addr := int64(cluster)*int64(d.geo.ClusterSize()) + int64(offset)
	_, err := d.f.ReadAt(buf, addr)
	return errors.Wrapf(err, "read cluster %d", cluster)
}

func (d *File) WriteCluster(cluster, offset int, buf []byte) error {
	if err := checkSpan(d.geo, cluster, offset, len(buf)); err != nil {
		return err
	}
	addr := int64(cluster)*int64(d.geo.ClusterSize()) + int64(offset)
	_, err := d.f.WriteAt(buf, addr)
	return errors.Wrapf(err, "write cluster %d", cluster)
}

func (d *File) EraseSector(sector int) error {
	if sector < 0 || sector >= d.geo.SectorCount() {
		return ErrOutOfRange
	}
	blank := erasedBlock(d.geo.SectorSize)
	_, err := d.f.WriteAt(blank, int64(sector)*int64(d.geo.SectorSize))
	return errors.Wrapf(err, "erase sector %d", sector)
}

func (d *File) EraseChip() error {
	blank := erasedBlock(d.geo.SectorSize)
	for s := 0; s < d.geo.SectorCount(); s++ {
		if _, err := d.f.WriteAt(blank, int64(s)*int64(d.geo.SectorSize)); err != nil {
			return errors.Wrapf(err, "erase sector %d", s)
		}
	}
	return nil
}

func (d *File) Close() error { return d.f.Close() }

func erasedBlock(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 0xFF
	}
	return b
}
