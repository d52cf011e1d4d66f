// Package blockdev abstracts page/sector addressable storage media behind
// fixed-size cluster I/O. A cluster is PagesPerCluster device pages; erase
// granularity is one sector. Faults from the underlying medium propagate
// unretried — wear management and ECC, if any, belong to the device driver.
package blockdev

import "errors"

// Validation errors. I/O errors come from the concrete device.
var (
	ErrGeometry   = errors.New("invalid_geometry")
	ErrOutOfRange = errors.New("address_out_of_range")
)

// Geometry describes a device, fixed at construction.
type Geometry struct {
	Capacity        int64 // total bytes; must be an exact multiple of SectorSize
	PageSize        int   // program unit in bytes
	SectorSize      int   // erase unit in bytes
	PagesPerCluster int
}

// ClusterSize is the atomic allocation unit of the filesystem above.
func (g Geometry) ClusterSize() int { return g.PagesPerCluster * g.PageSize }

func (g Geometry) ClustersPerSector() int { return g.SectorSize / g.ClusterSize() }

func (g Geometry) SectorCount() int { return int(g.Capacity / int64(g.SectorSize)) }

func (g Geometry) ClusterCount() int { return g.SectorCount() * g.ClustersPerSector() }

// SectorOf returns the sector containing the given cluster.
func (g Geometry) SectorOf(cluster int) int { return cluster / g.ClustersPerSector() }

// FirstCluster returns the first cluster of the given sector.
func (g Geometry) FirstCluster(sector int) int { return sector * g.ClustersPerSector() }

func (g Geometry) Validate() error {
	if g.PageSize <= 0 || g.PagesPerCluster <= 0 || g.SectorSize <= 0 || g.Capacity <= 0 {
		return ErrGeometry
	}
	cs := g.ClusterSize()
	if g.SectorSize%cs != 0 || g.Capacity%int64(g.SectorSize) != 0 {
		return ErrGeometry
	}
	// Cluster headers and 16-bit length fields bound the usable cluster size.
	if cs < 64 || cs > 0xFFFF {
		return ErrGeometry
	}
	return nil
}

// Device is cluster-addressed storage. Absolute byte address of an access is
// cluster*ClusterSize + offset; implementations must reject spans that cross
// the cluster boundary or fall outside the device.
type Device interface {
	Geometry() Geometry
	ReadCluster(cluster, offset int, buf []byte) error
	WriteCluster(cluster, offset int, buf []byte) error
	EraseSector(sector int) error
	EraseChip() error
}

// checkSpan validates a cluster-relative access against g.
func checkSpan(g Geometry, cluster, offset, n int) error {
	if cluster < 0 || cluster >= g.ClusterCount() {
		return ErrOutOfRange
	}
	if offset < 0 || n < 0 || offset+n > g.ClusterSize() {
		return ErrOutOfRange
	}
	return nil
}
