// Package tinyfs implements a small log-structured file system on raw
// page/sector addressable storage (SPI NOR flash, EEPROM, RAM images).
//
// Files are chains of fixed-size clusters. Every cluster carries a one-byte
// state marker; deletes only mark clusters orphaned, physical space comes back
// with a sector or chip erase. The on-disk layout is a conformance contract —
// see cluster.go — so recovery tools can decode images from any port.
//
// The filesystem assumes one logical owner; a single mutex serialises all
// public operations so it can also be driven from multiple goroutines.
package tinyfs

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/networkfusion/tinyfs-go/blockdev"
	"github.com/networkfusion/tinyfs-go/x/timex"
)

// Mode selects stream direction for Open.
type Mode uint8

const (
	ModeRead Mode = iota
	ModeAppend
)

// DeviceStats reports whole-cluster capacities. Free counts fully free
// clusters only; orphaned space needs a Format to come back.
type DeviceStats struct {
	BytesFree     int64
	BytesOrphaned int64
}

// FileInfo is a directory listing entry.
type FileInfo struct {
	Name      string
	Size      int
	ObjectID  uint16
	CreatedMs int64
}

// fileRef is the in-memory record of one live file.
type fileRef struct {
	objID   uint16
	name    string // folded, as stored on disk
	created int64
	size    int
	chain   []int // cluster IDs in block order; chain[0] is the file entry
	handles uint8
}

// FS is a mounted file system.
type FS struct {
	mu  sync.Mutex
	dev blockdev.Device
	geo blockdev.Geometry
	cs  int // cluster size

	files  map[uint16]*fileRef
	byName map[string]uint16
	free   []int // free cluster IDs, ascending physical order
	orphan []int
	nextID uint16

	scratch *cluster
}

// Mount scans the device and builds the in-memory directory. It returns
// ErrNotFormatted when no initialised sector exists; call Format first.
func Mount(dev blockdev.Device) (*FS, error) {
	geo := dev.Geometry()
	if err := geo.Validate(); err != nil {
		return nil, err
	}
	fs := &FS{
		dev:     dev,
		geo:     geo,
		cs:      geo.ClusterSize(),
		files:   map[uint16]*fileRef{},
		byName:  map[string]uint16{},
		nextID:  1,
		scratch: newCluster(geo.ClusterSize()),
	}
	if err := fs.scan(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Format erases the chip and initialises every sector, leaving all clusters
// free. Any previous contents are lost.
func Format(dev blockdev.Device) error {
	geo := dev.Geometry()
	if err := geo.Validate(); err != nil {
		return err
	}
	if err := dev.EraseChip(); err != nil {
		return errors.Wrap(err, "format: erase chip")
	}
	for s := 0; s < geo.SectorCount(); s++ {
		first := geo.FirstCluster(s)
		if err := dev.WriteCluster(first, offMarker, []byte{MarkerFormattedSector}); err != nil {
			return errors.Wrapf(err, "format: sector %d", s)
		}
	}
	return nil
}

// Format re-initialises a mounted file system in place. All files, including
// orphaned space, are gone afterwards.
func (fs *FS) Format() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := Format(fs.dev); err != nil {
		return err
	}
	fs.files = map[uint16]*fileRef{}
	fs.byName = map[string]uint16{}
	fs.orphan = nil
	fs.free = fs.free[:0]
	for c := 0; c < fs.geo.ClusterCount(); c++ {
		fs.free = append(fs.free, c)
	}
	// Object IDs stay monotonic across an in-place format.
	return nil
}

// -----------------------------------------------------------------------------
// File table operations
// -----------------------------------------------------------------------------

// Create allocates a new empty file and returns an append stream. The
// object ID is minted from a monotonic counter and never reused while mounted.
func (fs *FS) Create(name string) (*File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	// Zero-length names are as unrepresentable as over-long ones.
	if len(name) == 0 || len(name) > MaxNameLength {
		return nil, ErrNameTooLong
	}
	fold := foldName(name)
	if _, exists := fs.byName[fold]; exists {
		return nil, ErrDuplicateName
	}
	if fs.nextID == 0 {
		// 16-bit counter exhausted within one mount session.
		return nil, ErrOutOfSpace
	}
	id, err := fs.allocCluster()
	if err != nil {
		return nil, err
	}
	objID := fs.nextID

	c := fs.scratch
	c.reset()
	c.setObjID(objID)
	c.setBlockID(0)
	c.setLength(0)
	c.setName(fold)
	c.setCreated(timex.NowMs())
	if err := fs.commitCluster(id, c); err != nil {
		return nil, err
	}

	fs.nextID++
	ref := &fileRef{
		objID:   objID,
		name:    fold,
		created: c.created(),
		chain:   []int{id},
		handles: 1,
	}
	fs.files[objID] = ref
	fs.byName[fold] = objID
	return &File{fs: fs, ref: ref, mode: ModeAppend}, nil
}

// Open returns a stream over an existing file and bumps its handle count.
func (fs *FS) Open(name string, mode Mode) (*File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	ref, err := fs.lookup(name)
	if err != nil {
		return nil, err
	}
	ref.handles++
	return &File{fs: fs, ref: ref, mode: mode}, nil
}

// Delete marks every cluster of the file orphaned and drops it from the
// table. Space is reclaimed only by Format.
func (fs *FS) Delete(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	ref, err := fs.lookup(name)
	if err != nil {
		return err
	}
	for _, cl := range ref.chain {
		if err := fs.writeMarker(cl, MarkerOrphanedCluster); err != nil {
			return err
		}
		fs.orphan = append(fs.orphan, cl)
	}
	delete(fs.files, ref.objID)
	delete(fs.byName, ref.name)
	return nil
}

// Rename rewrites the filename field of the file-entry cluster.
func (fs *FS) Rename(oldName, newName string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if len(newName) == 0 || len(newName) > MaxNameLength {
		return ErrNameTooLong
	}
	ref, err := fs.lookup(oldName)
	if err != nil {
		return err
	}
	fold := foldName(newName)
	if other, exists := fs.byName[fold]; exists && other != ref.objID {
		return ErrDuplicateName
	}

	var span [1 + MaxNameLength]byte
	span[0] = byte(len(fold))
	copy(span[1:], fold)
	entry := ref.chain[0]
	if err := fs.dev.WriteCluster(entry, offNameLen, span[:]); err != nil {
		return errors.Wrapf(err, "rename: cluster %d", entry)
	}
	delete(fs.byName, ref.name)
	ref.name = fold
	fs.byName[fold] = ref.objID
	return nil
}

// Truncate drops a file's contents to zero length. Data clusters beyond the
// file entry become orphaned.
func (fs *FS) Truncate(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	ref, err := fs.lookup(name)
	if err != nil {
		return err
	}
	for _, cl := range ref.chain[1:] {
		if err := fs.writeMarker(cl, MarkerOrphanedCluster); err != nil {
			return err
		}
		fs.orphan = append(fs.orphan, cl)
	}
	ref.chain = ref.chain[:1]
	entry := ref.chain[0]
	if err := fs.dev.WriteCluster(entry, offLength, []byte{0, 0}); err != nil {
		return errors.Wrapf(err, "truncate: cluster %d", entry)
	}
	ref.size = 0
	return nil
}

// Stats sums whole-cluster capacities over the free and orphan sets.
func (fs *FS) Stats() DeviceStats {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return DeviceStats{
		BytesFree:     int64(len(fs.free)) * int64(fs.cs),
		BytesOrphaned: int64(len(fs.orphan)) * int64(fs.cs),
	}
}

// List returns directory entries sorted by name.
func (fs *FS) List() []FileInfo {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	out := make([]FileInfo, 0, len(fs.files))
	for _, ref := range fs.files {
		out = append(out, FileInfo{
			Name:      ref.name,
			Size:      ref.size,
			ObjectID:  ref.objID,
			CreatedMs: ref.created,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stat returns the entry for one file.
func (fs *FS) Stat(name string) (FileInfo, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	ref, err := fs.lookup(name)
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{
		Name:      ref.name,
		Size:      ref.size,
		ObjectID:  ref.objID,
		CreatedMs: ref.created,
	}, nil
}

// Geometry exposes the mounted device geometry.
func (fs *FS) Geometry() blockdev.Geometry { return fs.geo }

// -----------------------------------------------------------------------------
// Internals (fs.mu held)
// -----------------------------------------------------------------------------

func (fs *FS) lookup(name string) (*fileRef, error) {
	id, ok := fs.byName[foldName(name)]
	if !ok {
		return nil, ErrFileNotFound
	}
	return fs.files[id], nil
}

// allocCluster pops the lowest-address free cluster.
func (fs *FS) allocCluster() (int, error) {
	if len(fs.free) == 0 {
		return 0, ErrOutOfSpace
	}
	id := fs.free[0]
	fs.free = fs.free[1:]
	return id, nil
}

func (fs *FS) writeMarker(cl int, m byte) error {
	if err := fs.dev.WriteCluster(cl, offMarker, []byte{m}); err != nil {
		return errors.Wrapf(err, "marker: cluster %d", cl)
	}
	return nil
}

// commitCluster drives a fresh cluster through Pending → payload → Allocated.
// The payload flush skips byte 0 so the marker transition stays explicit.
func (fs *FS) commitCluster(id int, c *cluster) error {
	if err := fs.writeMarker(id, MarkerPendingCluster); err != nil {
		return err
	}
	lo, hi, dirty := c.dirty()
	if dirty {
		if lo == offMarker {
			lo = offMarker + 1
		}
		if lo < hi {
			if err := fs.dev.WriteCluster(id, lo, c.b[lo:hi]); err != nil {
				return errors.Wrapf(err, "commit: cluster %d", id)
			}
		}
		c.markClean()
	}
	return fs.writeMarker(id, MarkerAllocatedCluster)
}

// flushCluster writes only the dirty span of an already-allocated cluster.
func (fs *FS) flushCluster(id int, c *cluster) error {
	lo, hi, dirty := c.dirty()
	if !dirty {
		return nil
	}
	if err := fs.dev.WriteCluster(id, lo, c.b[lo:hi]); err != nil {
		return errors.Wrapf(err, "flush: cluster %d", id)
	}
	c.markClean()
	return nil
}
