package tinyfs

import (
	"sort"

	"github.com/pkg/errors"
)

// scanEnt is one allocated cluster seen during the mount walk.
type scanEnt struct {
	cluster int
	blockID uint16
	length  uint16
	name    string // block 0 only
	created int64  // block 0 only
}

// scan walks every sector and cluster in ascending physical order and builds
// the free pool, orphan set and file directory.
//
// Classification per cluster marker:
//
//	ErasedSector (sector head)  — sector uninitialised, skipped entirely
//	Formatted/Pending/Erased    — free
//	Allocated                   — parsed into a file chain
//	Orphaned or anything else   — orphan set (corrupt clusters are counted
//	                              orphaned rather than aborting the mount)
//
// Duplicate (objID, blockID) pairs can survive a power loss mid-write. Later
// physical address wins; the loser joins the orphan set. Pending losers never
// reach this point since pending clusters classify as free.
func (fs *FS) scan() error {
	geo := fs.geo
	perSector := geo.ClustersPerSector()
	entries := map[uint16][]scanEnt{}
	var marker [1]byte

	formatted := false
	for s := 0; s < geo.SectorCount(); s++ {
		head := geo.FirstCluster(s)
		if err := fs.dev.ReadCluster(head, offMarker, marker[:]); err != nil {
			return errors.Wrapf(err, "scan: cluster %d", head)
		}
		if marker[0] == MarkerErasedSector {
			// Whole sector untouched since erase: not usable until formatted.
			continue
		}
		formatted = true

		for i := 0; i < perSector; i++ {
			cl := head + i
			if i > 0 {
				if err := fs.dev.ReadCluster(cl, offMarker, marker[:]); err != nil {
					return errors.Wrapf(err, "scan: cluster %d", cl)
				}
			}
			switch marker[0] {
			case MarkerErasedSector, MarkerFormattedSector, MarkerPendingCluster:
				fs.free = append(fs.free, cl)
			case MarkerAllocatedCluster:
				ent, ok := fs.parseAllocated(cl)
				if !ok {
					fs.orphan = append(fs.orphan, cl)
					continue
				}
				id := fs.scratch.objID()
				entries[id] = insertEnt(entries[id], ent, &fs.orphan)
			default: // MarkerOrphanedCluster and corrupt markers
				fs.orphan = append(fs.orphan, cl)
			}
		}
	}
	if !formatted {
		return ErrNotFormatted
	}

	fs.buildRefs(entries)
	return nil
}

// parseAllocated reads and validates one allocated cluster into fs.scratch.
// A malformed record (zero object ID, impossible length, over-long name)
// classifies as corrupt.
func (fs *FS) parseAllocated(cl int) (scanEnt, bool) {
	c := fs.scratch
	if err := fs.dev.ReadCluster(cl, 0, c.b); err != nil {
		// Unreadable allocated cluster: best-effort recovery, treat as orphan.
		return scanEnt{}, false
	}
	c.markClean()
	if c.objID() == 0 {
		return scanEnt{}, false
	}
	if int(c.length()) > c.dataCap() {
		return scanEnt{}, false
	}
	ent := scanEnt{
		cluster: cl,
		blockID: c.blockID(),
		length:  c.length(),
	}
	if ent.blockID == 0 {
		if int(c.b[offNameLen]) > MaxNameLength {
			return scanEnt{}, false
		}
		ent.name = c.name()
		ent.created = c.created()
	}
	return ent, true
}

// insertEnt adds ent to a chain-in-progress, resolving duplicate block IDs in
// favour of the later physical address.
func insertEnt(chain []scanEnt, ent scanEnt, orphan *[]int) []scanEnt {
	for i, old := range chain {
		if old.blockID == ent.blockID {
			*orphan = append(*orphan, old.cluster)
			chain[i] = ent
			return chain
		}
	}
	return append(chain, ent)
}

// buildRefs assembles fileRefs from scanned chains. Chains may arrive in any
// physical order; block IDs define file order. A chain with no block 0, or
// with a gap, loses the unreachable tail to the orphan set.
func (fs *FS) buildRefs(entries map[uint16][]scanEnt) {
	maxID := uint16(0)
	for objID, chain := range entries {
		if objID > maxID {
			maxID = objID
		}
		sort.Slice(chain, func(i, j int) bool { return chain[i].blockID < chain[j].blockID })
		if chain[0].blockID != 0 {
			for _, ent := range chain {
				fs.orphan = append(fs.orphan, ent.cluster)
			}
			continue
		}
		ref := &fileRef{
			objID:   objID,
			name:    chain[0].name,
			created: chain[0].created,
		}
		for i, ent := range chain {
			if int(ent.blockID) != i {
				// Gap after a crash mid-append: keep the contiguous prefix.
				for _, lost := range chain[i:] {
					fs.orphan = append(fs.orphan, lost.cluster)
				}
				break
			}
			ref.chain = append(ref.chain, ent.cluster)
			ref.size += int(ent.length)
		}

		if prev, exists := fs.byName[ref.name]; exists {
			// Two live files with one name survive only a crash between
			// delete and re-create. The newer object ID wins.
			if prev > objID {
				fs.orphanRef(ref)
				continue
			}
			fs.orphanRef(fs.files[prev])
			delete(fs.files, prev)
		}
		fs.files[objID] = ref
		fs.byName[ref.name] = objID
	}
	if maxID > 0 {
		fs.nextID = maxID + 1
	}
}

// orphanRef moves a ref's clusters to the in-memory orphan set. Markers are
// left as scanned; the mount never writes to the device.
func (fs *FS) orphanRef(ref *fileRef) {
	fs.orphan = append(fs.orphan, ref.chain...)
}
