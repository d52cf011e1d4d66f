package tinyfs

import "encoding/binary"

// -----------------------------------------------------------------------------
// Markers
// -----------------------------------------------------------------------------

// Cluster markers, byte 0 of every cluster. Each transition clears one more
// bit, so the lifecycle Erased → Formatted → Pending → Allocated → Orphaned
// is expressible on NOR flash without an erase.
const (
	MarkerErasedSector     = 0xFF // raw erased state, first byte of a fresh sector
	MarkerFormattedSector  = 0x7F // first cluster of an initialised sector, no live data
	MarkerPendingCluster   = 0x3F // write in progress / free within a formatted sector
	MarkerAllocatedCluster = 0x1F // live file data
	MarkerOrphanedCluster  = 0x0F // belonged to a deleted file; reclaim by sector erase
)

// -----------------------------------------------------------------------------
// On-disk layout (bit-exact, little-endian)
// -----------------------------------------------------------------------------

// File-entry cluster (block 0):
//
//	0 marker(1) | 1 objID(2) | 3 blockID(2)=0 | 5 length(2) | 7 nameLen(1) |
//	8 name(16) | 24 created(8, ms ticks) | 32… data
//
// Data cluster (block > 0):
//
//	0 marker(1) | 1 objID(2) | 3 blockID(2) | 5 length(2) | 7… data
const (
	offMarker  = 0
	offObjID   = 1
	offBlockID = 3
	offLength  = 5
	offNameLen = 7
	offName    = 8
	offCreated = 24

	fileHeaderSize = 32
	dataHeaderSize = 7

	// MaxNameLength bounds filenames in bytes.
	MaxNameLength = 16
)

// headerSize returns the data payload offset for a block position.
func headerSize(blockID uint16) int {
	if blockID == 0 {
		return fileHeaderSize
	}
	return dataHeaderSize
}

// foldName applies the serializer's ASCII upper-casing. The encoding is
// case-insensitive on disk; lookups fold the same way.
func foldName(s string) string {
	up := true
	for i := 0; i < len(s); i++ {
		if s[i] >= 'a' && s[i] <= 'z' {
			up = false
			break
		}
	}
	if up {
		return s
	}
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

// -----------------------------------------------------------------------------
// Cluster view
// -----------------------------------------------------------------------------

// cluster is a typed view over one cluster-sized buffer. Setters record the
// minimal touched byte range so only the modified span need be flushed.
type cluster struct {
	b       []byte
	dirtyLo int
	dirtyHi int // exclusive; dirtyLo >= dirtyHi means clean
}

func newCluster(size int) *cluster {
	c := &cluster{b: make([]byte, size)}
	c.markClean()
	return c
}

// reset fills the buffer with the erased pattern and clears the dirty range.
func (c *cluster) reset() {
	for i := range c.b {
		c.b[i] = 0xFF
	}
	c.markClean()
}

func (c *cluster) markClean() {
	c.dirtyLo = len(c.b)
	c.dirtyHi = 0
}

// dirty returns the touched span, if any.
func (c *cluster) dirty() (lo, hi int, ok bool) {
	if c.dirtyLo >= c.dirtyHi {
		return 0, 0, false
	}
	return c.dirtyLo, c.dirtyHi, true
}

func (c *cluster) touch(lo, hi int) {
	if lo < c.dirtyLo {
		c.dirtyLo = lo
	}
	if hi > c.dirtyHi {
		c.dirtyHi = hi
	}
}

func (c *cluster) marker() byte { return c.b[offMarker] }

func (c *cluster) setMarker(m byte) {
	c.b[offMarker] = m
	c.touch(offMarker, offMarker+1)
}

func (c *cluster) objID() uint16 { return binary.LittleEndian.Uint16(c.b[offObjID:]) }

func (c *cluster) setObjID(id uint16) {
	binary.LittleEndian.PutUint16(c.b[offObjID:], id)
	c.touch(offObjID, offObjID+2)
}

func (c *cluster) blockID() uint16 { return binary.LittleEndian.Uint16(c.b[offBlockID:]) }

func (c *cluster) setBlockID(id uint16) {
	binary.LittleEndian.PutUint16(c.b[offBlockID:], id)
	c.touch(offBlockID, offBlockID+2)
}

func (c *cluster) length() uint16 { return binary.LittleEndian.Uint16(c.b[offLength:]) }

func (c *cluster) setLength(n uint16) {
	binary.LittleEndian.PutUint16(c.b[offLength:], n)
	c.touch(offLength, offLength+2)
}

// name is valid on file-entry clusters only.
func (c *cluster) name() string {
	n := int(c.b[offNameLen])
	if n > MaxNameLength {
		n = MaxNameLength
	}
	return string(c.b[offName : offName+n])
}

// setName stores the upper-cased filename, truncated to MaxNameLength.
// Length validation is the file table's job; the codec keeps the field bounded.
func (c *cluster) setName(s string) {
	s = foldName(s)
	if len(s) > MaxNameLength {
		s = s[:MaxNameLength]
	}
	c.b[offNameLen] = byte(len(s))
	copy(c.b[offName:offName+MaxNameLength], s)
	for i := offName + len(s); i < offName+MaxNameLength; i++ {
		c.b[i] = 0
	}
	c.touch(offNameLen, offName+MaxNameLength)
}

func (c *cluster) created() int64 {
	return int64(binary.LittleEndian.Uint64(c.b[offCreated:]))
}

func (c *cluster) setCreated(ticks int64) {
	binary.LittleEndian.PutUint64(c.b[offCreated:], uint64(ticks))
	c.touch(offCreated, offCreated+8)
}

// dataCap returns the payload capacity for this cluster's block position.
func (c *cluster) dataCap() int { return len(c.b) - headerSize(c.blockID()) }

// data returns the live payload slice (length field applied).
func (c *cluster) data() []byte {
	h := headerSize(c.blockID())
	n := int(c.length())
	if n > len(c.b)-h {
		n = len(c.b) - h
	}
	return c.b[h : h+n]
}

// setData writes payload bytes at rel (data-relative offset) and extends the
// length field if the span grows the record.
func (c *cluster) setData(rel int, p []byte) {
	h := headerSize(c.blockID())
	copy(c.b[h+rel:], p)
	c.touch(h+rel, h+rel+len(p))
	if end := rel + len(p); end > int(c.length()) {
		c.setLength(uint16(end))
	}
}
