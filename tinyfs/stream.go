package tinyfs

import (
	"io"

	"github.com/pkg/errors"
)

// File is a sequential stream over one file's cluster chain. Reads follow the
// seek position; writes always append (overwriting needs delete + re-create).
// File is not safe for concurrent use of one handle; distinct handles are
// serialised by the filesystem lock.
type File struct {
	fs     *FS
	ref    *fileRef
	mode   Mode
	pos    int
	closed bool
}

func (f *File) Name() string     { return f.ref.name }
func (f *File) Size() int        { return f.ref.size }
func (f *File) ObjectID() uint16 { return f.ref.objID }

// blockCap returns the payload capacity of block i.
func (fs *FS) blockCap(i int) int {
	if i == 0 {
		return fs.cs - fileHeaderSize
	}
	return fs.cs - dataHeaderSize
}

// locate maps a file offset to (block index, offset within block payload).
// Valid for pos < size plus the append position size itself.
func (fs *FS) locate(pos int) (blk, rel int) {
	c0 := fs.blockCap(0)
	if pos < c0 {
		return 0, pos
	}
	pos -= c0
	cd := fs.blockCap(1)
	return 1 + pos/cd, pos % cd
}

// Read copies bytes from the current position. At end of data it returns
// 0, io.EOF rather than a fault.
func (f *File) Read(p []byte) (int, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	if f.closed {
		return 0, ErrClosed
	}
	if f.pos >= f.ref.size {
		return 0, io.EOF
	}
	total := 0
	for total < len(p) && f.pos < f.ref.size {
		blk, rel := f.fs.locate(f.pos)
		avail := f.fs.blockCap(blk) - rel
		if left := f.ref.size - f.pos; avail > left {
			avail = left
		}
		n := len(p) - total
		if n > avail {
			n = avail
		}
		cl := f.ref.chain[blk]
		hdr := fileHeaderSize
		if blk > 0 {
			hdr = dataHeaderSize
		}
		if err := f.fs.dev.ReadCluster(cl, hdr+rel, p[total:total+n]); err != nil {
			return total, errors.Wrapf(err, "read: cluster %d", cl)
		}
		total += n
		f.pos += n
	}
	return total, nil
}

// Write appends bytes, allocating data clusters with consecutive block IDs as
// each cluster fills. A partial append is reported with the byte count and
// ErrOutOfSpace; bytes already written stay in the file.
func (f *File) Write(p []byte) (int, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	if f.closed {
		return 0, ErrClosed
	}
	if f.mode != ModeAppend {
		return 0, ErrReadOnly
	}
	fs := f.fs
	ref := f.ref
	total := 0
	for total < len(p) {
		blk, rel := fs.locate(ref.size)
		if blk >= len(ref.chain) {
			if blk > 0xFFFF {
				return total, ErrOutOfSpace
			}
			if err := fs.appendCluster(ref, uint16(blk)); err != nil {
				return total, err
			}
		}
		n := fs.blockCap(blk) - rel
		if n > len(p)-total {
			n = len(p) - total
		}
		cl := ref.chain[blk]
		hdr := fileHeaderSize
		if blk > 0 {
			hdr = dataHeaderSize
		}
		if err := fs.dev.WriteCluster(cl, hdr+rel, p[total:total+n]); err != nil {
			return total, errors.Wrapf(err, "write: cluster %d", cl)
		}
		if err := fs.writeLength(cl, uint16(rel+n)); err != nil {
			return total, err
		}
		total += n
		ref.size += n
	}
	return total, nil
}

// appendCluster allocates and commits the next data cluster of the chain.
func (fs *FS) appendCluster(ref *fileRef, blockID uint16) error {
	id, err := fs.allocCluster()
	if err != nil {
		return err
	}
	c := fs.scratch
	c.reset()
	c.setObjID(ref.objID)
	c.setBlockID(blockID)
	c.setLength(0)
	if err := fs.commitCluster(id, c); err != nil {
		return err
	}
	ref.chain = append(ref.chain, id)
	return nil
}

// writeLength updates a cluster's 16-bit data length field in place.
func (fs *FS) writeLength(cl int, n uint16) error {
	if err := fs.dev.WriteCluster(cl, offLength, []byte{byte(n), byte(n >> 8)}); err != nil {
		return errors.Wrapf(err, "length: cluster %d", cl)
	}
	return nil
}

// Seek repositions reads. Writes are unaffected; they always append.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	if f.closed {
		return 0, ErrClosed
	}
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(f.pos) + offset
	case io.SeekEnd:
		abs = int64(f.ref.size) + offset
	default:
		return 0, errors.New("seek: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("seek: negative position")
	}
	f.pos = int(abs)
	return abs, nil
}

// Close releases the handle and decrements the open-handle count. The
// filesystem does not enforce exclusive access; callers coordinate handles.
func (f *File) Close() error {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	f.closed = true
	if f.ref.handles > 0 {
		f.ref.handles--
	}
	return nil
}
