package tinyfs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/networkfusion/tinyfs-go/blockdev"
)

// smallGeo is the reference device: 4 sectors, 1 cluster per sector, 256 B
// clusters.
var smallGeo = blockdev.Geometry{
	Capacity:        1024,
	PageSize:        64,
	SectorSize:      256,
	PagesPerCluster: 4,
}

// wideGeo has room to grow: 4 sectors of 4 clusters, 256 B each.
var wideGeo = blockdev.Geometry{
	Capacity:        4096,
	PageSize:        64,
	SectorSize:      1024,
	PagesPerCluster: 4,
}

func newFS(t *testing.T, geo blockdev.Geometry) (*FS, *blockdev.Mem) {
	t.Helper()
	dev, err := blockdev.NewMem(geo)
	require.NoError(t, err)
	require.NoError(t, Format(dev))
	fs, err := Mount(dev)
	require.NoError(t, err)
	return fs, dev
}

func TestMount_Unformatted(t *testing.T) {
	dev, err := blockdev.NewMem(smallGeo)
	require.NoError(t, err)

	_, err = Mount(dev)
	require.ErrorIs(t, err, ErrNotFormatted)

	require.NoError(t, Format(dev))
	fs, err := Mount(dev)
	require.NoError(t, err)
	require.Equal(t, int64(4*256), fs.Stats().BytesFree)
	require.Equal(t, int64(0), fs.Stats().BytesOrphaned)
}

func TestCreate_Validation(t *testing.T) {
	fs, _ := newFS(t, wideGeo)

	_, err := fs.Create("a-very-long-filename.bin")
	require.ErrorIs(t, err, ErrNameTooLong)

	_, err = fs.Create("")
	require.ErrorIs(t, err, ErrNameTooLong)

	f, err := fs.Create("log.txt")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// Case-insensitive duplicate detection.
	_, err = fs.Create("LOG.TXT")
	require.ErrorIs(t, err, ErrDuplicateName)
}

func TestCreate_MonotonicObjectIDs(t *testing.T) {
	fs, _ := newFS(t, wideGeo)

	prev := uint16(0)
	for _, name := range []string{"a", "b", "c"} {
		f, err := fs.Create(name)
		require.NoError(t, err)
		require.Greater(t, f.ObjectID(), prev)
		prev = f.ObjectID()
		require.NoError(t, f.Close())
	}

	// Deleting and re-creating mints a fresh ID.
	require.NoError(t, fs.Delete("b"))
	f, err := fs.Create("b")
	require.NoError(t, err)
	require.Greater(t, f.ObjectID(), prev)
	require.NoError(t, f.Close())
}

func TestEndToEndScenario(t *testing.T) {
	// Full lifecycle on the 4×256 B reference device.
	fs, _ := newFS(t, smallGeo)

	require.Equal(t, int64(1024), fs.Stats().BytesFree)
	require.Equal(t, int64(0), fs.Stats().BytesOrphaned)

	f, err := fs.Create("settings.dat")
	require.NoError(t, err)
	n, err := f.Write(make([]byte, 300))
	require.NoError(t, err)
	require.Equal(t, 300, n)
	require.NoError(t, f.Close())

	// 300 bytes span the entry cluster (224 B payload) plus one data cluster.
	require.Len(t, fs.files[f.ObjectID()].chain, 2)
	require.Equal(t, int64(1024-2*256), fs.Stats().BytesFree)

	firstID := f.ObjectID()
	require.NoError(t, fs.Delete("settings.dat"))
	require.Equal(t, int64(512), fs.Stats().BytesOrphaned)
	require.Equal(t, int64(512), fs.Stats().BytesFree) // unchanged until erase

	f2, err := fs.Create("settings.dat")
	require.NoError(t, err)
	require.NotEqual(t, firstID, f2.ObjectID())
	require.NoError(t, f2.Close())
}

func TestDelete_OrphansDoNotComeBackWithoutFormat(t *testing.T) {
	fs, _ := newFS(t, smallGeo)

	f, err := fs.Create("a.bin")
	require.NoError(t, err)
	_, err = f.Write(make([]byte, 500))
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, fs.Delete("a.bin"))

	st := fs.Stats()
	require.Equal(t, int64(3*256), st.BytesOrphaned)
	require.Equal(t, int64(1*256), st.BytesFree)

	require.NoError(t, fs.Format())
	st = fs.Stats()
	require.Equal(t, int64(0), st.BytesOrphaned)
	require.Equal(t, int64(4*256), st.BytesFree)
}

func TestWrite_OutOfSpace(t *testing.T) {
	fs, _ := newFS(t, smallGeo)

	f, err := fs.Create("big.bin")
	require.NoError(t, err)
	defer f.Close()

	// Device payload capacity: 224 + 3×249.
	payload := 224 + 3*249
	n, err := f.Write(make([]byte, payload+1))
	require.ErrorIs(t, err, ErrOutOfSpace)
	require.Equal(t, payload, n)
	require.Equal(t, payload, f.Size())

	// The partial append is persistent and further creates fail too.
	_, err = fs.Create("other")
	require.ErrorIs(t, err, ErrOutOfSpace)
}

func TestRename(t *testing.T) {
	fs, dev := newFS(t, wideGeo)

	f, err := fs.Create("old.txt")
	require.NoError(t, err)
	_, err = f.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.ErrorIs(t, fs.Rename("missing", "x"), ErrFileNotFound)
	require.ErrorIs(t, fs.Rename("old.txt", "a-very-long-filename"), ErrNameTooLong)

	other, err := fs.Create("taken.txt")
	require.NoError(t, err)
	require.NoError(t, other.Close())
	require.ErrorIs(t, fs.Rename("old.txt", "TAKEN.TXT"), ErrDuplicateName)

	require.NoError(t, fs.Rename("old.txt", "new.txt"))
	_, err = fs.Stat("old.txt")
	require.ErrorIs(t, err, ErrFileNotFound)
	fi, err := fs.Stat("NEW.TXT")
	require.NoError(t, err)
	require.Equal(t, 7, fi.Size)

	// The new name survives a remount.
	fs2, err := Mount(dev)
	require.NoError(t, err)
	fi, err = fs2.Stat("new.txt")
	require.NoError(t, err)
	require.Equal(t, "NEW.TXT", fi.Name)
}

func TestTruncate(t *testing.T) {
	fs, _ := newFS(t, smallGeo)

	f, err := fs.Create("t.bin")
	require.NoError(t, err)
	_, err = f.Write(make([]byte, 400))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, fs.Truncate("t.bin"))
	fi, err := fs.Stat("t.bin")
	require.NoError(t, err)
	require.Equal(t, 0, fi.Size)

	// Data clusters went to the orphan set, the entry cluster stayed.
	require.Equal(t, int64(256), fs.Stats().BytesOrphaned)
	require.Len(t, fs.files[fi.ObjectID].chain, 1)
}

func TestRemount_RebuildsDirectory(t *testing.T) {
	fs, dev := newFS(t, wideGeo)

	want := map[string]int{}
	for _, name := range []string{"one", "two", "three"} {
		f, err := fs.Create(name)
		require.NoError(t, err)
		n := 100 * (len(name) + 1)
		_, err = f.Write(make([]byte, n))
		require.NoError(t, err)
		require.NoError(t, f.Close())
		want[foldName(name)] = n
	}
	require.NoError(t, fs.Delete("two"))
	delete(want, "TWO")

	fs2, err := Mount(dev)
	require.NoError(t, err)
	got := map[string]int{}
	for _, fi := range fs2.List() {
		got[fi.Name] = fi.Size
	}
	require.Equal(t, want, got)
	require.Equal(t, fs.Stats(), fs2.Stats())

	// Allocation exclusivity: no cluster appears in two chains.
	seen := map[int]bool{}
	for _, ref := range fs2.files {
		for _, cl := range ref.chain {
			require.False(t, seen[cl], "cluster %d claimed twice", cl)
			seen[cl] = true
		}
	}

	// Object IDs continue past the highest live ID.
	f, err := fs2.Create("four")
	require.NoError(t, err)
	for _, ref := range fs2.files {
		if ref.objID != f.ObjectID() {
			require.Greater(t, f.ObjectID(), ref.objID)
		}
	}
	require.NoError(t, f.Close())
}

func TestWrite_ChainBlockIDsAreSequential(t *testing.T) {
	fs, dev := newFS(t, wideGeo)

	f, err := fs.Create("chain.bin")
	require.NoError(t, err)
	// 224 + 2×249 + 1: forces four clusters.
	total := 224 + 2*249 + 1
	_, err = f.Write(make([]byte, total))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	ref := fs.files[f.ObjectID()]
	require.Len(t, ref.chain, 4)

	// On-disk block IDs are 0..3 in chain order.
	buf := make([]byte, 5)
	for i, cl := range ref.chain {
		require.NoError(t, dev.ReadCluster(cl, 0, buf))
		require.Equal(t, byte(MarkerAllocatedCluster), buf[0])
		blockID := uint16(buf[3]) | uint16(buf[4])<<8
		require.Equal(t, uint16(i), blockID)
	}
}
