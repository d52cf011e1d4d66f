//go:build !tinygo

// fsdemo exercises the filesystem and the storage bus service against a flash
// image file on the host. Run it twice to see files survive a remount.
package main

import (
	"context"
	"os"
	"time"

	"github.com/networkfusion/tinyfs-go/blockdev"
	"github.com/networkfusion/tinyfs-go/bus"
	"github.com/networkfusion/tinyfs-go/services/storage"
	"github.com/networkfusion/tinyfs-go/tinyfs"
	"github.com/networkfusion/tinyfs-go/x/fmtx"
)

var demoGeo = blockdev.Geometry{
	Capacity:        64 * 1024,
	PageSize:        256,
	SectorSize:      4096,
	PagesPerCluster: 1,
}

func main() {
	path := "tinyfs.img"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	dev, err := blockdev.OpenFile(path, demoGeo)
	if err != nil {
		fmtx.Printf("open %s: %v\n", path, err)
		os.Exit(1)
	}
	defer dev.Close()

	fs, err := tinyfs.Mount(dev)
	if err == tinyfs.ErrNotFormatted {
		fmtx.Printf("image not formatted, formatting\n")
		if err = tinyfs.Format(dev); err == nil {
			fs, err = tinyfs.Mount(dev)
		}
	}
	if err != nil {
		fmtx.Printf("mount: %v\n", err)
		os.Exit(1)
	}

	// Direct API use.
	name := fmtx.Sprintf("boot-%d.log", len(fs.List()))
	f, err := fs.Create(name)
	if err != nil {
		fmtx.Printf("create: %v\n", err)
		os.Exit(1)
	}
	if _, err := f.Write([]byte("mounted at " + time.Now().Format(time.RFC3339) + "\n")); err != nil {
		fmtx.Printf("write: %v\n", err)
	}
	f.Close()

	fmtx.Printf("files:\n")
	for _, fi := range fs.List() {
		fmtx.Printf("  %-16s %5d bytes  #%d\n", fi.Name, fi.Size, fi.ObjectID)
	}
	st := fs.Stats()
	fmtx.Printf("free %d bytes, orphaned %d bytes\n", st.BytesFree, st.BytesOrphaned)

	// The same device behind the bus service.
	b := bus.NewBus(16)
	svc := storage.New(b.NewConnection("storage"), dev)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	client := b.NewConnection("demo")
	rctx, rcancel := context.WithTimeout(ctx, 2*time.Second)
	defer rcancel()
	reply, err := client.RequestWait(rctx,
		client.NewMessage(bus.T("storage", "control", "read"), map[string]any{"name": name}, false))
	if err != nil {
		fmtx.Printf("bus read: %v\n", err)
		os.Exit(1)
	}
	rep := reply.Payload.(map[string]any)
	if data, ok := rep["data"].([]byte); ok {
		fmtx.Printf("bus read %s: %s", name, string(data))
	} else {
		fmtx.Printf("bus read failed: %v\n", rep["err"])
	}
}
