package console

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/networkfusion/tinyfs-go/blockdev"
	"github.com/networkfusion/tinyfs-go/tinyfs"
)

// pipePort is an in-memory Port: scripted input, captured output.
type pipePort struct {
	in  chan byte
	mu  sync.Mutex
	out strings.Builder
}

func newPipePort() *pipePort { return &pipePort{in: make(chan byte, 256)} }

func (p *pipePort) feed(s string) {
	for i := 0; i < len(s); i++ {
		p.in <- s[i]
	}
}

func (p *pipePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out.Write(b)
	return len(b), nil
}

func (p *pipePort) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.String()
}

func (p *pipePort) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out.Reset()
}

func (p *pipePort) RecvSomeContext(ctx context.Context, buf []byte) (int, error) {
	select {
	case b := <-p.in:
		buf[0] = b
		n := 1
		for n < len(buf) {
			select {
			case b := <-p.in:
				buf[n] = b
				n++
			default:
				return n, nil
			}
		}
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func newConsole(t *testing.T) (*Service, *pipePort, *tinyfs.FS) {
	t.Helper()
	dev, err := blockdev.NewMem(blockdev.Geometry{
		Capacity:        4096,
		PageSize:        64,
		SectorSize:      1024,
		PagesPerCluster: 4,
	})
	require.NoError(t, err)
	require.NoError(t, tinyfs.Format(dev))
	fsys, err := tinyfs.Mount(dev)
	require.NoError(t, err)

	port := newPipePort()
	svc := New(port, func() *tinyfs.FS { return fsys }, Config{})
	return svc, port, fsys
}

func TestConsole_WriteLsCat(t *testing.T) {
	svc, port, _ := newConsole(t)

	svc.HandleLine(`write notes.txt "hello world"`)
	require.Contains(t, port.String(), "wrote 11")

	port.Reset()
	svc.HandleLine("ls")
	require.Contains(t, port.String(), "NOTES.TXT 11")

	port.Reset()
	svc.HandleLine("cat notes.txt")
	require.Contains(t, port.String(), "hello world")
}

func TestConsole_MvRmStat(t *testing.T) {
	svc, port, fsys := newConsole(t)

	svc.HandleLine("write a.txt data")
	port.Reset()
	svc.HandleLine("mv a.txt b.txt")
	require.Contains(t, port.String(), "ok")
	_, err := fsys.Stat("b.txt")
	require.NoError(t, err)

	port.Reset()
	svc.HandleLine("rm b.txt")
	require.Contains(t, port.String(), "ok")

	port.Reset()
	svc.HandleLine("stat")
	require.Contains(t, port.String(), "free 3840")
	require.Contains(t, port.String(), "orphaned 256")
}

func TestConsole_Errors(t *testing.T) {
	svc, port, _ := newConsole(t)

	svc.HandleLine("cat missing")
	require.Contains(t, port.String(), "err: file_not_found")

	port.Reset()
	svc.HandleLine("launch")
	require.Contains(t, port.String(), "err: unknown command")

	port.Reset()
	svc.HandleLine("cat")
	require.Contains(t, port.String(), "usage: cat <name>")

	port.Reset()
	svc.HandleLine(`write broken "unterminated`)
	require.Contains(t, port.String(), "err: parse")
}

func TestConsole_NilFilesystem(t *testing.T) {
	port := newPipePort()
	svc := New(port, func() *tinyfs.FS { return nil }, Config{})
	svc.HandleLine("ls")
	require.Contains(t, port.String(), "err: not_formatted")
}

func TestConsole_RunLineLoop(t *testing.T) {
	svc, port, _ := newConsole(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	port.feed("write run.txt go\r\n")
	port.feed("ls\r\n")

	// The loop echoes a prompt after each line; wait for the listing.
	require.Eventually(t, func() bool {
		return strings.Contains(port.String(), "RUN.TXT 2")
	}, 2*time.Second, time.Millisecond)

	cancel()
	<-done
	require.Contains(t, port.String(), "tfs> ")
}
