// Package console is a line-oriented serial shell over the file system, for
// bring-up and field debugging. One command per line, tokens split with
// shell-style quoting so filenames and payload text may contain spaces.
package console

import (
	"context"
	"strconv"

	"github.com/google/shlex"

	"github.com/networkfusion/tinyfs-go/errcode"
	"github.com/networkfusion/tinyfs-go/tinyfs"
	"github.com/networkfusion/tinyfs-go/x/mathx"
	"github.com/networkfusion/tinyfs-go/x/strx"
)

// Port is the serial endpoint the console runs on. Matches the uartx-backed
// ports on MCU builds; tests drive it with an in-memory pipe.
type Port interface {
	Write(p []byte) (int, error)
	RecvSomeContext(ctx context.Context, p []byte) (int, error)
}

// Config controls console behaviour. All fields are optional.
type Config struct {
	// Prompt defaults to "tfs> ".
	Prompt string
	// MaxLine bounds one command line, clamped to 32..512. Default 128.
	MaxLine int
}

// Service reads commands from a port and drives one filesystem.
type Service struct {
	port Port
	fsp  func() *tinyfs.FS // late-bound: the fs may mount after boot
	cfg  Config
}

func New(port Port, fsp func() *tinyfs.FS, cfg Config) *Service {
	cfg.Prompt = strx.Coalesce(cfg.Prompt, "tfs> ")
	if cfg.MaxLine == 0 {
		cfg.MaxLine = 128
	}
	cfg.MaxLine = mathx.Clamp(cfg.MaxLine, 32, 512)
	return &Service{port: port, fsp: fsp, cfg: cfg}
}

// Run reads lines until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	buf := make([]byte, 64)
	line := make([]byte, 0, s.cfg.MaxLine)
	s.print(s.cfg.Prompt)
	for {
		n, err := s.port.RecvSomeContext(ctx, buf)
		if err != nil {
			return
		}
		for _, b := range buf[:n] {
			if b == '\n' {
				s.handleLine(string(trimCR(line)))
				line = line[:0]
				s.print(s.cfg.Prompt)
				continue
			}
			if len(line) < s.cfg.MaxLine {
				line = append(line, b)
			}
		}
	}
}

func trimCR(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\r' {
		return b[:n-1]
	}
	return b
}

// HandleLine parses and executes one command line. Exposed for tests and for
// bridging console commands from other transports.
func (s *Service) HandleLine(line string) { s.handleLine(line) }

func (s *Service) handleLine(line string) {
	args, err := shlex.Split(line)
	if err != nil {
		s.print("err: parse\r\n")
		return
	}
	if len(args) == 0 {
		return
	}
	cmd := args[0]
	if cmd == "help" {
		s.print("commands: ls cat write rm mv truncate stat format help\r\n")
		return
	}
	fsys := s.fsp()
	if fsys == nil {
		s.printErr(tinyfs.ErrNotFormatted)
		return
	}
	switch cmd {
	case "ls":
		for _, fi := range fsys.List() {
			s.print(fi.Name + " " + strconv.Itoa(fi.Size) + " #" +
				strconv.Itoa(int(fi.ObjectID)) + "\r\n")
		}
	case "cat":
		if len(args) != 2 {
			s.usage("cat <name>")
			return
		}
		s.cat(fsys, args[1])
	case "write":
		if len(args) != 3 {
			s.usage("write <name> <text>")
			return
		}
		s.write(fsys, args[1], args[2])
	case "rm":
		if len(args) != 2 {
			s.usage("rm <name>")
			return
		}
		s.report(fsys.Delete(args[1]))
	case "mv":
		if len(args) != 3 {
			s.usage("mv <old> <new>")
			return
		}
		s.report(fsys.Rename(args[1], args[2]))
	case "truncate":
		if len(args) != 2 {
			s.usage("truncate <name>")
			return
		}
		s.report(fsys.Truncate(args[1]))
	case "stat":
		st := fsys.Stats()
		s.print("free " + strconv.FormatInt(st.BytesFree, 10) +
			" orphaned " + strconv.FormatInt(st.BytesOrphaned, 10) + "\r\n")
	case "format":
		s.report(fsys.Format())
	default:
		s.print("err: unknown command\r\n")
	}
}

func (s *Service) cat(fsys *tinyfs.FS, name string) {
	f, err := fsys.Open(name, tinyfs.ModeRead)
	if err != nil {
		s.printErr(err)
		return
	}
	defer f.Close()
	buf := make([]byte, 64)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			s.port.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}
	s.print("\r\n")
}

func (s *Service) write(fsys *tinyfs.FS, name, text string) {
	f, err := fsys.Open(name, tinyfs.ModeAppend)
	if err == tinyfs.ErrFileNotFound {
		f, err = fsys.Create(name)
	}
	if err != nil {
		s.printErr(err)
		return
	}
	defer f.Close()
	n, err := f.Write([]byte(text))
	if err != nil {
		s.printErr(err)
		return
	}
	s.print("wrote " + strconv.Itoa(n) + "\r\n")
}

func (s *Service) report(err error) {
	if err != nil {
		s.printErr(err)
		return
	}
	s.print("ok\r\n")
}

func (s *Service) usage(u string) { s.print("usage: " + u + "\r\n") }

func (s *Service) printErr(err error) {
	s.print("err: " + string(errcode.MapFSErr(err)) + "\r\n")
}

func (s *Service) print(msg string) {
	_, _ = s.port.Write([]byte(msg))
}
