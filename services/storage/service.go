// Package storage exposes one mounted tinyfs instance as a bus service.
//
// Requests arrive on storage/control/<op> with map payloads and are answered
// on the request's ReplyTo topic; device statistics are republished retained
// on storage/event/stats after every mutating operation.
package storage

import (
	"context"
	"errors"
	"io"

	"github.com/networkfusion/tinyfs-go/blockdev"
	"github.com/networkfusion/tinyfs-go/bus"
	"github.com/networkfusion/tinyfs-go/errcode"
	"github.com/networkfusion/tinyfs-go/tinyfs"
)

var (
	topicConfig = bus.Topic{"config", "storage"}
	topicCtrl   = bus.Topic{"storage", "control", "+"}
	topicStats  = bus.Topic{"storage", "event", "stats"}
)

// Config is supplied on the config/storage bus topic.
type Config struct {
	// AutoFormat formats an uninitialised device at mount time.
	AutoFormat bool
	// PublishStats republishes retained stats after each mutating op.
	PublishStats bool
}

// Service owns the block device and the mounted filesystem.
type Service struct {
	conn    *bus.Connection
	dev     blockdev.Device
	fs      *tinyfs.FS
	cfg     Config
	cfgSub  *bus.Subscription
	ctrlSub *bus.Subscription
}

// New subscribes immediately so requests published before Run starts are not
// lost; Run drains them.
func New(conn *bus.Connection, dev blockdev.Device) *Service {
	s := &Service{conn: conn, dev: dev, cfg: Config{PublishStats: true}}
	s.cfgSub = conn.Subscribe(topicConfig)
	s.ctrlSub = conn.Subscribe(topicCtrl)
	return s
}

// FS returns the mounted filesystem, nil before a successful mount.
func (s *Service) FS() *tinyfs.FS { return s.fs }

// Run services config and control messages until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	defer s.conn.Disconnect()

	s.drainConfig()
	s.mount()

	for {
		select {
		case <-ctx.Done():
			return
		case m := <-s.cfgSub.Channel():
			s.applyConfig(m.Payload)
		case m := <-s.ctrlSub.Channel():
			// Configuration queued ahead of this request applies first.
			s.drainConfig()
			s.handleControl(m)
		}
	}
}

func (s *Service) drainConfig() {
	for {
		select {
		case m := <-s.cfgSub.Channel():
			s.applyConfig(m.Payload)
		default:
			return
		}
	}
}

// mount attempts a plain mount; AutoFormat recovery happens in applyConfig
// once configuration says so.
func (s *Service) mount() {
	fs, err := tinyfs.Mount(s.dev)
	if err != nil {
		println("Warn: storage mount:", err.Error())
		return
	}
	s.fs = fs
	s.publishStats()
}

func (s *Service) applyConfig(payload any) {
	m, ok := payload.(map[string]any)
	if !ok {
		return
	}
	if v, ok := m["auto_format"].(bool); ok {
		s.cfg.AutoFormat = v
	}
	if v, ok := m["publish_stats"].(bool); ok {
		s.cfg.PublishStats = v
	}
	if s.fs == nil && s.cfg.AutoFormat {
		if err := tinyfs.Format(s.dev); err != nil {
			println("Warn: storage format:", err.Error())
			return
		}
		s.mount()
	}
}

func (s *Service) handleControl(m *bus.Message) {
	op := m.Topic[len(m.Topic)-1]
	if op != "format" && s.fs == nil {
		s.replyErr(m, tinyfs.ErrNotFormatted)
		return
	}
	switch op {
	case "stat":
		st := s.fs.Stats()
		s.reply(m, map[string]any{
			"ok":             true,
			"bytes_free":     st.BytesFree,
			"bytes_orphaned": st.BytesOrphaned,
			"files":          len(s.fs.List()),
		})
	case "list":
		files := []any{}
		for _, fi := range s.fs.List() {
			files = append(files, map[string]any{
				"name":       fi.Name,
				"size":       fi.Size,
				"object_id":  int(fi.ObjectID),
				"created_ms": fi.CreatedMs,
			})
		}
		s.reply(m, map[string]any{"ok": true, "files": files})
	case "read":
		name, ok := param(m, "name")
		if !ok {
			s.replyCode(m, errcode.InvalidParams)
			return
		}
		data, err := s.readFile(name)
		if err != nil {
			s.replyErr(m, err)
			return
		}
		s.reply(m, map[string]any{"ok": true, "data": data})
	case "write":
		name, ok := param(m, "name")
		if !ok {
			s.replyCode(m, errcode.InvalidParams)
			return
		}
		data, ok := dataParam(m)
		if !ok {
			s.replyCode(m, errcode.InvalidPayload)
			return
		}
		n, err := s.appendFile(name, data)
		if err != nil {
			s.replyErr(m, err)
			return
		}
		s.reply(m, map[string]any{"ok": true, "written": n})
		s.publishStats()
	case "delete":
		name, ok := param(m, "name")
		if !ok {
			s.replyCode(m, errcode.InvalidParams)
			return
		}
		if err := s.fs.Delete(name); err != nil {
			s.replyErr(m, err)
			return
		}
		s.reply(m, map[string]any{"ok": true})
		s.publishStats()
	case "rename":
		from, okF := param(m, "from")
		to, okT := param(m, "to")
		if !okF || !okT {
			s.replyCode(m, errcode.InvalidParams)
			return
		}
		if err := s.fs.Rename(from, to); err != nil {
			s.replyErr(m, err)
			return
		}
		s.reply(m, map[string]any{"ok": true})
	case "truncate":
		name, ok := param(m, "name")
		if !ok {
			s.replyCode(m, errcode.InvalidParams)
			return
		}
		if err := s.fs.Truncate(name); err != nil {
			s.replyErr(m, err)
			return
		}
		s.reply(m, map[string]any{"ok": true})
		s.publishStats()
	case "format":
		if err := s.format(); err != nil {
			s.replyErr(m, err)
			return
		}
		s.reply(m, map[string]any{"ok": true})
		s.publishStats()
	default:
		s.replyCode(m, errcode.InvalidTopic)
	}
}

func (s *Service) format() error {
	if s.fs != nil {
		return s.fs.Format()
	}
	if err := tinyfs.Format(s.dev); err != nil {
		return err
	}
	fs, err := tinyfs.Mount(s.dev)
	if err != nil {
		return err
	}
	s.fs = fs
	return nil
}

func (s *Service) readFile(name string) ([]byte, error) {
	f, err := s.fs.Open(name, tinyfs.ModeRead)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, f.Size())
	if _, err := io.ReadFull(f, buf); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf, nil
}

// appendFile creates the file when absent, otherwise appends.
func (s *Service) appendFile(name string, data []byte) (int, error) {
	f, err := s.fs.Open(name, tinyfs.ModeAppend)
	if errors.Is(err, tinyfs.ErrFileNotFound) {
		f, err = s.fs.Create(name)
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return f.Write(data)
}

func (s *Service) publishStats() {
	if !s.cfg.PublishStats || s.fs == nil {
		return
	}
	st := s.fs.Stats()
	s.conn.Publish(&bus.Message{
		Topic: topicStats,
		Payload: map[string]any{
			"bytes_free":     st.BytesFree,
			"bytes_orphaned": st.BytesOrphaned,
		},
		Retained: true,
	})
}

// -----------------------------------------------------------------------------
// Reply helpers
// -----------------------------------------------------------------------------

func (s *Service) reply(req *bus.Message, payload map[string]any) {
	s.conn.Reply(req, payload, false)
}

func (s *Service) replyErr(req *bus.Message, err error) {
	s.replyCode(req, errcode.MapFSErr(err))
}

func (s *Service) replyCode(req *bus.Message, code errcode.Code) {
	s.reply(req, map[string]any{"ok": false, "err": string(code)})
}

func param(m *bus.Message, key string) (string, bool) {
	mp, ok := m.Payload.(map[string]any)
	if !ok {
		return "", false
	}
	v, ok := mp[key].(string)
	return v, ok && v != ""
}

func dataParam(m *bus.Message) ([]byte, bool) {
	mp, ok := m.Payload.(map[string]any)
	if !ok {
		return nil, false
	}
	switch v := mp["data"].(type) {
	case []byte:
		return v, true
	case string:
		return []byte(v), true
	default:
		return nil, false
	}
}
