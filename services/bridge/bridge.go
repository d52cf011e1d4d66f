// Package bridge tunnels the local message bus over a byte link so a host
// tool can drive the storage service remotely: list and fetch files, push
// firmware assets, watch retained stats. The remote side subscribes to topic
// patterns, publishes, and issues request/reply round trips; the bridge owns
// the link lifecycle and reconnects with backoff.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/networkfusion/tinyfs-go/bus"
)

// -----------------------------------------------------------------------------
// Public entry point
// -----------------------------------------------------------------------------

// Start starts the bridge service. It blocks until ctx is cancelled.
// It listens for JSON config on topic {"config","bridge"} and (re)configures the link.
func Start(ctx context.Context, conn *bus.Connection) {
	s := &Service{
		conn:       conn,
		stateTopic: bus.Topic{"bridge", "state"},
	}
	s.run(ctx)
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config is the JSON-encoded configuration expected on "config/bridge".
type Config struct {
	Transport TransportConfig `json:"transport"`
}

type TransportConfig struct {
	// "uart" (provided here) or other names registered via RegisterTransport.
	Type string      `json:"type"`
	UART *UARTConfig `json:"uart,omitempty"`
}

// UARTConfig carries enough information for an injected TinyGo dialler to open
// the UART. Pin mapping and UART instance selection happen in UARTDial.
type UARTConfig struct {
	Baud  int `json:"baud"`
	RxPin int `json:"rx_pin"`
	TxPin int `json:"tx_pin"`
}

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

type Service struct {
	conn       *bus.Connection
	stateTopic bus.Topic

	mu     sync.Mutex
	curRun context.CancelFunc
}

// run waits for config and supervises a single link instance.
func (s *Service) run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(bus.Topic{"config", "bridge"})
	defer s.conn.Unsubscribe(cfgSub)

	s.publishState("idle", "awaiting_config", nil)

	for {
		select {
		case <-ctx.Done():
			s.stopCurrent()
			return
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				s.publishState("error", "config_subscription_closed", nil)
				return
			}
			cfg, err := decodeConfig(msg.Payload)
			if err != nil {
				s.publishState("error", "config_decode_failed", err)
				continue
			}
			s.reconfigure(ctx, cfg)
		}
	}
}

func (s *Service) stopCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
}

func (s *Service) reconfigure(parent context.Context, cfg Config) {
	s.mu.Lock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
	ctx, cancel := context.WithCancel(parent)
	s.curRun = cancel
	s.mu.Unlock()

	go s.runLink(ctx, cfg)
}

// -----------------------------------------------------------------------------
// Link supervision and I/O
// -----------------------------------------------------------------------------

func (s *Service) runLink(ctx context.Context, cfg Config) {
	tr, err := newTransport(cfg.Transport)
	if err != nil {
		s.publishState("error", "transport_init_failed", err)
		return
	}

	backoff := backoffSeq(250*time.Millisecond, 5*time.Second)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		rwc, err := tr.Open(ctx)
		if err != nil {
			delay := backoff()
			s.publishState("degraded", "dial_failed_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		s.publishState("up", "link_established", nil)
		if err := s.handleLink(ctx, rwc); err != nil {
			_ = rwc.Close()
			delay := backoff()
			s.publishState("degraded", "link_lost_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}
		// Clean close: restart only on new config.
		return
	}
}

// wireMsg is the JSON body of pub/sub/req/res frames.
type wireMsg struct {
	ID       uint32   `json:"id,omitempty"` // correlates req and res
	Topic    []string `json:"topic,omitempty"`
	Payload  any      `json:"payload,omitempty"`
	Retained bool     `json:"retained,omitempty"`
	Err      string   `json:"err,omitempty"`
}

// link owns one active connection's shared state.
type link struct {
	svc  *Service
	wmu  sync.Mutex
	wr   *framedWriter
	subs map[string]*bus.Subscription
}

// handleLink routes frames for the lifetime of one connection.
func (s *Service) handleLink(ctx context.Context, rwc io.ReadWriteCloser) error {
	l := &link{
		svc:  s,
		wr:   newFramedWriter(rwc),
		subs: map[string]*bus.Subscription{},
	}
	defer l.dropSubs()

	rd := newFramedReader(rwc)
	frames := make(chan Frame, 4)
	errCh := make(chan error, 1)
	go func() {
		for {
			f, err := rd.ReadFrame()
			if err != nil {
				errCh <- err
				return
			}
			frames <- f
		}
	}()

	tick := time.NewTicker(5 * time.Second)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = l.writeFrame(Frame{Type: frameClose})
			return nil
		case err := <-errCh:
			return err
		case <-tick.C:
			if err := l.writeFrame(Frame{Type: framePing}); err != nil {
				return err
			}
		case f := <-frames:
			if err := l.handleFrame(ctx, f); err != nil {
				return err
			}
		}
	}
}

func (l *link) handleFrame(ctx context.Context, f Frame) error {
	switch f.Type {
	case framePing:
		return l.writeFrame(Frame{Type: framePong})
	case framePong:
		return nil
	case frameClose:
		return errors.New("remote closed link")
	case framePub:
		m, err := decodeWire(f.Payload)
		if err != nil {
			return nil // malformed frames are dropped, the link survives
		}
		l.svc.conn.Publish(l.svc.conn.NewMessage(bus.Topic(m.Topic), m.Payload, m.Retained))
		return nil
	case frameSub:
		m, err := decodeWire(f.Payload)
		if err != nil {
			return nil
		}
		l.addSub(ctx, bus.Topic(m.Topic))
		return nil
	case frameUnsub:
		m, err := decodeWire(f.Payload)
		if err != nil {
			return nil
		}
		l.dropSub(bus.Topic(m.Topic))
		return nil
	case frameReq:
		m, err := decodeWire(f.Payload)
		if err != nil {
			return nil
		}
		go l.serveRequest(ctx, m)
		return nil
	default:
		return nil
	}
}

// addSub subscribes to a pattern and forwards matching messages as pub frames.
func (l *link) addSub(ctx context.Context, pat bus.Topic) {
	key := strings.Join(pat, "/")
	if _, dup := l.subs[key]; dup {
		return
	}
	sub := l.svc.conn.Subscribe(pat)
	l.subs[key] = sub
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-sub.Channel():
				if !ok {
					return
				}
				_ = l.writeWire(framePub, wireMsg{
					Topic:    m.Topic,
					Payload:  m.Payload,
					Retained: m.Retained,
				})
			}
		}
	}()
}

func (l *link) dropSub(pat bus.Topic) {
	key := strings.Join(pat, "/")
	if sub, ok := l.subs[key]; ok {
		delete(l.subs, key)
		l.svc.conn.Unsubscribe(sub)
	}
}

func (l *link) dropSubs() {
	for key, sub := range l.subs {
		delete(l.subs, key)
		l.svc.conn.Unsubscribe(sub)
	}
}

// serveRequest performs a local request round trip on the remote's behalf.
func (l *link) serveRequest(ctx context.Context, m wireMsg) {
	rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req := l.svc.conn.NewMessage(bus.Topic(m.Topic), m.Payload, false)
	reply, err := l.svc.conn.RequestWait(rctx, req)
	res := wireMsg{ID: m.ID}
	if err != nil {
		res.Err = "timeout"
	} else {
		res.Payload = reply.Payload
	}
	_ = l.writeWire(frameRes, res)
}

func (l *link) writeWire(typ byte, m wireMsg) error {
	body, err := json.Marshal(m)
	if err != nil {
		return nil // unencodable payload, drop
	}
	return l.writeFrame(Frame{Type: typ, Payload: body})
}

func (l *link) writeFrame(f Frame) error {
	l.wmu.Lock()
	defer l.wmu.Unlock()
	return l.wr.WriteFrame(f)
}

func decodeWire(body []byte) (wireMsg, error) {
	var m wireMsg
	if err := json.Unmarshal(body, &m); err != nil {
		return m, err
	}
	if len(m.Topic) == 0 {
		return m, errors.New("empty topic")
	}
	return m, nil
}

// -----------------------------------------------------------------------------
// Transport registry
// -----------------------------------------------------------------------------

// Transport is a pluggable link dialler/owner.
type Transport interface {
	Open(ctx context.Context) (io.ReadWriteCloser, error)
	String() string
}

type transportFactory func(TransportConfig) (Transport, error)

var (
	regMu     sync.RWMutex
	registry  = map[string]transportFactory{}
	errNoDial = errors.New("UARTDial not implemented")
)

// RegisterTransport allows external packages to add transports (eg. "pipe", "tcp").
func RegisterTransport(name string, f transportFactory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = f
}

func newTransport(cfg TransportConfig) (Transport, error) {
	regMu.RLock()
	f, ok := registry[cfg.Type]
	regMu.RUnlock()
	if ok {
		return f(cfg)
	}
	switch cfg.Type {
	case "uart":
		return newUARTTransport(cfg)
	default:
		return nil, fmt.Errorf("unknown transport type: %q", cfg.Type)
	}
}

// UARTDial is injected by platform code (eg. in main or a tinygo_uart.go).
// It must open and return an io.ReadWriteCloser over the configured UART.
var UARTDial func(ctx context.Context, u UARTConfig) (io.ReadWriteCloser, error)

// uartTransport implements Transport via an injected dial function.
type uartTransport struct {
	cfg TransportConfig
}

func newUARTTransport(cfg TransportConfig) (Transport, error) {
	if cfg.UART == nil {
		return nil, errors.New("uart transport requires uart config")
	}
	return &uartTransport{cfg: cfg}, nil
}

func (u *uartTransport) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	if UARTDial == nil {
		return nil, errNoDial
	}
	return UARTDial(ctx, *u.cfg.UART)
}

func (u *uartTransport) String() string { return "uart" }

// -----------------------------------------------------------------------------
// Framing
// -----------------------------------------------------------------------------

const (
	framePing  byte = 0x01
	framePong  byte = 0x02
	framePub   byte = 0x10
	frameSub   byte = 0x11
	frameUnsub byte = 0x12
	frameReq   byte = 0x14
	frameRes   byte = 0x15
	frameClose byte = 0x7f
)

// Frame is a length-prefixed frame: type, 16-bit big-endian length, body.
type Frame struct {
	Type    byte
	Payload []byte
}

type framedReader struct{ r io.Reader }
type framedWriter struct{ w io.Writer }

func newFramedReader(r io.Reader) *framedReader { return &framedReader{r: r} }
func newFramedWriter(w io.Writer) *framedWriter { return &framedWriter{w: w} }

func (fr *framedReader) ReadFrame() (Frame, error) {
	var hdr [3]byte
	if _, err := io.ReadFull(fr.r, hdr[:]); err != nil {
		return Frame{}, err
	}
	typ := hdr[0]
	n := int(hdr[1])<<8 | int(hdr[2])
	var buf []byte
	if n > 0 {
		buf = make([]byte, n)
		if _, err := io.ReadFull(fr.r, buf); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Type: typ, Payload: buf}, nil
}

func (fw *framedWriter) WriteFrame(f Frame) error {
	if len(f.Payload) > 0xFFFF {
		return fmt.Errorf("frame too large: %d", len(f.Payload))
	}
	hdr := []byte{f.Type, byte(len(f.Payload) >> 8), byte(len(f.Payload) & 0xFF)}
	if _, err := fw.w.Write(hdr); err != nil {
		return err
	}
	if len(f.Payload) > 0 {
		_, err := fw.w.Write(f.Payload)
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------
// Utilities
// -----------------------------------------------------------------------------

func decodeConfig(p any) (Config, error) {
	var cfg Config
	switch v := p.(type) {
	case []byte:
		if err := json.Unmarshal(v, &cfg); err != nil {
			return cfg, err
		}
	case string:
		if err := json.Unmarshal([]byte(v), &cfg); err != nil {
			return cfg, err
		}
	case map[string]any:
		// Already a decoded object (eg. from the config service); re-marshal.
		b, err := json.Marshal(v)
		if err != nil {
			return cfg, err
		}
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config payload type: %T", p)
	}
	return cfg, nil
}

func (s *Service) publishState(level, status string, err error) {
	payload := map[string]any{
		"level":  level,  // "up", "degraded", "error", "idle"
		"status": status, // short machine string
		"ts_ms":  time.Now().UnixMilli(),
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	s.conn.Publish(s.conn.NewMessage(s.stateTopic, payload, true))
}

func backoffSeq(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	cur := min
	return func() time.Duration {
		d := cur
		cur *= 2
		if cur > max {
			cur = max
		}
		return d
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
