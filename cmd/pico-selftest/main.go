//go:build rp2040 || rp2350

// pico-selftest runs the storage stack against a RAM device on target
// hardware, so the filesystem, bus, and service wiring can be verified on a
// bare board before an EEPROM or flash chip is attached. All tests pass: LED
// solid. Any failure: LED blinks.
package main

import (
	"context"
	"io"
	"time"

	"machine"

	"github.com/networkfusion/tinyfs-go/blockdev"
	"github.com/networkfusion/tinyfs-go/bus"
	"github.com/networkfusion/tinyfs-go/services/storage"
	"github.com/networkfusion/tinyfs-go/tinyfs"
)

// --- tiny logger (avoid fmt on MCU) ------------------------------------------

func logln(s string) { println(s) }
func logf(format string, a ...interface{}) {
	// minimal %s, %d substitution to keep code tiny
	out := make([]byte, 0, len(format)+16)
	argi := 0
	for i := 0; i < len(format); i++ {
		if format[i] == '%' && i+1 < len(format) {
			switch format[i+1] {
			case 's':
				if argi < len(a) {
					out = append(out, toString(a[argi])...)
					argi++
				}
				i++
				continue
			case 'd':
				if argi < len(a) {
					out = append(out, itoa(intFrom(a[argi]))...)
					argi++
				}
				i++
				continue
			}
		}
		out = append(out, format[i])
	}
	println(string(out))
}

func toString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return "<val>"
	}
}

func intFrom(v interface{}) int {
	switch x := v.(type) {
	case int:
		return x
	case int64:
		return int(x)
	case uint16:
		return int(x)
	default:
		return 0
	}
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	sign := ""
	if i < 0 {
		sign = "-"
		i = -i
	}
	var buf [32]byte
	b := len(buf)
	for i > 0 {
		b--
		buf[b] = byte('0' + (i % 10))
		i /= 10
	}
	if sign != "" {
		b--
		buf[b] = '-'
	}
	return string(buf[b:])
}

// --- fixtures -----------------------------------------------------------------

var geo = blockdev.Geometry{
	Capacity:        4096,
	PageSize:        64,
	SectorSize:      1024,
	PagesPerCluster: 4,
}

func freshFS() (*tinyfs.FS, *blockdev.Mem, bool) {
	dev, err := blockdev.NewMem(geo)
	if err != nil {
		return nil, nil, false
	}
	if err := tinyfs.Format(dev); err != nil {
		return nil, nil, false
	}
	fs, err := tinyfs.Mount(dev)
	if err != nil {
		return nil, nil, false
	}
	return fs, dev, true
}

// --- individual tests (return bool pass/fail) --------------------------------

func TestFormatMount() bool {
	dev, err := blockdev.NewMem(geo)
	if err != nil {
		return false
	}
	if _, err := tinyfs.Mount(dev); err != tinyfs.ErrNotFormatted {
		logln("TestFormatMount: expected not_formatted")
		return false
	}
	if err := tinyfs.Format(dev); err != nil {
		return false
	}
	fs, err := tinyfs.Mount(dev)
	if err != nil {
		return false
	}
	if fs.Stats().BytesFree != int64(geo.ClusterCount()*geo.ClusterSize()) {
		logln("TestFormatMount: wrong free space")
		return false
	}
	return true
}

func TestWriteReadRemount() bool {
	fs, dev, ok := freshFS()
	if !ok {
		return false
	}
	payload := make([]byte, 300)
	for i := range payload {
		payload[i] = byte(i)
	}
	f, err := fs.Create("self.bin")
	if err != nil {
		return false
	}
	if n, err := f.Write(payload); err != nil || n != len(payload) {
		logln("TestWriteReadRemount: write failed")
		return false
	}
	f.Close()

	fs2, err := tinyfs.Mount(dev)
	if err != nil {
		return false
	}
	f, err = fs2.Open("SELF.BIN", tinyfs.ModeRead)
	if err != nil {
		logln("TestWriteReadRemount: reopen failed")
		return false
	}
	defer f.Close()
	got := make([]byte, len(payload))
	if _, err := io.ReadFull(f, got); err != nil {
		return false
	}
	for i := range got {
		if got[i] != payload[i] {
			logf("TestWriteReadRemount: byte %d mismatch", i)
			return false
		}
	}
	return true
}

func TestDeleteOrphans() bool {
	fs, _, ok := freshFS()
	if !ok {
		return false
	}
	f, err := fs.Create("gone")
	if err != nil {
		return false
	}
	f.Write(make([]byte, 500))
	f.Close()
	if err := fs.Delete("gone"); err != nil {
		return false
	}
	st := fs.Stats()
	if st.BytesOrphaned != 3*int64(geo.ClusterSize()) {
		logf("TestDeleteOrphans: orphaned %d", st.BytesOrphaned)
		return false
	}
	if err := fs.Format(); err != nil {
		return false
	}
	if fs.Stats().BytesOrphaned != 0 {
		logln("TestDeleteOrphans: format kept orphans")
		return false
	}
	return true
}

func TestStorageService() bool {
	dev, err := blockdev.NewMem(geo)
	if err != nil {
		return false
	}
	if err := tinyfs.Format(dev); err != nil {
		return false
	}
	b := bus.NewBus(16)
	svc := storage.New(b.NewConnection("storage"), dev)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	client := b.NewConnection("selftest")
	rctx, rcancel := context.WithTimeout(ctx, time.Second)
	defer rcancel()
	reply, err := client.RequestWait(rctx, client.NewMessage(
		bus.T("storage", "control", "write"),
		map[string]any{"name": "svc", "data": "hello"}, false))
	if err != nil {
		logln("TestStorageService: write timeout")
		return false
	}
	rep, ok := reply.Payload.(map[string]any)
	if !ok || rep["ok"] != true {
		logln("TestStorageService: write rejected")
		return false
	}

	rctx2, rcancel2 := context.WithTimeout(ctx, time.Second)
	defer rcancel2()
	reply, err = client.RequestWait(rctx2, client.NewMessage(
		bus.T("storage", "control", "read"),
		map[string]any{"name": "svc"}, false))
	if err != nil {
		logln("TestStorageService: read timeout")
		return false
	}
	rep, ok = reply.Payload.(map[string]any)
	if !ok {
		return false
	}
	data, _ := rep["data"].([]byte)
	if string(data) != "hello" {
		logf("TestStorageService: read %s", data)
		return false
	}
	return true
}

func TestRetainedStats() bool {
	b := bus.NewBus(8)
	c := b.NewConnection("test")
	c.Publish(b.NewMessage(bus.T("storage", "event", "stats"),
		map[string]any{"bytes_free": 1024}, true))

	sub := c.Subscribe(bus.T("storage", "event", "+"))
	defer c.Unsubscribe(sub)
	select {
	case m := <-sub.Channel():
		p, ok := m.Payload.(map[string]any)
		return ok && p["bytes_free"] == 1024
	case <-time.After(200 * time.Millisecond):
		logln("TestRetainedStats: no retained delivery")
		return false
	}
}

// --- main: run all tests, report, and blink LED on failure --------------------

type testFn struct {
	name string
	fn   func() bool
}

func main() {
	// Give the USB CDC time to enumerate so logs show up reliably.
	time.Sleep(250 * time.Millisecond)

	led := machine.LED
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})
	led.High() // signal "running"

	tests := []testFn{
		{"TestFormatMount", TestFormatMount},
		{"TestWriteReadRemount", TestWriteReadRemount},
		{"TestDeleteOrphans", TestDeleteOrphans},
		{"TestStorageService", TestStorageService},
		{"TestRetainedStats", TestRetainedStats},
	}

	passed, failed := 0, 0
	logln("== storage self-test starting ==")
	for _, tc := range tests {
		ok := tc.fn()
		if ok {
			logf("[PASS] %s", tc.name)
			passed++
		} else {
			logf("[FAIL] %s", tc.name)
			failed++
		}
		time.Sleep(10 * time.Millisecond)
	}
	logf("== done: %d passed, %d failed ==", passed, failed)

	// LED: solid ON if all passed, otherwise slow blink forever.
	if failed == 0 {
		for {
			led.High()
			time.Sleep(2 * time.Second)
		}
	} else {
		for {
			led.High()
			time.Sleep(250 * time.Millisecond)
			led.Low()
			time.Sleep(250 * time.Millisecond)
		}
	}
}
