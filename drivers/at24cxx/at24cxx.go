// Package at24cxx provides a minimal TinyGo driver for the AT24Cxx family of
// I2C serial EEPROMs (AT24C32 … AT24C512).
//
// Design notes (datasheet references):
// • I2C, up to 1MHz; 16-bit word address sent MSB first.
// • Page write up to one page (32/64/128 bytes by part); writes crossing a
//   page boundary wrap inside the page, so the driver chunks at boundaries.
// • Internal write cycle up to 5 ms; the device NAKs its address while busy.
//   The driver acknowledge-polls after each page write.
package at24cxx

import (
	"errors"
	"time"

	"tinygo.org/x/drivers"
)

// Default 7-bit address with A2..A0 strapped low.
const AddressDefault = 0x50

// Errors returned by the driver.
var (
	ErrWriteTimeout = errors.New("at24cxx: write cycle timeout")
	ErrOutOfRange   = errors.New("at24cxx: address out of range")
)

// Config selects the part variant. All fields are optional.
type Config struct {
	// Address defaults to 0x50 if zero.
	Address uint16
	// Size in bytes. Default 32768 (AT24C256).
	Size int
	// PageSize in bytes. Default 64.
	PageSize int
	// WriteCycle bounds acknowledge polling after a page write. Default 5 ms.
	WriteCycle time.Duration
}

// Device wraps an I2C connection to an AT24Cxx device.
type Device struct {
	bus  drivers.I2C
	addr uint16

	size       int
	pageSize   int
	writeCycle time.Duration

	// Fixed buffer: 2 address bytes + one page, to avoid per-call allocations.
	w [2 + 128]byte
}

// New creates the device object only; it does not touch the chip.
// The I2C bus must already be configured.
func New(bus drivers.I2C) *Device {
	return &Device{
		bus:        bus,
		addr:       AddressDefault,
		size:       32768,
		pageSize:   64,
		writeCycle: 5 * time.Millisecond,
	}
}

// Configure applies the part variant selection.
func (d *Device) Configure(cfg Config) {
	if cfg.Address != 0 {
		d.addr = cfg.Address
	}
	if cfg.Size > 0 {
		d.size = cfg.Size
	}
	if cfg.PageSize > 0 && cfg.PageSize <= 128 {
		d.pageSize = cfg.PageSize
	}
	if cfg.WriteCycle > 0 {
		d.writeCycle = cfg.WriteCycle
	}
}

// Size returns the capacity in bytes.
func (d *Device) Size() int { return d.size }

// PageSize returns the write page size in bytes.
func (d *Device) PageSize() int { return d.pageSize }

// ReadAt performs a random read of len(p) bytes starting at off. The EEPROM
// address counter rolls over at the end of the array; reads are bounded here
// instead.
func (d *Device) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(d.size) {
		return 0, ErrOutOfRange
	}
	if len(p) == 0 {
		return 0, nil
	}
	d.w[0] = byte(off >> 8) // word address, MSB first
	d.w[1] = byte(off)
	if err := d.bus.Tx(d.addr, d.w[:2], p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteAt writes len(p) bytes starting at off, chunked at page boundaries,
// acknowledge-polling between pages.
func (d *Device) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(d.size) {
		return 0, ErrOutOfRange
	}
	written := 0
	for written < len(p) {
		a := int(off) + written
		n := d.pageSize - a%d.pageSize // bytes left in this page
		if n > len(p)-written {
			n = len(p) - written
		}
		d.w[0] = byte(a >> 8)
		d.w[1] = byte(a)
		copy(d.w[2:], p[written:written+n])
		if err := d.bus.Tx(d.addr, d.w[:2+n], nil); err != nil {
			return written, err
		}
		if err := d.waitReady(); err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

// waitReady acknowledge-polls until the internal write cycle completes.
func (d *Device) waitReady() error {
	deadline := time.Now().Add(d.writeCycle * 4)
	for {
		if err := d.bus.Tx(d.addr, nil, nil); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrWriteTimeout
		}
		time.Sleep(250 * time.Microsecond)
	}
}
