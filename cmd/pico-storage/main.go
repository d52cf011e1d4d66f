//go:build rp2040 || rp2350

// pico-storage is the EEPROM storage firmware for Raspberry Pi Pico boards:
// an AT24Cxx on I2C0 behind the filesystem, the storage bus service, and a
// line console on UART0.
package main

import (
	"context"
	"machine"
	"time"

	"github.com/networkfusion/tinyfs-go/blockdev"
	"github.com/networkfusion/tinyfs-go/bus"
	"github.com/networkfusion/tinyfs-go/drivers/at24cxx"
	"github.com/networkfusion/tinyfs-go/services/config"
	"github.com/networkfusion/tinyfs-go/services/console"
	"github.com/networkfusion/tinyfs-go/services/heartbeat"
	"github.com/networkfusion/tinyfs-go/services/storage"
)

// AT24C256: 32 KiB, 64 B pages. Sectors are a filesystem convention on EEPROM.
var geo = blockdev.Geometry{
	Capacity:        32 * 1024,
	PageSize:        64,
	SectorSize:      4096,
	PagesPerCluster: 4,
}

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)
	println("boot: pico-storage")

	if err := machine.I2C0.Configure(machine.I2CConfig{
		Frequency: 400 * machine.KHz,
		SDA:       machine.I2C0_SDA_PIN,
		SCL:       machine.I2C0_SCL_PIN,
	}); err != nil {
		println("Error: i2c configure:", err.Error())
		return
	}
	eeprom := at24cxx.New(machine.I2C0)
	eeprom.Configure(at24cxx.Config{Size: 32 * 1024, PageSize: 64})

	dev, err := blockdev.NewEEPROM(eeprom, geo)
	if err != nil {
		println("Error: eeprom geometry:", err.Error())
		return
	}

	b := bus.NewBus(16)
	ctx := context.WithValue(context.Background(), config.CtxDeviceKey, "pico")

	config.NewConfigService().Start(ctx, b.NewConnection("config"))

	hb := &heartbeat.Service{}
	_ = hb.Start(ctx, b.NewConnection("heartbeat"))

	svc := storage.New(b.NewConnection("storage"), dev)
	go svc.Run(ctx)

	// The console binds to the filesystem lazily: the storage service mounts
	// (or auto-formats) it first.
	sh := console.New(console.DefaultPort(115200), svc.FS, console.Config{})
	sh.Run(ctx)
}
