//go:build rp2040 || rp2350

// flash-storage runs the filesystem on an external SPI NOR flash chip wired
// to SPI0 of a Pico (SCK GP18, SDO GP19, SDI GP16, CS GP17).
package main

import (
	"context"
	"machine"
	"time"

	"tinygo.org/x/drivers/flash"

	"github.com/networkfusion/tinyfs-go/blockdev"
	"github.com/networkfusion/tinyfs-go/bus"
	"github.com/networkfusion/tinyfs-go/services/config"
	"github.com/networkfusion/tinyfs-go/services/console"
	"github.com/networkfusion/tinyfs-go/services/heartbeat"
	"github.com/networkfusion/tinyfs-go/services/storage"
)

// 4 MiB NOR part (W25Q32 class): 256 B pages, 4 KiB erase sectors.
var geo = blockdev.Geometry{
	Capacity:        4 << 20,
	PageSize:        256,
	SectorSize:      4096,
	PagesPerCluster: 1,
}

func main() {
	time.Sleep(2 * time.Second)
	println("boot: flash-storage")

	if err := machine.SPI0.Configure(machine.SPIConfig{
		Frequency: 8_000_000,
		SCK:       machine.GP18,
		SDO:       machine.GP19,
		SDI:       machine.GP16,
	}); err != nil {
		println("Error: spi configure:", err.Error())
		return
	}
	chip := flash.NewSPI(machine.SPI0, machine.GP19, machine.GP16, machine.GP17)
	if err := chip.Configure(&flash.DeviceConfig{Identifier: flash.DefaultDeviceIdentifier}); err != nil {
		println("Error: flash configure:", err.Error())
		return
	}

	dev, err := blockdev.NewFlash(chip, geo)
	if err != nil {
		println("Error: flash geometry:", err.Error())
		return
	}

	b := bus.NewBus(16)
	ctx := context.WithValue(context.Background(), config.CtxDeviceKey, "pico")

	config.NewConfigService().Start(ctx, b.NewConnection("config"))

	hb := &heartbeat.Service{}
	_ = hb.Start(ctx, b.NewConnection("heartbeat"))

	svc := storage.New(b.NewConnection("storage"), dev)
	go svc.Run(ctx)

	sh := console.New(console.DefaultPort(115200), svc.FS, console.Config{})
	sh.Run(ctx)
}
