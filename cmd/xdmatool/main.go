// Command xdmatool drives a single H2C or C2H channel of an XDMA bridge
// end to end: open the device through VFIO, configure a ring, push or pull
// one buffer, and report what happened. It exists as a smoke test and a
// worked example of wiring pcimem, iommu/vfio and xdma together; real
// applications will want to call the xdma package directly.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-fpga/xdmacore/iommu/vfio"
	"github.com/go-fpga/xdmacore/pcimem"
	"github.com/go-fpga/xdmacore/xdma"
	"github.com/go-fpga/xdmacore/xdmalog"
)

func main() {
	var (
		busID      = flag.String("bus", "", "PCIe bus ID, e.g. 0000:01:00.0")
		group      = flag.Int("group", -1, "VFIO IOMMU group number")
		barIndex   = flag.Uint("bar", 0, "BAR index carrying the XDMA register blocks")
		direction  = flag.String("direction", "h2c", "h2c or c2h")
		channelIdx = flag.Int("channel", 0, "channel index within the chosen direction")
		numDescs   = flag.Int("descriptors", 64, "ring size")
		bufSize    = flag.Uint64("buffer-size", 4096, "per-descriptor buffer size in bytes")
		arenaBytes = flag.Uint64("arena-size", 16<<20, "DMA arena size in bytes")
	)
	flag.Parse()

	logger := xdmalog.New(slog.LevelInfo)

	if *busID == "" || *group < 0 {
		fmt.Fprintln(os.Stderr, "xdmatool: -bus and -group are required")
		flag.Usage()
		os.Exit(2)
	}

	if err := run(logger, *busID, *group, uint32(*barIndex), *direction, *channelIdx, *numDescs, *bufSize, *arenaBytes); err != nil {
		logger.Error("xdmatool failed", "err", err)
		os.Exit(1)
	}
}

func mapBAR(deviceFd int, region vfio.RegionInfo) (xdma.RegisterWindow, error) {
	m, err := pcimem.MapVFIORegion(pcimem.VFIORegion{Fd: deviceFd, Offset: region.Offset, Size: region.Size})
	if err != nil {
		return nil, err
	}
	return xdma.RegisterWindow(m.Bytes()), nil
}

func run(logger *slog.Logger, busID string, group int, barIndex uint32, directionFlag string, channelIdx, numDescs int, bufSize, arenaBytes uint64) error {
	var dir xdma.Direction
	switch directionFlag {
	case "h2c":
		dir = xdma.DirectionH2C
	case "c2h":
		dir = xdma.DirectionC2H
	default:
		return fmt.Errorf("unknown direction %q", directionFlag)
	}

	container, err := vfio.OpenContainer()
	if err != nil {
		return err
	}
	defer container.Close()

	grp, err := vfio.OpenGroup(container, group)
	if err != nil {
		return err
	}
	defer grp.Close()

	dev, err := vfio.OpenDevice(grp, busID)
	if err != nil {
		return err
	}
	defer dev.Close()

	region, err := dev.RegionInfo(barIndex)
	if err != nil {
		return err
	}

	bar, err := mapBAR(dev.Fd(), region)
	if err != nil {
		return err
	}

	arena, err := vfio.NewArena(container, arenaBytes, 0x100000000)
	if err != nil {
		return err
	}
	defer arena.Close()

	descRegionSize := xdma.DescriptorAllocationSize(numDescs, dir == xdma.DirectionC2H)
	descRegion, err := arena.Alloc(descRegionSize)
	if err != nil {
		return err
	}

	dataRegion, err := arena.Alloc(uint64(numDescs) * bufSize)
	if err != nil {
		return err
	}

	caps, err := xdma.ProbeChannel(bar, dir, channelIdx)
	if err != nil {
		return err
	}

	cfg := xdma.Config{
		AddrAlignment:    caps.AddrAlignment,
		LenGranularity:   caps.LenGranularity,
		NumDescriptors:   numDescs,
		Direction:        dir,
		ChannelIndex:     channelIdx,
		BAR:              bar,
		DescriptorRegion: descRegion,
		DataRegion:       dataRegion,
		Segmentation:     xdma.BufferSegmentation{BytesPerBuffer: bufSize},
		TimeoutSeconds:   5,
	}

	ch, err := xdma.Configure(cfg)
	if err != nil {
		return err
	}
	defer ch.Finalize()

	chLog := xdmalog.Channel(logger, dir, channelIdx)
	chLog.Info("channel configured", "descriptors", numDescs, "bufferSize", bufSize)

	if dir == xdma.DirectionH2C {
		h := xdma.NewH2C(ch)
		buf, ok := h.NextBuffer()
		if !ok {
			return fmt.Errorf("no free descriptor")
		}
		copy(buf, []byte("xdmatool smoke test payload"))

		if err := ch.StartPopulated([]xdma.DescriptorFill{{HostBuf: buf, Length: uint32(len(buf))}}); err != nil {
			return err
		}
	} else {
		c := xdma.NewC2H(ch)
		if !c.StartNext() {
			return fmt.Errorf("failed to queue receive buffer")
		}
	}

	for {
		_, length, eop, ok := ch.PollCompleted()
		if err := ch.Err(); err != nil {
			return err
		}
		if ok {
			chLog.Info("transfer completed", "length", length, "eop", eop)
			return nil
		}
	}
}
