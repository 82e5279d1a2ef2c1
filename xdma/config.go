package xdma

import (
	"sync/atomic"

	"github.com/go-fpga/xdmacore/iommu"
)

// Direction identifies a channel's data direction.
type Direction int

const (
	// DirectionH2C is a host-to-card channel.
	DirectionH2C Direction = iota
	// DirectionC2H is a card-to-host channel.
	DirectionC2H
)

func (d Direction) String() string {
	if d == DirectionH2C {
		return "h2c"
	}
	return "c2h"
}

// BufferSegmentation configures per-descriptor pre-binding: when set, each
// ring slot i is permanently bound to buffer i of BytesPerBuffer bytes,
// starting at HostOffset/CardOffset + i*BytesPerBuffer. Populating a
// transfer then only toggles flags and byte_count.
type BufferSegmentation struct {
	BytesPerBuffer uint64
	HostOffset     uint64
	CardOffset     uint64
}

// Config is the caller-owned, read-only-after-init configuration for a
// single DMA engine channel.
type Config struct {
	// BridgeMemorySize is the card-side address space size in bytes. Zero
	// means AXI Stream; non-zero means AXI Memory-Mapped, bounding
	// card-side offsets to [0, BridgeMemorySize).
	BridgeMemorySize uint64

	// AddrAlignment is the minimum descriptor address alignment in bytes,
	// must be a power of two.
	AddrAlignment uint32

	// LenGranularity is the minimum descriptor length granularity in
	// bytes.
	LenGranularity uint32

	// NumDescriptors is the ring size N. Must be >= 2.
	NumDescriptors int

	// Direction selects H2C or C2H.
	Direction Direction

	// ChannelIndex is the zero-based channel number within its direction.
	ChannelIndex int

	// Segmentation configures optional per-descriptor buffer pre-binding.
	// The zero value (BytesPerBuffer == 0) disables pre-binding.
	Segmentation BufferSegmentation

	// StreamContinuous enables C2H stream continuous-run mode: all N-1
	// descriptors are pre-queued at Configure time with Stop and EOP
	// clear, and the engine is expected to run indefinitely. Only valid
	// for Direction == DirectionC2H with BridgeMemorySize == 0.
	StreamContinuous bool

	// TimeoutSeconds bounds how long a started transfer may remain
	// in-flight before the channel is marked Failed with
	// ErrEngineTimeout. Negative disables the timeout.
	TimeoutSeconds float64

	// BAR is the memory-mapped channel/SGDMA register blocks.
	BAR RegisterWindow

	// DescriptorRegion is the DMA-addressable region the ring allocator
	// carves descriptor slots, the completed-count writeback word, and
	// (for C2H stream) the per-descriptor writeback records from.
	DescriptorRegion iommu.Mapping

	// DataRegion is the DMA-addressable region backing transfer payload
	// buffers. With Segmentation.BytesPerBuffer != 0 the ring pre-binds
	// its buffers from it; for ad hoc (non-pre-bound) transfers the
	// caller supplies host buffers to StartPopulated/DescriptorFill, which
	// must be sub-slices of this region's HostBase so the core can
	// translate them to IOVAs and rebuild reaped buffers from it.
	DataRegion iommu.Mapping

	// OverallSuccess, when non-nil, is cleared (set false) the first time
	// this channel latches a failure. It is a single shared observer a
	// caller can use across several channels.
	OverallSuccess *atomic.Bool
}

// RegisterWindow is the raw BAR view the channel's four register blocks are
// read from. Offsets are relative to the start of this slice and are
// computed by ProbeBridge/ProbeChannel/Configure from the channel index and
// direction.
type RegisterWindow []byte
