package xdma

import (
	"github.com/go-fpga/xdmacore/internal/reg"
)

// Register blocks are 256 bytes each, grouped into 4KiB-aligned pages
// holding up to 16 per-channel instances.
const (
	blockSize = 0x100

	h2cChannelPageBase = 0x0000
	c2hChannelPageBase = 0x1000
	identBlockBase     = 0x2000
	h2cSGDMAPageBase   = 0x4000
	c2hSGDMAPageBase   = 0x5000
	sgdmaCommonBase    = 0x6000
)

// Bridge identification block (single instance).
const (
	identIdentifier = 0x00 // bits[31:12] = identMagic, bits[7:4] = version
	identNumH2C     = 0x04 // low byte: configured H2C channel count
	identNumC2H     = 0x08 // low byte: configured C2H channel count
)

// identMagic is the subsystem signature carried in the upper bits of the
// identification register.
const identMagic = 0x1fc

// Per-channel control/status block (x2x_channel_regs).
const (
	chanIdentifier = 0x00 // bits[31:12]=identMagic, bits[7:4]=target (0=H2C,1=C2H)
	chanControl    = 0x04 // bit0 = Run
	chanStatus     = 0x40 // bit0 = Busy, bit1 = Descriptor_Stopped, bits[12:8] = error bits
	chanAlignments = 0x4c // bits[7:0]=addr_alignment, [15:8]=len_granularity, [23:16]=num_address_bits
	chanWBAddrLo   = 0x88 // poll-mode completed-count writeback address, low 32 bits
	chanWBAddrHi   = 0x8c // poll-mode completed-count writeback address, high 32 bits
)

// Control register bits.
const (
	controlRun = 0
)

// Status register bits.
const (
	statusBusy             = 0
	statusDescriptorStop   = 1
	statusErrDescFetch     = 8
	statusErrRead          = 9
	statusErrWrite         = 10
	statusErrAlign         = 11
	statusErrMagicStop     = 12
	statusErrMask          = 1<<statusErrDescFetch | 1<<statusErrRead | 1<<statusErrWrite | 1<<statusErrAlign | 1<<statusErrMagicStop
)

// Per-channel SGDMA block (x2x_sgdma_regs).
const (
	sgdmaIdentifier    = 0x00
	sgdmaDescLo        = 0x80
	sgdmaDescHi        = 0x84
	sgdmaDescAdjacent  = 0x88
	sgdmaDescCredits   = 0x8c
)

// SGDMA common block (sgdma_common_regs), shared across all channels.
const (
	commonIdentifier      = 0x00
	commonDescControl     = 0x04
	commonDescCreditEn    = 0x08
)

// channelBlockOffsets returns the base offsets (within the BAR) of the
// channel control and SGDMA register blocks for a given direction/index.
func channelBlockOffsets(dir Direction, index int) (channelBase, sgdmaBase uint32) {
	n := uint32(index) * blockSize

	if dir == DirectionH2C {
		return h2cChannelPageBase + n, h2cSGDMAPageBase + n
	}
	return c2hChannelPageBase + n, c2hSGDMAPageBase + n
}

// regBlock is a thin typed view over one channel's register offsets within
// the caller-supplied BAR window.
type regBlock struct {
	bar        reg.View
	channel    uint32
	sgdma      uint32
}

func newRegBlock(bar RegisterWindow, dir Direction, index int) regBlock {
	channelBase, sgdmaBase := channelBlockOffsets(dir, index)
	return regBlock{bar: reg.View(bar), channel: channelBase, sgdma: sgdmaBase}
}

func (r regBlock) identifier() uint32 {
	return r.bar.Read(r.channel + chanIdentifier)
}

func (r regBlock) signatureOK() bool {
	return r.identifier()>>12 == identMagic
}

func (r regBlock) target() uint32 {
	return (r.identifier() >> 4) & 0xf
}

func (r regBlock) alignments() (addrAlignment, lenGranularity, numAddressBits uint32) {
	v := r.bar.Read(r.channel + chanAlignments)
	return v & 0xff, (v >> 8) & 0xff, (v >> 16) & 0xff
}

func (r regBlock) setRun(run bool) {
	if run {
		r.bar.Set(r.channel+chanControl, controlRun)
	} else {
		r.bar.Clear(r.channel+chanControl, controlRun)
	}
	r.bar.Flush(r.channel + chanControl)
}

func (r regBlock) busy() bool {
	return r.bar.Get(r.channel+chanStatus, statusBusy, 1) == 1
}

func (r regBlock) statusErrorBits() uint32 {
	return r.bar.Read(r.channel+chanStatus) & statusErrMask
}

func (r regBlock) setWritebackAddr(iova uint64) {
	r.bar.Write(r.channel+chanWBAddrLo, uint32(iova))
	r.bar.Write(r.channel+chanWBAddrHi, uint32(iova>>32))
	r.bar.Flush(r.channel + chanWBAddrHi)
}

func (r regBlock) setFirstDescriptor(iova uint64, adjacent uint8) {
	r.bar.Write(r.sgdma+sgdmaDescLo, uint32(iova))
	r.bar.Write(r.sgdma+sgdmaDescHi, uint32(iova>>32))
	r.bar.Write(r.sgdma+sgdmaDescAdjacent, uint32(adjacent))
	r.bar.Flush(r.sgdma + sgdmaDescAdjacent)
}

// identBlock is a typed view over the bridge identification registers.
type identBlock struct {
	bar reg.View
}

func newIdentBlock(bar RegisterWindow) identBlock {
	return identBlock{bar: reg.View(bar)}
}

func (b identBlock) signatureOK() bool {
	return b.bar.Read(identBlockBase+identIdentifier)>>12 == identMagic
}

func (b identBlock) numH2C() int {
	return int(b.bar.Read(identBlockBase+identNumH2C) & 0xff)
}

func (b identBlock) numC2H() int {
	return int(b.bar.Read(identBlockBase+identNumC2H) & 0xff)
}
