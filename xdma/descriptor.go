package xdma

import (
	"encoding/binary"
)

// descriptorSize is the on-wire size of a single descriptor.
const descriptorSize = 32

// writebackSize is the on-wire size of the completed-descriptor-count word.
const writebackSize = 4

// streamWritebackSize is the on-wire size of a C2H stream writeback record.
const streamWritebackSize = 16

// MaxDescriptorLen is the largest byte_count a single descriptor can carry.
const MaxDescriptorLen = 1<<28 - 1

// descriptor flag bits, packed into the low byte of magic_flags.
const (
	flagStop      = 0x01
	flagCompleted = 0x02
	flagEOP       = 0x10
)

// descriptorMagic is the fixed tag carried in the upper 16 bits of
// magic_flags.
const descriptorMagic = 0xad4b

// descriptor mirrors the 32-byte device-visible descriptor layout:
//
//	u32 magic_flags | u32 length | u64 src | u64 dst | u64 next
//
// magic_flags = magic<<16 | adjacent<<8 | flags.
type descriptor struct {
	view    []byte // descriptorSize-byte slice of the backing ring region
	hostBuf []byte // pre-bound host buffer for this slot, if BytesPerBuffer is set
}

func (d descriptor) magicFlags() uint32 {
	return binary.LittleEndian.Uint32(d.view[0:4])
}

func (d descriptor) setMagicFlags(adjacent uint8, flags uint8) {
	v := uint32(descriptorMagic)<<16 | uint32(adjacent)<<8 | uint32(flags)
	binary.LittleEndian.PutUint32(d.view[0:4], v)
}

func (d descriptor) flags() uint8 {
	return uint8(d.magicFlags())
}

func (d descriptor) adjacent() uint8 {
	return uint8(d.magicFlags() >> 8)
}

func (d descriptor) byteCount() uint32 {
	return binary.LittleEndian.Uint32(d.view[4:8])
}

func (d descriptor) setByteCount(n uint32) {
	binary.LittleEndian.PutUint32(d.view[4:8], n)
}

func (d descriptor) srcAddr() uint64 {
	return binary.LittleEndian.Uint64(d.view[8:16])
}

func (d descriptor) setSrcAddr(addr uint64) {
	binary.LittleEndian.PutUint64(d.view[8:16], addr)
}

func (d descriptor) dstAddr() uint64 {
	return binary.LittleEndian.Uint64(d.view[16:24])
}

func (d descriptor) setDstAddr(addr uint64) {
	binary.LittleEndian.PutUint64(d.view[16:24], addr)
}

func (d descriptor) nextAddr() uint64 {
	return binary.LittleEndian.Uint64(d.view[24:32])
}

func (d descriptor) setNextAddr(addr uint64) {
	binary.LittleEndian.PutUint64(d.view[24:32], addr)
}

// fill programs the flag/adjacent/byte-count fields used on every
// submission. Addresses are only written when the slot is not pre-bound to a
// fixed buffer (see Config.Segmentation.BytesPerBuffer).
func (d descriptor) fill(byteCount uint32, src, dst uint64, adjacent uint8, flags uint8, preBound bool) {
	d.setMagicFlags(adjacent, flags)
	d.setByteCount(byteCount)

	if !preBound {
		d.setSrcAddr(src)
		d.setDstAddr(dst)
	}
}

func hasFlag(v uint8, mask uint8) bool {
	return v&mask != 0
}

// completedCountMask masks out the high "status valid" latch bit some
// hardware revisions carry in the completed-descriptor-count writeback word
// (see open question in DESIGN.md on the reserved high bit).
const completedCountMask = 0x7fffffff

func readCompletedCount(view []byte) uint32 {
	return binary.LittleEndian.Uint32(view) & completedCountMask
}

// streamWriteback decodes/encodes a C2H stream writeback record:
//
//	u32 status | u32 length | u32 reserved | u32 reserved
//
// status bit 0x1 = EOP, bit 0x80000000 = valid.
type streamWriteback struct {
	view []byte // streamWritebackSize-byte slice
}

const (
	streamWritebackEOP   = 0x1
	streamWritebackValid = 0x80000000
)

func (w streamWriteback) status() uint32 {
	return binary.LittleEndian.Uint32(w.view[0:4])
}

func (w streamWriteback) valid() bool {
	return w.status()&streamWritebackValid != 0
}

func (w streamWriteback) eop() bool {
	return w.status()&streamWritebackEOP != 0
}

func (w streamWriteback) length() uint32 {
	return binary.LittleEndian.Uint32(w.view[4:8])
}

// clear zeros the record so the core can tell apart a fresh completion from
// a stale one on reuse.
func (w streamWriteback) clear() {
	for i := range w.view {
		w.view[i] = 0
	}
}
