package xdma

import (
	"fmt"
)

// ringAlign is the alignment applied to each carved sub-region of the
// descriptor region (descriptor table, completed-count word, stream
// writeback table), independent of the channel's own addrAlignment, so the
// layout is stable across bridges with different alignment requirements.
const ringAlign = 64

func alignUp(v uint64, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}

// DescriptorAllocationSize returns the number of bytes a DescriptorRegion
// mapping must be able to hold for a ring of n descriptors, including the
// completed-count writeback word and, when streamC2H is set, the per-
// descriptor stream writeback table.
func DescriptorAllocationSize(n int, streamC2H bool) uint64 {
	size := alignUp(uint64(n)*descriptorSize, ringAlign)
	size += alignUp(writebackSize, ringAlign)

	if streamC2H {
		size += alignUp(uint64(n)*streamWritebackSize, ringAlign)
	}

	return size
}

// ring owns the descriptor table, the completed-count writeback word and,
// for C2H stream channels, the per-descriptor stream writeback table, all
// carved out of a single Config.DescriptorRegion mapping.
type ring struct {
	n int

	descs     []descriptor
	descIOVAs []uint64

	completedView []byte
	completedIOVA uint64

	streamWBs     []streamWriteback
	streamIOVAs   []uint64

	// descsPerTransfer[i] records how many contiguous descriptors starting
	// at slot i form one logical transfer, as submitted by StartPopulated.
	// Zero means slot i is not the first descriptor of an in-flight
	// transfer. PollCompleted uses this to reap whole transfers rather
	// than individual descriptors.
	descsPerTransfer []uint32

	preBound bool
	dataBase uint64 // IOVA of Segmentation region base, when preBound
}

func newRing(cfg Config) (*ring, error) {
	if cfg.NumDescriptors < 2 {
		return nil, newLatchedError(ErrorKindInvalidConfig, "NumDescriptors must be >= 2, got %d", cfg.NumDescriptors)
	}

	streamC2H := cfg.Direction == DirectionC2H && cfg.BridgeMemorySize == 0

	n := cfg.NumDescriptors
	need := DescriptorAllocationSize(n, streamC2H)

	region := cfg.DescriptorRegion
	if region == nil {
		return nil, newLatchedError(ErrorKindInvalidConfig, "DescriptorRegion is nil")
	}
	if region.Len() < need {
		return nil, newLatchedError(ErrorKindInvalidConfig, "DescriptorRegion too small: have %d bytes, need %d", region.Len(), need)
	}

	host := region.HostBase()

	r := &ring{n: n, descsPerTransfer: make([]uint32, n)}

	descTableSize := alignUp(uint64(n)*descriptorSize, ringAlign)
	var off uint64

	r.descs = make([]descriptor, n)
	r.descIOVAs = make([]uint64, n)
	for i := 0; i < n; i++ {
		slotOff := off + uint64(i)*descriptorSize
		iova, err := region.IOVA(slotOff)
		if err != nil {
			return nil, fmt.Errorf("xdma: descriptor %d iova: %w", i, err)
		}
		r.descs[i] = descriptor{view: host[slotOff : slotOff+descriptorSize]}
		r.descIOVAs[i] = iova
	}
	off += descTableSize

	completedOff := off
	completedIOVA, err := region.IOVA(completedOff)
	if err != nil {
		return nil, fmt.Errorf("xdma: completed-count iova: %w", err)
	}
	r.completedView = host[completedOff : completedOff+writebackSize]
	r.completedIOVA = completedIOVA
	off += alignUp(writebackSize, ringAlign)

	if streamC2H {
		r.streamWBs = make([]streamWriteback, n)
		r.streamIOVAs = make([]uint64, n)
		for i := 0; i < n; i++ {
			slotOff := off + uint64(i)*streamWritebackSize
			iova, err := region.IOVA(slotOff)
			if err != nil {
				return nil, fmt.Errorf("xdma: stream writeback %d iova: %w", i, err)
			}
			r.streamWBs[i] = streamWriteback{view: host[slotOff : slotOff+streamWritebackSize]}
			r.streamIOVAs[i] = iova
		}
	}

	// Pre-link next_addr so a submission of k contiguous descriptors
	// starting at any slot s can rely on the chain already pointing
	// forward through slot (s+k-1)%n.
	for i := 0; i < n; i++ {
		r.descs[i].setNextAddr(r.descIOVAs[(i+1)%n])
	}

	if cfg.Segmentation.BytesPerBuffer != 0 {
		if cfg.DataRegion == nil {
			return nil, newLatchedError(ErrorKindInvalidConfig, "Segmentation set but DataRegion is nil")
		}
		r.preBound = true

		base, err := cfg.DataRegion.IOVA(cfg.Segmentation.HostOffset)
		if err != nil {
			return nil, fmt.Errorf("xdma: segmentation host offset iova: %w", err)
		}
		r.dataBase = base

		dataHost := cfg.DataRegion.HostBase()
		for i := 0; i < n; i++ {
			bufOff := cfg.Segmentation.HostOffset + uint64(i)*cfg.Segmentation.BytesPerBuffer
			bufEnd := bufOff + cfg.Segmentation.BytesPerBuffer
			if bufEnd > uint64(len(dataHost)) {
				return nil, newLatchedError(ErrorKindInvalidConfig, "segmentation buffer %d exceeds DataRegion", i)
			}

			bufIOVA, err := cfg.DataRegion.IOVA(bufOff)
			if err != nil {
				return nil, fmt.Errorf("xdma: segmentation buffer %d iova: %w", i, err)
			}

			var cardAddr uint64
			if cfg.BridgeMemorySize != 0 {
				cardAddr = cfg.Segmentation.CardOffset + uint64(i)*cfg.Segmentation.BytesPerBuffer
			} else {
				cardAddr = bufIOVA
			}

			r.descs[i].hostBuf = dataHost[bufOff:bufEnd]

			if cfg.Direction == DirectionH2C {
				r.descs[i].setSrcAddr(bufIOVA)
				r.descs[i].setDstAddr(cardAddr)
			} else {
				r.descs[i].setSrcAddr(cardAddr)
				r.descs[i].setDstAddr(bufIOVA)
			}
		}
	}

	return r, nil
}
