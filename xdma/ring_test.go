package xdma

import (
	"testing"

	"github.com/go-fpga/xdmacore/iommu"
)

func TestDescriptorAllocationSize(t *testing.T) {
	plain := DescriptorAllocationSize(4, false)
	if plain < 4*descriptorSize {
		t.Errorf("plain allocation %d too small for 4 descriptors", plain)
	}

	stream := DescriptorAllocationSize(4, true)
	if stream <= plain {
		t.Errorf("stream allocation %d should exceed plain allocation %d", stream, plain)
	}
}

func TestNewRingLinksDescriptorsCircularly(t *testing.T) {
	const n = 4

	region := &iommu.StaticMapping{
		Host: make([]byte, DescriptorAllocationSize(n, false)),
		Base: 0x1000,
	}

	cfg := Config{
		NumDescriptors:   n,
		AddrAlignment:    64,
		LenGranularity:   4,
		Direction:        DirectionH2C,
		BridgeMemorySize: 1 << 20,
		DescriptorRegion: region,
	}

	r, err := newRing(cfg)
	if err != nil {
		t.Fatalf("newRing: %v", err)
	}

	if len(r.descs) != n {
		t.Fatalf("len(descs) = %d, want %d", len(r.descs), n)
	}

	for i := 0; i < n; i++ {
		want := r.descIOVAs[(i+1)%n]
		if got := r.descs[i].nextAddr(); got != want {
			t.Errorf("descs[%d].nextAddr() = 0x%x, want 0x%x", i, got, want)
		}
	}
}

func TestNewRingRejectsUndersizedRegion(t *testing.T) {
	region := &iommu.StaticMapping{
		Host: make([]byte, 8),
		Base: 0,
	}

	cfg := Config{
		NumDescriptors:   4,
		AddrAlignment:    64,
		LenGranularity:   4,
		DescriptorRegion: region,
	}

	if _, err := newRing(cfg); err == nil {
		t.Fatal("newRing did not reject an undersized DescriptorRegion")
	}
}

func TestNewRingSegmentationBindsBuffersAndAddresses(t *testing.T) {
	const n = 3
	const bufSize = 256

	descRegion := &iommu.StaticMapping{
		Host: make([]byte, DescriptorAllocationSize(n, false)),
		Base: 0x1000,
	}
	dataRegion := &iommu.StaticMapping{
		Host: make([]byte, n*bufSize),
		Base: 0x5000,
	}

	cfg := Config{
		NumDescriptors:   n,
		AddrAlignment:    64,
		LenGranularity:   4,
		Direction:        DirectionH2C,
		BridgeMemorySize: 1 << 20,
		DescriptorRegion: descRegion,
		DataRegion:       dataRegion,
		Segmentation: BufferSegmentation{
			BytesPerBuffer: bufSize,
			CardOffset:     0x10000,
		},
	}

	r, err := newRing(cfg)
	if err != nil {
		t.Fatalf("newRing: %v", err)
	}

	if !r.preBound {
		t.Fatal("preBound = false, want true")
	}

	for i := 0; i < n; i++ {
		if len(r.descs[i].hostBuf) != bufSize {
			t.Errorf("descs[%d].hostBuf len = %d, want %d", i, len(r.descs[i].hostBuf), bufSize)
		}

		wantSrc := dataRegion.Base + uint64(i*bufSize)
		if got := r.descs[i].srcAddr(); got != wantSrc {
			t.Errorf("descs[%d].srcAddr() = 0x%x, want 0x%x", i, got, wantSrc)
		}

		wantDst := cfg.Segmentation.CardOffset + uint64(i)*bufSize
		if got := r.descs[i].dstAddr(); got != wantDst {
			t.Errorf("descs[%d].dstAddr() = 0x%x, want 0x%x", i, got, wantDst)
		}
	}
}
