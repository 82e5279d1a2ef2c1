package vfio

import (
	"container/list"
	"testing"
)

// newTestArena builds an Arena around a plain byte slice, bypassing
// NewArena's real mmap/VFIO_IOMMU_MAP_DMA calls so the allocator logic can
// be exercised without a VFIO device.
func newTestArena(size uint64) *Arena {
	a := &Arena{
		host:     make([]byte, size),
		iovaBase: 0x1000,
		free:     list.New(),
		used:     make(map[uint64]*block),
	}
	a.free.PushFront(&block{offset: 0, size: size})
	return a
}

func TestArenaAllocAlignsAndTracksIOVA(t *testing.T) {
	a := newTestArena(4096)

	m, err := a.Alloc(100)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if got := m.Len(); got != alignUp(100, arenaAlign) {
		t.Fatalf("Len() = %d, want %d", got, alignUp(100, arenaAlign))
	}

	iova, err := m.IOVA(0)
	if err != nil {
		t.Fatalf("IOVA: %v", err)
	}
	if iova != a.iovaBase {
		t.Fatalf("IOVA(0) = 0x%x, want 0x%x", iova, a.iovaBase)
	}

	if _, err := m.IOVA(m.Len() + 1); err == nil {
		t.Fatal("IOVA past the end of the mapping should fail")
	}
}

func TestArenaAllocFirstFitSplitsFreeBlock(t *testing.T) {
	a := newTestArena(4096)

	first, err := a.Alloc(64)
	if err != nil {
		t.Fatalf("Alloc first: %v", err)
	}
	second, err := a.Alloc(128)
	if err != nil {
		t.Fatalf("Alloc second: %v", err)
	}

	firstIOVA, _ := first.IOVA(0)
	secondIOVA, _ := second.IOVA(0)
	if secondIOVA != firstIOVA+first.Len() {
		t.Fatalf("second allocation at 0x%x, want immediately after first at 0x%x", secondIOVA, firstIOVA+first.Len())
	}
}

func TestArenaOutOfSpace(t *testing.T) {
	a := newTestArena(128)

	if _, err := a.Alloc(64); err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if _, err := a.Alloc(1024); err == nil {
		t.Fatal("expected out-of-space error")
	}
}

func TestArenaFreeCoalescesAdjacentBlocks(t *testing.T) {
	a := newTestArena(4096)

	first, _ := a.Alloc(64)
	second, _ := a.Alloc(64)
	third, _ := a.Alloc(64)

	a.Free(first)
	a.Free(second)

	// first and second should have merged into one free run; a fresh
	// allocation spanning both should succeed without touching third.
	merged, err := a.Alloc(first.Len() + second.Len())
	if err != nil {
		t.Fatalf("Alloc after coalesce: %v", err)
	}
	mergedIOVA, _ := merged.IOVA(0)
	firstIOVA, _ := first.IOVA(0)
	if mergedIOVA != firstIOVA {
		t.Fatalf("merged allocation at 0x%x, want 0x%x", mergedIOVA, firstIOVA)
	}

	thirdIOVA, _ := third.IOVA(0)
	if thirdIOVA == mergedIOVA {
		t.Fatal("third allocation should be untouched by the merge")
	}
}

func TestArenaFreeIgnoresForeignMapping(t *testing.T) {
	a := newTestArena(4096)
	other := newTestArena(4096)

	m, err := other.Alloc(64)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	// Freeing a mapping that belongs to a different arena must be a no-op,
	// not corrupt a's free list.
	a.Free(m)

	if got := a.free.Front().Value.(*block).size; got != 4096 {
		t.Fatalf("a's free space changed after a foreign Free: %d", got)
	}
}

func TestArenaHostBaseWindow(t *testing.T) {
	a := newTestArena(256)
	for i := range a.host {
		a.host[i] = 0xAA
	}

	m, err := a.Alloc(64)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	hb := m.HostBase()
	if len(hb) != int(m.Len()) {
		t.Fatalf("HostBase() length = %d, want %d", len(hb), m.Len())
	}
	hb[0] = 0x55
	if a.host[0] != 0x55 {
		t.Fatal("HostBase() should be a view over the arena's backing slice, not a copy")
	}
}
