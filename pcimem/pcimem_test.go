package pcimem

import "testing"

func TestAlignedMmapParamsPageAligned(t *testing.T) {
	mmapOffset, mmapSize, sliceOffset := alignedMmapParams(0, 4096)
	if mmapOffset != 0 || mmapSize != 4096 || sliceOffset != 0 {
		t.Fatalf("got (%d, %d, %d), want (0, 4096, 0)", mmapOffset, mmapSize, sliceOffset)
	}
}

func TestAlignedMmapParamsUnalignedOffset(t *testing.T) {
	// A VFIO region offset 100 bytes into the page at 0x1000 plus a
	// 200-byte window should round down to the containing page and round
	// the size up to cover it.
	mmapOffset, mmapSize, sliceOffset := alignedMmapParams(pageSize+100, 200)

	if mmapOffset != pageSize {
		t.Fatalf("mmapOffset = %d, want %d", mmapOffset, pageSize)
	}
	if sliceOffset != 100 {
		t.Fatalf("sliceOffset = %d, want 100", sliceOffset)
	}
	if mmapSize < sliceOffset+200 {
		t.Fatalf("mmapSize %d too small for sliceOffset+size %d", mmapSize, sliceOffset+200)
	}
	if mmapSize%pageSize != 0 {
		t.Fatalf("mmapSize %d not page-aligned", mmapSize)
	}
}

func TestAlignedMmapParamsSpanningTwoPages(t *testing.T) {
	// An offset near the end of a page plus a size that spills into the
	// next page must produce a two-page mapping.
	mmapOffset, mmapSize, sliceOffset := alignedMmapParams(pageSize-64, 128)

	if mmapOffset != pageSize-pageSize {
		// offset (pageSize-64) rounds down to page 0.
		t.Fatalf("mmapOffset = %d, want 0", mmapOffset)
	}
	if sliceOffset != pageSize-64 {
		t.Fatalf("sliceOffset = %d, want %d", sliceOffset, pageSize-64)
	}
	if mmapSize != 2*pageSize {
		t.Fatalf("mmapSize = %d, want %d", mmapSize, 2*pageSize)
	}
}
