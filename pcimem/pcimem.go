// Package pcimem memory-maps a PCIe BAR into user space, either through
// sysfs's per-device resourceN files or through a VFIO device file
// descriptor, and hands back the mapped region as a plain []byte the xdma
// package can index into directly.
package pcimem

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

const pageSize = 4096

// alignedMmapParams rounds an arbitrary (offset, size) window down/up to
// page boundaries, the way a raw /dev/mem or resourceN mapping requires.
func alignedMmapParams(offset int64, size int) (mmapOffset int64, mmapSize int, sliceOffset int) {
	sliceOffset = int(offset & (pageSize - 1))
	mmapOffset = offset &^ (pageSize - 1)
	mmapSize = (size + sliceOffset + pageSize - 1) &^ (pageSize - 1)
	return
}

// Mapping is a memory-mapped BAR (or sub-window of one). Bytes() is the
// live register window; Close() unmaps it.
type Mapping struct {
	raw   []byte // full, page-aligned mmap
	bytes []byte // caller's requested window within raw
}

// Bytes returns the mapped register window.
func (m *Mapping) Bytes() []byte {
	return m.bytes
}

// Close unmaps the region. The kernel would do this at process exit
// regardless; calling it explicitly releases the mapping (and, for a
// sysfs resourceN file, the PCI BAR access it implies) sooner.
func (m *Mapping) Close() error {
	return unix.Munmap(m.raw)
}

// MapResource memory-maps the Nth BAR of a PCIe device through sysfs, e.g.
// /sys/bus/pci/devices/0000:01:00.0/resource0. size is the BAR's size in
// bytes, as reported by lspci or /sys/.../resourceN's file size.
func MapResource(busID string, bar int, size int) (*Mapping, error) {
	path := fmt.Sprintf("/sys/bus/pci/devices/%s/resource%d", busID, bar)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("pcimem: open %s: %w", path, err)
	}
	defer f.Close()

	mmapOffset, mmapSize, sliceOffset := alignedMmapParams(0, size)

	raw, err := unix.Mmap(int(f.Fd()), mmapOffset, mmapSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("pcimem: mmap %s: %w", path, err)
	}

	return &Mapping{raw: raw, bytes: raw[sliceOffset : sliceOffset+size]}, nil
}

// VFIORegion is the subset of vfio.Device/vfio.RegionInfo this package
// needs, kept narrow so pcimem does not import the vfio package directly
// (callers pass the two values they already have on hand).
type VFIORegion struct {
	Fd     int
	Offset uint64
	Size   uint64
}

// MapVFIORegion memory-maps a BAR exposed through an already-opened VFIO
// device file descriptor, at the (offset, size) reported by
// vfio.Device.RegionInfo.
func MapVFIORegion(r VFIORegion) (*Mapping, error) {
	mmapOffset, mmapSize, sliceOffset := alignedMmapParams(int64(r.Offset), int(r.Size))

	raw, err := unix.Mmap(r.Fd, mmapOffset, mmapSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("pcimem: mmap vfio region at offset 0x%x: %w", r.Offset, err)
	}

	return &Mapping{raw: raw, bytes: raw[sliceOffset : sliceOffset+int(r.Size)]}, nil
}
