// Package vfio implements an iommu.Mapping provider backed by the Linux
// VFIO (Virtual Function I/O) framework: it walks the
// container/group/device ioctl dance to obtain a device file descriptor
// with its own IOMMU domain, then exposes an arena that pins host memory
// and hands out sub-regions as IOVA-mapped buffers.
package vfio

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux ioctl encoding, ioctl(2): direction/size/type/nr packed into the
// command word. VFIO commands carry no data-direction bits (_IO, not
// _IOW/_IOR/_IOWR) since argument structs self-describe their size via an
// argsz field.
const (
	iocNrBits   = 8
	iocTypeBits = 8

	iocNrShift   = 0
	iocTypeShift = iocNrShift + iocNrBits
)

func ioc(iocType, nr int) uint32 {
	return uint32(iocType)<<iocTypeShift | uint32(nr)<<iocNrShift
}

// VFIO_TYPE (';') and VFIO_BASE, from <linux/vfio.h>.
const (
	vfioType = 0x3b
	vfioBase = 100
)

var (
	vfioGetAPIVersion       = ioc(vfioType, vfioBase+0)
	vfioCheckExtension      = ioc(vfioType, vfioBase+1)
	vfioSetIOMMU            = ioc(vfioType, vfioBase+2)
	vfioGroupGetStatus      = ioc(vfioType, vfioBase+3)
	vfioGroupSetContainer   = ioc(vfioType, vfioBase+4)
	vfioGroupGetDeviceFD    = ioc(vfioType, vfioBase+6)
	vfioDeviceGetRegionInfo = ioc(vfioType, vfioBase+8)
	vfioDeviceReset         = ioc(vfioType, vfioBase+11)
	vfioIOMMUMapDMA         = ioc(vfioType, vfioBase+13)
	vfioIOMMUUnmapDMA       = ioc(vfioType, vfioBase+14)
)

// vfioAPIVersion is the only API version this package understands.
const vfioAPIVersion = 0

// vfioTypeIOMMU is the Type1 IOMMU model (VFIO_TYPE1_IOMMU), the common
// case for a single PCIe endpoint behind an IOMMU group with no peer
// devices sharing the group.
const vfioTypeIOMMU = 1

func ioctl(fd int, cmd uint32, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(cmd), uintptr(arg))
	if errno != 0 {
		return fmt.Errorf("vfio: ioctl 0x%x: %w", cmd, errno)
	}
	return nil
}

func ioctlNoArg(fd int, cmd uint32) (int, error) {
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(cmd), 0)
	if errno != 0 {
		return 0, fmt.Errorf("vfio: ioctl 0x%x: %w", cmd, errno)
	}
	return int(r), nil
}

// ioctlIntArg issues an ioctl whose third argument is a plain integer value
// rather than a pointer to a struct (VFIO_SET_IOMMU is the one command in
// this package shaped that way).
func ioctlIntArg(fd int, cmd uint32, arg int) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(cmd), uintptr(arg))
	if errno != 0 {
		return fmt.Errorf("vfio: ioctl 0x%x: %w", cmd, errno)
	}
	return nil
}

// vfioGroupStatus mirrors struct vfio_group_status.
type vfioGroupStatus struct {
	ArgSz uint32
	Flags uint32
}

const vfioGroupFlagsViable = 1 << 0

// vfioIOMMUTypeDMAMap mirrors struct vfio_iommu_type1_dma_map.
type vfioIOMMUTypeDMAMap struct {
	ArgSz uint32
	Flags uint32
	VAddr uint64
	IOVA  uint64
	Size  uint64
}

const (
	vfioDMAMapFlagRead  = 1 << 0
	vfioDMAMapFlagWrite = 1 << 1
)

// vfioIOMMUTypeDMAUnmap mirrors struct vfio_iommu_type1_dma_unmap.
type vfioIOMMUTypeDMAUnmap struct {
	ArgSz uint32
	Flags uint32
	IOVA  uint64
	Size  uint64
}

// vfioRegionInfo mirrors the fixed-size prefix of struct
// vfio_region_info (capability chains are not consumed by this package).
type vfioRegionInfo struct {
	ArgSz  uint32
	Flags  uint32
	Index  uint32
	Cap    uint32
	Size   uint64
	Offset uint64
}

const (
	vfioRegionInfoFlagMMAP = 1 << 1
)
