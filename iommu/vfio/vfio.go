package vfio

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Container wraps /dev/vfio/vfio, the entry point for assembling an IOMMU
// domain out of one or more groups.
type Container struct {
	fd int
}

// OpenContainer opens /dev/vfio/vfio and checks its API version.
func OpenContainer() (*Container, error) {
	fd, err := unix.Open("/dev/vfio/vfio", unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("vfio: open /dev/vfio/vfio: %w", err)
	}

	version, err := ioctlNoArg(fd, vfioGetAPIVersion)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	if version != vfioAPIVersion {
		unix.Close(fd)
		return nil, fmt.Errorf("vfio: unsupported API version %d", version)
	}

	return &Container{fd: fd}, nil
}

// Close releases the container's file descriptor.
func (c *Container) Close() error {
	return unix.Close(c.fd)
}

// Group wraps /dev/vfio/<n>, the IOMMU group a PCIe device belongs to.
// Groups must be "viable" (every device in the group bound to vfio-pci or
// otherwise unused) before they can be attached to a Container.
type Group struct {
	fd        int
	container *Container
}

// OpenGroup opens the group device for the given IOMMU group number, joins
// it to container, and sets the container's IOMMU model to Type1.
func OpenGroup(container *Container, groupNum int) (*Group, error) {
	path := fmt.Sprintf("/dev/vfio/%d", groupNum)

	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("vfio: open %s: %w", path, err)
	}

	status := vfioGroupStatus{ArgSz: uint32(unsafe.Sizeof(vfioGroupStatus{}))}
	if err := ioctl(fd, vfioGroupGetStatus, unsafe.Pointer(&status)); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if status.Flags&vfioGroupFlagsViable == 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("vfio: group %d is not viable (a device is bound to another driver)", groupNum)
	}

	if err := ioctl(fd, vfioGroupSetContainer, unsafe.Pointer(&container.fd)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("vfio: set container on group %d: %w", groupNum, err)
	}

	if err := ioctlIntArg(container.fd, vfioSetIOMMU, vfioTypeIOMMU); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("vfio: set IOMMU type1 on container: %w", err)
	}

	return &Group{fd: fd, container: container}, nil
}

// Close releases the group's file descriptor.
func (g *Group) Close() error {
	return unix.Close(g.fd)
}

// Device wraps a VFIO device file descriptor obtained from its group, the
// handle used both for BAR access (see the pcimem package) and, through its
// container, for DMA mapping.
type Device struct {
	fd    int
	group *Group
}

// OpenDevice resolves busID (e.g. "0000:01:00.0") to a device fd within
// group. The device must already be bound to the vfio-pci driver.
func OpenDevice(group *Group, busID string) (*Device, error) {
	name := append([]byte(busID), 0)

	r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(group.fd), uintptr(vfioGroupGetDeviceFD), uintptr(unsafe.Pointer(&name[0])))
	if errno != 0 {
		return nil, fmt.Errorf("vfio: get device fd for %s: %w", busID, errno)
	}

	return &Device{fd: int(r), group: group}, nil
}

// RegionInfo describes one of a device's BAR regions: its size and the
// offset within the device fd a caller should mmap to reach it.
type RegionInfo struct {
	Size     uint64
	Offset   uint64
	Mappable bool
}

// RegionInfo queries the size/offset of BAR index (0-5 for the standard
// PCI BARs) via VFIO_DEVICE_GET_REGION_INFO.
func (d *Device) RegionInfo(index uint32) (RegionInfo, error) {
	info := vfioRegionInfo{
		ArgSz: uint32(unsafe.Sizeof(vfioRegionInfo{})),
		Index: index,
	}
	if err := ioctl(d.fd, vfioDeviceGetRegionInfo, unsafe.Pointer(&info)); err != nil {
		return RegionInfo{}, fmt.Errorf("vfio: region info for BAR %d: %w", index, err)
	}

	return RegionInfo{
		Size:     info.Size,
		Offset:   info.Offset,
		Mappable: info.Flags&vfioRegionInfoFlagMMAP != 0,
	}, nil
}

// Fd returns the device file descriptor, for mmap'ing a BAR region (see
// pcimem.MapVFIORegion).
func (d *Device) Fd() int {
	return d.fd
}

// Reset issues a function-level reset through VFIO_DEVICE_RESET.
func (d *Device) Reset() error {
	return ioctl(d.fd, vfioDeviceReset, nil)
}

// Close releases the device's file descriptor.
func (d *Device) Close() error {
	return unix.Close(d.fd)
}

// MapDMA pins host memory starting at hostAddr for size bytes and maps it
// to iova in the container's IOMMU domain.
func (c *Container) MapDMA(hostAddr uintptr, iova uint64, size uint64) error {
	req := vfioIOMMUTypeDMAMap{
		ArgSz: uint32(unsafe.Sizeof(vfioIOMMUTypeDMAMap{})),
		Flags: vfioDMAMapFlagRead | vfioDMAMapFlagWrite,
		VAddr: uint64(hostAddr),
		IOVA:  iova,
		Size:  size,
	}
	if err := ioctl(c.fd, vfioIOMMUMapDMA, unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("vfio: map dma iova=0x%x size=%d: %w", iova, size, err)
	}
	return nil
}

// UnmapDMA reverses a prior MapDMA.
func (c *Container) UnmapDMA(iova uint64, size uint64) error {
	req := vfioIOMMUTypeDMAUnmap{
		ArgSz: uint32(unsafe.Sizeof(vfioIOMMUTypeDMAUnmap{})),
		IOVA:  iova,
		Size:  size,
	}
	if err := ioctl(c.fd, vfioIOMMUUnmapDMA, unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("vfio: unmap dma iova=0x%x size=%d: %w", iova, size, err)
	}
	return nil
}
