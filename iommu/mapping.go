// Package iommu defines the mapping-provider interface the xdma core
// consumes to translate host buffer offsets into device-visible addresses
// (IOVAs), along with a simple static implementation for tests and
// deployments where the DMA region is already identity- or offset-mapped
// (e.g. a hugepage-backed buffer pinned and mapped once at a known IOVA
// base).
//
// Discovering, allocating and pinning the underlying DMA memory is
// explicitly outside of this package's job: iommu only describes how to ask
// an already-established mapping for the device address of a host offset.
// See the iommu/vfio subpackage for a provider that does the pinning too.
package iommu

import "fmt"

// Mapping translates offsets within a caller-owned host buffer into
// device-visible addresses (IOVAs).
type Mapping interface {
	// IOVA returns the device address corresponding to hostOffset bytes
	// into the mapped region.
	IOVA(hostOffset uint64) (uint64, error)

	// HostBase returns the host virtual address backing offset 0 of the
	// mapped region, as a byte slice the caller can read/write directly.
	HostBase() []byte

	// Len returns the size in bytes of the mapped region.
	Len() uint64
}

// ErrOutOfRange is returned by Mapping.IOVA when the requested offset falls
// outside the mapped region.
var ErrOutOfRange = fmt.Errorf("iommu: offset out of range")

// StaticMapping implements Mapping over a host buffer that is already
// mapped to a contiguous run of device addresses starting at Base. This
// covers the common case of a single pre-allocated, pre-pinned DMA buffer
// (e.g. from a hugetlbfs mapping or a VFIO region mapped once in full).
type StaticMapping struct {
	// Host is the host-virtual-address view of the mapped region.
	Host []byte
	// Base is the device address (IOVA) corresponding to Host[0].
	Base uint64
}

// IOVA implements Mapping.
func (m *StaticMapping) IOVA(hostOffset uint64) (uint64, error) {
	if hostOffset > uint64(len(m.Host)) {
		return 0, ErrOutOfRange
	}
	return m.Base + hostOffset, nil
}

// HostBase implements Mapping.
func (m *StaticMapping) HostBase() []byte {
	return m.Host
}

// Len implements Mapping.
func (m *StaticMapping) Len() uint64 {
	return uint64(len(m.Host))
}
