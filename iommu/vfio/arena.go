package vfio

import (
	"container/list"
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/go-fpga/xdmacore/iommu"
)

// block is a free or in-use sub-range of an Arena's backing mmap, tracked
// the same way as a first-fit heap: a free list walked front-to-back for
// the first block that fits, split on allocation, coalesced on free.
type block struct {
	offset uint64
	size   uint64
}

// Arena is an iommu.Mapping source backed by a single large anonymous
// mmap that is pinned and mapped once, in full, into a Container's IOMMU
// domain. Sub-allocations are first-fit blocks within that one mapping, so
// no further VFIO_IOMMU_MAP_DMA calls are needed after the arena is
// created.
type Arena struct {
	mu sync.Mutex

	container *Container
	host      []byte
	iovaBase  uint64

	free *list.List // of *block, address order
	used map[uint64]*block
}

// NewArena mmaps an anonymous region of size bytes, maps it in full to
// iovaBase in container's IOMMU domain, and returns an Arena ready to
// serve sub-allocations.
func NewArena(container *Container, size uint64, iovaBase uint64) (*Arena, error) {
	host, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANONYMOUS|unix.MAP_PRIVATE|unix.MAP_LOCKED)
	if err != nil {
		return nil, fmt.Errorf("vfio: mmap arena of %d bytes: %w", size, err)
	}

	hostAddr := uintptr(unsafe.Pointer(&host[0]))
	if err := container.MapDMA(hostAddr, iovaBase, size); err != nil {
		unix.Munmap(host)
		return nil, err
	}

	a := &Arena{
		container: container,
		host:      host,
		iovaBase:  iovaBase,
		free:      list.New(),
		used:      make(map[uint64]*block),
	}
	a.free.PushFront(&block{offset: 0, size: size})

	return a, nil
}

// Close unmaps the arena from the IOMMU domain and releases its mmap.
func (a *Arena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.container.UnmapDMA(a.iovaBase, uint64(len(a.host))); err != nil {
		return err
	}
	return unix.Munmap(a.host)
}

const arenaAlign = 64

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}

// Alloc carves a size-byte sub-region out of the arena's free space,
// first-fit, and returns it as an iommu.Mapping. The returned block's
// memory is not zeroed.
func (a *Arena) Alloc(size uint64) (iommu.Mapping, error) {
	size = alignUp(size, arenaAlign)

	a.mu.Lock()
	defer a.mu.Unlock()

	var e *list.Element
	var fit *block

	for e = a.free.Front(); e != nil; e = e.Next() {
		b := e.Value.(*block)
		if b.size >= size {
			fit = b
			break
		}
	}

	if fit == nil {
		return nil, fmt.Errorf("vfio: arena out of space for %d bytes", size)
	}

	defer a.free.Remove(e)

	b := &block{offset: fit.offset, size: size}

	if fit.size > size {
		a.free.InsertAfter(&block{offset: fit.offset + size, size: fit.size - size}, e)
	}

	a.used[b.offset] = b

	return &arenaMapping{arena: a, offset: b.offset, size: b.size}, nil
}

// Free returns a block obtained from Alloc to the arena's free list,
// coalescing with any adjacent free block.
func (a *Arena) Free(m iommu.Mapping) {
	am, ok := m.(*arenaMapping)
	if !ok || am.arena != a {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.used[am.offset]
	if !ok {
		return
	}
	delete(a.used, am.offset)

	a.free.PushBack(b)
	a.defrag()
}

// defrag merges adjacent free blocks in address order. Called with a.mu
// held.
func (a *Arena) defrag() {
	ordered := make([]*block, 0, a.free.Len())
	for e := a.free.Front(); e != nil; e = e.Next() {
		ordered = append(ordered, e.Value.(*block))
	}
	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			if ordered[i].offset > ordered[j].offset {
				ordered[i], ordered[j] = ordered[j], ordered[i]
			}
		}
	}

	a.free.Init()
	var prev *block
	for _, b := range ordered {
		if prev != nil && prev.offset+prev.size == b.offset {
			prev.size += b.size
			continue
		}
		prev = &block{offset: b.offset, size: b.size}
		a.free.PushBack(prev)
	}
}

// arenaMapping implements iommu.Mapping over one Arena allocation.
type arenaMapping struct {
	arena  *Arena
	offset uint64
	size   uint64
}

func (m *arenaMapping) IOVA(hostOffset uint64) (uint64, error) {
	if hostOffset > m.size {
		return 0, iommu.ErrOutOfRange
	}
	return m.arena.iovaBase + m.offset + hostOffset, nil
}

func (m *arenaMapping) HostBase() []byte {
	return m.arena.host[m.offset : m.offset+m.size]
}

func (m *arenaMapping) Len() uint64 {
	return m.size
}
