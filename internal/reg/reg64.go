// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package reg

import (
	"sync/atomic"
	"unsafe"
)

func (v View) ptr64(off uint32) *uint64 {
	return (*uint64)(unsafe.Pointer(&v[off]))
}

// Get64 returns a masked, shifted 64-bit register field.
func (v View) Get64(off uint32, pos int, mask int) uint64 {
	r := atomic.LoadUint64(v.ptr64(off))
	return uint64((int(r) >> pos) & mask)
}

// Read64 reads a 64-bit register, used for descriptor source/destination/next
// addresses.
func (v View) Read64(off uint32) uint64 {
	return atomic.LoadUint64(v.ptr64(off))
}

// Write64 writes a 64-bit register.
func (v View) Write64(off uint32, val uint64) {
	atomic.StoreUint64(v.ptr64(off), val)
}
