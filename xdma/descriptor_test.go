package xdma

import "testing"

func TestDescriptorRoundTrip(t *testing.T) {
	view := make([]byte, descriptorSize)
	d := descriptor{view: view}

	d.fill(0x1000, 0x1122334455667788, 0xaabbccddeeff0011, 3, flagStop|flagEOP, false)

	if got := d.magicFlags() >> 16; got != descriptorMagic {
		t.Errorf("magic = 0x%x, want 0x%x", got, descriptorMagic)
	}

	if got := d.adjacent(); got != 3 {
		t.Errorf("adjacent = %d, want 3", got)
	}

	if got := d.flags(); got != flagStop|flagEOP {
		t.Errorf("flags = 0x%x, want 0x%x", got, flagStop|flagEOP)
	}

	if got := d.byteCount(); got != 0x1000 {
		t.Errorf("byteCount = %d, want %d", got, 0x1000)
	}

	if got := d.srcAddr(); got != 0x1122334455667788 {
		t.Errorf("srcAddr = 0x%x, want 0x1122334455667788", got)
	}

	if got := d.dstAddr(); got != 0xaabbccddeeff0011 {
		t.Errorf("dstAddr = 0x%x, want 0xaabbccddeeff0011", got)
	}
}

func TestDescriptorFillPreservesAddressesWhenPreBound(t *testing.T) {
	view := make([]byte, descriptorSize)
	d := descriptor{view: view}

	d.setSrcAddr(0xdead)
	d.setDstAddr(0xbeef)

	d.fill(64, 0x1111, 0x2222, 0, 0, true)

	if got := d.srcAddr(); got != 0xdead {
		t.Errorf("preBound fill overwrote srcAddr: got 0x%x, want 0xdead", got)
	}

	if got := d.dstAddr(); got != 0xbeef {
		t.Errorf("preBound fill overwrote dstAddr: got 0x%x, want 0xbeef", got)
	}
}

func TestDescriptorNextAddr(t *testing.T) {
	view := make([]byte, descriptorSize)
	d := descriptor{view: view}

	d.setNextAddr(0x123456789abcdef0)

	if got := d.nextAddr(); got != 0x123456789abcdef0 {
		t.Errorf("nextAddr = 0x%x, want 0x123456789abcdef0", got)
	}
}

func TestReadCompletedCountMasksStatusBit(t *testing.T) {
	view := make([]byte, writebackSize)

	putUint32(view, 0x80000005)

	if got := readCompletedCount(view); got != 5 {
		t.Errorf("readCompletedCount = %d, want 5", got)
	}
}

func TestStreamWriteback(t *testing.T) {
	view := make([]byte, streamWritebackSize)
	w := streamWriteback{view: view}

	putUint32(view[0:4], streamWritebackValid|streamWritebackEOP)
	putUint32(view[4:8], 128)

	if !w.valid() {
		t.Error("valid() = false, want true")
	}

	if !w.eop() {
		t.Error("eop() = false, want true")
	}

	if got := w.length(); got != 128 {
		t.Errorf("length() = %d, want 128", got)
	}

	w.clear()

	if w.valid() {
		t.Error("valid() = true after clear, want false")
	}
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
