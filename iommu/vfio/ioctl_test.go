package vfio

import "testing"

func TestIocEncoding(t *testing.T) {
	cases := []struct {
		name string
		cmd  uint32
		want uint32
	}{
		{"GetAPIVersion", vfioGetAPIVersion, uint32(vfioType)<<8 | uint32(vfioBase+0)},
		{"SetIOMMU", vfioSetIOMMU, uint32(vfioType)<<8 | uint32(vfioBase+2)},
		{"GroupGetDeviceFD", vfioGroupGetDeviceFD, uint32(vfioType)<<8 | uint32(vfioBase+6)},
		{"IOMMUMapDMA", vfioIOMMUMapDMA, uint32(vfioType)<<8 | uint32(vfioBase+13)},
		{"IOMMUUnmapDMA", vfioIOMMUUnmapDMA, uint32(vfioType)<<8 | uint32(vfioBase+14)},
	}

	for _, c := range cases {
		if c.cmd != c.want {
			t.Errorf("%s: got command word 0x%x, want 0x%x", c.name, c.cmd, c.want)
		}
	}
}

func TestIocDistinctCommands(t *testing.T) {
	cmds := []uint32{
		vfioGetAPIVersion, vfioCheckExtension, vfioSetIOMMU, vfioGroupGetStatus,
		vfioGroupSetContainer, vfioGroupGetDeviceFD, vfioDeviceGetRegionInfo,
		vfioDeviceReset, vfioIOMMUMapDMA, vfioIOMMUUnmapDMA,
	}

	seen := make(map[uint32]bool, len(cmds))
	for _, c := range cmds {
		if seen[c] {
			t.Fatalf("duplicate ioctl command word 0x%x", c)
		}
		seen[c] = true
	}
}
