package xdma

import "testing"

const fakeBARSize = 0x7000

func newFakeBAR(numH2C, numC2H int) RegisterWindow {
	bar := make([]byte, fakeBARSize)

	putIdentifier(bar, identBlockBase+identIdentifier, 0)
	bar[identBlockBase+identNumH2C] = byte(numH2C)
	bar[identBlockBase+identNumC2H] = byte(numC2H)

	for i := 0; i < numH2C; i++ {
		setChannelIdentifier(bar, DirectionH2C, i, 0)
		setAlignments(bar, DirectionH2C, i, 64, 4, 64)
	}
	for i := 0; i < numC2H; i++ {
		setChannelIdentifier(bar, DirectionC2H, i, 1)
		setAlignments(bar, DirectionC2H, i, 64, 4, 64)
	}

	return bar
}

func putIdentifier(bar []byte, off uint32, version uint32) {
	v := uint32(identMagic)<<12 | (version&0xf)<<4
	putUint32(bar[off:off+4], v)
}

func setChannelIdentifier(bar []byte, dir Direction, index int, target uint32) {
	channelBase, _ := channelBlockOffsets(dir, index)
	v := uint32(identMagic)<<12 | (target&0xf)<<4
	putUint32(bar[channelBase+chanIdentifier:channelBase+chanIdentifier+4], v)
}

func setAlignments(bar []byte, dir Direction, index int, addrAlignment, lenGranularity, numAddressBits uint32) {
	channelBase, _ := channelBlockOffsets(dir, index)
	v := addrAlignment&0xff | (lenGranularity&0xff)<<8 | (numAddressBits&0xff)<<16
	putUint32(bar[channelBase+chanAlignments:channelBase+chanAlignments+4], v)
}

func TestProbeBridge(t *testing.T) {
	bar := newFakeBAR(1, 2)

	caps, err := ProbeBridge(bar)
	if err != nil {
		t.Fatalf("ProbeBridge: %v", err)
	}

	if caps.NumH2C != 1 || caps.NumC2H != 2 {
		t.Errorf("caps = %+v, want NumH2C=1 NumC2H=2", caps)
	}
}

func TestProbeBridgeBadSignature(t *testing.T) {
	bar := make([]byte, fakeBARSize)

	if _, err := ProbeBridge(bar); err == nil {
		t.Fatal("ProbeBridge accepted an all-zero identification block")
	}
}

func TestProbeChannel(t *testing.T) {
	bar := newFakeBAR(1, 1)

	caps, err := ProbeChannel(bar, DirectionH2C, 0)
	if err != nil {
		t.Fatalf("ProbeChannel: %v", err)
	}

	if caps.AddrAlignment != 64 || caps.LenGranularity != 4 {
		t.Errorf("caps = %+v, want AddrAlignment=64 LenGranularity=4", caps)
	}
}

func TestProbeChannelWrongDirection(t *testing.T) {
	bar := make([]byte, fakeBARSize)

	// Identifier lives in the H2C page but its target field says C2H.
	setChannelIdentifier(bar, DirectionH2C, 0, 1)

	if _, err := ProbeChannel(bar, DirectionH2C, 0); err == nil {
		t.Fatal("ProbeChannel accepted a channel whose target disagrees with the requested direction")
	}
}

func TestProbeChannelUnconfiguredIndex(t *testing.T) {
	bar := newFakeBAR(1, 1)

	if _, err := ProbeChannel(bar, DirectionC2H, 5); err == nil {
		t.Fatal("ProbeChannel accepted an unconfigured channel index")
	}
}
