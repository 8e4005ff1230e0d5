package rambd

import (
	"bytes"
	"testing"

	"github.com/tarndt/flashbd/pkg/devices/testutil"
	"github.com/tarndt/flashbd/pkg/flashlib"
)

func TestRAMBD(t *testing.T) {
	geo := flashlib.Geometry{ReadSize: 4, ProgSize: 4, EraseSize: 1024, EraseCount: 128}

	dev, err := NewRAMBD(geo)
	if err != nil {
		t.Fatalf("Could not create memory backed test device: %s", err)
	}
	testutil.TestDevice(t, dev, geo)
}

func TestRAMBDFaultInjection(t *testing.T) {
	geo := flashlib.Geometry{ReadSize: 1, ProgSize: 1, EraseSize: 32, EraseCount: 2}
	dev, err := NewRAMBD(geo)
	if err != nil {
		t.Fatalf("Could not create memory backed test device: %s", err)
	}
	defer dev.Close()

	dev.Bytes()[geo.Pos(1, 3)] = 0x00 //flip bits behind the device's back

	buf := make([]byte, 4)
	if err = dev.ReadBlock(1, 0, buf); err != nil {
		t.Fatalf("Read failed: %s", err)
	}
	if expected := []byte{0xFF, 0xFF, 0xFF, 0x00}; !bytes.Equal(buf, expected) {
		t.Fatalf("Read %v rather than injected %v", buf, expected)
	}
}

func TestRAMBDBadGeometry(t *testing.T) {
	if _, err := NewRAMBD(flashlib.Geometry{ReadSize: 1, ProgSize: 1, EraseSize: 0, EraseCount: 1}); err == nil {
		t.Fatal("Expected zero erase size to be rejected")
	}
}
