package testutil

import (
	"bytes"
	"testing"

	"github.com/tarndt/flashbd/pkg/flashlib"
	"github.com/tarndt/flashbd/pkg/util"
)

//OpenFunc (re)opens a persistent device over the same backing storage
type OpenFunc func(t *testing.T) flashlib.Device

//TestDevice runs the suite of contract tests every flashlib.Device must pass,
// the device is closed when it returns
func TestDevice(t *testing.T, dev flashlib.Device, expected flashlib.Geometry) {
	t.Run("device", func(t *testing.T) {
		TestGeometry(t, dev, expected)
		TestEraseReadsErased(t, dev)
		TestRoundTrip(t, dev)
		TestOutOfRange(t, dev)
		TestReadHash(t, dev, TestWritePattern(t, dev))
		TestClose(t, dev)
	})
}

//TestRemount verifies programmed and erased data survives a sync, close and
// reopen of a persistent device
func TestRemount(t *testing.T, open OpenFunc) {
	t.Run("remount", func(t *testing.T) {
		dev := open(t)
		geo := dev.Geometry()
		lastBlock := geo.EraseCount - 1
		hello := []byte("hello")

		for _, block := range []uint32{0, lastBlock} {
			if err := dev.EraseBlock(block); err != nil {
				t.Fatalf("Failed to erase block %d: %s", block, err)
			}
		}
		if err := dev.ProgramBlock(0, 0, hello); err != nil {
			t.Fatalf("Failed to program block 0: %s", err)
		}
		if err := dev.Sync(); err != nil {
			t.Fatalf("Failed to sync device: %s", err)
		}
		if err := dev.Close(); err != nil {
			t.Fatalf("Failed to close device: %s", err)
		}

		dev = open(t)
		defer dev.Close()
		if actual := dev.Geometry(); actual != geo {
			t.Fatalf("Reopened device geometry was %+v rather than %+v", actual, geo)
		}

		buf := make([]byte, geo.EraseSize)
		if err := dev.ReadBlock(0, 0, buf); err != nil {
			t.Fatalf("Failed to read block 0 after remount: %s", err)
		}
		if !bytes.Equal(buf[:len(hello)], hello) {
			t.Fatalf("Block 0 started with %q after remount rather than %q", buf[:len(hello)], hello)
		}
		if !util.IsFilled(buf[len(hello):], flashlib.EraseValue) {
			t.Fatal("Block 0 was not erased beyond the programmed bytes after remount")
		}

		if err := dev.ReadBlock(lastBlock, 0, buf); err != nil {
			t.Fatalf("Failed to read block %d after remount: %s", lastBlock, err)
		}
		if !util.IsFilled(buf, flashlib.EraseValue) {
			t.Fatalf("Erased block %d was not erased after remount", lastBlock)
		}
	})
}

//TestRemountHash verifies a full device pattern survives a close and reopen
func TestRemountHash(t *testing.T, open OpenFunc) {
	t.Run("remount-hash", func(t *testing.T) {
		dev := open(t)
		hash := TestWritePattern(t, dev)
		if err := dev.Close(); err != nil {
			t.Fatalf("Failed to close device: %s", err)
		}

		dev = open(t)
		defer dev.Close()
		TestReadHash(t, dev, hash)
	})
}
