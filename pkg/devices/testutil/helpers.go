package testutil

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"testing"

	"github.com/tarndt/flashbd/pkg/flashlib"
	"github.com/tarndt/flashbd/pkg/util"
	"github.com/tarndt/flashbd/pkg/util/strms"
)

//TestGeometry verifies the provided device reports the expected geometry
func TestGeometry(t *testing.T, dev flashlib.Device, expected flashlib.Geometry) {
	t.Run("geometry", func(t *testing.T) {
		if actual := dev.Geometry(); actual != expected {
			t.Fatalf("Expected device geometry to be %+v but it was %+v", expected, actual)
		}
	})
}

//TestEraseReadsErased erases every block and verifies each reads back as erased
func TestEraseReadsErased(t *testing.T, dev flashlib.Device) {
	geo := dev.Geometry()

	t.Run("erase-reads-erased", func(t *testing.T) {
		buf := make([]byte, geo.EraseSize)
		for block := uint32(0); block < geo.EraseCount; block++ {
			if err := dev.EraseBlock(block); err != nil {
				t.Fatalf("Failed to erase block %d: %s", block, err)
			}
			if err := dev.ReadBlock(block, 0, buf); err != nil {
				t.Fatalf("Failed to read erased block %d: %s", block, err)
			}
			if !util.IsFilled(buf, flashlib.EraseValue) {
				t.Fatalf("Block %d contained non-erased bytes after erase", block)
			}
		}
	})
}

//TestRoundTrip programs data at a variety of offsets into freshly erased blocks
// and verifies it reads back exactly while the rest of the block stays erased
func TestRoundTrip(t *testing.T, dev flashlib.Device) {
	geo := dev.Geometry()

	t.Run("round-trip", func(t *testing.T) {
		cases := []struct {
			desc string
			off  uint32
			size uint32
		}{
			{"start-single", 0, 1},
			{"start-half", 0, geo.EraseSize / 2},
			{"middle", geo.EraseSize / 3, geo.EraseSize / 3},
			{"end-single", geo.EraseSize - 1, 1},
			{"whole-block", 0, geo.EraseSize},
			{"empty", geo.EraseSize / 2, 0},
		}

		for i, tcase := range cases {
			block := uint32(i) % geo.EraseCount
			t.Run(tcase.desc, func(t *testing.T) {
				data := make([]byte, tcase.size)
				for j := range data {
					data[j] = byte((j + int(block)) % 0xFF) //never the erase value
				}

				if err := dev.EraseBlock(block); err != nil {
					t.Fatalf("Failed to erase block %d: %s", block, err)
				}
				if err := dev.ProgramBlock(block, tcase.off, data); err != nil {
					t.Fatalf("Failed to program %d bytes at block %d offset %d: %s", len(data), block, tcase.off, err)
				}

				readBack := make([]byte, tcase.size)
				if err := dev.ReadBlock(block, tcase.off, readBack); err != nil {
					t.Fatalf("Failed to read back %d bytes at block %d offset %d: %s", len(readBack), block, tcase.off, err)
				}
				if !bytes.Equal(data, readBack) {
					t.Fatalf("Read back %v rather than programmed %v", readBack, data)
				}

				whole := make([]byte, geo.EraseSize)
				if err := dev.ReadBlock(block, 0, whole); err != nil {
					t.Fatalf("Failed to read whole block %d: %s", block, err)
				}
				end := tcase.off + tcase.size
				if !util.IsFilled(whole[:tcase.off], flashlib.EraseValue) || !util.IsFilled(whole[end:], flashlib.EraseValue) {
					t.Fatalf("Program of [%d, %d) in block %d disturbed bytes outside that range", tcase.off, end, block)
				}
			})
		}
	})
}

//TestOutOfRange verifies out of bounds operations fail with flashlib.ErrRange
// and modify nothing
func TestOutOfRange(t *testing.T, dev flashlib.Device) {
	geo := dev.Geometry()
	lastBlock := geo.EraseCount - 1

	t.Run("out-of-range", func(t *testing.T) {
		if err := dev.EraseBlock(lastBlock); err != nil {
			t.Fatalf("Failed to erase last block %d: %s", lastBlock, err)
		}

		cases := []struct {
			desc string
			op   func() error
		}{
			{"read-block", func() error { return dev.ReadBlock(geo.EraseCount, 0, make([]byte, 1)) }},
			{"read-block-max", func() error { return dev.ReadBlock(^uint32(0), 0, make([]byte, 1)) }},
			{"read-overrun", func() error { return dev.ReadBlock(lastBlock, geo.EraseSize-1, make([]byte, 2)) }},
			{"read-offset", func() error { return dev.ReadBlock(lastBlock, geo.EraseSize, make([]byte, 1)) }},
			{"read-offset-max", func() error { return dev.ReadBlock(lastBlock, ^uint32(0), make([]byte, 2)) }},
			{"program-block", func() error { return dev.ProgramBlock(geo.EraseCount, 0, []byte{0}) }},
			{"program-overrun", func() error { return dev.ProgramBlock(lastBlock, geo.EraseSize-1, []byte{0, 0}) }},
			{"erase-block", func() error { return dev.EraseBlock(geo.EraseCount) }},
		}

		for _, tcase := range cases {
			t.Run(tcase.desc, func(t *testing.T) {
				err := tcase.op()
				switch {
				case err == nil:
					t.Fatal("Expected a range error but the operation succeeded")
				case !errors.Is(err, flashlib.ErrRange):
					t.Fatalf("Expected a range error but found: %s", err)
				case flashlib.ErrorCode(err) != flashlib.CodeInval:
					t.Fatalf("Range error mapped to code %d rather than %d", flashlib.ErrorCode(err), flashlib.CodeInval)
				}
			})
		}

		t.Run("no-partial-program", func(t *testing.T) {
			buf := make([]byte, geo.EraseSize)
			if err := dev.ReadBlock(lastBlock, 0, buf); err != nil {
				t.Fatalf("Failed to read last block %d: %s", lastBlock, err)
			}
			if !util.IsFilled(buf, flashlib.EraseValue) {
				t.Fatal("A rejected program modified the device")
			}
		})
	})
}

//TestWritePattern fills the device with a pattern via a block writer and
// returns the SHA256 of everything written
func TestWritePattern(t *testing.T, dev flashlib.Device) (writtenHash []byte) {
	size := dev.Geometry().Size()

	t.Run("write-pattern", func(t *testing.T) {
		hashWtr := sha256.New()
		wtr := bufio.NewWriter(io.MultiWriter(strms.NewBlockWriter(dev), hashWtr))
		for i := int64(0); i < size; i++ {
			if err := wtr.WriteByte(byte((i*7 + i/251) % 256)); err != nil {
				t.Fatalf("Failed to write byte %d of %d: %s", i+1, size, err)
			}
		}
		if err := wtr.Flush(); err != nil {
			t.Fatalf("Failed to flush buffered writer: %s", err)
		}
		writtenHash = hashWtr.Sum(nil)

		if err := dev.Sync(); err != nil {
			t.Fatalf("Failed to sync device: %s", err)
		}
	})

	return writtenHash
}

//TestReadHash confirms the SHA256 of the provided device matches the expected SHA256
func TestReadHash(t *testing.T, dev flashlib.Device, expectedHash []byte) {
	t.Run("read-hash", func(t *testing.T) {
		hashWtr := sha256.New()
		if n, err := io.Copy(hashWtr, bufio.NewReader(strms.NewBlockReader(dev))); err != nil {
			t.Fatalf("Failed to calculate SHA256 of device: %s", err)
		} else if devSize := dev.Geometry().Size(); n != devSize {
			t.Fatalf("While calculating SHA256 of device %d bytes were found instead of %d", n, devSize)
		} else if readHash := hashWtr.Sum(nil); !bytes.Equal(expectedHash, readHash) {
			t.Fatalf("SHA256 read from device was %s but %s was expected", hex.EncodeToString(readHash), hex.EncodeToString(expectedHash))
		}
	})
}

//TestClose confirms the device closes without error and subsequent operations
// fail with flashlib.ErrClosed
func TestClose(t *testing.T, dev flashlib.Device) {
	t.Run("close", func(t *testing.T) {
		if err := dev.Close(); err != nil {
			t.Fatalf("Failed to close device: %s", err)
		}

		buf := make([]byte, 1)
		if err := dev.ReadBlock(0, 0, buf); !errors.Is(err, flashlib.ErrClosed) {
			t.Fatalf("Expected closed error during read on closed device, found: %v", err)
		}
		if err := dev.ProgramBlock(0, 0, buf); !errors.Is(err, flashlib.ErrClosed) {
			t.Fatalf("Expected closed error during program on closed device, found: %v", err)
		}
		if err := dev.EraseBlock(0); !errors.Is(err, flashlib.ErrClosed) {
			t.Fatalf("Expected closed error during erase on closed device, found: %v", err)
		}
		if err := dev.Sync(); !errors.Is(err, flashlib.ErrIO) {
			t.Fatalf("Expected I/O error during sync on closed device, found: %v", err)
		}
		if err := dev.Close(); err != nil {
			t.Fatalf("Second close of device failed: %s", err)
		}
	})
}
