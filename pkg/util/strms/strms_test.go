package strms

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/tarndt/flashbd/pkg/devices/rambd"
	"github.com/tarndt/flashbd/pkg/flashlib"
	"github.com/tarndt/flashbd/pkg/util"
)

func TestErased(t *testing.T) {
	buf := make([]byte, 100)
	if n, err := Erased.Read(buf); err != nil || n != len(buf) {
		t.Fatalf("Read returned %d, %v", n, err)
	}
	if !util.IsFilled(buf, 0xFF) {
		t.Fatalf("Erased stream returned %v", buf)
	}
}

func TestBlockWriterReader(t *testing.T) {
	geo := flashlib.Geometry{ReadSize: 1, ProgSize: 1, EraseSize: 10, EraseCount: 3}
	dev, err := rambd.NewRAMBD(geo)
	if err != nil {
		t.Fatalf("Could not create device: %s", err)
	}
	defer dev.Close()

	data := make([]byte, geo.Size())
	for i := range data {
		data[i] = byte(i)
	}

	t.Run("write", func(t *testing.T) {
		wtr := NewBlockWriter(dev)
		for _, chunk := range [][]byte{data[:3], data[3:17], data[17:]} { //spans blocks unevenly
			if n, err := wtr.Write(chunk); err != nil || n != len(chunk) {
				t.Fatalf("Write of %d bytes returned %d, %v", len(chunk), n, err)
			}
		}
		if n, err := wtr.Write([]byte{1}); n != 0 || !errors.Is(err, flashlib.ErrRange) {
			t.Fatalf("Write past the end returned %d, %v", n, err)
		}
	})

	t.Run("read", func(t *testing.T) {
		readBack, err := io.ReadAll(NewBlockReader(dev))
		if err != nil {
			t.Fatalf("Read failed: %s", err)
		}
		if !bytes.Equal(readBack, data) {
			t.Fatalf("Read back %v rather than %v", readBack, data)
		}
	})
}

func TestBlockWriterWholeBlocks(t *testing.T) {
	geo := flashlib.Geometry{ReadSize: 4, ProgSize: 4, EraseSize: 16, EraseCount: 2}
	ram, err := rambd.NewRAMBD(geo)
	if err != nil {
		t.Fatalf("Could not create device: %s", err)
	}
	strict, err := flashlib.NewStrict(ram, flashlib.OptEnforceAlignment(true))
	if err != nil {
		t.Fatalf("Could not create strict device: %s", err)
	}
	defer strict.Close()

	wtr := NewBlockWriter(strict)
	for _, chunk := range [][]byte{{1, 2, 3}, {4, 5}, bytes.Repeat([]byte{6}, 14)} { //never unit aligned
		if _, err = wtr.Write(chunk); err != nil {
			t.Fatalf("Write of %d bytes failed: %s", len(chunk), err)
		}
	}

	if stats := strict.Stats(); stats.Programs != 1 || stats.Erases != 1 {
		t.Fatalf("Expected a single erase and program of the complete block, found: %+v", stats)
	}
	if !strict.IsErased(1) {
		t.Fatal("Partial trailing block reached the device")
	}
}

func TestBlockWriterFailure(t *testing.T) {
	geo := flashlib.Geometry{ReadSize: 1, ProgSize: 1, EraseSize: 10, EraseCount: 3}
	dev, err := rambd.NewRAMBD(geo)
	if err != nil {
		t.Fatalf("Could not create device: %s", err)
	}
	wtr := NewBlockWriter(dev)
	if _, err = wtr.Write(make([]byte, 4)); err != nil {
		t.Fatalf("Buffered write failed: %s", err)
	}
	dev.Close()

	if n, err := wtr.Write(make([]byte, 8)); n != 0 || !errors.Is(err, flashlib.ErrClosed) {
		t.Fatalf("Write completing a block on a closed device returned %d, %v", n, err)
	}
	for i := 0; i < 2; i++ { //the failure is sticky rather than overrunning the buffered block
		if n, err := wtr.Write(make([]byte, 8)); n != 0 || !errors.Is(err, flashlib.ErrClosed) {
			t.Fatalf("Write after a failure returned %d, %v", n, err)
		}
	}
}

type countCloser struct{ closed *int }

func (cc countCloser) Close() error {
	*cc.closed++
	return nil
}

func TestReadCloseAll(t *testing.T) {
	var closed int
	rc := NewReadCloseAll(bytes.NewReader([]byte("x")), countCloser{&closed}, countCloser{&closed})
	if err := rc.Close(); err != nil {
		t.Fatalf("Close failed: %s", err)
	}
	if closed != 2 {
		t.Fatalf("Closed %d closers rather than 2", closed)
	}
}
