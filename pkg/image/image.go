package image

import (
	"fmt"
	"io"

	"github.com/tarndt/flashbd/pkg/flashlib"
	"github.com/tarndt/flashbd/pkg/image/compress"
	"github.com/tarndt/flashbd/pkg/util/consterr"
	"github.com/tarndt/flashbd/pkg/util/strms"

	"github.com/dustin/go-humanize"
)

//ErrSize is returned when an image stream does not match the device size
const ErrSize = consterr.ConstErr("Image size does not match the device")

//Export streams the entire contents of dev to wtr compressed with mode and
// returns the uncompressed byte count
func Export(wtr io.Writer, dev flashlib.Device, mode compress.Mode) (int64, error) {
	geo := dev.Geometry()
	cmpWtr, err := mode.NewWriter(wtr)
	if err != nil {
		return 0, fmt.Errorf("Could not create %s image compressor: %w", mode, err)
	}

	n, err := io.CopyBuffer(cmpWtr, strms.NewBlockReader(dev), make([]byte, geo.EraseSize))
	if closeErr := cmpWtr.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("Could not finish %s image stream: %w", mode, closeErr)
	}
	if err != nil {
		return n, fmt.Errorf("Export failed after %s of %s: %w", humanize.IBytes(uint64(n)), humanize.IBytes(uint64(geo.Size())), err)
	}
	return n, nil
}

//Import erases and reprograms every block of dev from the image stream rdr
// compressed with mode. The stream must be exactly the size of the device,
// ErrSize is returned otherwise (blocks before the mismatch are replaced).
// rdr is closed before returning.
func Import(dev flashlib.Device, rdr io.ReadCloser, mode compress.Mode) error {
	geo := dev.Geometry()
	cmpRdr, err := mode.NewReader(rdr)
	if err != nil {
		rdr.Close()
		return fmt.Errorf("Could not create %s image decompressor: %w", mode, err)
	}
	defer cmpRdr.Close()

	limitedRdr := &io.LimitedReader{R: cmpRdr, N: geo.Size()}
	n, err := io.CopyBuffer(strms.NewBlockWriter(dev), limitedRdr, make([]byte, geo.EraseSize))
	switch {
	case err != nil:
		return fmt.Errorf("Import failed after %s of %s: %w", humanize.IBytes(uint64(n)), humanize.IBytes(uint64(geo.Size())), err)
	case n != geo.Size():
		return fmt.Errorf("Image contained %d bytes (%s) rather than %d: %w", n, humanize.IBytes(uint64(n)), geo.Size(), ErrSize)
	}

	var extra [1]byte
	if extraN, _ := io.ReadFull(cmpRdr, extra[:]); extraN > 0 {
		return fmt.Errorf("Image contained more than %d bytes: %w", geo.Size(), ErrSize)
	}
	return nil
}
