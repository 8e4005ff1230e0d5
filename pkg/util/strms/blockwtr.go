package strms

import (
	"fmt"
	"io"

	"github.com/tarndt/flashbd/pkg/flashlib"
)

type blockWriter struct {
	dev   flashlib.Device
	geo   flashlib.Geometry
	block uint32
	blk   []byte
	off   uint32
	err   error
}

var _ io.Writer = (*blockWriter)(nil)

//NewBlockWriter returns a writer that fills dev from block 0 onward. Data is
// gathered a block at a time and each complete block is erased then programmed
// with a single program, so a trailing partial block never reaches the device.
// Writing past the end of the device fails with flashlib.ErrRange.
func NewBlockWriter(dev flashlib.Device) io.Writer {
	geo := dev.Geometry()
	return &blockWriter{dev: dev, geo: geo, blk: make([]byte, geo.EraseSize)}
}

func (bw *blockWriter) Write(buf []byte) (n int, err error) {
	if bw.err != nil {
		return 0, bw.err
	}

	for len(buf) > 0 {
		if bw.block >= bw.geo.EraseCount {
			return n, fmt.Errorf("Could not write %d bytes beyond the end of the device: %w", len(buf), flashlib.ErrRange)
		}

		copied := copy(bw.blk[bw.off:], buf)
		if bw.off+uint32(copied) == bw.geo.EraseSize {
			if err = bw.flush(); err != nil {
				bw.err = fmt.Errorf("Could not write block %d: %w", bw.block, err)
				return n, bw.err
			}
		} else {
			bw.off += uint32(copied)
		}

		n += copied
		buf = buf[copied:]
	}
	return n, nil
}

//flush erases and programs the buffered block, once it succeeds the writer
// moves on to the next block. A failed block is never retried.
func (bw *blockWriter) flush() error {
	if err := bw.dev.EraseBlock(bw.block); err != nil {
		return err
	}
	if err := bw.dev.ProgramBlock(bw.block, 0, bw.blk); err != nil {
		return err
	}
	bw.block, bw.off = bw.block+1, 0
	return nil
}
