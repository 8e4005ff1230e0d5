package strms

import (
	"io"

	"github.com/tarndt/flashbd/pkg/flashlib"
)

type blockReader struct {
	dev   flashlib.Device
	geo   flashlib.Geometry
	block uint32 //we track our own position, devices have none
	off   uint32
}

var _ io.Reader = (*blockReader)(nil)

//NewBlockReader returns a reader that streams the entire contents of dev from
// block 0 to the end using only ReadBlock. Reads never span blocks, so each
// Read returns at most one block's worth of bytes.
func NewBlockReader(dev flashlib.Device) io.Reader {
	return &blockReader{dev: dev, geo: dev.Geometry()}
}

func (br *blockReader) Read(buf []byte) (n int, err error) {
	if br.block >= br.geo.EraseCount {
		return 0, io.EOF
	}
	if len(buf) == 0 {
		return 0, nil
	}

	if remaining := br.geo.EraseSize - br.off; uint32(len(buf)) > remaining {
		buf = buf[:remaining]
	}
	if err = br.dev.ReadBlock(br.block, br.off, buf); err != nil {
		return 0, err
	}

	br.off += uint32(len(buf))
	if br.off == br.geo.EraseSize {
		br.block, br.off = br.block+1, 0
	}
	return len(buf), nil
}
