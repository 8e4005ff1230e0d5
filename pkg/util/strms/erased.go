package strms

import (
	"io"

	"github.com/tarndt/flashbd/pkg/util"
)

//Erased is like /dev/zero but every byte read is the flash erase value (0xFF)
var Erased io.Reader = erased{}

type erased struct{}

func (erased) Read(buf []byte) (int, error) {
	util.Fill(buf, 0xFF)
	return len(buf), nil
}
