package strms

import (
	"io"
)

type readCloseAll struct {
	io.Reader
	closers []io.Closer
}

var _ io.ReadCloser = readCloseAll{}

//NewReadCloseAll wraps rdr so that Close closes every provided closer in order,
// returning the first error. Useful when a decompressor wraps a remote stream
// and both must be released.
func NewReadCloseAll(rdr io.Reader, closers ...io.Closer) io.ReadCloser {
	return readCloseAll{
		Reader:  rdr,
		closers: closers,
	}
}

func (rca readCloseAll) Close() (err error) {
	for _, closer := range rca.closers {
		if closeErr := closer.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}
