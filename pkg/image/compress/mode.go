package compress

import (
	"fmt"
	"io"

	"github.com/tarndt/flashbd/pkg/util/strms"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

//Mode represents an image compression mode
type Mode uint8

//Enumerate available modes and their textual names
const (
	ModeIdentity Mode = iota
	ModeUnknown
	ModeS2
	ModeGzip
	ModeZstd

	ModeIdentityName = "identity"
	ModeS2Name       = "s2"
	ModeGzipName     = "gzip"
	ModeZstdName     = "zstd"
	ModeUnknownName  = "unknown"
)

//ModeFromName constructs a Mode from a textual name
func ModeFromName(name string) Mode {
	switch name {
	case "", "none", ModeIdentityName:
		return ModeIdentity
	case ModeS2Name:
		return ModeS2
	case ModeGzipName:
		return ModeGzip
	case ModeZstdName:
		return ModeZstd
	}
	return ModeUnknown
}

//AlgoName returns the textual name of a Mode
func (m Mode) AlgoName() string {
	switch m {
	case ModeIdentity:
		return ModeIdentityName
	case ModeS2:
		return ModeS2Name
	case ModeGzip:
		return ModeGzipName
	case ModeZstd:
		return ModeZstdName
	}
	return ModeUnknownName
}

//String is a synonym for AlgoName
func (m Mode) String() string {
	return m.AlgoName()
}

//NewReader constructs a reader that decompresses rdr, closing it closes rdr
func (m Mode) NewReader(rdr io.ReadCloser) (io.ReadCloser, error) {
	switch m {
	case ModeIdentity:
		return rdr, nil
	case ModeS2:
		return strms.NewReadCloseAll(s2.NewReader(rdr), rdr), nil
	case ModeGzip:
		gzRdr, err := gzip.NewReader(rdr)
		if err != nil {
			return nil, fmt.Errorf("Could not read gzip header: %w", err)
		}
		return strms.NewReadCloseAll(gzRdr, gzRdr, rdr), nil
	case ModeZstd:
		zRdr, err := zstd.NewReader(rdr)
		if err != nil {
			return nil, fmt.Errorf("Could not create zstd decoder: %w", err)
		}
		return strms.NewReadCloseAll(zRdr, zRdr.IOReadCloser(), rdr), nil
	}
	return nil, fmt.Errorf("Cannot create decompressor for unknown compression mode")
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

//NewWriter constructs a writer that compresses into wtr, it must be closed to
// flush the compressed stream but does not close wtr
func (m Mode) NewWriter(wtr io.Writer) (io.WriteCloser, error) {
	switch m {
	case ModeIdentity:
		return nopWriteCloser{wtr}, nil
	case ModeS2:
		return s2.NewWriter(wtr), nil
	case ModeGzip:
		return gzip.NewWriter(wtr), nil
	case ModeZstd:
		zWtr, err := zstd.NewWriter(wtr)
		if err != nil {
			return nil, fmt.Errorf("Could not create zstd encoder: %w", err)
		}
		return zWtr, nil
	}
	return nil, fmt.Errorf("Cannot create compressor for unknown compression mode")
}
