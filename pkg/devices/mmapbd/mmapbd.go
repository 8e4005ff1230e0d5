//go:build unix

package mmapbd

import (
	"fmt"
	"io"
	"os"

	"github.com/tarndt/flashbd/pkg/flashlib"
	"github.com/tarndt/flashbd/pkg/util"
	"github.com/tarndt/flashbd/pkg/util/strms"

	"golang.org/x/sys/unix"
	"launchpad.net/gommap"
)

//MmapBD is an emulated flash device accessed through a shared memory mapping
// of an image file. Its images are interchangeable with filebd.FileBD images.
// Programs and erases land in the page cache immediately, Sync msyncs them.
type MmapBD struct {
	file   *os.File
	mmap   gommap.MMap
	geo    flashlib.Geometry
	tracer flashlib.Tracer
	closed bool
}

var _ flashlib.Device = (*MmapBD)(nil)

//NewMmapBD opens (creating if needed) and maps the image at path, extending
// it with erased bytes to the size of geo. The image is exclusively locked
// until Close.
func NewMmapBD(geo flashlib.Geometry, path string, optTracer ...flashlib.Tracer) (*MmapBD, error) {
	mbd := &MmapBD{geo: geo, tracer: flashlib.NopTracer{}}
	if len(optTracer) > 0 && optTracer[0] != nil {
		mbd.tracer = optTracer[0]
	}

	ev := flashlib.TraceEvent{Op: flashlib.OpCreate, Path: path}
	err := flashlib.Traced(mbd.tracer, ev, func() error {
		if err := geo.Validate(); err != nil {
			return flashlib.NewOpError(ev, flashlib.ErrRange, err)
		}
		return flashlib.NewOpError(ev, flashlib.ErrResource, mbd.open(path))
	})
	if err != nil {
		return nil, err
	}
	return mbd, nil
}

func (mbd *MmapBD) open(path string) (err error) {
	if mbd.file, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666); err != nil {
		return fmt.Errorf("Could not open backing file %q: %w", path, err)
	}
	defer func() {
		if err != nil {
			mbd.file.Close()
		}
	}()

	if err = unix.Flock(int(mbd.file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return fmt.Errorf("Could not lock backing file %q, it may be in use by another device: %w", path, err)
	}

	info, err := mbd.file.Stat()
	if err != nil {
		return fmt.Errorf("Could not stat backing file %q: %w", path, err)
	} else if size := info.Size(); size < mbd.geo.Size() {
		wtr := io.NewOffsetWriter(mbd.file, size)
		if _, err = io.Copy(wtr, io.LimitReader(strms.Erased, mbd.geo.Size()-size)); err != nil {
			return fmt.Errorf("Could not erase-fill backing file %q, write failed: %w", path, err)
		}
		if err = mbd.file.Sync(); err != nil {
			return fmt.Errorf("Could not erase-fill backing file %q, sync failed: %w", path, err)
		}
	}

	if mbd.mmap, err = gommap.Map(mbd.file.Fd(), gommap.PROT_READ|gommap.PROT_WRITE, gommap.MAP_SHARED); err != nil {
		return fmt.Errorf("Could not mmap backing file %q (fd %d): %w", path, mbd.file.Fd(), err)
	}
	return nil
}

//Geometry fufills flashlib.Device
func (mbd *MmapBD) Geometry() flashlib.Geometry {
	return mbd.geo
}

func (mbd *MmapBD) check(ev flashlib.TraceEvent) error {
	if mbd.closed {
		return flashlib.NewOpError(ev, flashlib.ErrClosed, flashlib.ErrClosed)
	}
	return mbd.geo.Check(ev)
}

//ReadBlock fufills flashlib.Device
func (mbd *MmapBD) ReadBlock(block, off uint32, buf []byte) error {
	ev := flashlib.TraceEvent{Op: flashlib.OpRead, Block: block, Offset: off, Size: len(buf)}
	return flashlib.Traced(mbd.tracer, ev, func() error {
		if err := mbd.check(ev); err != nil {
			return err
		}
		copy(buf, mbd.mmap[mbd.geo.Pos(block, off):])
		return nil
	})
}

//ProgramBlock fufills flashlib.Device
func (mbd *MmapBD) ProgramBlock(block, off uint32, buf []byte) error {
	ev := flashlib.TraceEvent{Op: flashlib.OpProgram, Block: block, Offset: off, Size: len(buf)}
	return flashlib.Traced(mbd.tracer, ev, func() error {
		if err := mbd.check(ev); err != nil {
			return err
		}
		copy(mbd.mmap[mbd.geo.Pos(block, off):], buf)
		return nil
	})
}

//EraseBlock fufills flashlib.Device
func (mbd *MmapBD) EraseBlock(block uint32) error {
	ev := flashlib.TraceEvent{Op: flashlib.OpErase, Block: block}
	return flashlib.Traced(mbd.tracer, ev, func() error {
		if err := mbd.check(ev); err != nil {
			return err
		}
		start := mbd.geo.Pos(block, 0)
		util.Fill(mbd.mmap[start:start+int64(mbd.geo.EraseSize)], flashlib.EraseValue)
		return nil
	})
}

//Sync fufills flashlib.Device by synchronously flushing the mapping
func (mbd *MmapBD) Sync() error {
	ev := flashlib.TraceEvent{Op: flashlib.OpSync}
	return flashlib.Traced(mbd.tracer, ev, func() error {
		if mbd.closed {
			return flashlib.NewOpError(ev, flashlib.ErrClosed, flashlib.ErrClosed)
		}
		if err := mbd.mmap.Sync(gommap.MS_SYNC); err != nil {
			return flashlib.NewOpError(ev, flashlib.ErrIO, fmt.Errorf("Could not msync %q: %w", mbd.file.Name(), err))
		}
		return nil
	})
}

//Close unmaps and closes the image without syncing it, the OS still writes
// back dirty pages eventually. Closing more than once is a no-op.
func (mbd *MmapBD) Close() error {
	ev := flashlib.TraceEvent{Op: flashlib.OpClose, Path: mbd.file.Name()}
	return flashlib.Traced(mbd.tracer, ev, func() error {
		if mbd.closed {
			return nil
		}
		mbd.closed = true

		unmapErr := mbd.mmap.UnsafeUnmap()
		mbd.mmap = nil
		err := mbd.file.Close()
		if err == nil && unmapErr != nil {
			err = unmapErr
		}
		if err != nil {
			return flashlib.NewOpError(ev, flashlib.ErrIO, fmt.Errorf("Could not close backing file: %w", err))
		}
		return nil
	})
}
