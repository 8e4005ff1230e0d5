package filebd

import (
	"fmt"
	"io"
	"os"

	"github.com/tarndt/flashbd/pkg/flashlib"
	"github.com/tarndt/flashbd/pkg/util"
	"github.com/tarndt/flashbd/pkg/util/strms"

	"github.com/spf13/afero"
)

//FileBD emulates a flash device on top of a regular file. Byte i of the file
// is offset i%EraseSize of block i/EraseSize. Like real flash a program into a
// region that was not erased is not detected, wrap with flashlib.NewStrict for
// that. FileBD does no locking, callers must serialize operations.
type FileBD struct {
	file      afero.File
	path      string
	geo       flashlib.Geometry
	tracer    flashlib.Tracer
	erasedBlk []byte
	unlock    func() error
	closed    bool
}

var _ flashlib.Device = (*FileBD)(nil)

//Create opens (creating if needed) the image at path and ensures it is at least
// geo.Size() bytes by appending erased bytes. Existing contents are preserved
// and a larger file is never truncated, so creating over an existing image
// behaves like a remount.
func Create(geo flashlib.Geometry, path string, options ...Option) (*FileBD, error) {
	params := defaultParams()
	for _, opt := range options {
		opt.apply(&params)
	}

	var fbd *FileBD
	ev := flashlib.TraceEvent{Op: flashlib.OpCreate, Path: path}
	err := flashlib.Traced(params.tracer, ev, func() (err error) {
		fbd, err = create(ev, geo, path, &params)
		return err
	})
	return fbd, err
}

func create(ev flashlib.TraceEvent, geo flashlib.Geometry, path string, params *params) (fbd *FileBD, err error) {
	if err = geo.Validate(); err != nil {
		return nil, flashlib.NewOpError(ev, flashlib.ErrRange, fmt.Errorf("Invalid geometry: %w", err))
	}

	file, err := params.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, params.perm)
	if err != nil {
		return nil, flashlib.NewOpError(ev, flashlib.ErrResource, fmt.Errorf("Could not open backing file %q: %w", path, err))
	}
	defer func() {
		if err != nil {
			file.Close()
		}
	}()

	unlock := func() error { return nil }
	if !params.noLock {
		if unlock, err = lockFile(file); err != nil {
			return nil, flashlib.NewOpError(ev, flashlib.ErrResource, fmt.Errorf("Could not lock backing file %q, it may be in use by another device: %w", path, err))
		}
	}

	fbd = &FileBD{
		file:      file,
		path:      path,
		geo:       geo,
		tracer:    params.tracer,
		erasedBlk: util.Filled(int(geo.EraseSize), flashlib.EraseValue),
		unlock:    unlock,
	}

	info, err := file.Stat()
	if err != nil {
		unlock()
		return nil, flashlib.NewOpError(ev, flashlib.ErrResource, fmt.Errorf("Could not stat backing file %q: %w", path, err))
	}
	if size := info.Size(); size < geo.Size() {
		if err = fbd.extend(size); err != nil {
			unlock()
			return nil, flashlib.NewOpError(ev, flashlib.ErrResource, fmt.Errorf("Could not erase-fill backing file %q: %w", path, err))
		}
	}
	return fbd, nil
}

//extend appends erased bytes from pos to the end of the device and syncs
func (fbd *FileBD) extend(pos int64) error {
	missing := fbd.geo.Size() - pos
	wtr := io.NewOffsetWriter(fbd.file, pos)
	if n, err := io.CopyBuffer(wtr, io.LimitReader(strms.Erased, missing), fbd.erasedBlk); err != nil {
		return fmt.Errorf("write failed after %d of %d bytes: %w", n, missing, err)
	}
	if err := fbd.file.Sync(); err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	return nil
}

//Geometry fufills flashlib.Device
func (fbd *FileBD) Geometry() flashlib.Geometry {
	return fbd.geo
}

//Path of the backing image
func (fbd *FileBD) Path() string {
	return fbd.path
}

//check validates an operation before any I/O is attempted
func (fbd *FileBD) check(ev flashlib.TraceEvent) error {
	if fbd.closed {
		return flashlib.NewOpError(ev, flashlib.ErrClosed, flashlib.ErrClosed)
	}
	return fbd.geo.Check(ev)
}

//ReadBlock fufills flashlib.Device
func (fbd *FileBD) ReadBlock(block, off uint32, buf []byte) error {
	ev := flashlib.TraceEvent{Op: flashlib.OpRead, Block: block, Offset: off, Size: len(buf)}
	return flashlib.Traced(fbd.tracer, ev, func() error {
		if err := fbd.check(ev); err != nil || len(buf) == 0 {
			return err
		}

		n, err := fbd.file.ReadAt(buf, fbd.geo.Pos(block, off))
		if n < len(buf) {
			if err == nil || err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return flashlib.NewOpError(ev, flashlib.ErrIO, fmt.Errorf("Read returned %d bytes: %w", n, err))
		}
		return nil //a full read at the end of the file may also report io.EOF
	})
}

//ProgramBlock fufills flashlib.Device. The target region must have been erased.
func (fbd *FileBD) ProgramBlock(block, off uint32, buf []byte) error {
	ev := flashlib.TraceEvent{Op: flashlib.OpProgram, Block: block, Offset: off, Size: len(buf)}
	return flashlib.Traced(fbd.tracer, ev, func() error {
		if err := fbd.check(ev); err != nil || len(buf) == 0 {
			return err
		}
		return fbd.writeAt(ev, buf, fbd.geo.Pos(block, off))
	})
}

//EraseBlock fufills flashlib.Device
func (fbd *FileBD) EraseBlock(block uint32) error {
	ev := flashlib.TraceEvent{Op: flashlib.OpErase, Block: block}
	return flashlib.Traced(fbd.tracer, ev, func() error {
		if err := fbd.check(ev); err != nil {
			return err
		}
		return fbd.writeAt(ev, fbd.erasedBlk, fbd.geo.Pos(block, 0))
	})
}

func (fbd *FileBD) writeAt(ev flashlib.TraceEvent, buf []byte, pos int64) error {
	n, err := fbd.file.WriteAt(buf, pos)
	if err == nil && n < len(buf) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return flashlib.NewOpError(ev, flashlib.ErrIO, fmt.Errorf("Write of %d bytes at %d failed after %d: %w", len(buf), pos, n, err))
	}
	return nil
}

//Sync fufills flashlib.Device, prior programs and erases are durable once it
// returns without error
func (fbd *FileBD) Sync() error {
	ev := flashlib.TraceEvent{Op: flashlib.OpSync}
	return flashlib.Traced(fbd.tracer, ev, func() error {
		if fbd.closed {
			return flashlib.NewOpError(ev, flashlib.ErrClosed, flashlib.ErrClosed)
		}
		if err := fbd.file.Sync(); err != nil {
			return flashlib.NewOpError(ev, flashlib.ErrIO, fmt.Errorf("Could not sync backing file %q: %w", fbd.path, err))
		}
		return nil
	})
}

//Close releases the backing file, the device is unusable afterwards even if an
// error is returned. Closing more than once is a no-op.
func (fbd *FileBD) Close() error {
	ev := flashlib.TraceEvent{Op: flashlib.OpClose, Path: fbd.path}
	return flashlib.Traced(fbd.tracer, ev, func() error {
		if fbd.closed {
			return nil
		}
		fbd.closed = true

		unlockErr := fbd.unlock()
		err := fbd.file.Close()
		if err == nil && unlockErr != nil {
			err = unlockErr
		}
		if err != nil {
			return flashlib.NewOpError(ev, flashlib.ErrIO, fmt.Errorf("Could not close backing file %q: %w", fbd.path, err))
		}
		return nil
	})
}
