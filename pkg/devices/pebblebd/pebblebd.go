package pebblebd

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/tarndt/flashbd/pkg/flashlib"
	"github.com/tarndt/flashbd/pkg/util"

	"github.com/cockroachdb/pebble"
)

var geometryKey = []byte("geometry")

//PebbleBD is a sparse emulated flash device stored in PebbleDB. Only blocks
// that have been programmed since their last erase are stored; a missing block
// reads as erased. Writes are not synced to the WAL until Sync.
type PebbleBD struct {
	dbPath    string
	db        *pebble.DB
	geo       flashlib.Geometry
	tracer    flashlib.Tracer
	blockPool sync.Pool
	closed    bool
	closeOnce sync.Once
}

var _ flashlib.Device = (*PebbleBD)(nil)

//NewPebbleBD opens (creating if needed) the database at dbPath. A database
// created with a different geometry is refused with flashlib.ErrResource.
func NewPebbleBD(geo flashlib.Geometry, dbPath string, cacheBytes int64, optTracer ...flashlib.Tracer) (*PebbleBD, error) {
	pbd := &PebbleBD{dbPath: dbPath, geo: geo, tracer: flashlib.NopTracer{}}
	if len(optTracer) > 0 && optTracer[0] != nil {
		pbd.tracer = optTracer[0]
	}
	pbd.blockPool = sync.Pool{New: pbd.newBlock}

	ev := flashlib.TraceEvent{Op: flashlib.OpCreate, Path: dbPath}
	err := flashlib.Traced(pbd.tracer, ev, func() error {
		if err := geo.Validate(); err != nil {
			return flashlib.NewOpError(ev, flashlib.ErrRange, err)
		}
		return flashlib.NewOpError(ev, flashlib.ErrResource, pbd.open(cacheBytes))
	})
	if err != nil {
		return nil, err
	}
	return pbd, nil
}

func (pbd *PebbleBD) newBlock() interface{} {
	return make([]byte, pbd.geo.EraseSize)
}

func (pbd *PebbleBD) open(cacheBytes int64) (err error) {
	cache := pebble.NewCache(cacheBytes)
	defer cache.Unref()

	if pbd.db, err = pebble.Open(pbd.dbPath, &pebble.Options{Cache: cache}); err != nil {
		return fmt.Errorf("Could not open database %q: %w", pbd.dbPath, err)
	}

	geoVal := encodeGeometry(pbd.geo)
	rawVal, closeVal, err := pbd.db.Get(geometryKey)
	switch {
	case errors.Is(err, pebble.ErrNotFound):
		err = pbd.db.Set(geometryKey, geoVal, pebble.Sync)
	case err == nil:
		stored := decodeGeometry(rawVal)
		closeVal.Close()
		if stored != pbd.geo {
			err = fmt.Errorf("Database %q holds a device of geometry %+v not %+v", pbd.dbPath, stored, pbd.geo)
		}
	}
	if err != nil {
		pbd.db.Close()
		return fmt.Errorf("Could not establish device geometry: %w", err)
	}
	return nil
}

func encodeGeometry(geo flashlib.Geometry) []byte {
	val := make([]byte, 16)
	binary.LittleEndian.PutUint32(val[0:], geo.ReadSize)
	binary.LittleEndian.PutUint32(val[4:], geo.ProgSize)
	binary.LittleEndian.PutUint32(val[8:], geo.EraseSize)
	binary.LittleEndian.PutUint32(val[12:], geo.EraseCount)
	return val
}

func decodeGeometry(val []byte) (geo flashlib.Geometry) {
	if len(val) != 16 {
		return geo
	}
	geo.ReadSize = binary.LittleEndian.Uint32(val[0:])
	geo.ProgSize = binary.LittleEndian.Uint32(val[4:])
	geo.EraseSize = binary.LittleEndian.Uint32(val[8:])
	geo.EraseCount = binary.LittleEndian.Uint32(val[12:])
	return geo
}

//blockKey is 4 bytes so it never collides with geometryKey
func blockKey(block uint32) []byte {
	key := make([]byte, 4)
	binary.BigEndian.PutUint32(key, block)
	return key
}

//Geometry fufills flashlib.Device
func (pbd *PebbleBD) Geometry() flashlib.Geometry {
	return pbd.geo
}

func (pbd *PebbleBD) check(ev flashlib.TraceEvent) error {
	if pbd.closed {
		return flashlib.NewOpError(ev, flashlib.ErrClosed, flashlib.ErrClosed)
	}
	return pbd.geo.Check(ev)
}

//getBlock copies the stored contents of block into blk, or erases blk if absent
func (pbd *PebbleBD) getBlock(block uint32, blk []byte) error {
	rawVal, closeVal, err := pbd.db.Get(blockKey(block))
	switch {
	case errors.Is(err, pebble.ErrNotFound):
		util.Fill(blk, flashlib.EraseValue)
		return nil
	case err != nil:
		return fmt.Errorf("Database get of block %d failed: %w", block, err)
	}
	defer closeVal.Close()

	if len(rawVal) != len(blk) {
		return fmt.Errorf("Database block %d was %d bytes rather than %d", block, len(rawVal), len(blk))
	}
	copy(blk, rawVal)
	return nil
}

//ReadBlock fufills flashlib.Device
func (pbd *PebbleBD) ReadBlock(block, off uint32, buf []byte) error {
	ev := flashlib.TraceEvent{Op: flashlib.OpRead, Block: block, Offset: off, Size: len(buf)}
	return flashlib.Traced(pbd.tracer, ev, func() error {
		if err := pbd.check(ev); err != nil || len(buf) == 0 {
			return err
		}

		blk := pbd.blockPool.Get().([]byte)
		defer pbd.blockPool.Put(blk)
		if err := pbd.getBlock(block, blk); err != nil {
			return flashlib.NewOpError(ev, flashlib.ErrIO, err)
		}
		copy(buf, blk[off:])
		return nil
	})
}

//ProgramBlock fufills flashlib.Device
func (pbd *PebbleBD) ProgramBlock(block, off uint32, buf []byte) error {
	ev := flashlib.TraceEvent{Op: flashlib.OpProgram, Block: block, Offset: off, Size: len(buf)}
	return flashlib.Traced(pbd.tracer, ev, func() error {
		if err := pbd.check(ev); err != nil || len(buf) == 0 {
			return err
		}

		blk := pbd.blockPool.Get().([]byte)
		defer pbd.blockPool.Put(blk)
		if err := pbd.getBlock(block, blk); err != nil {
			return flashlib.NewOpError(ev, flashlib.ErrIO, err)
		}
		copy(blk[off:], buf)
		if err := pbd.db.Set(blockKey(block), blk, pebble.NoSync); err != nil {
			return flashlib.NewOpError(ev, flashlib.ErrIO, fmt.Errorf("Database put of block %d failed: %w", block, err))
		}
		return nil
	})
}

//EraseBlock fufills flashlib.Device by forgetting the block
func (pbd *PebbleBD) EraseBlock(block uint32) error {
	ev := flashlib.TraceEvent{Op: flashlib.OpErase, Block: block}
	return flashlib.Traced(pbd.tracer, ev, func() error {
		if err := pbd.check(ev); err != nil {
			return err
		}
		if err := pbd.db.Delete(blockKey(block), pebble.NoSync); err != nil {
			return flashlib.NewOpError(ev, flashlib.ErrIO, fmt.Errorf("Database delete of block %d failed: %w", block, err))
		}
		return nil
	})
}

//Sync fufills flashlib.Device by flushing the database
func (pbd *PebbleBD) Sync() error {
	ev := flashlib.TraceEvent{Op: flashlib.OpSync}
	return flashlib.Traced(pbd.tracer, ev, func() error {
		if pbd.closed {
			return flashlib.NewOpError(ev, flashlib.ErrClosed, flashlib.ErrClosed)
		}
		if err := pbd.db.Flush(); err != nil {
			return flashlib.NewOpError(ev, flashlib.ErrIO, fmt.Errorf("Could not flush database %q: %w", pbd.dbPath, err))
		}
		return nil
	})
}

//Close fufills flashlib.Device, unsynced writes may be lost
func (pbd *PebbleBD) Close() (err error) {
	ev := flashlib.TraceEvent{Op: flashlib.OpClose, Path: pbd.dbPath}
	return flashlib.Traced(pbd.tracer, ev, func() error {
		pbd.closeOnce.Do(func() {
			pbd.closed = true
			if closeErr := pbd.db.Close(); closeErr != nil {
				err = flashlib.NewOpError(ev, flashlib.ErrIO, fmt.Errorf("Could not close database %q: %w", pbd.dbPath, closeErr))
			}
		})
		return err
	})
}
