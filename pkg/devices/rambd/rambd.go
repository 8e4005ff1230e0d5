package rambd

import (
	"sync/atomic"

	"github.com/tarndt/flashbd/pkg/flashlib"
	"github.com/tarndt/flashbd/pkg/util"
)

//RAMBD is a memory (heap) backed emulated flash device. It starts out fully
// erased and its contents are lost on Close. Like FileBD it does no locking.
type RAMBD struct {
	mem    []byte
	geo    flashlib.Geometry
	tracer flashlib.Tracer

	atomicOnline uint64
}

var _ flashlib.Device = (*RAMBD)(nil)

//NewRAMBD constructs a memory backed device of the provided geometry, an
// optional tracer observes every operation
func NewRAMBD(geo flashlib.Geometry, optTracer ...flashlib.Tracer) (*RAMBD, error) {
	if err := geo.Validate(); err != nil {
		return nil, flashlib.NewOpError(flashlib.TraceEvent{Op: flashlib.OpCreate}, flashlib.ErrRange, err)
	}

	rbd := &RAMBD{
		mem:          util.Filled(int(geo.Size()), flashlib.EraseValue),
		geo:          geo,
		tracer:       flashlib.NopTracer{},
		atomicOnline: 1,
	}
	if len(optTracer) > 0 && optTracer[0] != nil {
		rbd.tracer = optTracer[0]
	}
	return rbd, nil
}

//Geometry fufills flashlib.Device
func (rbd *RAMBD) Geometry() flashlib.Geometry {
	return rbd.geo
}

//Bytes exposes the raw image for inspection and fault injection, it is only
// valid until Close
func (rbd *RAMBD) Bytes() []byte {
	return rbd.mem
}

func (rbd *RAMBD) check(ev flashlib.TraceEvent) error {
	if atomic.LoadUint64(&rbd.atomicOnline) != 1 {
		return flashlib.NewOpError(ev, flashlib.ErrClosed, flashlib.ErrClosed)
	}
	return rbd.geo.Check(ev)
}

//ReadBlock fufills flashlib.Device
func (rbd *RAMBD) ReadBlock(block, off uint32, buf []byte) error {
	ev := flashlib.TraceEvent{Op: flashlib.OpRead, Block: block, Offset: off, Size: len(buf)}
	return flashlib.Traced(rbd.tracer, ev, func() error {
		if err := rbd.check(ev); err != nil {
			return err
		}
		copy(buf, rbd.mem[rbd.geo.Pos(block, off):])
		return nil
	})
}

//ProgramBlock fufills flashlib.Device
func (rbd *RAMBD) ProgramBlock(block, off uint32, buf []byte) error {
	ev := flashlib.TraceEvent{Op: flashlib.OpProgram, Block: block, Offset: off, Size: len(buf)}
	return flashlib.Traced(rbd.tracer, ev, func() error {
		if err := rbd.check(ev); err != nil {
			return err
		}
		copy(rbd.mem[rbd.geo.Pos(block, off):], buf)
		return nil
	})
}

//EraseBlock fufills flashlib.Device
func (rbd *RAMBD) EraseBlock(block uint32) error {
	ev := flashlib.TraceEvent{Op: flashlib.OpErase, Block: block}
	return flashlib.Traced(rbd.tracer, ev, func() error {
		if err := rbd.check(ev); err != nil {
			return err
		}
		start := rbd.geo.Pos(block, 0)
		util.Fill(rbd.mem[start:start+int64(rbd.geo.EraseSize)], flashlib.EraseValue)
		return nil
	})
}

//Sync fufills flashlib.Device, there is nothing to make durable
func (rbd *RAMBD) Sync() error {
	ev := flashlib.TraceEvent{Op: flashlib.OpSync}
	return flashlib.Traced(rbd.tracer, ev, func() error {
		if atomic.LoadUint64(&rbd.atomicOnline) != 1 {
			return flashlib.NewOpError(ev, flashlib.ErrClosed, flashlib.ErrClosed)
		}
		return nil
	})
}

//Close fufills flashlib.Device and releases the memory
func (rbd *RAMBD) Close() error {
	return flashlib.Traced(rbd.tracer, flashlib.TraceEvent{Op: flashlib.OpClose}, func() error {
		if atomic.CompareAndSwapUint64(&rbd.atomicOnline, 1, 0) {
			rbd.mem = nil
		}
		return nil
	})
}
