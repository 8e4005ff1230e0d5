package flashlib

import (
	"fmt"

	"github.com/tarndt/flashbd/pkg/util"

	"github.com/bits-and-blooms/bitset"
)

//StrictOption is a Strict device option
type StrictOption interface {
	apply(*Strict)
}

//OptEnforceAlignment instructs a Strict device to reject reads not aligned to
// ReadSize and programs not aligned to ProgSize with ErrMisaligned
type OptEnforceAlignment bool

func (enforce OptEnforceAlignment) apply(s *Strict) {
	s.alignment = bool(enforce)
}

//OptStrictTracer instructs a Strict device to report its own rejections to tracer
type OptStrictTracer struct{ Tracer }

func (opt OptStrictTracer) apply(s *Strict) {
	s.tracer = opt.Tracer
}

//Stats are running counters of successful operations on a Strict device
type Stats struct {
	Reads, Programs, Erases, Syncs uint64
	BytesRead, BytesProgrammed     uint64
}

//Strict wraps a device and detects misuse real flash would silently tolerate,
// most importantly programming a region that was not erased first. Erase state
// is tracked per program unit (ProgSize bytes) so a partial program marks its
// whole unit as programmed.
type Strict struct {
	dev           Device
	geo           Geometry
	unitsPerBlock uint
	programmed    *bitset.BitSet
	alignment     bool
	tracer        Tracer
	stats         Stats
	closed        bool
}

var _ Device = (*Strict)(nil)

//NewStrict constructs a Strict device wrapping dev. The current contents of dev
// are scanned to learn which program units already hold data.
func NewStrict(dev Device, opts ...StrictOption) (*Strict, error) {
	geo := dev.Geometry()
	unitsPerBlock := uint((geo.EraseSize + geo.ProgSize - 1) / geo.ProgSize)
	s := &Strict{
		dev:           dev,
		geo:           geo,
		unitsPerBlock: unitsPerBlock,
		programmed:    bitset.New(unitsPerBlock * uint(geo.EraseCount)),
		tracer:        NopTracer{},
	}
	for _, opt := range opts {
		opt.apply(s)
	}

	buf := make([]byte, geo.EraseSize)
	for block := uint32(0); block < geo.EraseCount; block++ {
		if err := dev.ReadBlock(block, 0, buf); err != nil {
			return nil, fmt.Errorf("Could not scan block %d for erase state: %w", block, err)
		}
		s.learn(block, buf)
	}
	return s, nil
}

func (s *Strict) learn(block uint32, contents []byte) {
	progSize := int(s.geo.ProgSize)
	first := uint(block) * s.unitsPerBlock
	for unit := uint(0); unit < s.unitsPerBlock; unit++ {
		start := int(unit) * progSize
		end := start + progSize
		if end > len(contents) {
			end = len(contents)
		}
		if !util.IsFilled(contents[start:end], EraseValue) {
			s.programmed.Set(first + unit)
		}
	}
}

//units returns the first and last program unit touched by size bytes at off
func (s *Strict) units(block, off uint32, size int) (first, last uint) {
	base := uint(block) * s.unitsPerBlock
	first = base + uint(off/s.geo.ProgSize)
	last = base + uint((off+uint32(size)-1)/s.geo.ProgSize)
	return first, last
}

//checkOpen rejects operations after Close before any bookkeeping is consulted
func (s *Strict) checkOpen(ev TraceEvent) error {
	if !s.closed {
		return nil
	}
	return Traced(s.tracer, ev, func() error { return NewOpError(ev, ErrClosed, ErrClosed) })
}

func (s *Strict) reject(ev TraceEvent, kind error, msg string) error {
	err := NewOpError(ev, kind, fmt.Errorf("%s: %w", msg, kind))
	return Traced(s.tracer, ev, func() error { return err })
}

//Geometry fufills Device
func (s *Strict) Geometry() Geometry { return s.geo }

//Stats returns a snapshot of the operation counters
func (s *Strict) Stats() Stats { return s.stats }

//IsErased reports if no byte of block has been programmed since its last erase
func (s *Strict) IsErased(block uint32) bool {
	if block >= s.geo.EraseCount {
		return false
	}
	first := uint(block) * s.unitsPerBlock
	next, found := s.programmed.NextSet(first)
	return !found || next >= first+s.unitsPerBlock
}

//ReadBlock fufills Device
func (s *Strict) ReadBlock(block, off uint32, buf []byte) error {
	ev := TraceEvent{Op: OpRead, Block: block, Offset: off, Size: len(buf)}
	if err := s.checkOpen(ev); err != nil {
		return err
	}
	if s.alignment && (off%s.geo.ReadSize != 0 || uint32(len(buf))%s.geo.ReadSize != 0) {
		return s.reject(ev, ErrMisaligned, fmt.Sprintf("Read size is %d bytes", s.geo.ReadSize))
	}

	if err := s.dev.ReadBlock(block, off, buf); err != nil {
		return err
	}
	s.stats.Reads++
	s.stats.BytesRead += uint64(len(buf))
	return nil
}

//ProgramBlock fufills Device, it fails with ErrNotErased rather than programming
// a unit that was programmed since its last erase
func (s *Strict) ProgramBlock(block, off uint32, buf []byte) error {
	ev := TraceEvent{Op: OpProgram, Block: block, Offset: off, Size: len(buf)}
	if err := s.checkOpen(ev); err != nil {
		return err
	}
	if err := s.geo.CheckRange(block, off, len(buf)); err != nil {
		return s.reject(ev, ErrRange, err.Error())
	}
	if s.alignment && (off%s.geo.ProgSize != 0 || uint32(len(buf))%s.geo.ProgSize != 0) {
		return s.reject(ev, ErrMisaligned, fmt.Sprintf("Program size is %d bytes", s.geo.ProgSize))
	}

	if len(buf) > 0 {
		first, last := s.units(block, off, len(buf))
		if next, found := s.programmed.NextSet(first); found && next <= last {
			unitOff := (next - uint(block)*s.unitsPerBlock) * uint(s.geo.ProgSize)
			return s.reject(ev, ErrNotErased, fmt.Sprintf("Offset %d was already programmed", unitOff))
		}
	}

	if err := s.dev.ProgramBlock(block, off, buf); err != nil {
		return err
	}
	if len(buf) > 0 {
		first, last := s.units(block, off, len(buf))
		for unit := first; unit <= last; unit++ {
			s.programmed.Set(unit)
		}
	}
	s.stats.Programs++
	s.stats.BytesProgrammed += uint64(len(buf))
	return nil
}

//EraseBlock fufills Device
func (s *Strict) EraseBlock(block uint32) error {
	if err := s.dev.EraseBlock(block); err != nil {
		return err
	}
	first := uint(block) * s.unitsPerBlock
	for unit := first; unit < first+s.unitsPerBlock; unit++ {
		s.programmed.Clear(unit)
	}
	s.stats.Erases++
	return nil
}

//Sync fufills Device
func (s *Strict) Sync() error {
	if err := s.dev.Sync(); err != nil {
		return err
	}
	s.stats.Syncs++
	return nil
}

//Close fufills Device and closes the wrapped device
func (s *Strict) Close() error {
	s.closed = true
	return s.dev.Close()
}
