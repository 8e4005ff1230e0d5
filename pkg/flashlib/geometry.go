package flashlib

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

//Geometry describes the immutable layout of a flash device
type Geometry struct {
	ReadSize   uint32 //Minimum size of a read in bytes
	ProgSize   uint32 //Minimum size of a program in bytes
	EraseSize  uint32 //Size of an erase block in bytes
	EraseCount uint32 //Number of erase blocks on the device
}

//Validate confirms every field is set and the device size is addressable
func (geo Geometry) Validate() error {
	switch {
	case geo.ReadSize < 1:
		return fmt.Errorf("Read size must be positive: %w", ErrRange)
	case geo.ProgSize < 1:
		return fmt.Errorf("Program size must be positive: %w", ErrRange)
	case geo.EraseSize < 1:
		return fmt.Errorf("Erase size must be positive: %w", ErrRange)
	case geo.EraseCount < 1:
		return fmt.Errorf("Erase count must be positive: %w", ErrRange)
	case uint64(geo.EraseSize)*uint64(geo.EraseCount) > math.MaxInt64:
		return fmt.Errorf("Device size of %d blocks of %d bytes is not addressable: %w", geo.EraseCount, geo.EraseSize, ErrRange)
	}
	return nil
}

//Size of the device (and its backing image) in bytes
func (geo Geometry) Size() int64 {
	return int64(geo.EraseSize) * int64(geo.EraseCount)
}

//Pos returns the absolute byte position of off within block, it does not check bounds
func (geo Geometry) Pos(block, off uint32) int64 {
	return int64(block)*int64(geo.EraseSize) + int64(off)
}

//CheckBlock returns ErrRange if block is not on the device
func (geo Geometry) CheckBlock(block uint32) error {
	if block >= geo.EraseCount {
		return fmt.Errorf("Block %d is beyond the last block (%d): %w", block, geo.EraseCount-1, ErrRange)
	}
	return nil
}

//CheckRange returns ErrRange if size bytes at off do not fit within block
func (geo Geometry) CheckRange(block, off uint32, size int) error {
	if err := geo.CheckBlock(block); err != nil {
		return err
	}
	if uint64(off)+uint64(size) > uint64(geo.EraseSize) {
		return fmt.Errorf("%d bytes at offset %d overrun the %d byte block %d: %w", size, off, geo.EraseSize, block, ErrRange)
	}
	return nil
}

//String generates human-readable prose describing a geometry
func (geo Geometry) String() string {
	return fmt.Sprintf("%s device of %d blocks of %s (read %s, program %s)",
		humanize.IBytes(uint64(geo.Size())), geo.EraseCount, humanize.IBytes(uint64(geo.EraseSize)),
		humanize.IBytes(uint64(geo.ReadSize)), humanize.IBytes(uint64(geo.ProgSize)),
	)
}

//Check validates the bounds of the operation ev describes, returning an
// *OpError of kind ErrRange if it does not fit on the device
func (geo Geometry) Check(ev TraceEvent) error {
	var err error
	switch ev.Op {
	case OpRead, OpProgram:
		err = geo.CheckRange(ev.Block, ev.Offset, ev.Size)
	case OpErase:
		err = geo.CheckBlock(ev.Block)
	}
	return NewOpError(ev, ErrRange, err)
}

//MarshalText encodes the geometry as "READ/PROG/ERASE/COUNT", ex. "16/16/4096/64"
func (geo Geometry) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("%d/%d/%d/%d", geo.ReadSize, geo.ProgSize, geo.EraseSize, geo.EraseCount)), nil
}

//UnmarshalText parses "READ/PROG/ERASE/COUNT", sizes may use IEC/SI units
// (ex. "16/16/4KiB/64") and the result must be valid
func (geo *Geometry) UnmarshalText(text []byte) error {
	fields := strings.Split(string(text), "/")
	if len(fields) != 4 {
		return fmt.Errorf("Geometry %q is not of the form READ/PROG/ERASE/COUNT: %w", text, ErrRange)
	}

	var parsed Geometry
	for i, dest := range []*uint32{&parsed.ReadSize, &parsed.ProgSize, &parsed.EraseSize} {
		size, err := humanize.ParseBytes(fields[i])
		if err != nil {
			return fmt.Errorf("Geometry size %q could not be parsed: %w", fields[i], err)
		} else if size > math.MaxUint32 {
			return fmt.Errorf("Geometry size %q is too large: %w", fields[i], ErrRange)
		}
		*dest = uint32(size)
	}
	count, err := strconv.ParseUint(fields[3], 10, 32)
	if err != nil {
		return fmt.Errorf("Geometry erase count %q could not be parsed: %w", fields[3], err)
	}
	parsed.EraseCount = uint32(count)

	if err = parsed.Validate(); err != nil {
		return err
	}
	*geo = parsed
	return nil
}
