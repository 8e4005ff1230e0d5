package flashlib

import "io"

//EraseValue is the value every byte of an erased block holds
const EraseValue byte = 0xFF

//Device is an emulated flash device. Blocks must be erased before being
// programmed, a program into a region that was not erased is not detected by
// most implementations (just like real flash). Implementations are not safe
// for concurrent use unless stated otherwise.
type Device interface {
	//Geometry the device was created with, it never changes
	Geometry() Geometry
	//ReadBlock reads len(buf) bytes starting at offset off of block
	ReadBlock(block, off uint32, buf []byte) error
	//ProgramBlock writes buf starting at offset off of a previously erased block
	ProgramBlock(block, off uint32, buf []byte) error
	//EraseBlock resets every byte of block to EraseValue
	EraseBlock(block uint32) error
	//Sync makes all prior programs and erases durable
	Sync() error
	io.Closer
}
