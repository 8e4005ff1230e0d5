package flashlib

import (
	"fmt"
	"time"

	golog "github.com/fclairamb/go-log"
)

//Op identifies a device operation
type Op uint8

//Enumerate device operations
const (
	OpUnknown Op = iota
	OpCreate
	OpClose
	OpRead
	OpProgram
	OpErase
	OpSync
)

//String returns the textual name of an Op
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpClose:
		return "close"
	case OpRead:
		return "read"
	case OpProgram:
		return "program"
	case OpErase:
		return "erase"
	case OpSync:
		return "sync"
	}
	return "unknown"
}

//TraceEvent describes a single device operation, fields not applicable to the
// Op are left zero
type TraceEvent struct {
	Op     Op
	Path   string
	Block  uint32
	Offset uint32
	Size   int
}

//String generates human-readable prose describing an operation
func (ev TraceEvent) String() string {
	switch ev.Op {
	case OpRead, OpProgram:
		return fmt.Sprintf("%s %d bytes at block %d offset %d", ev.Op, ev.Size, ev.Block, ev.Offset)
	case OpErase:
		return fmt.Sprintf("erase block %d", ev.Block)
	case OpCreate, OpClose:
		if ev.Path != "" {
			return fmt.Sprintf("%s %q", ev.Op, ev.Path)
		}
	}
	return ev.Op.String()
}

func (ev TraceEvent) keyvals(extra ...interface{}) []interface{} {
	kv := append(make([]interface{}, 0, 8+len(extra)), "op", ev.Op.String())
	switch ev.Op {
	case OpRead, OpProgram:
		kv = append(kv, "block", ev.Block, "offset", ev.Offset, "size", ev.Size)
	case OpErase:
		kv = append(kv, "block", ev.Block)
	case OpCreate, OpClose:
		kv = append(kv, "path", ev.Path)
	}
	return append(kv, extra...)
}

//Tracer observes the start and completion of every device operation
type Tracer interface {
	TraceStart(ev TraceEvent)
	TraceDone(ev TraceEvent, elapsed time.Duration, err error)
}

//NopTracer ignores everything, it is the default Tracer of all devices
type NopTracer struct{}

//TraceStart fufills Tracer
func (NopTracer) TraceStart(TraceEvent) {}

//TraceDone fufills Tracer
func (NopTracer) TraceDone(TraceEvent, time.Duration, error) {}

//Traced runs op bracketed by calls to tracer
func Traced(tracer Tracer, ev TraceEvent, op func() error) error {
	if _, isNop := tracer.(NopTracer); isNop || tracer == nil {
		return op()
	}

	tracer.TraceStart(ev)
	start := time.Now()
	err := op()
	tracer.TraceDone(ev, time.Since(start), err)
	return err
}

type logTracer struct {
	logger golog.Logger
}

//NewLogTracer constructs a Tracer that writes operations to logger at debug
// level and failures at error level
func NewLogTracer(logger golog.Logger) Tracer {
	return logTracer{logger: logger}
}

func (lt logTracer) TraceStart(ev TraceEvent) {
	lt.logger.Debug("Flash operation started", ev.keyvals()...)
}

func (lt logTracer) TraceDone(ev TraceEvent, elapsed time.Duration, err error) {
	if err != nil {
		lt.logger.Error("Flash operation failed", ev.keyvals("elapsed", elapsed, "err", err)...)
		return
	}
	lt.logger.Debug("Flash operation done", ev.keyvals("elapsed", elapsed)...)
}
