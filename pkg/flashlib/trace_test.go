package flashlib

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	golog "github.com/fclairamb/go-log"
)

type recordingLogger struct {
	golog.Logger //unused methods panic
	debug, errs  []string
}

func (rl *recordingLogger) Debug(event string, keyvals ...interface{}) {
	rl.debug = append(rl.debug, event+" "+strings.TrimSpace(fmt.Sprintln(keyvals...)))
}

func (rl *recordingLogger) Error(event string, keyvals ...interface{}) {
	rl.errs = append(rl.errs, event+" "+strings.TrimSpace(fmt.Sprintln(keyvals...)))
}

func TestTraceEventString(t *testing.T) {
	cases := []struct {
		ev       TraceEvent
		expected string
	}{
		{TraceEvent{Op: OpRead, Block: 2, Offset: 4, Size: 8}, "read 8 bytes at block 2 offset 4"},
		{TraceEvent{Op: OpProgram, Block: 1, Size: 5}, "program 5 bytes at block 1 offset 0"},
		{TraceEvent{Op: OpErase, Block: 7}, "erase block 7"},
		{TraceEvent{Op: OpCreate, Path: "disk.img"}, `create "disk.img"`},
		{TraceEvent{Op: OpClose}, "close"},
		{TraceEvent{Op: OpSync}, "sync"},
		{TraceEvent{}, "unknown"},
	}

	for _, tcase := range cases {
		if str := tcase.ev.String(); str != tcase.expected {
			t.Fatalf("Event described as %q rather than %q", str, tcase.expected)
		}
	}
}

func TestTraced(t *testing.T) {
	t.Run("nop", func(t *testing.T) {
		ran := false
		err := Traced(NopTracer{}, TraceEvent{Op: OpSync}, func() error { ran = true; return nil })
		if err != nil || !ran {
			t.Fatalf("Operation ran: %t with result: %v", ran, err)
		}
		if err = Traced(nil, TraceEvent{Op: OpSync}, func() error { return ErrIO }); err != ErrIO {
			t.Fatalf("Operation result was not passed through: %v", err)
		}
	})

	t.Run("log", func(t *testing.T) {
		logger := new(recordingLogger)
		tracer := NewLogTracer(logger)

		Traced(tracer, TraceEvent{Op: OpErase, Block: 3}, func() error { return nil })
		failure := errors.New("injected")
		err := Traced(tracer, TraceEvent{Op: OpProgram, Block: 1, Size: 2}, func() error {
			time.Sleep(time.Millisecond)
			return failure
		})
		if err != failure {
			t.Fatalf("Operation result was not passed through: %v", err)
		}

		if len(logger.debug) != 3 {
			t.Fatalf("Logged %d debug events rather than 3: %v", len(logger.debug), logger.debug)
		}
		if len(logger.errs) != 1 {
			t.Fatalf("Logged %d error events rather than 1: %v", len(logger.errs), logger.errs)
		}
		if expected := "Flash operation failed op program block 1 offset 0 size 2 elapsed"; !strings.HasPrefix(logger.errs[0], expected) {
			t.Fatalf("Failure was logged as %q", logger.errs[0])
		}
	})
}
