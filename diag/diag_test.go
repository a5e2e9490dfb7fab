package diag

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"crashDbg/debugevent"
	"crashDbg/termlog"
	"crashDbg/unwind"
)

type fakeMemory map[uint64][]byte

func (m fakeMemory) ReadProcessMemory(_ debugevent.Handle, addr uint64, buf []byte) (int, error) {
	for base, data := range m {
		if addr >= base && addr < base+uint64(len(data)) {
			return copy(buf, data[addr-base:]), nil
		}
	}
	return 0, errors.New("unmapped")
}

type fakeSymbols map[uint64]unwind.Symbol

func (s fakeSymbols) Resolve(_ debugevent.Handle, addr uint64) (unwind.Symbol, bool) {
	sym, ok := s[addr]
	return sym, ok
}

type fakeThreads struct {
	regs unwind.Registers
	err  error
}

func (f fakeThreads) Registers(_, _ debugevent.Handle) (unwind.Registers, error) {
	return f.regs, f.err
}

func le64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func newDumper(mem fakeMemory, syms fakeSymbols, threads fakeThreads) (*Dumper, *bytes.Buffer) {
	var buf bytes.Buffer
	return &Dumper{
		Out:     termlog.NewSink(&buf, termlog.ColorNever),
		Memory:  mem,
		Symbols: syms,
		Threads: threads,
	}, &buf
}

func TestDumpException(t *testing.T) {
	mem := fakeMemory{
		// mov rax, qword ptr [rax]
		0x401000: {0x48, 0x8b, 0x00, 0x90, 0x90},
	}
	syms := fakeSymbols{0x401000: {Name: "crash", Module: "app"}}
	d, buf := newDumper(mem, syms, fakeThreads{})

	d.DumpException(1, &debugevent.ExceptionRecord{
		Code:    debugevent.StatusAccessViolation,
		Address: 0x401000,
		Params:  []uint64{1, 0},
	})

	out := buf.String()
	require.Contains(t, out, "[exception]")
	require.Contains(t, out, "EXCEPTION_ACCESS_VIOLATION at 0x0000000000401000 in app!crash")
	require.Contains(t, out, "writing to 0x0000000000000000")
	require.Contains(t, out, "=> 0x0000000000401000: mov rax")
}

func TestDumpExceptionUnreadableAddress(t *testing.T) {
	d, buf := newDumper(fakeMemory{}, fakeSymbols{}, fakeThreads{})
	d.DumpException(1, &debugevent.ExceptionRecord{Code: debugevent.StatusIllegalInstruction, Address: 0x10})
	require.Equal(t, "[exception]\nEXCEPTION_ILLEGAL_INSTRUCTION at 0x0000000000000010\n", buf.String())
}

func TestDumpStack(t *testing.T) {
	mem := fakeMemory{
		0x7000: append(le64(0x7100), le64(0x401234)...),
		0x7100: append(le64(0), le64(0x401500)...),
	}
	syms := fakeSymbols{
		0x401000: {Name: "crash", Module: "app"},
		0x401234: {Name: "caller", Module: "app", Offset: 0x34},
	}
	d, buf := newDumper(mem, syms, fakeThreads{regs: unwind.Registers{PC: 0x401000, FP: 0x7000}})

	d.DumpStack(1, 7)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Equal(t, []string{
		"[backtrace 7]",
		"#0  0x0000000000401000 in app!crash",
		"#1  0x0000000000401234 in app!caller+0x34",
		"#2  0x0000000000401500",
	}, lines)
}

func TestDumpStackWithoutContext(t *testing.T) {
	d, buf := newDumper(fakeMemory{}, fakeSymbols{}, fakeThreads{err: errors.New("thread gone")})
	d.DumpStack(1, 7)
	require.Equal(t, "[ERROR] GetThreadContext: thread gone\n", buf.String())
}

func TestDescribe(t *testing.T) {
	require.Equal(t, "executing 0x0000000000001000", describe(&debugevent.ExceptionRecord{
		Code: debugevent.StatusAccessViolation, Params: []uint64{8, 0x1000},
	}))
	require.Equal(t, "accessing 0x0000000000000020", describe(&debugevent.ExceptionRecord{
		Code: debugevent.StatusAccessViolation, Params: []uint64{debugevent.AccessUnknown, 0x20},
	}))
	require.Equal(t, "", describe(&debugevent.ExceptionRecord{Code: debugevent.StatusAccessViolation}))
	require.Equal(t, "", describe(&debugevent.ExceptionRecord{Code: debugevent.StatusBreakpoint}))
}

func TestDumpStackTelescope(t *testing.T) {
	stack := append(le64(0x401234), le64(0x9000)...)
	stack = append(stack, le64(0xa000)...)
	stack = append(stack, le64(0x42)...)
	mem := fakeMemory{
		0x7000: stack,
		0x9000: []byte("crash!\x00\x00"),
		0xa000: le64(0xdeadbeef),
	}
	syms := fakeSymbols{0x401234: {Name: "caller", Module: "app", Offset: 0x34}}
	d, buf := newDumper(mem, syms, fakeThreads{regs: unwind.Registers{PC: 0x401000, SP: 0x7000}})
	d.StackWords = 4

	d.DumpStack(1, 7)

	out := buf.String()
	stackPart := out[strings.Index(out, "[stack]"):]
	require.Equal(t, []string{
		"[stack]",
		"0x0000000000007000:+0x000|0x0000000000401234 <caller+0x34>",
		`0x0000000000007008:+0x008|0x0000000000009000 -> "crash!"`,
		"0x0000000000007010:+0x010|0x000000000000a000 -> 0x00000000deadbeef",
		"0x0000000000007018:+0x018|0x0000000000000042",
	}, strings.Split(strings.TrimSpace(stackPart), "\n"))
}

func TestPrintable(t *testing.T) {
	require.True(t, printable([]byte("ab\x00\x00")))
	require.False(t, printable([]byte{0, 0, 0, 0}))
	require.False(t, printable([]byte{'a', 0x90}))
}
