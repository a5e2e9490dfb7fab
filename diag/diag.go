// Package diag produces the crash report: the exception record with the
// faulting instruction, and symbolized backtraces of the process's threads.
package diag

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	"crashDbg/debugevent"
	"crashDbg/termlog"
	"crashDbg/unwind"
)

type Resolver interface {
	Resolve(process debugevent.Handle, addr uint64) (unwind.Symbol, bool)
}

type MemoryReader interface {
	ReadProcessMemory(process debugevent.Handle, addr uint64, buf []byte) (int, error)
}

// ThreadState captures the registers of a stopped thread.
type ThreadState interface {
	Registers(process, thread debugevent.Handle) (unwind.Registers, error)
}

// Dumper implements session.Dumper.
type Dumper struct {
	Out       *termlog.Sink
	Memory    MemoryReader
	Symbols   Resolver
	Threads   ThreadState
	MaxFrames int
	// StackWords is how many words from the stack pointer up each
	// backtrace is followed by. Zero disables the stack listing.
	StackWords int
	// Is32 reports whether process executes 32-bit code.
	Is32 func(process debugevent.Handle) bool
}

const defaultMaxFrames = 64

type processMemory struct {
	mem     MemoryReader
	process debugevent.Handle
}

func (m processMemory) ReadMemory(addr uint64, buf []byte) (int, error) {
	return m.mem.ReadProcessMemory(m.process, addr, buf)
}

func (d *Dumper) DumpException(process debugevent.Handle, rec *debugevent.ExceptionRecord) {
	d.Out.Line("exception")
	d.Out.Printf("%s at 0x%016x", debugevent.CodeName(rec.Code), rec.Address)
	if sym, ok := d.Symbols.Resolve(process, rec.Address); ok {
		fmt.Fprintf(d.Out, " in %s", sym)
	}
	fmt.Fprintln(d.Out)

	if detail := describe(rec); detail != "" {
		d.Out.Printf("%s\n", detail)
	}

	if inst, ok := d.disassemble(process, rec.Address); ok {
		d.Out.Printf("=> 0x%016x: %s\n", rec.Address, inst)
	}
}

// describe explains the exception parameters of the codes that have any.
func describe(rec *debugevent.ExceptionRecord) string {
	switch rec.Code {
	case debugevent.StatusAccessViolation, debugevent.StatusInPageError:
		if len(rec.Params) < 2 {
			return ""
		}
		op := "reading from"
		switch rec.Params[0] {
		case debugevent.AccessWrite:
			op = "writing to"
		case debugevent.AccessExecute:
			op = "executing"
		case debugevent.AccessUnknown:
			op = "accessing"
		}
		return fmt.Sprintf("%s 0x%016x", op, rec.Params[1])
	case debugevent.StatusFatalAppExit:
		return "abnormal program termination"
	}
	return ""
}

func (d *Dumper) disassemble(process debugevent.Handle, addr uint64) (string, bool) {
	code := make([]byte, 16)
	n, err := d.Memory.ReadProcessMemory(process, addr, code)
	if err != nil || n == 0 {
		return "", false
	}
	mode := 64
	if d.Is32 != nil && d.Is32(process) {
		mode = 32
	}
	inst, err := x86asm.Decode(code[:n], mode)
	if err != nil {
		return "", false
	}
	lookup := func(target uint64) (string, uint64) {
		if sym, ok := d.Symbols.Resolve(process, target); ok && sym.Name != "" {
			return sym.Name, target - sym.Offset
		}
		return "", 0
	}
	return x86asm.IntelSyntax(inst, addr, lookup), true
}

func (d *Dumper) DumpStack(process, thread debugevent.Handle) {
	regs, err := d.Threads.Registers(process, thread)
	if err != nil {
		d.Out.Errorf("GetThreadContext: %v", err)
		return
	}

	max := d.MaxFrames
	if max <= 0 {
		max = defaultMaxFrames
	}

	d.Out.Line(fmt.Sprintf("backtrace %d", thread))
	frames := unwind.Walk(processMemory{mem: d.Memory, process: process}, regs, max)
	for i, f := range frames {
		fmt.Fprintf(d.Out, "#%-2d %s", i, d.Out.Colorize(termlog.ColorCyan, fmt.Sprintf("0x%016x", f.PC)))
		if sym, ok := d.Symbols.Resolve(process, f.PC); ok {
			fmt.Fprintf(d.Out, " in %s", sym)
		}
		fmt.Fprintln(d.Out)
	}

	if d.StackWords > 0 {
		d.telescope(process, regs)
	}
}
