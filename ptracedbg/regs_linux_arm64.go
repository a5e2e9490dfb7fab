package ptracedbg

import (
	"golang.org/x/sys/unix"

	"crashDbg/unwind"
)

// x29 holds the frame pointer.
func frameRegisters(regs *unix.PtraceRegs) unwind.Registers {
	return unwind.Registers{
		PC: regs.Pc,
		SP: regs.Sp,
		FP: regs.Regs[29],
	}
}
