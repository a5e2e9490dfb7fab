package ptracedbg

import (
	"golang.org/x/sys/unix"

	"crashDbg/unwind"
)

// user32Cs is the code segment selector of 32-bit tasks.
const user32Cs = 0x23

func frameRegisters(regs *unix.PtraceRegs) unwind.Registers {
	return unwind.Registers{
		PC:   regs.Rip,
		SP:   regs.Rsp,
		FP:   regs.Rbp,
		Is32: regs.Cs == user32Cs,
	}
}
