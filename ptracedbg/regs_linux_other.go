//go:build linux && !amd64 && !arm64

package ptracedbg

import (
	"golang.org/x/sys/unix"

	"crashDbg/unwind"
)

// Frame walking is only implemented for amd64 and arm64.
func frameRegisters(*unix.PtraceRegs) unwind.Registers {
	return unwind.Registers{}
}
