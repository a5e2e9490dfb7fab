package ptracedbg

import (
	"encoding/binary"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"

	"crashDbg/debugevent"
)

// siKernel is the si_code of a trap raised by an int3 instruction.
const siKernel = 0x80

// exceptionCode maps a fault signal to the exception code a Windows
// debugger would see for the same fault.
func exceptionCode(sig unix.Signal) (uint32, bool) {
	switch sig {
	case unix.SIGSEGV:
		return debugevent.StatusAccessViolation, true
	case unix.SIGBUS:
		return debugevent.StatusInPageError, true
	case unix.SIGILL:
		return debugevent.StatusIllegalInstruction, true
	case unix.SIGFPE:
		return debugevent.StatusIntegerDivideByZero, true
	case unix.SIGTRAP:
		return debugevent.StatusBreakpoint, true
	case unix.SIGABRT:
		return debugevent.StatusFatalAppExit, true
	case unix.SIGSYS:
		return debugevent.StatusPrivilegedInstruction, true
	}
	return 0, false
}

// exitCode converts a wait status into a process exit code. Death by a
// fault signal reports the matching exception code, abort reports the C
// runtime's abort status.
func exitCode(ws unix.WaitStatus) uint32 {
	if ws.Exited() {
		return uint32(ws.ExitStatus())
	}
	if !ws.Signaled() {
		return 0
	}
	sig := ws.Signal()
	if sig == unix.SIGABRT {
		return debugevent.AbortExitCode
	}
	if code, ok := exceptionCode(sig); ok {
		return code
	}
	return 128 + uint32(sig)
}

type siginfo struct {
	signo int32
	code  int32
	addr  uint64
}

func (d *Debugger) siginfo(tid int) (siginfo, error) {
	var raw [128]byte
	err := d.rpc.Do("PTRACE_GETSIGINFO", func() error {
		_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_GETSIGINFO, uintptr(tid), 0, uintptr(unsafe.Pointer(&raw[0])), 0, 0)
		if errno != 0 {
			return errno
		}
		return nil
	})
	if err != nil {
		return siginfo{}, err
	}
	return parseSiginfo(raw[:], unsafe.Sizeof(uintptr(0)) == 8), nil
}

// parseSiginfo decodes the fields of a siginfo_t that the fault signals
// use. The union starts after the three int header fields, padded to
// pointer alignment.
func parseSiginfo(raw []byte, wide bool) siginfo {
	info := siginfo{
		signo: int32(binary.LittleEndian.Uint32(raw[0:])),
		code:  int32(binary.LittleEndian.Uint32(raw[8:])),
	}
	if wide {
		info.addr = binary.LittleEndian.Uint64(raw[16:])
	} else {
		info.addr = uint64(binary.LittleEndian.Uint32(raw[12:]))
	}
	return info
}

// trapAddress moves the program counter of an int3 trap back onto the
// breakpoint instruction.
func trapAddress(pc uint64, code int32) uint64 {
	if code == siKernel && (runtime.GOARCH == "amd64" || runtime.GOARCH == "386") && pc > 0 {
		return pc - 1
	}
	return pc
}
