package debugevent

import "fmt"

const (
	StatusWx86Breakpoint        uint32 = 0x4000001F
	StatusFatalAppExit          uint32 = 0x40000015
	StatusGuardPageViolation    uint32 = 0x80000001
	StatusDatatypeMisalignment  uint32 = 0x80000002
	StatusBreakpoint            uint32 = 0x80000003
	StatusSingleStep            uint32 = 0x80000004
	StatusAccessViolation       uint32 = 0xC0000005
	StatusInPageError           uint32 = 0xC0000006
	StatusIllegalInstruction    uint32 = 0xC000001D
	StatusArrayBoundsExceeded   uint32 = 0xC000008C
	StatusFloatDivideByZero     uint32 = 0xC000008E
	StatusIntegerDivideByZero   uint32 = 0xC0000094
	StatusIntegerOverflow       uint32 = 0xC0000095
	StatusPrivilegedInstruction uint32 = 0xC0000096
	StatusStackOverflow         uint32 = 0xC00000FD
	StatusStackBufferOverrun    uint32 = 0xC0000409
	StatusCppException          uint32 = 0xE06D7363
)

// Access kinds in the first parameter of an access violation record.
const (
	AccessRead    uint64 = 0
	AccessWrite   uint64 = 1
	AccessExecute uint64 = 8
	// AccessUnknown is reported by backends that cannot tell the kind.
	AccessUnknown uint64 = 0xff
)

// AbortExitCode is the exit status the C runtime's abort() uses.
const AbortExitCode uint32 = 3

var codeNames = map[uint32]string{
	StatusWx86Breakpoint:        "STATUS_WX86_BREAKPOINT",
	StatusFatalAppExit:          "STATUS_FATAL_APP_EXIT",
	StatusGuardPageViolation:    "EXCEPTION_GUARD_PAGE",
	StatusDatatypeMisalignment:  "EXCEPTION_DATATYPE_MISALIGNMENT",
	StatusBreakpoint:            "EXCEPTION_BREAKPOINT",
	StatusSingleStep:            "EXCEPTION_SINGLE_STEP",
	StatusAccessViolation:       "EXCEPTION_ACCESS_VIOLATION",
	StatusInPageError:           "EXCEPTION_IN_PAGE_ERROR",
	StatusIllegalInstruction:    "EXCEPTION_ILLEGAL_INSTRUCTION",
	StatusArrayBoundsExceeded:   "EXCEPTION_ARRAY_BOUNDS_EXCEEDED",
	StatusFloatDivideByZero:     "EXCEPTION_FLT_DIVIDE_BY_ZERO",
	StatusIntegerDivideByZero:   "EXCEPTION_INT_DIVIDE_BY_ZERO",
	StatusIntegerOverflow:       "EXCEPTION_INT_OVERFLOW",
	StatusPrivilegedInstruction: "EXCEPTION_PRIV_INSTRUCTION",
	StatusStackOverflow:         "EXCEPTION_STACK_OVERFLOW",
	StatusStackBufferOverrun:    "STATUS_STACK_BUFFER_OVERRUN",
	StatusCppException:          "C++ EXCEPTION",
}

// CodeName returns a readable name for an exception code.
func CodeName(code uint32) string {
	if name, ok := codeNames[code]; ok {
		return name
	}
	return fmt.Sprintf("0x%08x", code)
}

// IsBreakpoint reports whether code is either flavor of breakpoint.
func IsBreakpoint(code uint32) bool {
	return code == StatusBreakpoint || code == StatusWx86Breakpoint
}
