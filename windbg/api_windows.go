package windbg

import (
	"golang.org/x/sys/windows"
)

var (
	modkernel32 = windows.NewLazySystemDLL("kernel32.dll")

	procWaitForDebugEvent     = modkernel32.NewProc("WaitForDebugEvent")
	procContinueDebugEvent    = modkernel32.NewProc("ContinueDebugEvent")
	procDebugActiveProcess    = modkernel32.NewProc("DebugActiveProcess")
	procGetThreadContext      = modkernel32.NewProc("GetThreadContext")
	procWow64GetThreadContext = modkernel32.NewProc("Wow64GetThreadContext")
)

const (
	debugProcess = 0x00000001

	dbgContinue             = 0x00010002
	dbgExceptionNotHandled  = 0x80010001
	infinite                = 0xFFFFFFFF
	exceptionMaximumParams  = 15
	fileNameNormalized      = 0x0
	volumeNameDOS           = 0x0
	maxPath                 = 32767
	exceptionDebugEvent     = 1
	createThreadDebugEvent  = 2
	createProcessDebugEvent = 3
	exitThreadDebugEvent    = 4
	exitProcessDebugEvent   = 5
	loadDLLDebugEvent       = 6
	unloadDLLDebugEvent     = 7
	outputDebugStringEvent  = 8
	ripEvent                = 9
)

// debugEvent mirrors DEBUG_EVENT. The union is decoded according to Code.
type debugEvent struct {
	Code uint32
	PID  uint32
	TID  uint32
	U    [20]uint64
}

type exceptionRecord struct {
	Code             uint32
	Flags            uint32
	Record           uintptr
	Address          uintptr
	NumberParameters uint32
	Information      [exceptionMaximumParams]uintptr
}

type exceptionDebugInfo struct {
	Record      exceptionRecord
	FirstChance uint32
}

type createThreadDebugInfo struct {
	Thread       windows.Handle
	ThreadLocal  uintptr
	StartAddress uintptr
}

type createProcessDebugInfo struct {
	File            windows.Handle
	Process         windows.Handle
	Thread          windows.Handle
	BaseOfImage     uintptr
	DebugInfoOffset uint32
	DebugInfoSize   uint32
	ThreadLocal     uintptr
	StartAddress    uintptr
	ImageName       uintptr
	Unicode         uint16
}

type exitDebugInfo struct {
	ExitCode uint32
}

type loadDLLDebugInfo struct {
	File            windows.Handle
	BaseOfDLL       uintptr
	DebugInfoOffset uint32
	DebugInfoSize   uint32
	ImageName       uintptr
	Unicode         uint16
}

type unloadDLLDebugInfo struct {
	BaseOfDLL uintptr
}

type outputDebugStringInfo struct {
	Data    uintptr
	Unicode uint16
	Length  uint16
}

type ripInfo struct {
	Error uint32
	Type  uint32
}
