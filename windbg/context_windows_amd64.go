package windbg

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"

	"crashDbg/debugevent"
	"crashDbg/unwind"
)

const (
	contextAMD64   = 0x00100000
	contextControl = contextAMD64 | 0x1
	contextInteger = contextAMD64 | 0x2
	contextSize    = 1232

	offContextFlags = 0x30
	offRsp          = 0x98
	offRbp          = 0xA0
	offRip          = 0xF8

	wow64ContextI386    = 0x00010000
	wow64ContextControl = wow64ContextI386 | 0x1
	wow64ContextInteger = wow64ContextI386 | 0x2
	wow64ContextSize    = 716

	offWow64Ebp = 180
	offWow64Eip = 184
	offWow64Esp = 196
)

// Registers implements diag.ThreadState. The thread is suspended by the
// pending debug event.
func (d *Debugger) Registers(process, thread debugevent.Handle) (unwind.Registers, error) {
	if d.wow64[process] {
		return d.wow64Registers(windows.Handle(thread))
	}

	// CONTEXT must be 16-byte aligned.
	raw := make([]byte, contextSize+16)
	off := (16 - int(uintptr(unsafe.Pointer(&raw[0]))&15)) & 15
	ctx := raw[off : off+contextSize]
	binary.LittleEndian.PutUint32(ctx[offContextFlags:], contextControl|contextInteger)

	r1, _, e := procGetThreadContext.Call(uintptr(thread), uintptr(unsafe.Pointer(&ctx[0])))
	if r1 == 0 {
		return unwind.Registers{}, fmt.Errorf("thread %#x: %w", thread, e)
	}
	return unwind.Registers{
		PC: binary.LittleEndian.Uint64(ctx[offRip:]),
		SP: binary.LittleEndian.Uint64(ctx[offRsp:]),
		FP: binary.LittleEndian.Uint64(ctx[offRbp:]),
	}, nil
}

func (d *Debugger) wow64Registers(thread windows.Handle) (unwind.Registers, error) {
	ctx := make([]byte, wow64ContextSize)
	binary.LittleEndian.PutUint32(ctx[0:], wow64ContextControl|wow64ContextInteger)

	r1, _, e := procWow64GetThreadContext.Call(uintptr(thread), uintptr(unsafe.Pointer(&ctx[0])))
	if r1 == 0 {
		return unwind.Registers{}, fmt.Errorf("thread %#x: %w", thread, e)
	}
	return unwind.Registers{
		PC:   uint64(binary.LittleEndian.Uint32(ctx[offWow64Eip:])),
		SP:   uint64(binary.LittleEndian.Uint32(ctx[offWow64Esp:])),
		FP:   uint64(binary.LittleEndian.Uint32(ctx[offWow64Ebp:])),
		Is32: true,
	}, nil
}
