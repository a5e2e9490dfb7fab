// Package unwind walks a thread's call stack by following saved frame
// pointers.
package unwind

import (
	"encoding/binary"
	"fmt"
)

// Registers is the slice of thread state a frame-pointer walk needs.
type Registers struct {
	PC, SP, FP uint64
	// Is32 selects 4-byte stack slots.
	Is32 bool
}

type Memory interface {
	ReadMemory(addr uint64, buf []byte) (int, error)
}

type Frame struct {
	PC uint64
	FP uint64
}

// Symbol is an address resolved against a module's symbol table.
type Symbol struct {
	Name   string
	Module string
	Offset uint64
	File   string
	Line   int
}

func (s Symbol) String() string {
	name := s.Name
	if s.Module != "" {
		name = s.Module + "!" + name
	}
	if s.Offset != 0 {
		name = fmt.Sprintf("%s+0x%x", name, s.Offset)
	}
	if s.File != "" {
		name = fmt.Sprintf("%s  [%s @ %d]", name, s.File, s.Line)
	}
	return name
}

// Walk returns at most max frames starting at regs.PC. The walk stops at a
// null or misaligned frame pointer, an unreadable slot, or a frame pointer
// that does not move towards the stack base.
func Walk(mem Memory, regs Registers, max int) []Frame {
	if max <= 0 {
		return nil
	}
	slot := uint64(8)
	if regs.Is32 {
		slot = 4
	}

	frames := []Frame{{PC: regs.PC, FP: regs.FP}}
	fp := regs.FP
	visited := map[uint64]bool{fp: true}

	for len(frames) < max {
		if fp == 0 || fp%slot != 0 {
			break
		}

		savedPC, ok := readSlot(mem, fp+slot, slot)
		if !ok || savedPC == 0 {
			break
		}
		prevFP, ok := readSlot(mem, fp, slot)
		if !ok {
			break
		}

		frames = append(frames, Frame{PC: savedPC, FP: prevFP})

		if visited[prevFP] || prevFP <= fp {
			break
		}
		visited[prevFP] = true
		fp = prevFP
	}

	return frames
}

func readSlot(mem Memory, addr, size uint64) (uint64, bool) {
	buf := make([]byte, size)
	n, err := mem.ReadMemory(addr, buf)
	if err != nil || uint64(n) < size {
		return 0, false
	}
	if size == 4 {
		return uint64(binary.LittleEndian.Uint32(buf)), true
	}
	return binary.LittleEndian.Uint64(buf), true
}
