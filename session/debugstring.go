package session

import (
	"crashDbg/debugevent"
)

// ReadDebugString copies length bytes at addr out of process. A short read
// yields the bytes obtained and a failed read yields "". Wide strings are
// not supported and callers must filter them out.
func ReadDebugString(mem MemoryReader, process debugevent.Handle, addr uint64, length uint32, unicode bool) string {
	if unicode {
		panic("session: wide debug strings are not supported")
	}

	buf := make([]byte, int(length)+1)
	n, err := mem.ReadProcessMemory(process, addr, buf[:length])
	if err != nil || n < 0 {
		n = 0
	}
	if n > int(length) {
		n = int(length)
	}
	buf[n] = 0
	return string(buf[:n])
}
