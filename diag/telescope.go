package diag

import (
	"encoding/binary"
	"fmt"
	"strings"

	"crashDbg/debugevent"
	"crashDbg/termlog"
	"crashDbg/unwind"
)

// telescope prints the words at the top of the stack and follows each
// value one level: code addresses get their symbol, pointers to text get
// the text, other pointers get the word they point at.
func (d *Dumper) telescope(process debugevent.Handle, regs unwind.Registers) {
	size := 8
	if regs.Is32 {
		size = 4
	}
	buf := make([]byte, d.StackWords*size)
	n, err := d.Memory.ReadProcessMemory(process, regs.SP, buf)
	if err != nil || n < size {
		return
	}

	d.Out.Line("stack")
	for off := 0; off+size <= n; off += size {
		v := word(buf[off:], size)
		fmt.Fprintf(d.Out, "%s:+0x%03x|0x%016x%s\n",
			d.Out.Colorize(termlog.ColorBlue, fmt.Sprintf("0x%016x", regs.SP+uint64(off))),
			off, v, d.follow(process, v, size))
	}
}

func (d *Dumper) follow(process debugevent.Handle, v uint64, size int) string {
	if sym, ok := d.Symbols.Resolve(process, v); ok && sym.Name != "" {
		if sym.Offset == 0 {
			return d.Out.Colorize(termlog.ColorPurple, fmt.Sprintf(" <%s>", sym.Name))
		}
		return d.Out.Colorize(termlog.ColorPurple, fmt.Sprintf(" <%s+0x%x>", sym.Name, sym.Offset))
	}

	data := make([]byte, size)
	if n, err := d.Memory.ReadProcessMemory(process, v, data); err != nil || n != size {
		return ""
	}
	if printable(data) {
		return fmt.Sprintf(" -> %s", d.Out.Colorize(termlog.ColorGreen, fmt.Sprintf("%q", strings.ReplaceAll(string(data), "\x00", ""))))
	}
	return fmt.Sprintf(" -> 0x%016x", word(data, size))
}

func word(b []byte, size int) uint64 {
	if size == 4 {
		return uint64(binary.LittleEndian.Uint32(b))
	}
	return binary.LittleEndian.Uint64(b)
}

// printable reports whether b holds text: at least one byte, and only
// printable ASCII besides NULs.
func printable(b []byte) bool {
	nonZero := false
	for _, c := range b {
		if c == 0 {
			continue
		}
		nonZero = true
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return nonZero
}
