package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"crashDbg/debugevent"
)

func TestReadDebugString(t *testing.T) {
	mem := &fakeMemory{base: 0x1000, data: []byte("assertion failed\n")}

	require.Equal(t, "assertion failed\n", ReadDebugString(mem, 1, 0x1000, 17, false))
	require.Equal(t, "assert", ReadDebugString(mem, 1, 0x1000, 6, false))
	require.Equal(t, "", ReadDebugString(mem, 1, 0x1000, 0, false))
	require.Equal(t, "", ReadDebugString(mem, 1, 0x8000, 4, false))

	mem.short = 3
	require.Equal(t, "ass", ReadDebugString(mem, 1, 0x1000, 17, false))

	mem.err = errors.New("access denied")
	require.Equal(t, "", ReadDebugString(mem, 1, 0x1000, 17, false))
}

func TestReadDebugStringNeverExceedsLength(t *testing.T) {
	mem := overreadMemory{}
	require.Equal(t, "ab", ReadDebugString(mem, 1, 0, 2, false))
}

func TestReadDebugStringRejectsWide(t *testing.T) {
	require.Panics(t, func() {
		ReadDebugString(&fakeMemory{}, 1, 0, 4, true)
	})
}

// overreadMemory reports more bytes than it was asked for.
type overreadMemory struct{}

func (overreadMemory) ReadProcessMemory(_ debugevent.Handle, _ uint64, buf []byte) (int, error) {
	copy(buf, "abcdef")
	return len(buf) + 4, nil
}
