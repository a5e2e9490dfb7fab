package windbg

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/windows"

	"crashDbg/debugevent"
)

func noName(windows.Handle) string { return "" }

func TestDecodeException(t *testing.T) {
	ev := &debugEvent{Code: exceptionDebugEvent, PID: 10, TID: 11}
	info := union[exceptionDebugInfo](ev)
	info.Record.Code = debugevent.StatusAccessViolation
	info.Record.Address = 0x401000
	info.Record.NumberParameters = 2
	info.Record.Information[0] = 1
	info.Record.Information[1] = 0x20
	info.FirstChance = 1

	got := decode(ev, noName).(*debugevent.Exception)
	require.Equal(t, &debugevent.Exception{
		Header: debugevent.Header{PID: 10, TID: 11},
		Record: debugevent.ExceptionRecord{
			Code:    debugevent.StatusAccessViolation,
			Address: 0x401000,
			Params:  []uint64{1, 0x20},
		},
		FirstChance: true,
	}, got)
}

func TestDecodeCreateProcess(t *testing.T) {
	ev := &debugEvent{Code: createProcessDebugEvent, PID: 10, TID: 11}
	info := union[createProcessDebugInfo](ev)
	info.File = 0x44
	info.Process = 0x48
	info.Thread = 0x4c
	info.BaseOfImage = 0x140000000

	got := decode(ev, func(h windows.Handle) string {
		require.Equal(t, windows.Handle(0x44), h)
		return `C:\app\crash.exe`
	}).(*debugevent.CreateProcess)
	require.Equal(t, debugevent.Handle(0x48), got.Process)
	require.Equal(t, debugevent.Handle(0x4c), got.Thread)
	require.Equal(t, debugevent.FileHandle(0x44), got.File)
	require.Equal(t, uint64(0x140000000), got.ImageBase)
	require.Equal(t, `C:\app\crash.exe`, got.ImageName)
}

func TestDecodeDebugString(t *testing.T) {
	ev := &debugEvent{Code: outputDebugStringEvent, PID: 1, TID: 2}
	info := union[outputDebugStringInfo](ev)
	info.Data = 0x7000
	info.Length = 12
	info.Unicode = 1

	require.Equal(t, &debugevent.DebugString{
		Header:  debugevent.Header{PID: 1, TID: 2},
		Address: 0x7000,
		Length:  12,
		Unicode: true,
	}, decode(ev, noName))
}

func TestDecodeExitsAndModules(t *testing.T) {
	ev := &debugEvent{Code: exitProcessDebugEvent, PID: 1, TID: 2}
	union[exitDebugInfo](ev).ExitCode = 3
	require.Equal(t, &debugevent.ExitProcess{Header: debugevent.Header{PID: 1, TID: 2}, ExitCode: 3}, decode(ev, noName))

	ev = &debugEvent{Code: unloadDLLDebugEvent, PID: 1, TID: 2}
	union[unloadDLLDebugInfo](ev).BaseOfDLL = 0x7ff800000000
	require.Equal(t, &debugevent.UnloadModule{Header: debugevent.Header{PID: 1, TID: 2}, Base: 0x7ff800000000}, decode(ev, noName))
}

func TestDecodeUnknown(t *testing.T) {
	ev := &debugEvent{Code: 42, PID: 1, TID: 2}
	require.Equal(t, &debugevent.Unknown{Header: debugevent.Header{PID: 1, TID: 2}, Code: 42}, decode(ev, noName))
}
