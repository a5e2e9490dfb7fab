package windbg

import (
	"unsafe"

	"golang.org/x/sys/windows"

	"crashDbg/debugevent"
)

func union[T any](ev *debugEvent) *T {
	return (*T)(unsafe.Pointer(&ev.U[0]))
}

// decode converts a raw debug event. name resolves the image file handle
// of process and module loads to a path.
func decode(ev *debugEvent, name func(windows.Handle) string) debugevent.Event {
	hdr := debugevent.Header{PID: ev.PID, TID: ev.TID}

	switch ev.Code {
	case exceptionDebugEvent:
		info := union[exceptionDebugInfo](ev)
		n := info.Record.NumberParameters
		if n > exceptionMaximumParams {
			n = exceptionMaximumParams
		}
		params := make([]uint64, n)
		for i := range params {
			params[i] = uint64(info.Record.Information[i])
		}
		return &debugevent.Exception{
			Header: hdr,
			Record: debugevent.ExceptionRecord{
				Code:    info.Record.Code,
				Flags:   info.Record.Flags,
				Address: uint64(info.Record.Address),
				Params:  params,
			},
			FirstChance: info.FirstChance != 0,
		}

	case createThreadDebugEvent:
		info := union[createThreadDebugInfo](ev)
		return &debugevent.CreateThread{
			Header:       hdr,
			Thread:       debugevent.Handle(info.Thread),
			StartAddress: uint64(info.StartAddress),
		}

	case createProcessDebugEvent:
		info := union[createProcessDebugInfo](ev)
		return &debugevent.CreateProcess{
			Header:    hdr,
			Process:   debugevent.Handle(info.Process),
			Thread:    debugevent.Handle(info.Thread),
			File:      debugevent.FileHandle(info.File),
			ImageBase: uint64(info.BaseOfImage),
			ImageName: name(info.File),
		}

	case exitThreadDebugEvent:
		return &debugevent.ExitThread{Header: hdr, ExitCode: union[exitDebugInfo](ev).ExitCode}

	case exitProcessDebugEvent:
		return &debugevent.ExitProcess{Header: hdr, ExitCode: union[exitDebugInfo](ev).ExitCode}

	case loadDLLDebugEvent:
		info := union[loadDLLDebugInfo](ev)
		return &debugevent.LoadModule{
			Header: hdr,
			File:   debugevent.FileHandle(info.File),
			Base:   uint64(info.BaseOfDLL),
			Name:   name(info.File),
		}

	case unloadDLLDebugEvent:
		return &debugevent.UnloadModule{Header: hdr, Base: uint64(union[unloadDLLDebugInfo](ev).BaseOfDLL)}

	case outputDebugStringEvent:
		info := union[outputDebugStringInfo](ev)
		return &debugevent.DebugString{
			Header:  hdr,
			Address: uint64(info.Data),
			Length:  uint32(info.Length),
			Unicode: info.Unicode != 0,
		}

	case ripEvent:
		info := union[ripInfo](ev)
		return &debugevent.RIP{Header: hdr, Error: info.Error, Type: info.Type}
	}

	return &debugevent.Unknown{Header: hdr, Code: ev.Code}
}

// finalPath resolves an open file handle to its path.
func finalPath(f windows.Handle) string {
	if f == 0 || f == windows.InvalidHandle {
		return ""
	}
	buf := make([]uint16, windows.MAX_PATH)
	for {
		n, err := windows.GetFinalPathNameByHandle(f, &buf[0], uint32(len(buf)), fileNameNormalized|volumeNameDOS)
		if err != nil {
			return ""
		}
		if int(n) < len(buf) {
			path := windows.UTF16ToString(buf[:n])
			if len(path) > 4 && path[:4] == `\\?\` {
				path = path[4:]
			}
			return path
		}
		if int(n) > maxPath {
			return ""
		}
		buf = make([]uint16, n+1)
	}
}
