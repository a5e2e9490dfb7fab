package session

import (
	"crashDbg/debugevent"
)

// SymbolContext is a symbol provider's per-process state. The session
// never looks inside it.
type SymbolContext any

type SymbolOptions struct {
	Undecorate   bool
	LoadLines    bool
	NearestMatch bool
	Debug        bool
	Include32Bit bool
}

// SymbolProvider resolves addresses for the processes of a session.
type SymbolProvider interface {
	Initialize(process debugevent.Handle, opts SymbolOptions) (SymbolContext, error)
	SetDiagnostics(ctx SymbolContext, fn func(line string))
	LoadModule(ctx SymbolContext, file debugevent.FileHandle, base uint64, name string) error
	RefreshModules(ctx SymbolContext) error
	UnloadModule(ctx SymbolContext, base uint64) error
	Cleanup(ctx SymbolContext) error
}

// Dumper writes diagnostics for a crashing process to the output sink.
type Dumper interface {
	DumpException(process debugevent.Handle, rec *debugevent.ExceptionRecord)
	DumpStack(process, thread debugevent.Handle)
}

type MemoryReader interface {
	ReadProcessMemory(process debugevent.Handle, addr uint64, buf []byte) (int, error)
}

type ProcessControl interface {
	Terminate(process debugevent.Handle, exitCode uint32) error
	CloseFile(f debugevent.FileHandle) error
}

// Signaler is a one-shot synchronization object owned by the session once
// handed in.
type Signaler interface {
	Signal() error
	Close() error
}

// Backend groups the platform collaborators a Session drives.
type Backend struct {
	Symbols SymbolProvider
	Dumper  Dumper
	Memory  MemoryReader
	Control ProcessControl
}
