// Package debugevent models the notifications an OS debug subsystem
// delivers to an attached debugger.
package debugevent

import "fmt"

// Handle is a process or thread handle owned by the OS debug subsystem.
// Holders never release it.
type Handle uint64

// FileHandle is an image file handle carried by process-create and
// module-load notifications. Unlike Handle the receiver must close it.
type FileHandle uint64

type Disposition int

const (
	// ContinueUnhandled lets the target's default exception handling run.
	ContinueUnhandled Disposition = iota
	// ContinueHandled resumes the thread as if the exception never happened.
	ContinueHandled
)

func (d Disposition) String() string {
	if d == ContinueHandled {
		return "handled"
	}
	return "unhandled"
}

type Kind int

const (
	KindException Kind = iota + 1
	KindCreateThread
	KindCreateProcess
	KindExitThread
	KindExitProcess
	KindLoadModule
	KindUnloadModule
	KindDebugString
	KindRIP
	KindUnknown
)

var kindNames = map[Kind]string{
	KindException:     "EXCEPTION",
	KindCreateThread:  "CREATE_THREAD",
	KindCreateProcess: "CREATE_PROCESS",
	KindExitThread:    "EXIT_THREAD",
	KindExitProcess:   "EXIT_PROCESS",
	KindLoadModule:    "LOAD_DLL",
	KindUnloadModule:  "UNLOAD_DLL",
	KindDebugString:   "OUTPUT_DEBUG_STRING",
	KindRIP:           "RIP",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("EVENT%d", int(k))
}

// Header identifies the process and thread that reported a notification.
type Header struct {
	PID uint32 `cbor:"1,keyasint"`
	TID uint32 `cbor:"2,keyasint"`
}

func (h Header) header() Header { return h }

// Event is one notification. The set of implementations is closed: every
// variant lives in this package.
type Event interface {
	Kind() Kind
	header() Header
}

// IDs returns the reporting process and thread identifiers of ev.
func IDs(ev Event) (pid, tid uint32) {
	h := ev.header()
	return h.PID, h.TID
}

type ExceptionRecord struct {
	Code    uint32   `cbor:"1,keyasint"`
	Flags   uint32   `cbor:"2,keyasint"`
	Address uint64   `cbor:"3,keyasint"`
	Params  []uint64 `cbor:"4,keyasint,omitempty"`
}

type Exception struct {
	Header
	Record      ExceptionRecord `cbor:"3,keyasint"`
	FirstChance bool            `cbor:"4,keyasint"`
}

type CreateProcess struct {
	Header
	Process   Handle     `cbor:"3,keyasint"`
	Thread    Handle     `cbor:"4,keyasint"`
	File      FileHandle `cbor:"5,keyasint"`
	ImageBase uint64     `cbor:"6,keyasint"`
	ImageName string     `cbor:"7,keyasint,omitempty"`
	// Wow64 is set when a 32-bit process runs under a 64-bit host.
	Wow64 bool `cbor:"8,keyasint,omitempty"`
}

type CreateThread struct {
	Header
	Thread       Handle `cbor:"3,keyasint"`
	StartAddress uint64 `cbor:"4,keyasint"`
}

type ExitThread struct {
	Header
	ExitCode uint32 `cbor:"3,keyasint"`
}

type ExitProcess struct {
	Header
	ExitCode uint32 `cbor:"3,keyasint"`
}

type LoadModule struct {
	Header
	File FileHandle `cbor:"3,keyasint"`
	Base uint64     `cbor:"4,keyasint"`
	Name string     `cbor:"5,keyasint,omitempty"`
}

type UnloadModule struct {
	Header
	Base uint64 `cbor:"3,keyasint"`
}

// DebugString points at a string the target wrote for its debugger. The
// bytes live in the target's address space.
type DebugString struct {
	Header
	Address uint64 `cbor:"3,keyasint"`
	Length  uint32 `cbor:"4,keyasint"`
	Unicode bool   `cbor:"5,keyasint,omitempty"`
}

type RIP struct {
	Header
	Error uint32 `cbor:"3,keyasint"`
	Type  uint32 `cbor:"4,keyasint"`
}

// Unknown carries a notification code this package does not recognize.
type Unknown struct {
	Header
	Code uint32 `cbor:"3,keyasint"`
}

func (*Exception) Kind() Kind     { return KindException }
func (*CreateProcess) Kind() Kind { return KindCreateProcess }
func (*CreateThread) Kind() Kind  { return KindCreateThread }
func (*ExitThread) Kind() Kind    { return KindExitThread }
func (*ExitProcess) Kind() Kind   { return KindExitProcess }
func (*LoadModule) Kind() Kind    { return KindLoadModule }
func (*UnloadModule) Kind() Kind  { return KindUnloadModule }
func (*DebugString) Kind() Kind   { return KindDebugString }
func (*RIP) Kind() Kind           { return KindRIP }
func (*Unknown) Kind() Kind       { return KindUnknown }

// Source is the OS debug-event stream.
type Source interface {
	// Wait blocks without timeout until the next notification arrives.
	Wait() (Event, error)
	// Continue resumes the thread that reported the last notification.
	Continue(pid, tid uint32, d Disposition) error
}

func newEvent(k Kind) (Event, error) {
	switch k {
	case KindException:
		return &Exception{}, nil
	case KindCreateProcess:
		return &CreateProcess{}, nil
	case KindCreateThread:
		return &CreateThread{}, nil
	case KindExitThread:
		return &ExitThread{}, nil
	case KindExitProcess:
		return &ExitProcess{}, nil
	case KindLoadModule:
		return &LoadModule{}, nil
	case KindUnloadModule:
		return &UnloadModule{}, nil
	case KindDebugString:
		return &DebugString{}, nil
	case KindRIP:
		return &RIP{}, nil
	case KindUnknown:
		return &Unknown{}, nil
	}
	return nil, fmt.Errorf("unknown event kind %d", int(k))
}
