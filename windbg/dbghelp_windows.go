//go:build windows && !386

// DWORD64 arguments are passed in one register, so dbghelp is only
// called from 64-bit builds.

package windbg

import (
	"errors"
	"path/filepath"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"

	"crashDbg/debugevent"
	"crashDbg/session"
	"crashDbg/unwind"
)

var (
	moddbghelp = windows.NewLazySystemDLL("dbghelp.dll")

	procSymGetOptions          = moddbghelp.NewProc("SymGetOptions")
	procSymSetOptions          = moddbghelp.NewProc("SymSetOptions")
	procSymInitializeW         = moddbghelp.NewProc("SymInitializeW")
	procSymRegisterCallbackW64 = moddbghelp.NewProc("SymRegisterCallbackW64")
	procSymLoadModuleExW       = moddbghelp.NewProc("SymLoadModuleExW")
	procSymUnloadModule64      = moddbghelp.NewProc("SymUnloadModule64")
	procSymRefreshModuleList   = moddbghelp.NewProc("SymRefreshModuleList")
	procSymCleanup             = moddbghelp.NewProc("SymCleanup")
	procSymFromAddr            = moddbghelp.NewProc("SymFromAddr")
	procSymGetLineFromAddr64   = moddbghelp.NewProc("SymGetLineFromAddr64")
)

const (
	symoptUndname             = 0x00000002
	symoptLoadLines           = 0x00000010
	symoptOmapFindNearest     = 0x00000020
	symoptInclude32BitModules = 0x00002000
	symoptDebug               = 0x80000000

	cbaDebugInfo = 0x10000000

	maxSymName       = 1024
	symbolInfoSize   = 88
	symbolNameOffset = 84
)

// The name must start where dbghelp writes it.
var _ [unsafe.Offsetof(symbolInfo{}.Name) - symbolNameOffset]struct{} = [0]struct{}{}

// symbolInfo mirrors SYMBOL_INFO.
type symbolInfo struct {
	SizeOfStruct uint32
	TypeIndex    uint32
	Reserved     [2]uint64
	Index        uint32
	Size         uint32
	ModBase      uint64
	Flags        uint32
	_            uint32
	Value        uint64
	Address      uint64
	Register     uint32
	Scope        uint32
	Tag          uint32
	NameLen      uint32
	MaxNameLen   uint32
	Name         [maxSymName]byte
}

type imagehlpLine64 struct {
	SizeOfStruct uint32
	Key          uintptr
	LineNumber   uint32
	FileName     *byte
	Address      uint64
}

// symContext is the dbghelp session of one process.
type symContext struct {
	process windows.Handle
	lines   bool
	modules map[uint64]string
}

// Provider implements session.SymbolProvider and diag.Resolver with
// dbghelp. dbghelp is single threaded; the provider serializes its calls.
type Provider struct {
	mu       sync.Mutex
	contexts map[debugevent.Handle]*symContext
}

func NewProvider() *Provider {
	return &Provider{contexts: make(map[debugevent.Handle]*symContext)}
}

var (
	callbackOnce sync.Once
	callbackPtr  uintptr
	diagMu       sync.Mutex
	diagnostics  = map[windows.Handle]func(string){}
)

func symbolCallback(process, action uintptr, data *uint16, _ uintptr) uintptr {
	if action != cbaDebugInfo || data == nil {
		return 0
	}
	diagMu.Lock()
	fn := diagnostics[windows.Handle(process)]
	diagMu.Unlock()
	if fn == nil {
		return 0
	}
	fn(windows.UTF16PtrToString(data))
	return 1
}

func (p *Provider) context(ctx session.SymbolContext) (*symContext, error) {
	c, ok := ctx.(*symContext)
	if !ok || c == nil {
		return nil, errors.New("invalid symbol context")
	}
	return c, nil
}

func (p *Provider) Initialize(process debugevent.Handle, opts session.SymbolOptions) (session.SymbolContext, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	flags := uintptr(0)
	if opts.Undecorate {
		flags |= symoptUndname
	}
	if opts.LoadLines {
		flags |= symoptLoadLines
	}
	if opts.NearestMatch {
		flags |= symoptOmapFindNearest
	}
	if opts.Debug {
		flags |= symoptDebug
	}
	if opts.Include32Bit {
		flags |= symoptInclude32BitModules
	}
	current, _, _ := procSymGetOptions.Call()
	procSymSetOptions.Call(current | flags)

	h := windows.Handle(process)
	r1, _, e := procSymInitializeW.Call(uintptr(h), 0, 0)
	if r1 == 0 {
		return nil, e
	}

	c := &symContext{process: h, lines: opts.LoadLines, modules: make(map[uint64]string)}
	p.contexts[process] = c
	return c, nil
}

func (p *Provider) SetDiagnostics(ctx session.SymbolContext, fn func(string)) {
	c, err := p.context(ctx)
	if err != nil {
		return
	}
	callbackOnce.Do(func() {
		callbackPtr = windows.NewCallback(symbolCallback)
	})

	diagMu.Lock()
	diagnostics[c.process] = fn
	diagMu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	procSymRegisterCallbackW64.Call(uintptr(c.process), callbackPtr, 0)
}

func (p *Provider) LoadModule(ctx session.SymbolContext, file debugevent.FileHandle, base uint64, name string) error {
	c, err := p.context(ctx)
	if err != nil {
		return err
	}
	var image *uint16
	if name != "" {
		if image, err = windows.UTF16PtrFromString(name); err != nil {
			return err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	r1, _, e := procSymLoadModuleExW.Call(uintptr(c.process), uintptr(file), uintptr(unsafe.Pointer(image)), 0, uintptr(base), 0, 0, 0)
	// A zero result with no error means the module was already loaded.
	if r1 == 0 && e != windows.ERROR_SUCCESS {
		return e
	}
	c.modules[base] = name
	return nil
}

func (p *Provider) RefreshModules(ctx session.SymbolContext) error {
	c, err := p.context(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	r1, _, e := procSymRefreshModuleList.Call(uintptr(c.process))
	if r1 == 0 {
		return e
	}
	return nil
}

func (p *Provider) UnloadModule(ctx session.SymbolContext, base uint64) error {
	c, err := p.context(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(c.modules, base)
	r1, _, e := procSymUnloadModule64.Call(uintptr(c.process), uintptr(base))
	if r1 == 0 {
		return e
	}
	return nil
}

func (p *Provider) Cleanup(ctx session.SymbolContext) error {
	c, err := p.context(ctx)
	if err != nil {
		return err
	}
	diagMu.Lock()
	delete(diagnostics, c.process)
	diagMu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.contexts, debugevent.Handle(c.process))
	r1, _, e := procSymCleanup.Call(uintptr(c.process))
	if r1 == 0 {
		return e
	}
	return nil
}

// Resolve implements diag.Resolver.
func (p *Provider) Resolve(process debugevent.Handle, addr uint64) (unwind.Symbol, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.contexts[process]
	if !ok {
		return unwind.Symbol{}, false
	}

	info := &symbolInfo{SizeOfStruct: symbolInfoSize, MaxNameLen: maxSymName - 1}
	var displacement uint64
	r1, _, _ := procSymFromAddr.Call(uintptr(c.process), uintptr(addr), uintptr(unsafe.Pointer(&displacement)), uintptr(unsafe.Pointer(info)))
	if r1 == 0 {
		return unwind.Symbol{}, false
	}

	n := info.NameLen
	if n > maxSymName-1 {
		n = maxSymName - 1
	}
	sym := unwind.Symbol{
		Name:   string(info.Name[:n]),
		Module: filepath.Base(c.modules[info.ModBase]),
		Offset: displacement,
	}
	if sym.Module == "." {
		sym.Module = ""
	}

	if c.lines {
		line := &imagehlpLine64{}
		line.SizeOfStruct = uint32(unsafe.Sizeof(*line))
		var lineDisp uint32
		r1, _, _ := procSymGetLineFromAddr64.Call(uintptr(c.process), uintptr(addr), uintptr(unsafe.Pointer(&lineDisp)), uintptr(unsafe.Pointer(line)))
		if r1 != 0 && line.FileName != nil {
			sym.File = windows.BytePtrToString(line.FileName)
			sym.Line = int(line.LineNumber)
		}
	}
	return sym, true
}
