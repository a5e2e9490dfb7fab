// Package elfsym resolves addresses in a traced process against the ELF
// symbol tables of its mapped images.
package elfsym

import (
	"debug/elf"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"crashDbg/debugevent"
	"crashDbg/session"
	"crashDbg/unwind"
)

type Symbol struct {
	Name string
	Addr uint64
	Size uint64
	Type elf.SymType
}

// Module is one loaded image. Symbol addresses are link-time addresses;
// Bias converts them to runtime addresses.
type Module struct {
	Path    string
	Base    uint64
	End     uint64
	Bias    uint64
	symbols []Symbol
}

func (m *Module) Len() int { return len(m.symbols) }

// Lookup finds the symbol covering the runtime address addr, or the
// nearest preceding one when nearest is set.
func (m *Module) Lookup(addr uint64, nearest bool) (Symbol, uint64, bool) {
	rel := addr - m.Bias
	i := sort.Search(len(m.symbols), func(i int) bool { return m.symbols[i].Addr > rel })
	for i--; i >= 0; i-- {
		sym := m.symbols[i]
		off := rel - sym.Addr
		if sym.Size == 0 || off < sym.Size {
			return sym, off, true
		}
		if nearest {
			return sym, off, true
		}
		if sym.Type == elf.STT_FUNC {
			break
		}
	}
	return Symbol{}, 0, false
}

// Table holds the modules of one process.
type Table struct {
	pid     int
	opts    session.SymbolOptions
	modules []*Module
	diag    func(string)
}

func (t *Table) debugf(format string, a ...interface{}) {
	if t.opts.Debug && t.diag != nil {
		t.diag(fmt.Sprintf(format, a...))
	}
}

func (t *Table) module(addr uint64) *Module {
	i := sort.Search(len(t.modules), func(i int) bool { return t.modules[i].End > addr })
	if i < len(t.modules) && addr >= t.modules[i].Base {
		return t.modules[i]
	}
	return nil
}

func (t *Table) insert(m *Module) {
	t.remove(m.Base)
	t.modules = append(t.modules, m)
	sort.Slice(t.modules, func(i, j int) bool { return t.modules[i].Base < t.modules[j].Base })
}

func (t *Table) remove(base uint64) bool {
	for i, m := range t.modules {
		if m.Base == base {
			t.modules = append(t.modules[:i], t.modules[i+1:]...)
			return true
		}
	}
	return false
}

// ModuleInfo names an image mapped into a process.
type ModuleInfo struct {
	Path string
	Base uint64
	End  uint64
}

// Provider implements session.SymbolProvider and diag.Resolver over ELF
// files read from disk. Process handles are process ids.
type Provider struct {
	// Modules lists the images currently mapped into a process.
	Modules func(pid int) ([]ModuleInfo, error)

	mu     sync.Mutex
	tables map[debugevent.Handle]*Table
}

func NewProvider(modules func(pid int) ([]ModuleInfo, error)) *Provider {
	return &Provider{Modules: modules, tables: make(map[debugevent.Handle]*Table)}
}

func (p *Provider) table(ctx session.SymbolContext) (*Table, error) {
	t, ok := ctx.(*Table)
	if !ok || t == nil {
		return nil, errors.New("invalid symbol context")
	}
	return t, nil
}

func (p *Provider) Initialize(process debugevent.Handle, opts session.SymbolOptions) (session.SymbolContext, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.tables[process]; ok {
		return nil, fmt.Errorf("process %d already initialized", process)
	}
	t := &Table{pid: int(process), opts: opts}
	p.tables[process] = t
	return t, nil
}

func (p *Provider) SetDiagnostics(ctx session.SymbolContext, fn func(string)) {
	if t, err := p.table(ctx); err == nil {
		t.diag = fn
	}
}

// LoadModule ignores file: images are opened by path.
func (p *Provider) LoadModule(ctx session.SymbolContext, _ debugevent.FileHandle, base uint64, name string) error {
	t, err := p.table(ctx)
	if err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("module at 0x%x has no path", base)
	}
	m, err := LoadModule(name, base)
	if err != nil {
		return err
	}
	t.insert(m)
	t.debugf("loaded %d symbols from %s at 0x%x", m.Len(), name, base)
	return nil
}

// RefreshModules syncs the table with the images currently mapped: images
// that went away (dlclose, execve) are dropped and new ones are loaded.
func (p *Provider) RefreshModules(ctx session.SymbolContext) error {
	t, err := p.table(ctx)
	if err != nil {
		return err
	}
	if p.Modules == nil {
		return nil
	}
	infos, err := p.Modules(t.pid)
	if err != nil {
		return err
	}

	mapped := make(map[uint64]string, len(infos))
	for _, info := range infos {
		mapped[info.Base] = info.Path
	}
	for _, m := range append([]*Module(nil), t.modules...) {
		if path, ok := mapped[m.Base]; !ok || path != m.Path {
			t.remove(m.Base)
			t.debugf("dropped %s at 0x%x", m.Path, m.Base)
		}
	}

	for _, info := range infos {
		if m := t.module(info.Base); m != nil && m.Base == info.Base {
			continue
		}
		m, err := LoadModule(info.Path, info.Base)
		if err != nil {
			t.debugf("skipping %s: %v", info.Path, err)
			continue
		}
		if info.End > m.End {
			m.End = info.End
		}
		t.insert(m)
		t.debugf("loaded %d symbols from %s at 0x%x", m.Len(), info.Path, info.Base)
	}
	return nil
}

func (p *Provider) UnloadModule(ctx session.SymbolContext, base uint64) error {
	t, err := p.table(ctx)
	if err != nil {
		return err
	}
	if !t.remove(base) {
		return fmt.Errorf("no module at 0x%x", base)
	}
	return nil
}

func (p *Provider) Cleanup(ctx session.SymbolContext) error {
	t, err := p.table(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tables, debugevent.Handle(t.pid))
	return nil
}

// Resolve implements diag.Resolver.
func (p *Provider) Resolve(process debugevent.Handle, addr uint64) (unwind.Symbol, bool) {
	p.mu.Lock()
	t, ok := p.tables[process]
	p.mu.Unlock()
	if !ok {
		return unwind.Symbol{}, false
	}
	m := t.module(addr)
	if m == nil {
		return unwind.Symbol{}, false
	}
	sym, off, ok := m.Lookup(addr, t.opts.NearestMatch)
	if !ok {
		return unwind.Symbol{Module: filepath.Base(m.Path), Offset: addr - m.Base}, true
	}
	return unwind.Symbol{Name: sym.Name, Module: filepath.Base(m.Path), Offset: off}, true
}

// LoadModule reads the symbol tables of the ELF image at path mapped at
// base.
func LoadModule(path string, base uint64) (*Module, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m := &Module{Path: path, Base: base}

	var lo, hi uint64
	first := true
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if first || prog.Vaddr < lo {
			lo = prog.Vaddr
		}
		if end := prog.Vaddr + prog.Memsz; end > hi {
			hi = end
		}
		first = false
	}
	lo &^= 0xfff

	if f.Type == elf.ET_DYN {
		m.Bias = base - lo
	}
	m.End = m.Bias + hi
	if m.End <= base {
		m.End = base + 1
	}

	seen := map[uint64]bool{}
	for _, load := range []func() ([]elf.Symbol, error){f.Symbols, f.DynamicSymbols} {
		syms, err := load()
		if err != nil {
			continue
		}
		for _, s := range syms {
			typ := elf.ST_TYPE(s.Info)
			if s.Name == "" || s.Value == 0 || (typ != elf.STT_FUNC && typ != elf.STT_OBJECT && typ != elf.STT_NOTYPE) {
				continue
			}
			if seen[s.Value] {
				continue
			}
			seen[s.Value] = true
			m.symbols = append(m.symbols, Symbol{Name: undecorate(s.Name), Addr: s.Value, Size: s.Size, Type: typ})
		}
	}
	sortSymbols(m.symbols)
	return m, nil
}

func sortSymbols(syms []Symbol) {
	sort.Slice(syms, func(i, j int) bool { return syms[i].Addr < syms[j].Addr })
}

// undecorate strips symbol versioning suffixes such as "@@GLIBC_2.2.5".
func undecorate(name string) string {
	if i := strings.IndexByte(name, '@'); i > 0 {
		return name[:i]
	}
	return name
}
