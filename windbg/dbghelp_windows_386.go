package windbg

import (
	"errors"
	"path/filepath"
	"sort"
	"sync"

	"crashDbg/debugevent"
	"crashDbg/session"
	"crashDbg/unwind"
)

// Provider resolves addresses to module+offset on 32-bit builds, where
// dbghelp is not called.
type Provider struct {
	mu       sync.Mutex
	contexts map[debugevent.Handle]*moduleList
}

type moduleList struct {
	process debugevent.Handle
	bases   []uint64
	names   map[uint64]string
}

func NewProvider() *Provider {
	return &Provider{contexts: make(map[debugevent.Handle]*moduleList)}
}

func (p *Provider) list(ctx session.SymbolContext) (*moduleList, error) {
	l, ok := ctx.(*moduleList)
	if !ok || l == nil {
		return nil, errors.New("invalid symbol context")
	}
	return l, nil
}

func (p *Provider) Initialize(process debugevent.Handle, _ session.SymbolOptions) (session.SymbolContext, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l := &moduleList{process: process, names: make(map[uint64]string)}
	p.contexts[process] = l
	return l, nil
}

func (p *Provider) SetDiagnostics(session.SymbolContext, func(string)) {}

func (p *Provider) LoadModule(ctx session.SymbolContext, _ debugevent.FileHandle, base uint64, name string) error {
	l, err := p.list(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := l.names[base]; !ok {
		l.bases = append(l.bases, base)
		sort.Slice(l.bases, func(i, j int) bool { return l.bases[i] < l.bases[j] })
	}
	l.names[base] = name
	return nil
}

func (p *Provider) RefreshModules(ctx session.SymbolContext) error {
	_, err := p.list(ctx)
	return err
}

func (p *Provider) UnloadModule(ctx session.SymbolContext, base uint64) error {
	l, err := p.list(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(l.names, base)
	for i, b := range l.bases {
		if b == base {
			l.bases = append(l.bases[:i], l.bases[i+1:]...)
			break
		}
	}
	return nil
}

func (p *Provider) Cleanup(ctx session.SymbolContext) error {
	l, err := p.list(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.contexts, l.process)
	return nil
}

// Resolve implements diag.Resolver with the closest module below addr.
func (p *Provider) Resolve(process debugevent.Handle, addr uint64) (unwind.Symbol, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.contexts[process]
	if !ok {
		return unwind.Symbol{}, false
	}
	i := sort.Search(len(l.bases), func(i int) bool { return l.bases[i] > addr })
	if i == 0 {
		return unwind.Symbol{}, false
	}
	base := l.bases[i-1]
	return unwind.Symbol{Module: filepath.Base(l.names[base]), Offset: addr - base}, true
}
