package session

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"crashDbg/debugevent"
)

// FatalError aborts the whole session.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *FatalError) Unwrap() error { return e.Err }

// SymbolAdapter sequences symbol provider calls over a process's lifetime.
type SymbolAdapter struct {
	provider SymbolProvider
	control  ProcessControl
	log      logrus.FieldLogger
	debug    bool
}

func NewSymbolAdapter(provider SymbolProvider, control ProcessControl, log logrus.FieldLogger, debug bool) *SymbolAdapter {
	return &SymbolAdapter{provider: provider, control: control, log: log, debug: debug}
}

// Attach initializes a symbol context for p and loads its executable image.
// A process without symbols cannot be diagnosed, so failure is fatal.
func (a *SymbolAdapter) Attach(p *Process, image debugevent.FileHandle, name string) error {
	opts := SymbolOptions{
		Undecorate:   true,
		LoadLines:    true,
		NearestMatch: true,
		Debug:        a.debug,
		Include32Bit: p.Wow64,
	}

	ctx, err := a.provider.Initialize(p.Handle, opts)
	if err != nil {
		a.closeFile(image)
		return &FatalError{Op: "SymInitialize", Err: err}
	}
	p.Symbols = ctx

	a.provider.SetDiagnostics(ctx, func(line string) {
		a.log.WithField("pid", p.ID).Info(strings.TrimRight(line, "\r\n"))
	})

	a.LoadModule(p, image, p.ImageBase, name)
	return nil
}

// LoadModule registers a module and closes its file handle whatever the
// outcome.
func (a *SymbolAdapter) LoadModule(p *Process, file debugevent.FileHandle, base uint64, name string) {
	if err := a.provider.LoadModule(p.Symbols, file, base, name); err != nil {
		a.log.WithFields(logrus.Fields{"pid": p.ID, "base": fmt.Sprintf("0x%x", base)}).
			Warnf("SymLoadModule failed: %v", err)
	}
	a.closeFile(file)
}

func (a *SymbolAdapter) UnloadModule(p *Process, base uint64) {
	if err := a.provider.UnloadModule(p.Symbols, base); err != nil {
		a.log.WithFields(logrus.Fields{"pid": p.ID, "base": fmt.Sprintf("0x%x", base)}).
			Warnf("SymUnloadModule failed: %v", err)
	}
}

func (a *SymbolAdapter) Refresh(p *Process) {
	if err := a.provider.RefreshModules(p.Symbols); err != nil {
		a.log.WithField("pid", p.ID).Warnf("SymRefreshModuleList failed: %v", err)
	}
}

func (a *SymbolAdapter) Detach(p *Process) {
	if err := a.provider.Cleanup(p.Symbols); err != nil {
		a.log.WithField("pid", p.ID).Warnf("SymCleanup failed: %v", err)
	}
	p.Symbols = nil
}

func (a *SymbolAdapter) closeFile(f debugevent.FileHandle) {
	if f == 0 {
		return
	}
	if err := a.control.CloseFile(f); err != nil {
		a.log.Warnf("CloseHandle failed: %v", err)
	}
}
