// Package session drives a debug session: it receives OS debug
// notifications, keeps the registry of attached processes and threads, and
// decides for every exception whether to continue, capture diagnostics, or
// terminate the target.
package session

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"crashDbg/debugevent"
)

type Options struct {
	TraceEvents             bool
	ReportFirstChance       bool
	CaptureAttachBreakpoint bool
	DumpAllThreads          bool
	// VerboseSymbols turns on the symbol provider's own diagnostics.
	VerboseSymbols bool
	// AttachSignal is signaled and closed the first time an attach
	// breakpoint is seen.
	AttachSignal Signaler
}

type Session struct {
	src      debugevent.Source
	backend  Backend
	opts     Options
	out      io.Writer
	log      logrus.FieldLogger
	registry *Registry
	policy   Policy
	symbols  *SymbolAdapter
	signal   Signaler
	finished bool
}

// New builds a session. Relayed debug strings are written to out.
func New(src debugevent.Source, backend Backend, opts Options, out io.Writer, log logrus.FieldLogger) *Session {
	return &Session{
		src:      src,
		backend:  backend,
		opts:     opts,
		out:      out,
		log:      log,
		registry: NewRegistry(),
		policy: Policy{
			ReportFirstChance:       opts.ReportFirstChance,
			CaptureAttachBreakpoint: opts.CaptureAttachBreakpoint,
			DumpAllThreads:          opts.DumpAllThreads,
		},
		symbols: NewSymbolAdapter(backend.Symbols, backend.Control, log, opts.VerboseSymbols || opts.TraceEvents),
		signal:  opts.AttachSignal,
	}
}

func (s *Session) Registry() *Registry { return s.registry }

// Run dispatches notifications until the last attached process exits. It
// fails only when the next notification cannot be obtained or a process
// cannot be set up for symbol resolution.
func (s *Session) Run() error {
	for !s.finished {
		ev, err := s.src.Wait()
		if err != nil {
			return fmt.Errorf("WaitForDebugEvent: %w", err)
		}

		if s.opts.TraceEvents {
			s.trace(ev)
		}

		disposition, err := s.dispatch(ev)
		if err != nil {
			return err
		}

		pid, tid := debugevent.IDs(ev)
		if err := s.src.Continue(pid, tid, disposition); err != nil {
			s.log.WithFields(logrus.Fields{"pid": pid, "tid": tid}).Warnf("ContinueDebugEvent failed: %v", err)
		}
	}
	return nil
}

func (s *Session) dispatch(ev debugevent.Event) (debugevent.Disposition, error) {
	disposition := debugevent.ContinueUnhandled

	switch ev := ev.(type) {
	case *debugevent.CreateProcess:
		return disposition, s.onCreateProcess(ev)

	case *debugevent.CreateThread:
		if _, ok := s.registry.AddThread(ev.PID, ev.TID, ev.Thread); !ok {
			s.unknown(ev)
		}

	case *debugevent.ExitThread:
		s.onExitThread(ev)

	case *debugevent.ExitProcess:
		s.onExitProcess(ev)

	case *debugevent.LoadModule:
		p, ok := s.process(ev)
		if !ok {
			s.symbols.closeFile(ev.File)
			break
		}
		s.symbols.LoadModule(p, ev.File, ev.Base, ev.Name)

	case *debugevent.UnloadModule:
		if p, ok := s.process(ev); ok {
			s.symbols.UnloadModule(p, ev.Base)
		}

	case *debugevent.DebugString:
		s.onDebugString(ev)

	case *debugevent.Exception:
		disposition = s.onException(ev)

	case *debugevent.RIP, *debugevent.Unknown:
	}

	return disposition, nil
}

func (s *Session) onCreateProcess(ev *debugevent.CreateProcess) error {
	p := s.registry.AddProcess(ev.PID, ev.Process)
	p.ImageBase = ev.ImageBase
	p.Wow64 = ev.Wow64
	s.registry.AddThread(ev.PID, ev.TID, ev.Thread)

	return s.symbols.Attach(p, ev.File, ev.ImageName)
}

func (s *Session) onExitThread(ev *debugevent.ExitThread) {
	p, ok := s.process(ev)
	if !ok {
		return
	}
	if t, ok := p.Threads[ev.TID]; ok && len(p.Threads) == 1 && ev.ExitCode == debugevent.AbortExitCode {
		s.backend.Dumper.DumpStack(p.Handle, t.Handle)
	}
	s.registry.RemoveThread(ev.PID, ev.TID)
}

func (s *Session) onExitProcess(ev *debugevent.ExitProcess) {
	p, ok := s.process(ev)
	if !ok {
		return
	}

	if ev.ExitCode == debugevent.AbortExitCode {
		if t, ok := p.Threads[ev.TID]; ok {
			s.backend.Dumper.DumpStack(p.Handle, t.Handle)
		}
	}

	s.symbols.Detach(p)
	s.registry.RemoveProcess(ev.PID)

	if s.registry.Empty() {
		s.finished = true
	}
}

func (s *Session) onDebugString(ev *debugevent.DebugString) {
	p, ok := s.process(ev)
	if !ok {
		return
	}
	if ev.Unicode {
		s.log.WithField("pid", ev.PID).Warn("ignoring wide debug string")
		return
	}

	str := ReadDebugString(s.backend.Memory, p.Handle, ev.Address, ev.Length, false)
	if i := strings.IndexByte(str, 0); i >= 0 {
		str = str[:i]
	}
	io.WriteString(s.out, str)
}

func (s *Session) onException(ev *debugevent.Exception) debugevent.Disposition {
	p, ok := s.process(ev)
	if !ok {
		return debugevent.ContinueUnhandled
	}

	d := s.policy.Decide(p, ev)

	if d.AttachBreakpoint && s.signal != nil {
		if err := s.signal.Signal(); err != nil {
			s.log.Warnf("SetEvent failed: %v", err)
		}
		if err := s.signal.Close(); err != nil {
			s.log.Warnf("CloseHandle failed: %v", err)
		}
		s.signal = nil
	}

	if d.Capture != CaptureNone {
		s.capture(p, ev, d.Capture)
	}

	if d.Terminate {
		if err := s.backend.Control.Terminate(p.Handle, ev.Record.Code); err != nil {
			s.log.WithField("pid", p.ID).Errorf("TerminateProcess failed: %v", err)
		}
	}

	return d.Disposition
}

func (s *Session) capture(p *Process, ev *debugevent.Exception, c Capture) {
	// Modules may have been mapped since the last load notification.
	s.symbols.Refresh(p)

	s.backend.Dumper.DumpException(p.Handle, &ev.Record)

	for _, t := range p.SortedThreads() {
		if c != CaptureAllThreads && t.ID != ev.TID {
			continue
		}
		s.backend.Dumper.DumpStack(p.Handle, t.Handle)
	}
}

func (s *Session) process(ev debugevent.Event) (*Process, bool) {
	pid, _ := debugevent.IDs(ev)
	p, ok := s.registry.Process(pid)
	if !ok {
		s.unknown(ev)
	}
	return p, ok
}

func (s *Session) unknown(ev debugevent.Event) {
	pid, tid := debugevent.IDs(ev)
	s.log.WithFields(logrus.Fields{"pid": pid, "tid": tid}).Warnf("%s for unknown process", ev.Kind())
}

func (s *Session) trace(ev debugevent.Event) {
	pid, tid := debugevent.IDs(ev)
	entry := s.log.WithFields(logrus.Fields{"pid": pid, "tid": tid})

	switch ev := ev.(type) {
	case *debugevent.Exception:
		entry = entry.WithFields(logrus.Fields{
			"code":        fmt.Sprintf("0x%08x", ev.Record.Code),
			"firstChance": ev.FirstChance,
		})
	case *debugevent.ExitThread:
		entry = entry.WithField("exitCode", fmt.Sprintf("0x%x", ev.ExitCode))
	case *debugevent.ExitProcess:
		entry = entry.WithField("exitCode", fmt.Sprintf("0x%x", ev.ExitCode))
	case *debugevent.LoadModule:
		entry = entry.WithField("base", fmt.Sprintf("0x%x", ev.Base))
	case *debugevent.UnloadModule:
		entry = entry.WithField("base", fmt.Sprintf("0x%x", ev.Base))
	case *debugevent.Unknown:
		entry = entry.WithField("code", ev.Code)
	}

	entry.Info(ev.Kind().String())
}
