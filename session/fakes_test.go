package session

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"crashDbg/debugevent"
)

type continuation struct {
	pid, tid    uint32
	disposition debugevent.Disposition
}

type fakeSource struct {
	events    []debugevent.Event
	continued []continuation
	waitErr   error
}

func (s *fakeSource) Wait() (debugevent.Event, error) {
	if len(s.events) == 0 {
		if s.waitErr != nil {
			return nil, s.waitErr
		}
		return nil, io.EOF
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

func (s *fakeSource) Continue(pid, tid uint32, d debugevent.Disposition) error {
	s.continued = append(s.continued, continuation{pid, tid, d})
	return nil
}

type fakeSymbols struct {
	initErr   error
	loadErr   error
	calls     []string
	diag      func(string)
	lastOpts  SymbolOptions
	cleanedUp []debugevent.Handle
}

func (f *fakeSymbols) Initialize(h debugevent.Handle, opts SymbolOptions) (SymbolContext, error) {
	f.calls = append(f.calls, fmt.Sprintf("init %#x", uint64(h)))
	f.lastOpts = opts
	if f.initErr != nil {
		return nil, f.initErr
	}
	return h, nil
}

func (f *fakeSymbols) SetDiagnostics(ctx SymbolContext, fn func(string)) { f.diag = fn }

func (f *fakeSymbols) LoadModule(ctx SymbolContext, file debugevent.FileHandle, base uint64, name string) error {
	f.calls = append(f.calls, fmt.Sprintf("load %#x %#x", base, uint64(file)))
	return f.loadErr
}

func (f *fakeSymbols) RefreshModules(ctx SymbolContext) error {
	f.calls = append(f.calls, "refresh")
	return nil
}

func (f *fakeSymbols) UnloadModule(ctx SymbolContext, base uint64) error {
	f.calls = append(f.calls, fmt.Sprintf("unload %#x", base))
	return errors.New("not loaded")
}

func (f *fakeSymbols) Cleanup(ctx SymbolContext) error {
	f.cleanedUp = append(f.cleanedUp, ctx.(debugevent.Handle))
	return nil
}

type stackDump struct {
	process, thread debugevent.Handle
}

type fakeDumper struct {
	exceptions []debugevent.ExceptionRecord
	stacks     []stackDump
}

func (d *fakeDumper) DumpException(process debugevent.Handle, rec *debugevent.ExceptionRecord) {
	d.exceptions = append(d.exceptions, *rec)
}

func (d *fakeDumper) DumpStack(process, thread debugevent.Handle) {
	d.stacks = append(d.stacks, stackDump{process, thread})
}

type termination struct {
	process debugevent.Handle
	code    uint32
}

type fakeControl struct {
	terminated []termination
	closed     []debugevent.FileHandle
}

func (c *fakeControl) Terminate(process debugevent.Handle, code uint32) error {
	c.terminated = append(c.terminated, termination{process, code})
	return nil
}

func (c *fakeControl) CloseFile(f debugevent.FileHandle) error {
	c.closed = append(c.closed, f)
	return nil
}

// fakeMemory serves reads from a single region. short truncates reads.
type fakeMemory struct {
	base  uint64
	data  []byte
	short int
	err   error
}

func (m *fakeMemory) ReadProcessMemory(process debugevent.Handle, addr uint64, buf []byte) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	if addr < m.base || addr >= m.base+uint64(len(m.data)) {
		return 0, errors.New("partial copy")
	}
	n := copy(buf, m.data[addr-m.base:])
	if m.short > 0 && n > m.short {
		n = m.short
	}
	return n, nil
}

type fakeSignal struct {
	signaled, closed int
}

func (s *fakeSignal) Signal() error { s.signaled++; return nil }
func (s *fakeSignal) Close() error  { s.closed++; return nil }

type harness struct {
	src     *fakeSource
	symbols *fakeSymbols
	dumper  *fakeDumper
	control *fakeControl
	memory  *fakeMemory
	out     *bytes.Buffer
	logs    *test.Hook
	session *Session
}

func newHarness(t *testing.T, opts Options, events ...debugevent.Event) *harness {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	h := &harness{
		src:     &fakeSource{events: events},
		symbols: &fakeSymbols{},
		dumper:  &fakeDumper{},
		control: &fakeControl{},
		memory:  &fakeMemory{},
		out:     &bytes.Buffer{},
		logs:    hook,
	}
	h.session = New(h.src, Backend{
		Symbols: h.symbols,
		Dumper:  h.dumper,
		Memory:  h.memory,
		Control: h.control,
	}, opts, h.out, logger)
	return h
}

func hdr(pid, tid uint32) debugevent.Header {
	return debugevent.Header{PID: pid, TID: tid}
}

func createProcess(pid, tid uint32) *debugevent.CreateProcess {
	return &debugevent.CreateProcess{
		Header:    hdr(pid, tid),
		Process:   debugevent.Handle(pid<<8 | 1),
		Thread:    threadHandle(tid),
		File:      debugevent.FileHandle(pid<<8 | 2),
		ImageBase: 0x400000,
	}
}

func threadHandle(tid uint32) debugevent.Handle {
	return debugevent.Handle(0x10000 | tid)
}

func createThread(pid, tid uint32) *debugevent.CreateThread {
	return &debugevent.CreateThread{Header: hdr(pid, tid), Thread: threadHandle(tid)}
}

func exitThread(pid, tid, code uint32) *debugevent.ExitThread {
	return &debugevent.ExitThread{Header: hdr(pid, tid), ExitCode: code}
}

func exitProcess(pid, tid, code uint32) *debugevent.ExitProcess {
	return &debugevent.ExitProcess{Header: hdr(pid, tid), ExitCode: code}
}

func exception(pid, tid, code uint32, firstChance bool) *debugevent.Exception {
	return &debugevent.Exception{
		Header:      hdr(pid, tid),
		Record:      debugevent.ExceptionRecord{Code: code, Address: 0x401000},
		FirstChance: firstChance,
	}
}
