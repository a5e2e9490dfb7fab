// Package ptracedbg is the Linux debug event source. It traces every thread
// of a process with ptrace and reports the stops as debug events shaped
// like the ones the Windows debug API delivers: a fault signal becomes an
// exception, a clone becomes a thread creation, an exiting task becomes a
// thread or process exit.
package ptracedbg

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"syscall"

	"golang.org/x/sys/unix"

	"crashDbg/debugevent"
	"crashDbg/osthread"
)

const traceOptions = unix.PTRACE_O_TRACECLONE | unix.PTRACE_O_TRACEFORK | unix.PTRACE_O_TRACEVFORK |
	unix.PTRACE_O_TRACEEXIT | unix.PTRACE_O_TRACEEXEC

type thread struct {
	tid int
	pid int
	// stopped is set while the kernel holds the task in a ptrace stop
	// that Continue has to release.
	stopped bool
	pending unix.Signal
	exited  bool
}

type process struct {
	pid      int
	launched bool
	killed   bool
	killCode uint32
	live     map[int]bool
}

type status struct {
	tid int
	ws  unix.WaitStatus
}

// Debugger implements debugevent.Source, session.ProcessControl and
// session.MemoryReader on top of ptrace. Handles are process and thread
// ids.
type Debugger struct {
	rpc     *osthread.Worker
	queue   []debugevent.Event
	procs   map[int]*process
	threads map[int]*thread
	// orphans are clone children whose first stop arrived before the
	// parent's clone event.
	orphans  map[int]bool
	deferred []status
}

func newDebugger() *Debugger {
	return &Debugger{
		rpc:     osthread.New(),
		procs:   make(map[int]*process),
		threads: make(map[int]*thread),
		orphans: make(map[int]bool),
	}
}

// Launch starts bin under the tracer.
func Launch(bin string, args ...string) (*Debugger, error) {
	path, err := exec.LookPath(bin)
	if err != nil {
		return nil, err
	}
	path, err = filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	d := newDebugger()
	pid, err := osthread.Call(d.rpc, "fork/exec", func() (int, error) {
		cmd := exec.Command(path, args...)
		cmd.SysProcAttr = &syscall.SysProcAttr{
			Ptrace: true,
		}
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			return 0, err
		}
		return cmd.Process.Pid, nil
	})
	if err != nil {
		d.rpc.Close()
		return nil, err
	}

	if err := d.waitStop(pid); err != nil {
		d.rpc.Close()
		return nil, formatPtraceError("wait", pid, err)
	}
	if err := d.setOptions(pid); err != nil {
		d.rpc.Close()
		return nil, formatPtraceError("setoptions", pid, err)
	}

	d.announce(pid, []int{pid}, true)
	return d, nil
}

// Attach traces every thread of the running process pid.
func Attach(pid int) (*Debugger, error) {
	if !processAlive(pid) {
		return nil, fmt.Errorf("process %d does not exist", pid)
	}
	if processTraced(pid) {
		return nil, fmt.Errorf("process %d is already being traced", pid)
	}

	d := newDebugger()
	var attached []int
	seen := map[int]bool{}
	// Threads created while attaching show up on the next pass.
	for {
		tids, err := tasks(pid)
		if err != nil {
			d.detach(attached)
			d.rpc.Close()
			return nil, err
		}
		fresh := 0
		for _, tid := range tids {
			if seen[tid] {
				continue
			}
			seen[tid] = true
			fresh++
			if err := d.rpc.Do("PTRACE_ATTACH", func() error { return unix.PtraceAttach(tid) }); err != nil {
				if tid == pid {
					d.detach(attached)
					d.rpc.Close()
					return nil, formatPtraceError("attach", pid, err)
				}
				continue
			}
			if err := d.waitStop(tid); err != nil {
				continue
			}
			if err := d.setOptions(tid); err != nil {
				continue
			}
			attached = append(attached, tid)
		}
		if fresh == 0 {
			break
		}
	}

	sort.Ints(attached)
	d.announce(pid, attached, false)
	return d, nil
}

func (d *Debugger) waitStop(tid int) error {
	return d.rpc.Do("wait4", func() error {
		for {
			var ws unix.WaitStatus
			_, err := unix.Wait4(tid, &ws, unix.WALL, nil)
			if err == unix.EINTR {
				continue
			}
			if err != nil {
				return err
			}
			if ws.Exited() || ws.Signaled() {
				return unix.ESRCH
			}
			if ws.Stopped() {
				return nil
			}
		}
	})
}

func (d *Debugger) setOptions(tid int) error {
	return d.rpc.Do("PTRACE_SETOPTIONS", func() error {
		return unix.PtraceSetOptions(tid, traceOptions)
	})
}

func (d *Debugger) detach(tids []int) {
	for _, tid := range tids {
		_ = d.rpc.Do("PTRACE_DETACH", func() error { return unix.PtraceDetach(tid) })
	}
}

// announce queues the events describing a process that was already
// running when tracing began, ending with the attach breakpoint. Every
// listed thread stays stopped until that breakpoint is continued.
func (d *Debugger) announce(pid int, tids []int, launched bool) {
	p := &process{pid: pid, launched: launched, live: make(map[int]bool)}
	d.procs[pid] = p
	for _, tid := range tids {
		d.threads[tid] = &thread{tid: tid, pid: pid, stopped: true}
		p.live[tid] = true
	}

	exe, _ := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
	modules, _ := Modules(pid)
	var imageBase uint64
	for _, m := range modules {
		if m.Path == exe {
			imageBase = m.Base
			break
		}
	}

	d.queue = append(d.queue, &debugevent.CreateProcess{
		Header:    debugevent.Header{PID: uint32(pid), TID: uint32(pid)},
		Process:   debugevent.Handle(pid),
		Thread:    debugevent.Handle(pid),
		ImageBase: imageBase,
		ImageName: exe,
	})
	for _, tid := range tids {
		if tid == pid {
			continue
		}
		d.queue = append(d.queue, &debugevent.CreateThread{
			Header: debugevent.Header{PID: uint32(pid), TID: uint32(tid)},
			Thread: debugevent.Handle(tid),
		})
	}
	for _, m := range modules {
		if m.Path == exe {
			continue
		}
		d.queue = append(d.queue, &debugevent.LoadModule{
			Header: debugevent.Header{PID: uint32(pid), TID: uint32(pid)},
			Base:   m.Base,
			Name:   m.Path,
		})
	}

	var pc uint64
	if regs, err := d.registers(pid); err == nil {
		pc = regs.PC
	}
	d.queue = append(d.queue, &debugevent.Exception{
		Header:      debugevent.Header{PID: uint32(pid), TID: uint32(pid)},
		Record:      debugevent.ExceptionRecord{Code: debugevent.StatusBreakpoint, Address: pc},
		FirstChance: true,
	})
}

// Wait blocks until the next debug event.
func (d *Debugger) Wait() (debugevent.Event, error) {
	for {
		if len(d.queue) > 0 {
			ev := d.queue[0]
			d.queue = d.queue[1:]
			return ev, nil
		}

		if len(d.deferred) > 0 {
			st := d.deferred[0]
			d.deferred = d.deferred[1:]
			d.handle(st.tid, st.ws)
			continue
		}

		if len(d.threads) == 0 {
			return nil, errors.New("no traced threads")
		}

		st, err := osthread.Call(d.rpc, "wait4", func() (status, error) {
			var ws unix.WaitStatus
			tid, err := unix.Wait4(-1, &ws, unix.WALL, nil)
			return status{tid: tid, ws: ws}, err
		})
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, formatPtraceError("wait", -1, err)
		}
		d.handle(st.tid, st.ws)
	}
}

func (d *Debugger) handle(tid int, ws unix.WaitStatus) {
	t, known := d.threads[tid]

	if ws.Exited() || ws.Signaled() {
		if !known {
			return
		}
		code := exitCode(ws)
		d.reportExit(t, code)
		d.reap(t)
		return
	}

	if !ws.Stopped() {
		return
	}

	sig := ws.StopSignal()
	if !known {
		if sig == unix.SIGSTOP {
			d.orphans[tid] = true
			return
		}
		d.resume(tid, 0)
		return
	}

	if sig == unix.SIGTRAP && ws.TrapCause() > 0 {
		d.handleTrapEvent(t, ws.TrapCause())
		return
	}

	if sig == unix.SIGSTOP {
		d.resume(tid, 0)
		return
	}

	code, fault := exceptionCode(sig)
	if !fault {
		d.resume(tid, sig)
		return
	}

	t.stopped = true
	t.pending = sig
	d.queue = append(d.queue, d.exception(t, sig, code))
}

func (d *Debugger) handleTrapEvent(t *thread, cause int) {
	switch cause {
	case unix.PTRACE_EVENT_CLONE:
		msg, err := osthread.Call(d.rpc, "PTRACE_GETEVENTMSG", func() (uint, error) { return unix.PtraceGetEventMsg(t.tid) })
		if err != nil {
			d.resume(t.tid, 0)
			return
		}
		child := int(msg)
		d.threads[child] = &thread{tid: child, pid: t.pid}
		if p := d.procs[t.pid]; p != nil {
			p.live[child] = true
		}
		if d.orphans[child] {
			delete(d.orphans, child)
			d.resume(child, 0)
		}
		t.stopped = true
		d.queue = append(d.queue, &debugevent.CreateThread{
			Header: debugevent.Header{PID: uint32(t.pid), TID: uint32(child)},
			Thread: debugevent.Handle(child),
		})

	case unix.PTRACE_EVENT_FORK, unix.PTRACE_EVENT_VFORK:
		msg, err := osthread.Call(d.rpc, "PTRACE_GETEVENTMSG", func() (uint, error) { return unix.PtraceGetEventMsg(t.tid) })
		if err != nil {
			d.resume(t.tid, 0)
			return
		}
		t.stopped = true
		d.follow(t, int(msg))

	case unix.PTRACE_EVENT_EXIT:
		msg, err := osthread.Call(d.rpc, "PTRACE_GETEVENTMSG", func() (uint, error) { return unix.PtraceGetEventMsg(t.tid) })
		code := uint32(0)
		if err == nil {
			code = exitCode(unix.WaitStatus(msg))
		}
		t.stopped = true
		d.reportExit(t, code)

	default:
		d.resume(t.tid, 0)
	}
}

// follow starts tracking child, a process forked by t. The child inherits
// the trace options and is announced like an attached process.
func (d *Debugger) follow(t *thread, child int) {
	if d.orphans[child] {
		delete(d.orphans, child)
	} else if err := d.waitStop(child); err != nil {
		return
	}
	launched := false
	if p := d.procs[t.pid]; p != nil {
		launched = p.launched
	}
	d.announce(child, []int{child}, launched)
}

// reportExit queues the exit of t once. The last live thread of a process
// reports the process exit instead.
func (d *Debugger) reportExit(t *thread, code uint32) {
	if t.exited {
		return
	}
	t.exited = true

	p := d.procs[t.pid]
	if p == nil {
		return
	}
	delete(p.live, t.tid)
	if p.killed {
		code = p.killCode
	}

	hdr := debugevent.Header{PID: uint32(t.pid), TID: uint32(t.tid)}
	if len(p.live) == 0 {
		d.queue = append(d.queue, &debugevent.ExitProcess{Header: hdr, ExitCode: code})
		return
	}
	d.queue = append(d.queue, &debugevent.ExitThread{Header: hdr, ExitCode: code})
}

func (d *Debugger) reap(t *thread) {
	delete(d.threads, t.tid)
	for _, other := range d.threads {
		if other.pid == t.pid {
			return
		}
	}
	delete(d.procs, t.pid)
}

func (d *Debugger) exception(t *thread, sig unix.Signal, code uint32) *debugevent.Exception {
	rec := debugevent.ExceptionRecord{Code: code}
	if regs, err := d.registers(t.tid); err == nil {
		rec.Address = regs.PC
	}

	info, err := d.siginfo(t.tid)
	if err == nil {
		switch sig {
		case unix.SIGSEGV, unix.SIGBUS:
			rec.Params = []uint64{debugevent.AccessUnknown, info.addr}
		case unix.SIGTRAP:
			rec.Address = trapAddress(rec.Address, info.code)
		}
	}

	// Breakpoints always go to the debugger first. Other faults only get
	// a first chance when the program installed a handler for them.
	first := sig == unix.SIGTRAP || hasHandler(t.pid, t.tid, sig)

	return &debugevent.Exception{
		Header:      debugevent.Header{PID: uint32(t.pid), TID: uint32(t.tid)},
		Record:      rec,
		FirstChance: first,
	}
}

func (d *Debugger) resume(tid int, sig unix.Signal) error {
	return d.rpc.Do("PTRACE_CONT", func() error {
		return unix.PtraceCont(tid, int(sig))
	})
}

// Continue releases the stopped threads once the queued events are
// drained. The reporting thread gets its signal back when the event is
// left unhandled.
func (d *Debugger) Continue(pid, tid uint32, disposition debugevent.Disposition) error {
	if len(d.queue) > 0 {
		return nil
	}

	tids := make([]int, 0, len(d.threads))
	for id, t := range d.threads {
		if t.stopped {
			tids = append(tids, id)
		}
	}
	sort.Ints(tids)

	var firstErr error
	for _, id := range tids {
		t := d.threads[id]
		sig := unix.Signal(0)
		if id == int(tid) && disposition == debugevent.ContinueUnhandled {
			sig = t.pending
		}
		t.stopped = false
		t.pending = 0

		if p := d.procs[t.pid]; p != nil && p.killed {
			continue
		}
		if err := d.resume(id, sig); err != nil && err != unix.ESRCH && firstErr == nil {
			firstErr = formatPtraceError("cont", id, err)
		}
	}
	return firstErr
}

// Terminate kills the process. Its exit is reported with exitCode.
func (d *Debugger) Terminate(process debugevent.Handle, exitCode uint32) error {
	pid := int(process)
	p, ok := d.procs[pid]
	if !ok {
		return fmt.Errorf("process %d is not traced", pid)
	}
	p.killed = true
	p.killCode = exitCode
	if err := unix.Kill(pid, unix.SIGKILL); err != nil {
		return formatPtraceError("kill", pid, err)
	}
	return nil
}

// CloseFile is a no-op: images are opened by path.
func (d *Debugger) CloseFile(debugevent.FileHandle) error { return nil }

// ReadProcessMemory reads without stopping the process, falling back to
// peeking through a stopped thread.
func (d *Debugger) ReadProcessMemory(process debugevent.Handle, addr uint64, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	pid := int(process)

	local := []unix.Iovec{{Base: &buf[0]}}
	local[0].SetLen(len(buf))
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(buf)}}
	n, err := unix.ProcessVMReadv(pid, local, remote, 0)
	if err == nil {
		return n, nil
	}

	tid := pid
	for id, t := range d.threads {
		if t.pid == pid && t.stopped {
			tid = id
			break
		}
	}
	return osthread.Call(d.rpc, "PTRACE_PEEKDATA", func() (int, error) {
		return unix.PtracePeekData(tid, uintptr(addr), buf)
	})
}

// Close releases the tracer. Launched processes are killed, attached ones
// are detached.
func (d *Debugger) Close() error {
	for pid, p := range d.procs {
		if p.launched {
			_ = unix.Kill(pid, unix.SIGKILL)
			continue
		}
		var tids []int
		for id, t := range d.threads {
			if t.pid == pid && t.stopped {
				tids = append(tids, id)
			}
		}
		d.detach(tids)
	}
	d.rpc.Close()
	return nil
}

func formatPtraceError(operation string, pid int, err error) error {
	if err == unix.ESRCH {
		return fmt.Errorf("%s failed: process %d does not exist or exited", operation, pid)
	}
	if err == unix.EPERM {
		return fmt.Errorf("%s failed: permission denied", operation)
	}
	if err == unix.EBUSY {
		return fmt.Errorf("%s failed: process is busy", operation)
	}
	return fmt.Errorf("%s failed: %w", operation, err)
}
