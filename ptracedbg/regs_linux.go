package ptracedbg

import (
	"fmt"

	"golang.org/x/sys/unix"

	"crashDbg/debugevent"
	"crashDbg/osthread"
	"crashDbg/unwind"
)

func (d *Debugger) registers(tid int) (unwind.Registers, error) {
	return osthread.Call(d.rpc, "PTRACE_GETREGS", func() (unwind.Registers, error) {
		var regs unix.PtraceRegs
		if err := unix.PtraceGetRegs(tid, &regs); err != nil {
			return unwind.Registers{}, err
		}
		return frameRegisters(&regs), nil
	})
}

// Registers implements diag.ThreadState. A running thread is stopped
// first and released again with the other threads on the next Continue.
func (d *Debugger) Registers(process, thread debugevent.Handle) (unwind.Registers, error) {
	tid := int(thread)
	t, ok := d.threads[tid]
	if !ok || t.pid != int(process) {
		return unwind.Registers{}, fmt.Errorf("thread %d is not traced", tid)
	}
	if !t.stopped {
		if err := d.suspend(t); err != nil {
			return unwind.Registers{}, formatPtraceError("suspend", tid, err)
		}
	}
	return d.registers(tid)
}

func (d *Debugger) suspend(t *thread) error {
	if err := unix.Tgkill(t.pid, t.tid, unix.SIGSTOP); err != nil {
		return err
	}
	ws, err := osthread.Call(d.rpc, "wait4", func() (unix.WaitStatus, error) {
		for {
			var ws unix.WaitStatus
			_, err := unix.Wait4(t.tid, &ws, unix.WALL, nil)
			if err == unix.EINTR {
				continue
			}
			return ws, err
		}
	})
	if err != nil {
		return err
	}

	if ws.Stopped() && ws.StopSignal() == unix.SIGSTOP && ws.TrapCause() <= 0 {
		t.stopped = true
		return nil
	}

	// The thread stopped for something else first. Handle that stop on
	// the next Wait; the SIGSTOP still pending is swallowed later.
	d.deferred = append(d.deferred, status{tid: t.tid, ws: ws})
	if !ws.Stopped() {
		return unix.ESRCH
	}
	return nil
}
