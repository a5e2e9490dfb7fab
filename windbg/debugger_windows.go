// Package windbg is the Windows debug event source and symbol provider,
// built on the kernel32 debugging API and dbghelp.
package windbg

import (
	"fmt"
	"os/exec"
	"unsafe"

	"golang.org/x/sys/windows"

	"crashDbg/debugevent"
	"crashDbg/osthread"
)

// Debugger implements debugevent.Source, session.ProcessControl,
// session.MemoryReader and diag.ThreadState. The debug API only accepts
// calls from the thread that attached, so they all run on one worker.
type Debugger struct {
	rpc   *osthread.Worker
	wow64 map[debugevent.Handle]bool
}

func newDebugger() *Debugger {
	return &Debugger{rpc: osthread.New(), wow64: make(map[debugevent.Handle]bool)}
}

// Launch starts bin as a debuggee. Processes it creates are debugged too.
func Launch(bin string, args ...string) (*Debugger, error) {
	path, err := exec.LookPath(bin)
	if err != nil {
		return nil, err
	}

	d := newDebugger()
	err = d.rpc.Do("CreateProcess", func() error {
		cmdline, err := windows.UTF16PtrFromString(windows.ComposeCommandLine(append([]string{path}, args...)))
		if err != nil {
			return err
		}
		app, err := windows.UTF16PtrFromString(path)
		if err != nil {
			return err
		}
		si := &windows.StartupInfo{}
		si.Cb = uint32(unsafe.Sizeof(*si))
		pi := &windows.ProcessInformation{}
		if err := windows.CreateProcess(app, cmdline, nil, nil, false, debugProcess, nil, nil, si, pi); err != nil {
			return fmt.Errorf("CreateProcess: %w", err)
		}
		windows.CloseHandle(pi.Thread)
		windows.CloseHandle(pi.Process)
		return nil
	})
	if err != nil {
		d.rpc.Close()
		return nil, err
	}
	return d, nil
}

// Attach debugs the running process pid.
func Attach(pid uint32) (*Debugger, error) {
	// Attaching to services needs SeDebugPrivilege; other targets work
	// without it.
	_ = EnableDebugPrivilege()

	d := newDebugger()
	err := d.rpc.Do("DebugActiveProcess", func() error {
		r1, _, e := procDebugActiveProcess.Call(uintptr(pid))
		if r1 == 0 {
			return fmt.Errorf("DebugActiveProcess(%d): %w", pid, e)
		}
		return nil
	})
	if err != nil {
		d.rpc.Close()
		return nil, err
	}
	return d, nil
}

// Wait blocks until the next debug event.
func (d *Debugger) Wait() (debugevent.Event, error) {
	raw, err := osthread.Call(d.rpc, "WaitForDebugEvent", func() (debugEvent, error) {
		var ev debugEvent
		r1, _, e := procWaitForDebugEvent.Call(uintptr(unsafe.Pointer(&ev)), infinite)
		if r1 == 0 {
			return ev, e
		}
		return ev, nil
	})
	if err != nil {
		return nil, err
	}

	ev := decode(&raw, finalPath)
	if cp, ok := ev.(*debugevent.CreateProcess); ok {
		var wow64 bool
		if err := windows.IsWow64Process(windows.Handle(cp.Process), &wow64); err == nil {
			cp.Wow64 = wow64
		}
		d.wow64[cp.Process] = cp.Wow64
	}
	return ev, nil
}

func (d *Debugger) Continue(pid, tid uint32, disposition debugevent.Disposition) error {
	status := uintptr(dbgExceptionNotHandled)
	if disposition == debugevent.ContinueHandled {
		status = dbgContinue
	}
	return d.rpc.Do("ContinueDebugEvent", func() error {
		r1, _, e := procContinueDebugEvent.Call(uintptr(pid), uintptr(tid), status)
		if r1 == 0 {
			return e
		}
		return nil
	})
}

func (d *Debugger) Terminate(process debugevent.Handle, exitCode uint32) error {
	return windows.TerminateProcess(windows.Handle(process), exitCode)
}

func (d *Debugger) CloseFile(f debugevent.FileHandle) error {
	if f == 0 {
		return nil
	}
	return windows.CloseHandle(windows.Handle(f))
}

func (d *Debugger) ReadProcessMemory(process debugevent.Handle, addr uint64, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	var n uintptr
	err := windows.ReadProcessMemory(windows.Handle(process), uintptr(addr), &buf[0], uintptr(len(buf)), &n)
	return int(n), err
}

// Is32 reports whether process runs under WOW64.
func (d *Debugger) Is32(process debugevent.Handle) bool {
	return d.wow64[process]
}

func (d *Debugger) Close() error {
	d.rpc.Close()
	return nil
}
