package ptracedbg

import (
	"encoding/binary"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"crashDbg/debugevent"
)

func TestExceptionCode(t *testing.T) {
	code, ok := exceptionCode(unix.SIGSEGV)
	require.True(t, ok)
	require.Equal(t, debugevent.StatusAccessViolation, code)

	code, ok = exceptionCode(unix.SIGABRT)
	require.True(t, ok)
	require.Equal(t, debugevent.StatusFatalAppExit, code)

	_, ok = exceptionCode(unix.SIGCHLD)
	require.False(t, ok)
}

func TestExitCode(t *testing.T) {
	// Exit status lives in the second byte, a terminating signal in the
	// low seven bits.
	require.Equal(t, uint32(7), exitCode(unix.WaitStatus(7<<8)))
	require.Equal(t, debugevent.AbortExitCode, exitCode(unix.WaitStatus(unix.SIGABRT)))
	require.Equal(t, debugevent.StatusAccessViolation, exitCode(unix.WaitStatus(unix.SIGSEGV)))
	require.Equal(t, uint32(128+9), exitCode(unix.WaitStatus(unix.SIGKILL)))
}

func TestParseSiginfo(t *testing.T) {
	raw := make([]byte, 128)
	binary.LittleEndian.PutUint32(raw[0:], uint32(unix.SIGSEGV))
	binary.LittleEndian.PutUint32(raw[8:], 1)
	binary.LittleEndian.PutUint64(raw[16:], 0xdeadbeef)

	info := parseSiginfo(raw, true)
	require.Equal(t, int32(unix.SIGSEGV), info.signo)
	require.Equal(t, int32(1), info.code)
	require.Equal(t, uint64(0xdeadbeef), info.addr)

	binary.LittleEndian.PutUint32(raw[12:], 0x1000)
	require.Equal(t, uint64(0x1000), parseSiginfo(raw, false).addr)
}

func TestFormatPtraceError(t *testing.T) {
	require.EqualError(t, formatPtraceError("attach", 12, unix.ESRCH), "attach failed: process 12 does not exist or exited")
	require.EqualError(t, formatPtraceError("attach", 12, unix.EPERM), "attach failed: permission denied")
	require.ErrorIs(t, formatPtraceError("cont", 12, unix.EIO), unix.EIO)
}

func TestLaunchReportsLifecycle(t *testing.T) {
	if _, err := os.Stat("/bin/true"); err != nil {
		t.Skip("no /bin/true")
	}
	d, err := Launch("/bin/true")
	if err != nil {
		t.Skipf("ptrace unavailable: %v", err)
	}
	defer d.Close()

	var kinds []debugevent.Kind
	var exit *debugevent.ExitProcess
	for exit == nil {
		ev, err := d.Wait()
		require.NoError(t, err)
		kinds = append(kinds, ev.Kind())

		switch e := ev.(type) {
		case *debugevent.CreateProcess:
			require.NotZero(t, e.ImageBase)
			require.NotEmpty(t, e.ImageName)
		case *debugevent.Exception:
			require.Equal(t, debugevent.StatusBreakpoint, e.Record.Code)
			require.True(t, e.FirstChance)
		case *debugevent.ExitProcess:
			exit = e
		}

		pid, tid := debugevent.IDs(ev)
		require.NoError(t, d.Continue(pid, tid, debugevent.ContinueHandled))
	}

	require.Equal(t, debugevent.KindCreateProcess, kinds[0])
	require.Contains(t, kinds, debugevent.KindException)
	require.Equal(t, uint32(0), exit.ExitCode)
}

func TestLaunchFollowsCrashingChild(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	d, err := Launch("/bin/sh", "-c", "/bin/sh -c 'kill -SEGV $$'; exit 0")
	if err != nil {
		t.Skipf("ptrace unavailable: %v", err)
	}
	defer d.Close()

	live := map[uint32]bool{}
	var created []uint32
	var crash *debugevent.Exception
	exits := map[uint32]uint32{}
	for started := false; !started || len(live) > 0; {
		ev, err := d.Wait()
		require.NoError(t, err)

		disposition := debugevent.ContinueHandled
		switch e := ev.(type) {
		case *debugevent.CreateProcess:
			started = true
			live[e.PID] = true
			created = append(created, e.PID)
		case *debugevent.Exception:
			if e.Record.Code != debugevent.StatusBreakpoint {
				crash = e
				disposition = debugevent.ContinueUnhandled
			}
		case *debugevent.ExitProcess:
			delete(live, e.PID)
			exits[e.PID] = e.ExitCode
		}

		pid, tid := debugevent.IDs(ev)
		require.NoError(t, d.Continue(pid, tid, disposition))
	}

	require.Len(t, created, 2)
	parent, child := created[0], created[1]
	require.NotEqual(t, parent, child)

	require.NotNil(t, crash)
	require.Equal(t, child, crash.PID)
	require.Equal(t, debugevent.StatusAccessViolation, crash.Record.Code)
	require.False(t, crash.FirstChance)

	require.Equal(t, debugevent.StatusAccessViolation, exits[child])
	require.Equal(t, uint32(0), exits[parent])
}
