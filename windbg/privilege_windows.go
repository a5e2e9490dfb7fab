package windbg

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// EnableDebugPrivilege turns on SeDebugPrivilege for the current process.
func EnableDebugPrivilege() error {
	var token windows.Token
	if err := windows.OpenProcessToken(windows.CurrentProcess(), windows.TOKEN_ADJUST_PRIVILEGES|windows.TOKEN_QUERY, &token); err != nil {
		return fmt.Errorf("OpenProcessToken: %w", err)
	}
	defer token.Close()

	name, err := windows.UTF16PtrFromString("SeDebugPrivilege")
	if err != nil {
		return err
	}
	var luid windows.LUID
	if err := windows.LookupPrivilegeValue(nil, name, &luid); err != nil {
		return fmt.Errorf("LookupPrivilegeValue: %w", err)
	}

	privs := windows.Tokenprivileges{PrivilegeCount: 1}
	privs.Privileges[0] = windows.LUIDAndAttributes{Luid: luid, Attributes: windows.SE_PRIVILEGE_ENABLED}
	if err := windows.AdjustTokenPrivileges(token, false, &privs, uint32(unsafe.Sizeof(privs)), nil, nil); err != nil {
		return fmt.Errorf("AdjustTokenPrivileges: %w", err)
	}
	return nil
}

// Event is a named or inherited Win32 event handed to the debugger by the
// process that launched it.
type Event struct {
	h windows.Handle
}

func NewEvent(h uintptr) *Event {
	return &Event{h: windows.Handle(h)}
}

func (e *Event) Signal() error {
	return windows.SetEvent(e.h)
}

func (e *Event) Close() error {
	return windows.CloseHandle(e.h)
}
