//go:build windows && !amd64

package windbg

import (
	"fmt"
	"runtime"

	"crashDbg/debugevent"
	"crashDbg/unwind"
)

func (d *Debugger) Registers(process, thread debugevent.Handle) (unwind.Registers, error) {
	return unwind.Registers{}, fmt.Errorf("thread contexts are not supported on %s", runtime.GOARCH)
}
