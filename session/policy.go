package session

import (
	"crashDbg/debugevent"
)

type Capture int

const (
	CaptureNone Capture = iota
	CaptureFaultingThread
	CaptureAllThreads
)

// Decision is the policy's verdict on one exception notification.
type Decision struct {
	Disposition debugevent.Disposition
	Capture     Capture
	// Terminate ends the process with the exception code after capture.
	Terminate bool
	// AttachBreakpoint marks the process's synthetic attach breakpoint.
	AttachBreakpoint bool
}

type Policy struct {
	ReportFirstChance       bool
	CaptureAttachBreakpoint bool
	DumpAllThreads          bool
}

// Decide classifies ev for process p and updates p's breakpoint
// bookkeeping.
func (pol Policy) Decide(p *Process, ev *debugevent.Exception) Decision {
	d := Decision{Disposition: debugevent.ContinueUnhandled}
	code := ev.Record.Code

	if ev.FirstChance {
		// The OS breaks into every process once right after attaching.
		if code == debugevent.StatusBreakpoint && !p.AttachBreakpointSeen {
			p.AttachBreakpointSeen = true
			d.AttachBreakpoint = true
			if !pol.CaptureAttachBreakpoint {
				d.Disposition = debugevent.ContinueHandled
				return d
			}
		}

		if code == debugevent.StatusWx86Breakpoint && !p.CompatBreakpointSeen {
			p.CompatBreakpointSeen = true
			d.Disposition = debugevent.ContinueHandled
		}

		if !pol.ReportFirstChance {
			return d
		}
	}

	d.Capture = CaptureFaultingThread
	if pol.DumpAllThreads || code == debugevent.StatusBreakpoint {
		d.Capture = CaptureAllThreads
	}

	// A second chance exception would otherwise reach the JIT debugger.
	d.Terminate = !ev.FirstChance
	return d
}
