package session

import (
	"sort"

	"crashDbg/debugevent"
)

type Thread struct {
	ID     uint32
	Handle debugevent.Handle
}

type Process struct {
	ID        uint32
	Handle    debugevent.Handle
	ImageBase uint64
	Wow64     bool
	Symbols   SymbolContext
	Threads   map[uint32]*Thread

	// Breakpoint bookkeeping is per process so a second attached process
	// still gets its own attach breakpoint swallowed.
	AttachBreakpointSeen bool
	CompatBreakpointSeen bool
}

// SortedThreads returns the live threads in ascending id order.
func (p *Process) SortedThreads() []*Thread {
	threads := make([]*Thread, 0, len(p.Threads))
	for _, t := range p.Threads {
		threads = append(threads, t)
	}
	sort.Slice(threads, func(i, j int) bool { return threads[i].ID < threads[j].ID })
	return threads
}

// Registry is the set of attached processes. It is owned by a single
// Session and never shared between goroutines.
type Registry struct {
	processes map[uint32]*Process
}

func NewRegistry() *Registry {
	return &Registry{processes: make(map[uint32]*Process)}
}

// AddProcess registers a process, replacing any stale record with the same
// id.
func (r *Registry) AddProcess(pid uint32, h debugevent.Handle) *Process {
	p := &Process{ID: pid, Handle: h, Threads: make(map[uint32]*Thread)}
	r.processes[pid] = p
	return p
}

func (r *Registry) Process(pid uint32) (*Process, bool) {
	p, ok := r.processes[pid]
	return p, ok
}

func (r *Registry) RemoveProcess(pid uint32) {
	delete(r.processes, pid)
}

// AddThread registers a thread under pid. It reports false when pid is not
// attached.
func (r *Registry) AddThread(pid, tid uint32, h debugevent.Handle) (*Thread, bool) {
	p, ok := r.processes[pid]
	if !ok {
		return nil, false
	}
	t := &Thread{ID: tid, Handle: h}
	p.Threads[tid] = t
	return t, true
}

func (r *Registry) RemoveThread(pid, tid uint32) {
	if p, ok := r.processes[pid]; ok {
		delete(p.Threads, tid)
	}
}

func (r *Registry) Len() int { return len(r.processes) }

func (r *Registry) Empty() bool { return len(r.processes) == 0 }

// Snapshot maps every live process id to its sorted thread ids.
func (r *Registry) Snapshot() map[uint32][]uint32 {
	out := make(map[uint32][]uint32, len(r.processes))
	for pid, p := range r.processes {
		ids := make([]uint32, 0, len(p.Threads))
		for _, t := range p.SortedThreads() {
			ids = append(ids, t.ID)
		}
		out[pid] = ids
	}
	return out
}
