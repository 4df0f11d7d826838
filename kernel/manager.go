package kernel

import (
	"sort"

	"github.com/klamath-os/klamath/log"
	"github.com/klamath-os/klamath/pkg/ilist"
)

// WaitResult is the three-way outcome of a wait.
type WaitResult int

const (
	// WaitReaped: a matching zombie was consumed.
	WaitReaped WaitResult = iota

	// WaitRunning: a matching child exists but has not exited.
	WaitRunning

	// WaitNoChild: the caller has no matching child at all.
	WaitNoChild
)

type zombie struct {
	pid  *Pid
	code int32
}

// ProcManager holds every live Process by pid, the ready FIFO, the
// parent relation, and the zombie table. It is the process-wide
// scheduler state; the single-threaded dispatch model is what makes
// its lock-free mutation safe, and it must not be shared across harts.
type ProcManager struct {
	tasks   map[int]*Process
	ready   ilist.List
	parent  map[int]int
	zombies map[int]zombie
	current *Process
	initPid int
}

func NewProcManager() *ProcManager {
	return &ProcManager{
		tasks:   make(map[int]*Process),
		parent:  make(map[int]int),
		zombies: make(map[int]zombie),
		initPid: NoParent,
	}
}

// InitPid is the pid of the init process, or NoParent before boot.
func (m *ProcManager) InitPid() int {
	return m.initPid
}

// Live is the number of live processes.
func (m *ProcManager) Live() int {
	return len(m.tasks)
}

// UnreapedZombies is the number of exited processes nobody waited on.
func (m *ProcManager) UnreapedZombies() int {
	return len(m.zombies)
}

// ZombieCode reports the recorded exit code of an unreaped zombie.
func (m *ProcManager) ZombieCode(pid int) (int32, bool) {
	z, ok := m.zombies[pid]
	return z.code, ok
}

// Parent reports the parent pid of a live or zombie process.
func (m *ProcManager) Parent(pid int) (int, bool) {
	par, ok := m.parent[pid]
	return par, ok
}

// ReadyLen is the current ready-queue depth.
func (m *ProcManager) ReadyLen() int {
	return m.ready.Len()
}

// Insert adds a live Process under the given parent pid. The first
// process inserted with the NoParent sentinel becomes init.
func (m *ProcManager) Insert(p *Process, parentPid int) {
	pid := p.Pid()

	if _, ok := m.tasks[pid]; ok {
		panic("kernel: pid already live")
	}

	m.tasks[pid] = p

	if parentPid == NoParent {
		if m.initPid == NoParent {
			m.initPid = pid
		}
		return
	}

	m.parent[pid] = parentPid
}

// AddReady appends pid to the ready queue. The intrusive linkage makes
// enqueueing a queued process panic rather than duplicate it.
func (m *ProcManager) AddReady(pid int) {
	p, ok := m.tasks[pid]
	if !ok {
		panic("kernel: readying unknown pid")
	}

	m.ready.PushBack(p)
}

// FetchNext pops the front of the ready queue and makes it current.
func (m *ProcManager) FetchNext() *Process {
	e := m.ready.PopFront()
	if e == nil {
		return nil
	}

	p := e.(*Process)
	m.current = p

	return p
}

// Current is the process dispatched by the latest FetchNext, valid
// inside trap handling.
func (m *ProcManager) Current() *Process {
	return m.current
}

// MakeCurrentSuspend moves current to the tail of the ready queue.
func (m *ProcManager) MakeCurrentSuspend() {
	if m.current == nil {
		return
	}

	m.ready.PushBack(m.current)
	m.current = nil
}

// MakeCurrentExited retires current with the given exit code: its
// children are reparented to init, its address space is released, and
// its pid handle is parked in the zombie table until reaped.
func (m *ProcManager) MakeCurrentExited(code int32) {
	p := m.current
	if p == nil {
		panic("kernel: exit with no current process")
	}

	m.current = nil
	pid := p.Pid()

	delete(m.tasks, pid)

	for child, par := range m.parent {
		if par == pid {
			m.parent[child] = m.initPid
			log.L.Trace("process-reparent", "pid", child, "to", m.initPid)
		}
	}

	p.Space.Release()
	m.zombies[pid] = zombie{pid: p.PidHandle(), code: code}

	log.L.Trace("process-exit", "pid", pid, "code", code)
}

// Wait looks for a child of current matching target (a pid, or
// NoParent for any child). A matching zombie is reaped: removed from
// the table, its pid released for reuse, its code returned. A matching
// live child yields WaitRunning; no match at all yields WaitNoChild.
func (m *ProcManager) Wait(target int) (int, int32, WaitResult) {
	cur := m.current.Pid()

	match := func(pid int) bool {
		return m.parent[pid] == cur && (target == NoParent || target == pid)
	}

	// Lowest pid first, so reaping order is deterministic.
	candidates := make([]int, 0, len(m.zombies))
	for pid := range m.zombies {
		if match(pid) {
			candidates = append(candidates, pid)
		}
	}

	if len(candidates) > 0 {
		sort.Ints(candidates)
		pid := candidates[0]

		z := m.zombies[pid]
		delete(m.zombies, pid)
		delete(m.parent, pid)
		z.pid.Release()

		log.L.Trace("process-reap", "pid", pid, "code", z.code, "by", cur)
		return pid, z.code, WaitReaped
	}

	for pid := range m.parent {
		if _, live := m.tasks[pid]; live && match(pid) {
			return 0, 0, WaitRunning
		}
	}

	return 0, 0, WaitNoChild
}
