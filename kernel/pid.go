package kernel

import "sort"

// NoParent is the parent sentinel of the init process: the all-ones
// value, which the allocator never issues.
const NoParent = -1

// Pid is the owning handle of a process identifier. Copying the
// numeric Value for indexing is fine; only the handle drives
// reclamation, through Release.
type Pid struct {
	v     int
	alloc *PidAllocator
}

func (p *Pid) Value() int {
	return p.v
}

// Release returns the value to the allocator for reuse. Idempotent on
// the same handle; releasing a value twice through different handles
// panics in the allocator.
func (p *Pid) Release() {
	if p.alloc == nil {
		return
	}

	alloc := p.alloc
	p.alloc = nil
	alloc.release(p.v)
}

// PidAllocator issues unique pids: the smallest reclaimed value when
// one exists, otherwise the next fresh integer.
type PidAllocator struct {
	next int
	free []int // ascending
}

func NewPidAllocator() *PidAllocator {
	return &PidAllocator{}
}

func (a *PidAllocator) New() *Pid {
	if len(a.free) > 0 {
		v := a.free[0]
		a.free = a.free[1:]

		return &Pid{v: v, alloc: a}
	}

	v := a.next
	if v < 0 {
		panic("kernel: pid space exhausted")
	}

	a.next++
	return &Pid{v: v, alloc: a}
}

func (a *PidAllocator) release(v int) {
	i := sort.SearchInts(a.free, v)
	if i < len(a.free) && a.free[i] == v {
		panic("kernel: pid released twice")
	}

	a.free = append(a.free, 0)
	copy(a.free[i+1:], a.free[i:])
	a.free[i] = v
}
