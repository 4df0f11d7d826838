package kernel

import (
	"github.com/pkg/errors"

	"github.com/klamath-os/klamath/arch"
	"github.com/klamath-os/klamath/loader"
	"github.com/klamath-os/klamath/log"
	"github.com/klamath-os/klamath/memory"
	"github.com/klamath-os/klamath/pkg/ilist"
)

// Resources is what process construction draws on: the pid allocator,
// the frame pool, the parsed-image cache, and the shared portal frame.
type Resources struct {
	Pids   *PidAllocator
	Pool   *memory.FramePool
	Cache  *loader.Cache
	Portal memory.Frame
}

// Process is the PCB. It exclusively owns its pid handle and address
// space; destroying it releases both. The embedded list entry is the
// ready-queue linkage, protected by the manager.
type Process struct {
	ilist.Entry

	res *Resources
	pid *Pid

	Ctx   arch.ForeignContext
	Space *memory.AddressSpace

	// User heap window. The bottom is fixed at image load; the break
	// starts there.
	HeapBottom uint64
	Brk        uint64

	// ReadCursor is how many bytes of an in-progress read syscall have
	// already landed in the user buffer. A read that retries keeps its
	// progress here across quanta; satisfying the read clears it.
	ReadCursor int
}

func (p *Process) Pid() int {
	return p.pid.Value()
}

// PidHandle surrenders the owning handle, for parking in the zombie
// table at exit.
func (p *Process) PidHandle() *Pid {
	return p.pid
}

// image is the loadable state a Process swaps in: built fully before
// anything is published, so a failed construction leaks nothing.
type image struct {
	space      *memory.AddressSpace
	ctx        arch.ForeignContext
	heapBottom uint64
}

func segPerm(flags uint32) memory.Perm {
	var perm memory.Perm

	if flags&loader.FlagR != 0 {
		perm |= memory.PermR
	}
	if flags&loader.FlagW != 0 {
		perm |= memory.PermW
	}
	if flags&loader.FlagX != 0 {
		perm |= memory.PermX
	}

	return perm
}

func buildImage(res *Resources, img []byte) (*image, error) {
	prog, err := res.Cache.Load(img)
	if err != nil {
		return nil, errors.Wrap(err, "parsing image")
	}

	space, err := memory.NewAddressSpace(res.Pool)
	if err != nil {
		return nil, err
	}

	var heapBottom uint64

	for _, seg := range prog.Segments {
		if err := space.MapSegment(seg.Vaddr, seg.Data, seg.MemSize, segPerm(seg.Flags)); err != nil {
			space.Release()
			return nil, errors.Wrapf(err, "mapping segment at %#x", seg.Vaddr)
		}

		if end := seg.Vaddr + seg.MemSize; end > heapBottom {
			heapBottom = end
		}
	}

	sp, err := space.MapUserStack()
	if err != nil {
		space.Release()
		return nil, err
	}

	if err := space.MapPortal(res.Portal); err != nil {
		space.Release()
		return nil, err
	}

	heapBottom = (heapBottom + memory.PageSize - 1) &^ (memory.PageSize - 1)

	return &image{
		space: space,
		ctx: arch.ForeignContext{
			Local: arch.NewUserContext(prog.Entry, sp),
			Satp:  arch.NewSatp(space.RootFrame()),
		},
		heapBottom: heapBottom,
	}, nil
}

// NewProcessFromELF builds a Process around img: fresh address space
// with the image's segments, a user stack, and the portal mapped; a
// context entering user mode at the image entry; a new pid. On any
// failure every acquired resource is released and nil is returned.
func NewProcessFromELF(res *Resources, img []byte) (*Process, error) {
	im, err := buildImage(res, img)
	if err != nil {
		return nil, err
	}

	return &Process{
		res:        res,
		pid:        res.Pids.New(),
		Ctx:        im.ctx,
		Space:      im.space,
		HeapBottom: im.heapBottom,
		Brk:        im.heapBottom,
	}, nil
}

// Exec replaces the process image in place: a fresh address space,
// context, and heap window are built from img and swapped in; the pid
// and the relations keyed on it are untouched. The old address space
// is released only after the replacement is fully built, so a failed
// exec leaves the caller intact.
func (p *Process) Exec(img []byte) error {
	im, err := buildImage(p.res, img)
	if err != nil {
		return err
	}

	old := p.Space

	p.Space = im.space
	p.Ctx = im.ctx
	p.HeapBottom = im.heapBottom
	p.Brk = im.heapBottom
	p.ReadCursor = 0

	old.Release()

	log.L.Trace("process-exec", "pid", p.Pid())
	return nil
}

// Fork deep copies the process: a new pid, a new address space whose
// user pages are bytewise copies in fresh frames, and a verbatim clone
// of the context so the child resumes where the parent trapped. The
// caller places the child's return value in a0.
func (p *Process) Fork() (*Process, error) {
	space, err := memory.NewAddressSpace(p.res.Pool)
	if err != nil {
		return nil, err
	}

	if err := p.Space.CloneInto(space); err != nil {
		space.Release()
		return nil, errors.Wrap(err, "cloning address space")
	}

	child := &Process{
		res:        p.res,
		pid:        p.res.Pids.New(),
		Ctx:        p.Ctx,
		Space:      space,
		HeapBottom: p.HeapBottom,
		Brk:        p.Brk,
	}

	child.Ctx.Satp = arch.NewSatp(space.RootFrame())

	log.L.Trace("process-fork", "pid", p.Pid(), "child", child.Pid())
	return child, nil
}

// CopyIn reads n bytes of user memory at addr.
func (p *Process) CopyIn(addr uint64, n int) ([]byte, error) {
	return p.Space.CopyIn(addr, n, memory.PermR|memory.PermU)
}

// CopyOut writes data to user memory at addr.
func (p *Process) CopyOut(addr uint64, data []byte) error {
	return p.Space.CopyOut(addr, data)
}

// PutU32 stores a 32-bit value to user memory at addr.
func (p *Process) PutU32(addr uint64, v uint32) error {
	b := []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
	return p.Space.CopyOut(addr, b)
}
