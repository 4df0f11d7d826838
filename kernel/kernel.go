// Package kernel is the process-management core: the PCB, the pid
// allocator, the process manager, and the dispatch loop that carries
// control between the kernel and the user world.
package kernel

import (
	"io"

	"github.com/pkg/errors"

	"github.com/klamath-os/klamath/abi"
	"github.com/klamath-os/klamath/apps"
	"github.com/klamath-os/klamath/arch"
	"github.com/klamath-os/klamath/device"
	"github.com/klamath-os/klamath/loader"
	"github.com/klamath-os/klamath/log"
	"github.com/klamath-os/klamath/memory"
)

// SysArgs is a decoded syscall request: the number from a7 and the
// argument registers.
type SysArgs struct {
	Num        abi.Syscall
	A0, A1, A2 uint64
}

// VerdictKind says what the dispatch loop does after a syscall.
type VerdictKind int

const (
	// VerdictDone: store Ret in a0 and let the caller continue after
	// the ecall.
	VerdictDone VerdictKind = iota

	// VerdictRetry: rewind the PC onto the ecall so the caller
	// reenters the same syscall on its next quantum.
	VerdictRetry

	// VerdictExited: the handler retired the caller.
	VerdictExited
)

type Verdict struct {
	Kind VerdictKind
	Ret  int64
}

func Done(ret int64) Verdict {
	return Verdict{Kind: VerdictDone, Ret: ret}
}

func Retry() Verdict {
	return Verdict{Kind: VerdictRetry}
}

func Exited() Verdict {
	return Verdict{Kind: VerdictExited}
}

// Invoker dispatches one syscall. It lives behind an interface so the
// syscall table can depend on this package without a cycle; the boot
// code wires the two together.
type Invoker interface {
	Invoke(k *Kernel, p *Process, args SysArgs) Verdict
}

type Config struct {
	// Frames is the physical memory budget.
	Frames int

	// Quantum is the timer budget per dispatch, in instructions.
	Quantum uint64

	Console device.Console

	// CacheSize bounds the parsed-image cache.
	CacheSize int

	// MaxDispatches stops the dispatch loop after that many user-mode
	// entries. Zero means run until shutdown. Batch runs use it to
	// bound sessions whose processes never all exit.
	MaxDispatches uint64
}

// Kernel owns the machine: the process manager, the devices, and the
// hart the user world runs on.
type Kernel struct {
	Procs   *ProcManager
	Console device.Console

	// Invoker handles user ecalls. With none wired every syscall is
	// unsupported.
	Invoker Invoker

	res           Resources
	timer         device.Timer
	hart          arch.Hart
	quantum       uint64
	maxDispatches uint64
}

// NewHart is how the kernel gets its user world; injected so the
// kernel package does not depend on the emulator and tests can script
// the hart.
type NewHart func(res SpaceResolver, timer *device.Timer) arch.Hart

// SpaceResolver mirrors the emulator's view of satp: the kernel
// resolves a root frame number back to the dispatched address space.
type SpaceResolver interface {
	SpaceByRoot(ppn uint64) *memory.AddressSpace
}

func NewKernel(cfg Config, newHart NewHart) (*Kernel, error) {
	if cfg.Frames == 0 {
		cfg.Frames = 4096
	}
	if cfg.Quantum == 0 {
		cfg.Quantum = 10000
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = 64
	}
	if cfg.Console == nil {
		cfg.Console = device.NewBufferedConsole(io.Discard)
	}

	pool := memory.NewFramePool(cfg.Frames)

	portal, err := pool.Alloc()
	if err != nil {
		return nil, errors.Wrap(err, "allocating portal frame")
	}

	copy(pool.Bytes(portal), arch.PortalCode())

	k := &Kernel{
		Procs:   NewProcManager(),
		Console: cfg.Console,
		res: Resources{
			Pids:   NewPidAllocator(),
			Pool:   pool,
			Cache:  loader.NewCache(cfg.CacheSize),
			Portal: portal,
		},
		quantum:       cfg.Quantum,
		maxDispatches: cfg.MaxDispatches,
	}

	k.hart = newHart(k, &k.timer)

	return k, nil
}

// Resources exposes the construction resources, for tests that build
// processes directly.
func (k *Kernel) Resources() *Resources {
	return &k.res
}

// SpaceByRoot resolves a satp root to the current process's address
// space. Only the dispatched space is ever valid: a context whose satp
// names anything else is a kernel bug.
func (k *Kernel) SpaceByRoot(ppn uint64) *memory.AddressSpace {
	if p := k.Procs.Current(); p != nil && p.Space.RootFrame() == ppn {
		return p.Space
	}

	return nil
}

// Launch builds a process from the named registry image and readies it
// under the given parent pid.
func (k *Kernel) Launch(name string, parentPid int) (*Process, error) {
	img, ok := apps.Get(name)
	if !ok {
		return nil, errors.Errorf("no application %q", name)
	}

	p, err := NewProcessFromELF(&k.res, img)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %q", name)
	}

	k.Procs.Insert(p, parentPid)
	k.Procs.AddReady(p.Pid())

	return p, nil
}

// Boot launches the init process.
func (k *Kernel) Boot(initName string) (*Process, error) {
	p, err := k.Launch(initName, NoParent)
	if err != nil {
		return nil, err
	}

	log.L.Info("booted", "init", initName, "pid", p.Pid())
	return p, nil
}

// Run is the dispatch loop: fetch the next ready process, enter user
// mode, handle the trap that returns, requeue or retire. It is flat by
// construction; nothing here reenters Execute, and all trap handling
// runs on this call's stack. Returns when no live process remains.
func (k *Kernel) Run() error {
	for dispatches := uint64(0); ; dispatches++ {
		if k.maxDispatches > 0 && dispatches >= k.maxDispatches {
			log.L.Info("dispatch budget exhausted", "dispatches", dispatches)
			return nil
		}

		p := k.Procs.FetchNext()
		if p == nil {
			if n := k.Procs.Live(); n > 0 {
				return errors.Errorf("scheduler stalled with %d live processes off queue", n)
			}

			if n := k.Procs.UnreapedZombies(); n > 0 {
				log.L.Warn("shutting down with unreaped zombies", "count", n)
			}

			log.L.Info("all processes gone, shutting down")
			return nil
		}

		k.timer.Arm(k.quantum)
		trap := p.Ctx.Execute(k.hart)

		switch trap.Cause {
		case arch.ExcUserEcall:
			// The syscall convention: the PC is advanced past the
			// ecall up front, and handlers that must re-run rewind it.
			p.Ctx.MoveNext()
			k.handleSyscall(p)

		case arch.IntSupervisorTimer:
			k.Procs.MakeCurrentSuspend()

		default:
			log.L.Error("killing process on exception",
				"pid", p.Pid(), "cause", trap.Cause.String(), "stval", trap.Stval)
			log.L.Trace("fault context", "dump", log.Dump(p.Ctx.Local))

			k.Procs.MakeCurrentExited(abi.KillFault)
		}

		if k.Procs.Current() != nil {
			k.Procs.MakeCurrentSuspend()
		}
	}
}

func (k *Kernel) handleSyscall(p *Process) {
	args := SysArgs{
		Num: abi.Syscall(p.Ctx.Local.A[7]),
		A0:  p.Ctx.Local.A[0],
		A1:  p.Ctx.Local.A[1],
		A2:  p.Ctx.Local.A[2],
	}

	log.L.Trace("syscall", "pid", p.Pid(), "num", args.Num.String(),
		"a0", args.A0, "a1", args.A1, "a2", args.A2)

	if k.Invoker == nil {
		k.Procs.MakeCurrentExited(abi.KillNoSys)
		return
	}

	v := k.Invoker.Invoke(k, p, args)

	switch v.Kind {
	case VerdictDone:
		p.Ctx.Local.A[0] = uint64(v.Ret)

	case VerdictRetry:
		p.Ctx.Local.MoveBack()

	case VerdictExited:
		// Nothing: the handler retired the process.
	}
}
