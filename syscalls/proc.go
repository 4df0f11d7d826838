package syscalls

import (
	"unicode/utf8"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/klamath-os/klamath/abi"
	"github.com/klamath-os/klamath/apps"
	"github.com/klamath-os/klamath/kernel"
)

func sysExit(k *kernel.Kernel, l hclog.Logger, p *kernel.Process, args kernel.SysArgs) kernel.Verdict {
	k.Procs.MakeCurrentExited(int32(args.A0))
	return kernel.Exited()
}

func sysYield(k *kernel.Kernel, l hclog.Logger, p *kernel.Process, args kernel.SysArgs) kernel.Verdict {
	return kernel.Done(0)
}

func sysGetpid(k *kernel.Kernel, l hclog.Logger, p *kernel.Process, args kernel.SysArgs) kernel.Verdict {
	return kernel.Done(int64(p.Pid()))
}

func sysFork(k *kernel.Kernel, l hclog.Logger, p *kernel.Process, args kernel.SysArgs) kernel.Verdict {
	child, err := p.Fork()
	if err != nil {
		l.Error("fork failed", "pid", p.Pid(), "error", err)
		return kernel.Done(abi.ErrGeneric)
	}

	// The child resumes exactly where the parent did, seeing 0.
	child.Ctx.Local.A[0] = 0

	k.Procs.Insert(child, p.Pid())
	k.Procs.AddReady(child.Pid())

	return kernel.Done(int64(child.Pid()))
}

// maxExecName bounds the name buffer exec will read from user memory.
const maxExecName = 256

func sysExec(k *kernel.Kernel, l hclog.Logger, p *kernel.Process, args kernel.SysArgs) kernel.Verdict {
	if args.A1 == 0 || args.A1 > maxExecName {
		return kernel.Done(abi.ErrGeneric)
	}

	name, err := p.CopyIn(args.A0, int(args.A1))
	if err != nil {
		l.Error("exec name not readable", "pid", p.Pid(), "error", err)
		return kernel.Done(abi.ErrGeneric)
	}

	if !utf8.Valid(name) {
		return kernel.Done(abi.ErrGeneric)
	}

	img, ok := apps.Get(string(name))
	if !ok {
		return kernel.Done(abi.ErrGeneric)
	}

	if err := p.Exec(img); err != nil {
		l.Error("exec failed", "pid", p.Pid(), "name", string(name), "error", err)
		return kernel.Done(abi.ErrGeneric)
	}

	// The context is the fresh image's now; Done writes its a0.
	return kernel.Done(0)
}

func sysWaitpid(k *kernel.Kernel, l hclog.Logger, p *kernel.Process, args kernel.SysArgs) kernel.Verdict {
	target := int(int64(args.A0))

	pid, code, res := k.Procs.Wait(target)

	switch res {
	case kernel.WaitReaped:
		if args.A1 != 0 {
			// Best effort: the reap stands even if the pointer is bad.
			if err := p.PutU32(args.A1, uint32(code)); err != nil {
				l.Warn("waitpid status pointer not writable",
					"pid", p.Pid(), "addr", args.A1, "error", err)
			}
		}

		return kernel.Done(int64(pid))

	case kernel.WaitRunning:
		return kernel.Retry()

	default:
		return kernel.Done(abi.ErrGeneric)
	}
}

func init() {
	Syscalls[abi.SysExit] = sysExit
	Syscalls[abi.SysYield] = sysYield
	Syscalls[abi.SysGetpid] = sysGetpid
	Syscalls[abi.SysFork] = sysFork
	Syscalls[abi.SysExec] = sysExec
	Syscalls[abi.SysWaitpid] = sysWaitpid
}
