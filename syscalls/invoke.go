package syscalls

import (
	"github.com/klamath-os/klamath/abi"
	"github.com/klamath-os/klamath/kernel"
	"github.com/klamath-os/klamath/log"
)

type Invoker struct{}

// Invoke dispatches one syscall for the current process. An
// unsupported number terminates the caller.
func (Invoker) Invoke(k *kernel.Kernel, p *kernel.Process, args kernel.SysArgs) kernel.Verdict {
	if int(args.Num) < len(Syscalls) {
		if f := Syscalls[args.Num]; f != nil {
			return f(k, log.L, p, args)
		}
	}

	log.L.Error("unsupported syscall", "pid", p.Pid(), "num", uint64(args.Num))
	k.Procs.MakeCurrentExited(abi.KillNoSys)

	return kernel.Exited()
}
