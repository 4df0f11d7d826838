package syscalls

import (
	hclog "github.com/hashicorp/go-hclog"

	"github.com/klamath-os/klamath/abi"
	"github.com/klamath-os/klamath/kernel"
)

// maxIOSize bounds a single read or write request.
const maxIOSize = 1 << 16

// sysRead fills the user buffer from the console, one byte per poll.
// When the console runs dry mid-request the progress so far is kept in
// the PCB and the caller retries the same ecall on its next quantum,
// so the bytes it already consumed are never lost.
func sysRead(k *kernel.Kernel, l hclog.Logger, p *kernel.Process, args kernel.SysArgs) kernel.Verdict {
	if args.A0 != abi.Stdin {
		return kernel.Done(abi.ErrGeneric)
	}

	n := int(args.A2)
	if n < 0 || n > maxIOSize {
		return kernel.Done(abi.ErrGeneric)
	}

	for p.ReadCursor < n {
		c := k.Console.Getchar()
		if c == 0 {
			return kernel.Retry()
		}

		if err := p.CopyOut(args.A1+uint64(p.ReadCursor), []byte{byte(c)}); err != nil {
			l.Error("read buffer not writable", "pid", p.Pid(), "error", err)
			p.ReadCursor = 0
			return kernel.Done(abi.ErrGeneric)
		}

		p.ReadCursor++
	}

	p.ReadCursor = 0
	return kernel.Done(int64(n))
}

func sysWrite(k *kernel.Kernel, l hclog.Logger, p *kernel.Process, args kernel.SysArgs) kernel.Verdict {
	if args.A0 != abi.Stdout {
		return kernel.Done(abi.ErrGeneric)
	}

	if args.A2 > maxIOSize {
		return kernel.Done(abi.ErrGeneric)
	}

	data, err := p.CopyIn(args.A1, int(args.A2))
	if err != nil {
		l.Error("write buffer not readable", "pid", p.Pid(), "error", err)
		return kernel.Done(abi.ErrGeneric)
	}

	if _, err := k.Console.Write(data); err != nil {
		return kernel.Done(abi.ErrGeneric)
	}

	return kernel.Done(int64(len(data)))
}

func init() {
	Syscalls[abi.SysRead] = sysRead
	Syscalls[abi.SysWrite] = sysWrite
}
