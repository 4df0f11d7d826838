// Package syscalls is the syscall table. Handlers register themselves
// by number from init functions; the Invoker is wired into the kernel
// at boot.
package syscalls

import (
	hclog "github.com/hashicorp/go-hclog"

	"github.com/klamath-os/klamath/kernel"
)

type handlerFunc func(*kernel.Kernel, hclog.Logger, *kernel.Process, kernel.SysArgs) kernel.Verdict

var Syscalls [1024]handlerFunc
