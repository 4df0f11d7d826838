package arch

// Hart runs a user context until the next trap reenters the kernel.
// On return ctx reflects the user state at the instant of the trap,
// with Sepc at the trapping instruction.
type Hart interface {
	Run(ctx *LocalContext, satp Satp) Trap
}

// ForeignContext is the saved user execution state plus the
// address-translation root needed to resume it. It is meaningful only
// while the address space whose root frame Satp encodes is alive.
type ForeignContext struct {
	Local LocalContext
	Satp  Satp
}

// Execute performs the user-mode round trip: install Satp, restore the
// user registers, and run until a trap reenters supervisor mode. It is
// the kernel's only suspension point, and it suspends nothing in the
// hosted model: the hart runs on the caller's stack and Execute returns
// when the trap does. There is no per-process kernel stack.
func (fc *ForeignContext) Execute(h Hart) Trap {
	return h.Run(&fc.Local, fc.Satp)
}

// MoveNext advances the saved user PC past a handled ecall.
func (fc *ForeignContext) MoveNext() {
	fc.Local.MoveNext()
}
