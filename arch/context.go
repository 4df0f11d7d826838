// Package arch models the RISC-V supervisor view the kernel programs
// against: the saved register file of a suspended user thread, the Sv39
// satp register, trap causes, and the foreign-context round trip into
// user mode.
package arch

// EcallWidth is the size of the ecall instruction. A synchronous
// syscall resumes at sepc + EcallWidth.
const EcallWidth = 4

// LocalContext is the register file of a suspended user thread.
// x0 is hardwired to zero and not stored.
type LocalContext struct {
	Ra, Sp, Gp, Tp uint64

	T [7]uint64  // t0..t6
	S [12]uint64 // s0..s11
	A [8]uint64  // a0..a7

	// Sepc is the PC the thread resumes at. After a trap it holds the
	// address of the trapping instruction.
	Sepc uint64

	// User is the privilege the context returns to. The kernel only
	// ever builds user contexts; the flag exists so a context is
	// self-describing.
	User bool
}

// NewUserContext returns a context that enters user mode at entry with
// the given stack pointer. Every other register is zero.
func NewUserContext(entry, sp uint64) LocalContext {
	return LocalContext{
		Sp:   sp,
		Sepc: entry,
		User: true,
	}
}

// MoveNext advances the saved PC past the trapping ecall.
func (c *LocalContext) MoveNext() {
	c.Sepc += EcallWidth
}

// MoveBack undoes MoveNext so the thread reenters the same ecall on its
// next dispatch.
func (c *LocalContext) MoveBack() {
	c.Sepc -= EcallWidth
}

// X reads general register i (1..31) under the standard numbering.
func (c *LocalContext) X(i int) uint64 {
	switch {
	case i == 0:
		return 0
	case i == 1:
		return c.Ra
	case i == 2:
		return c.Sp
	case i == 3:
		return c.Gp
	case i == 4:
		return c.Tp
	case i >= 5 && i <= 7:
		return c.T[i-5]
	case i == 8 || i == 9:
		return c.S[i-8]
	case i >= 10 && i <= 17:
		return c.A[i-10]
	case i >= 18 && i <= 27:
		return c.S[i-16]
	case i >= 28 && i <= 31:
		return c.T[i-25]
	}

	panic("arch: register index out of range")
}

// SetX writes general register i. Writes to x0 are discarded.
func (c *LocalContext) SetX(i int, v uint64) {
	switch {
	case i == 0:
	case i == 1:
		c.Ra = v
	case i == 2:
		c.Sp = v
	case i == 3:
		c.Gp = v
	case i == 4:
		c.Tp = v
	case i >= 5 && i <= 7:
		c.T[i-5] = v
	case i == 8 || i == 9:
		c.S[i-8] = v
	case i >= 10 && i <= 17:
		c.A[i-10] = v
	case i >= 18 && i <= 27:
		c.S[i-16] = v
	case i >= 28 && i <= 31:
		c.T[i-25] = v
	default:
		panic("arch: register index out of range")
	}
}
