package arch

import "fmt"

// Scause mirrors the scause register: interrupt flag in the top bit,
// cause code below.
type Scause uint64

const interruptFlag Scause = 1 << 63

const (
	ExcIllegalInstruction   Scause = 2
	ExcBreakpoint           Scause = 3
	ExcUserEcall            Scause = 8
	ExcInstructionPageFault Scause = 12
	ExcLoadPageFault        Scause = 13
	ExcStorePageFault       Scause = 15

	IntSupervisorTimer = interruptFlag | 5
)

func (c Scause) IsInterrupt() bool {
	return c&interruptFlag != 0
}

var causeNames = map[Scause]string{
	ExcIllegalInstruction:   "illegal instruction",
	ExcBreakpoint:           "breakpoint",
	ExcUserEcall:            "user ecall",
	ExcInstructionPageFault: "instruction page fault",
	ExcLoadPageFault:        "load page fault",
	ExcStorePageFault:       "store page fault",
	IntSupervisorTimer:      "supervisor timer",
}

func (c Scause) String() string {
	if name, ok := causeNames[c]; ok {
		return name
	}

	if c.IsInterrupt() {
		return fmt.Sprintf("{interrupt %d}", uint64(c&^interruptFlag))
	}

	return fmt.Sprintf("{exception %d}", uint64(c))
}

// Trap is what a user-mode round trip returns to the kernel.
type Trap struct {
	Cause Scause

	// Stval carries the faulting address for memory faults, zero
	// otherwise.
	Stval uint64
}
