// Package emu is the user world: an RV64 hart that executes program
// text out of Sv39-translated memory and reenters the kernel with a
// precise trap. It implements arch.Hart, so the kernel reaches it only
// through ForeignContext.Execute.
package emu

import (
	"encoding/binary"

	"github.com/klamath-os/klamath/arch"
	"github.com/klamath-os/klamath/device"
	"github.com/klamath-os/klamath/memory"
)

// SpaceResolver turns the satp root frame number back into the address
// space the kernel is dispatching. It returns nil when the root names
// no such space, which is a kernel bug, not a user fault.
type SpaceResolver interface {
	SpaceByRoot(ppn uint64) *memory.AddressSpace
}

type Machine struct {
	res   SpaceResolver
	timer *device.Timer
}

func New(res SpaceResolver, timer *device.Timer) *Machine {
	return &Machine{res: res, timer: timer}
}

// Run executes user instructions until a trap. On return ctx holds the
// register file at the trap instant, Sepc at the trapping instruction.
func (m *Machine) Run(ctx *arch.LocalContext, satp arch.Satp) arch.Trap {
	space := m.res.SpaceByRoot(satp.PPN())
	if space == nil {
		panic("emu: satp root does not name the dispatched address space")
	}

	for {
		if m.timer.Tick() {
			return arch.Trap{Cause: arch.IntSupervisorTimer}
		}

		raw, err := space.Translate(ctx.Sepc, 4, memory.PermX|memory.PermU)
		if err != nil {
			return arch.Trap{Cause: arch.ExcInstructionPageFault, Stval: ctx.Sepc}
		}

		if trap, ok := m.step(ctx, space, binary.LittleEndian.Uint32(raw)); ok {
			return trap
		}
	}
}

func sext32(v uint32) uint64 {
	return uint64(int64(int32(v)))
}

// step executes one instruction, advancing Sepc. It reports a trap with
// Sepc left at the instruction.
func (m *Machine) step(ctx *arch.LocalContext, space *memory.AddressSpace, inst uint32) (arch.Trap, bool) {
	var (
		pc  = ctx.Sepc
		op  = inst & 0x7f
		rd  = int(inst >> 7 & 0x1f)
		f3  = inst >> 12 & 7
		rs1 = int(inst >> 15 & 0x1f)
		rs2 = int(inst >> 20 & 0x1f)
		f7  = inst >> 25
	)

	immI := int64(int32(inst)) >> 20
	immU := sext32(inst & 0xfffff000)

	next := pc + 4

	switch op {
	case 0x37: // lui
		ctx.SetX(rd, immU)

	case 0x17: // auipc
		ctx.SetX(rd, pc+immU)

	case 0x6f: // jal
		immJ := int64(int32(inst))>>31<<20 |
			int64(inst>>12&0xff)<<12 |
			int64(inst>>20&1)<<11 |
			int64(inst>>21&0x3ff)<<1
		ctx.SetX(rd, pc+4)
		next = pc + uint64(immJ)

	case 0x67: // jalr
		t := pc + 4
		next = (ctx.X(rs1) + uint64(immI)) &^ 1
		ctx.SetX(rd, t)

	case 0x63: // branches
		immB := int64(int32(inst))>>31<<12 |
			int64(inst>>7&1)<<11 |
			int64(inst>>25&0x3f)<<5 |
			int64(inst>>8&0xf)<<1

		var taken bool
		a, b := ctx.X(rs1), ctx.X(rs2)

		switch f3 {
		case 0:
			taken = a == b
		case 1:
			taken = a != b
		case 4:
			taken = int64(a) < int64(b)
		case 5:
			taken = int64(a) >= int64(b)
		case 6:
			taken = a < b
		case 7:
			taken = a >= b
		default:
			return arch.Trap{Cause: arch.ExcIllegalInstruction, Stval: uint64(inst)}, true
		}

		if taken {
			next = pc + uint64(immB)
		}

	case 0x03: // loads
		addr := ctx.X(rs1) + uint64(immI)

		size := 1 << (f3 & 3)
		b, err := space.CopyIn(addr, size, memory.PermR|memory.PermU)
		if err != nil {
			return arch.Trap{Cause: arch.ExcLoadPageFault, Stval: addr}, true
		}

		var v uint64
		switch f3 {
		case 0: // lb
			v = uint64(int64(int8(b[0])))
		case 1: // lh
			v = uint64(int64(int16(binary.LittleEndian.Uint16(b))))
		case 2: // lw
			v = sext32(binary.LittleEndian.Uint32(b))
		case 3: // ld
			v = binary.LittleEndian.Uint64(b)
		case 4: // lbu
			v = uint64(b[0])
		case 5: // lhu
			v = uint64(binary.LittleEndian.Uint16(b))
		case 6: // lwu
			v = uint64(binary.LittleEndian.Uint32(b))
		default:
			return arch.Trap{Cause: arch.ExcIllegalInstruction, Stval: uint64(inst)}, true
		}

		ctx.SetX(rd, v)

	case 0x23: // stores
		if f3 > 3 {
			return arch.Trap{Cause: arch.ExcIllegalInstruction, Stval: uint64(inst)}, true
		}

		immS := int64(int32(inst&0xfe000000))>>20 | int64(inst>>7&0x1f)
		addr := ctx.X(rs1) + uint64(immS)

		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], ctx.X(rs2))

		if err := space.CopyOut(addr, b[:1<<f3]); err != nil {
			return arch.Trap{Cause: arch.ExcStorePageFault, Stval: addr}, true
		}

	case 0x13: // op-imm
		v, ok := aluImm(f3, inst, ctx.X(rs1), uint64(immI))
		if !ok {
			return arch.Trap{Cause: arch.ExcIllegalInstruction, Stval: uint64(inst)}, true
		}
		ctx.SetX(rd, v)

	case 0x1b: // op-imm-32
		a := uint32(ctx.X(rs1))

		var v uint32
		switch {
		case f3 == 0:
			v = a + uint32(immI)
		case f3 == 1 && f7 == 0:
			v = a << (inst >> 20 & 0x1f)
		case f3 == 5 && f7 == 0:
			v = a >> (inst >> 20 & 0x1f)
		case f3 == 5 && f7 == 0x20:
			v = uint32(int32(a) >> (inst >> 20 & 0x1f))
		default:
			return arch.Trap{Cause: arch.ExcIllegalInstruction, Stval: uint64(inst)}, true
		}

		ctx.SetX(rd, sext32(v))

	case 0x33: // op
		v, ok := aluReg(f3, f7, ctx.X(rs1), ctx.X(rs2))
		if !ok {
			return arch.Trap{Cause: arch.ExcIllegalInstruction, Stval: uint64(inst)}, true
		}
		ctx.SetX(rd, v)

	case 0x3b: // op-32
		a, b := uint32(ctx.X(rs1)), uint32(ctx.X(rs2))

		var v uint32
		switch {
		case f3 == 0 && f7 == 0:
			v = a + b
		case f3 == 0 && f7 == 0x20:
			v = a - b
		case f3 == 0 && f7 == 1:
			v = a * b
		case f3 == 1 && f7 == 0:
			v = a << (b & 0x1f)
		case f3 == 5 && f7 == 0:
			v = a >> (b & 0x1f)
		case f3 == 5 && f7 == 0x20:
			v = uint32(int32(a) >> (b & 0x1f))
		default:
			return arch.Trap{Cause: arch.ExcIllegalInstruction, Stval: uint64(inst)}, true
		}

		ctx.SetX(rd, sext32(v))

	case 0x0f: // fence: nothing to order
	case 0x73: // system
		switch inst >> 20 {
		case 0: // ecall
			return arch.Trap{Cause: arch.ExcUserEcall}, true
		case 1: // ebreak
			return arch.Trap{Cause: arch.ExcBreakpoint, Stval: pc}, true
		default:
			// CSR access is not available to user programs here.
			return arch.Trap{Cause: arch.ExcIllegalInstruction, Stval: uint64(inst)}, true
		}

	default:
		return arch.Trap{Cause: arch.ExcIllegalInstruction, Stval: uint64(inst)}, true
	}

	ctx.Sepc = next
	return arch.Trap{}, false
}

func aluImm(f3, inst uint32, a, imm uint64) (uint64, bool) {
	switch f3 {
	case 0: // addi
		return a + imm, true
	case 1: // slli
		if inst>>26 != 0 {
			return 0, false
		}
		return a << (inst >> 20 & 0x3f), true
	case 2: // slti
		if int64(a) < int64(imm) {
			return 1, true
		}
		return 0, true
	case 3: // sltiu
		if a < imm {
			return 1, true
		}
		return 0, true
	case 4: // xori
		return a ^ imm, true
	case 5: // srli / srai
		sh := inst >> 20 & 0x3f
		switch inst >> 26 {
		case 0:
			return a >> sh, true
		case 0x10:
			return uint64(int64(a) >> sh), true
		}
		return 0, false
	case 6: // ori
		return a | imm, true
	case 7: // andi
		return a & imm, true
	}

	return 0, false
}

func aluReg(f3, f7 uint32, a, b uint64) (uint64, bool) {
	switch f7 {
	case 0:
		switch f3 {
		case 0:
			return a + b, true
		case 1:
			return a << (b & 0x3f), true
		case 2:
			if int64(a) < int64(b) {
				return 1, true
			}
			return 0, true
		case 3:
			if a < b {
				return 1, true
			}
			return 0, true
		case 4:
			return a ^ b, true
		case 5:
			return a >> (b & 0x3f), true
		case 6:
			return a | b, true
		case 7:
			return a & b, true
		}

	case 0x20:
		switch f3 {
		case 0:
			return a - b, true
		case 5:
			return uint64(int64(a) >> (b & 0x3f)), true
		}

	case 1: // M extension
		switch f3 {
		case 0:
			return a * b, true
		case 4:
			if b == 0 {
				return ^uint64(0), true
			}
			return uint64(int64(a) / int64(b)), true
		case 5:
			if b == 0 {
				return ^uint64(0), true
			}
			return a / b, true
		case 6:
			if b == 0 {
				return a, true
			}
			return uint64(int64(a) % int64(b)), true
		case 7:
			if b == 0 {
				return a, true
			}
			return a % b, true
		}
	}

	return 0, false
}
