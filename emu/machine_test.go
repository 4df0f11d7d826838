package emu_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/klamath-os/klamath/arch"
	"github.com/klamath-os/klamath/device"
	"github.com/klamath-os/klamath/emu"
	"github.com/klamath-os/klamath/memory"
)

// Minimal encoders for the instructions the tests run.

func encI(op, f3 uint32, rd, rs1 uint32, imm int32) uint32 {
	return uint32(imm)<<20 | rs1<<15 | f3<<12 | rd<<7 | op
}

func encS(f3 uint32, rs2, rs1 uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>5&0x7f)<<25 | rs2<<20 | rs1<<15 | f3<<12 | (u&0x1f)<<7 | 0x23
}

func encB(f3 uint32, rs1, rs2 uint32, off int32) uint32 {
	u := uint32(off)
	return (u>>12&1)<<31 | (u>>5&0x3f)<<25 | rs2<<20 | rs1<<15 |
		f3<<12 | (u>>1&0xf)<<8 | (u>>11&1)<<7 | 0x63
}

func addi(rd, rs1 uint32, imm int32) uint32 { return encI(0x13, 0, rd, rs1, imm) }
func lui(rd, imm20 uint32) uint32           { return imm20<<12 | rd<<7 | 0x37 }

const (
	regZero = 0
	regT0   = 5
	regA0   = 10
	regA1   = 11

	ecall = 0x00000073
	jSelf = 0x0000006f // jal x0, 0
)

const codeBase = 0x1000

type oneSpace struct {
	space *memory.AddressSpace
}

func (r oneSpace) SpaceByRoot(ppn uint64) *memory.AddressSpace {
	if r.space.RootFrame() == ppn {
		return r.space
	}

	return nil
}

func run(t *testing.T, words []uint32, quantum uint64) (*arch.LocalContext, arch.Trap) {
	t.Helper()

	pool := memory.NewFramePool(64)

	as, err := memory.NewAddressSpace(pool)
	require.NoError(t, err)

	code := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(code[i*4:], w)
	}

	require.NoError(t, as.MapSegment(codeBase, code, uint64(len(code)), memory.PermR|memory.PermX))
	require.NoError(t, as.MapSegment(0x2000, nil, memory.PageSize, memory.PermR|memory.PermW))

	var timer device.Timer
	timer.Arm(quantum)

	m := emu.New(oneSpace{space: as}, &timer)

	ctx := arch.NewUserContext(codeBase, 0)
	trap := m.Run(&ctx, arch.NewSatp(as.RootFrame()))

	return &ctx, trap
}

func TestEcallStopsAtInstruction(t *testing.T) {
	ctx, trap := run(t, []uint32{
		addi(regA0, regZero, 5),
		ecall,
	}, 1000)

	require.Equal(t, arch.ExcUserEcall, trap.Cause)
	require.Equal(t, uint64(5), ctx.A[0])
	require.Equal(t, uint64(codeBase+4), ctx.Sepc)
}

func TestLoadStoreRoundtrip(t *testing.T) {
	ctx, trap := run(t, []uint32{
		lui(regT0, 2),               // t0 = 0x2000
		addi(regA0, regZero, 1234),
		encS(2, regA0, regT0, 0),    // sw a0, 0(t0)
		encI(0x03, 2, regA1, regT0, 0), // lw a1, 0(t0)
		ecall,
	}, 1000)

	require.Equal(t, arch.ExcUserEcall, trap.Cause)
	require.Equal(t, uint64(1234), ctx.A[1])
}

func TestBranchCountdown(t *testing.T) {
	ctx, trap := run(t, []uint32{
		addi(regA0, regZero, 3),
		addi(regA0, regA0, -1),
		encB(1, regA0, regZero, -4), // bne a0, x0, back one
		ecall,
	}, 1000)

	require.Equal(t, arch.ExcUserEcall, trap.Cause)
	require.Equal(t, uint64(0), ctx.A[0])
}

func TestStorePageFault(t *testing.T) {
	ctx, trap := run(t, []uint32{
		lui(regT0, 0x40000), // far outside any mapping
		encS(3, regZero, regT0, 0),
	}, 1000)

	require.Equal(t, arch.ExcStorePageFault, trap.Cause)
	require.Equal(t, uint64(0x40000000), trap.Stval)
	require.Equal(t, uint64(codeBase+4), ctx.Sepc)
}

func TestLoadPageFault(t *testing.T) {
	_, trap := run(t, []uint32{
		encI(0x03, 3, regA0, regZero, 0), // ld a0, 0(x0)
	}, 1000)

	require.Equal(t, arch.ExcLoadPageFault, trap.Cause)
	require.Equal(t, uint64(0), trap.Stval)
}

func TestInstructionPageFault(t *testing.T) {
	pool := memory.NewFramePool(16)

	as, err := memory.NewAddressSpace(pool)
	require.NoError(t, err)

	var timer device.Timer
	timer.Arm(100)

	m := emu.New(oneSpace{space: as}, &timer)

	ctx := arch.NewUserContext(0x9000, 0)
	trap := m.Run(&ctx, arch.NewSatp(as.RootFrame()))

	require.Equal(t, arch.ExcInstructionPageFault, trap.Cause)
	require.Equal(t, uint64(0x9000), trap.Stval)
}

func TestIllegalInstruction(t *testing.T) {
	_, trap := run(t, []uint32{0xffffffff}, 1000)

	require.Equal(t, arch.ExcIllegalInstruction, trap.Cause)
}

func TestTimerPreemptsLoop(t *testing.T) {
	ctx, trap := run(t, []uint32{jSelf}, 10)

	require.Equal(t, arch.IntSupervisorTimer, trap.Cause)
	require.Equal(t, uint64(codeBase), ctx.Sepc)
}

func TestTimerDisarmedAfterFiring(t *testing.T) {
	var timer device.Timer

	timer.Arm(2)
	require.False(t, timer.Tick())
	require.True(t, timer.Tick())
	require.False(t, timer.Tick())
}
