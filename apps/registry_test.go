package apps

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetKnownApps(t *testing.T) {
	for _, name := range []string{"initproc", "shell", "hello", "seven"} {
		img, ok := Get(name)
		require.True(t, ok, name)
		require.NotEmpty(t, img, name)

		// Every image is a real ELF64 executable.
		require.Equal(t, []byte{0x7f, 'E', 'L', 'F'}, img[:4], name)
	}
}

func TestGetMiss(t *testing.T) {
	img, ok := Get("does_not_exist")
	require.False(t, ok)
	require.Nil(t, img)
}

func TestKeysSortedAndComplete(t *testing.T) {
	keys := Keys()

	require.Len(t, keys, len(table))
	require.True(t, sort.StringsAreSorted(keys))

	seen := make(map[string]bool)
	for _, k := range keys {
		seen[k] = true
	}

	for _, e := range table {
		require.True(t, seen[e.name], e.name)
	}
}

func TestAssemblerBranchResolution(t *testing.T) {
	a := newAsm(userTextBase)

	a.label("top")
	a.li(a0, 1)
	a.beq(a0, zero, "top")
	a.j("end")
	a.li(a0, 2)
	a.label("end")

	text, _ := a.build(userTextBase + 0x1000)
	require.Len(t, text, 16)

	// beq at word 1 targets -4; jal at word 2 targets +8.
	// Offset fields live above the fixed opcode/register bits.
	require.NotZero(t, text[4*1+3]&0x80) // negative branch: imm[12] set
}

func TestAssemblerDataLabels(t *testing.T) {
	a := newAsm(userTextBase)

	a.la(a0, "msg")
	a.ecall()
	a.stringAt("msg", "hi")
	a.spaceAt("buf", 8)

	dataBase := uint64(userTextBase + 0x1000)
	text, data := a.build(dataBase)

	require.Len(t, text, 12) // auipc+addi+ecall
	require.Equal(t, []byte("hi"), data[:2])

	// buf is aligned after the string.
	require.Equal(t, 4, a.dataAt["buf"])
	require.Len(t, data, 12)
}

func TestAssemblerUndefinedLabelPanics(t *testing.T) {
	a := newAsm(userTextBase)
	a.j("nowhere")

	require.Panics(t, func() {
		a.build(userTextBase + 0x1000)
	})
}
