package arch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterNumbering(t *testing.T) {
	var c LocalContext

	for i := 1; i < 32; i++ {
		c.SetX(i, uint64(100+i))
	}

	require.Equal(t, uint64(101), c.Ra)
	require.Equal(t, uint64(102), c.Sp)
	require.Equal(t, uint64(103), c.Gp)
	require.Equal(t, uint64(104), c.Tp)
	require.Equal(t, uint64(105), c.T[0])
	require.Equal(t, uint64(108), c.S[0])
	require.Equal(t, uint64(109), c.S[1])
	require.Equal(t, uint64(110), c.A[0])
	require.Equal(t, uint64(117), c.A[7])
	require.Equal(t, uint64(118), c.S[2])
	require.Equal(t, uint64(127), c.S[11])
	require.Equal(t, uint64(128), c.T[3])
	require.Equal(t, uint64(131), c.T[6])

	for i := 1; i < 32; i++ {
		require.Equal(t, uint64(100+i), c.X(i))
	}
}

func TestZeroRegister(t *testing.T) {
	var c LocalContext

	c.SetX(0, 42)
	require.Equal(t, uint64(0), c.X(0))
}

func TestMoveNextMoveBack(t *testing.T) {
	c := NewUserContext(0x10000, 0x8000)

	require.Equal(t, uint64(0x10000), c.Sepc)
	require.Equal(t, uint64(0x8000), c.Sp)
	require.True(t, c.User)

	c.MoveNext()
	require.Equal(t, uint64(0x10004), c.Sepc)

	c.MoveBack()
	require.Equal(t, uint64(0x10000), c.Sepc)
}

func TestSatp(t *testing.T) {
	s := NewSatp(0x80042)

	require.Equal(t, uint64(8), s.Mode())
	require.Equal(t, uint64(0x80042), s.PPN())
}
