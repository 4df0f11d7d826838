package ilist

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type elem struct {
	Entry

	v int
}

func TestListFIFO(t *testing.T) {
	var l List

	a, b, c := &elem{v: 1}, &elem{v: 2}, &elem{v: 3}

	l.PushBack(a)
	l.PushBack(b)
	l.PushBack(c)

	require.Equal(t, 3, l.Len())
	require.Equal(t, 1, l.PopFront().(*elem).v)
	require.Equal(t, 2, l.PopFront().(*elem).v)
	require.Equal(t, 3, l.PopFront().(*elem).v)
	require.Nil(t, l.PopFront())
	require.True(t, l.Empty())
}

func TestListRemoveMiddle(t *testing.T) {
	var l List

	a, b, c := &elem{v: 1}, &elem{v: 2}, &elem{v: 3}

	l.PushBack(a)
	l.PushBack(b)
	l.PushBack(c)

	l.Remove(b)

	require.Equal(t, 2, l.Len())
	require.Equal(t, 1, l.PopFront().(*elem).v)
	require.Equal(t, 3, l.PopFront().(*elem).v)
}

func TestListReuseAfterRemove(t *testing.T) {
	var l List

	a := &elem{v: 1}

	l.PushBack(a)
	l.Remove(a)
	l.PushBack(a)

	require.Equal(t, 1, l.Len())
}

func TestListDoubleEnqueuePanics(t *testing.T) {
	var l List

	a := &elem{v: 1}
	l.PushBack(a)

	require.Panics(t, func() {
		l.PushBack(a)
	})
}
