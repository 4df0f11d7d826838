package loader_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/klamath-os/klamath/apps"
	"github.com/klamath-os/klamath/loader"
)

func TestParseRegistryImage(t *testing.T) {
	img, ok := apps.Get("hello")
	require.True(t, ok)

	prog, err := loader.Parse(img)
	require.NoError(t, err)

	require.Equal(t, uint64(0x10000), prog.Entry)
	require.NotEmpty(t, prog.Segments)

	text := prog.Segments[0]
	require.Equal(t, uint64(0x10000), text.Vaddr)
	require.NotZero(t, text.Flags&loader.FlagX)
	require.NotEmpty(t, text.Data)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := loader.Parse([]byte("not an elf at all"))
	require.Equal(t, loader.ErrNotELF, errors.Cause(err))

	_, err = loader.Parse(nil)
	require.Equal(t, loader.ErrNotELF, errors.Cause(err))
}

func TestParseRejectsTruncated(t *testing.T) {
	img, ok := apps.Get("hello")
	require.True(t, ok)

	// Keep the ELF header and the first program header, drop the rest
	// of the headers and all segment bytes.
	_, err := loader.Parse(img[:128])
	require.Error(t, err)
}

func TestParseRejectsWrongMachine(t *testing.T) {
	img, ok := apps.Get("hello")
	require.True(t, ok)

	mangled := append([]byte(nil), img...)
	mangled[18] = 0x3e // EM_X86_64

	_, err := loader.Parse(mangled)
	require.Equal(t, loader.ErrNotRISCV, errors.Cause(err))
}

func TestCacheReturnsSameProgram(t *testing.T) {
	img, ok := apps.Get("hello")
	require.True(t, ok)

	c := loader.NewCache(8)

	p1, err := c.Load(img)
	require.NoError(t, err)

	p2, err := c.Load(img)
	require.NoError(t, err)

	require.Same(t, p1, p2)
}

func TestCacheDistinguishesImages(t *testing.T) {
	hello, ok := apps.Get("hello")
	require.True(t, ok)
	seven, ok := apps.Get("seven")
	require.True(t, ok)

	c := loader.NewCache(8)

	p1, err := c.Load(hello)
	require.NoError(t, err)

	p2, err := c.Load(seven)
	require.NoError(t, err)

	require.NotSame(t, p1, p2)
}
