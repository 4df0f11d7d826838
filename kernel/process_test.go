package kernel

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vektra/neko"

	"github.com/klamath-os/klamath/apps"
	"github.com/klamath-os/klamath/arch"
	"github.com/klamath-os/klamath/loader"
	"github.com/klamath-os/klamath/memory"
)

func testResources(t *testing.T) *Resources {
	t.Helper()

	pool := memory.NewFramePool(1024)

	portal, err := pool.Alloc()
	require.NoError(t, err)
	copy(pool.Bytes(portal), arch.PortalCode())

	return &Resources{
		Pids:   NewPidAllocator(),
		Pool:   pool,
		Cache:  loader.NewCache(16),
		Portal: portal,
	}
}

func appImage(t *testing.T, name string) []byte {
	t.Helper()

	img, ok := apps.Get(name)
	require.True(t, ok, name)

	return img
}

func TestProcess(t *testing.T) {
	n := neko.Modern(t)

	n.It("builds a process from an ELF image", func(t *testing.T) {
		res := testResources(t)

		p, err := NewProcessFromELF(res, appImage(t, "hello"))
		require.NoError(t, err)

		require.Equal(t, 0, p.Pid())
		require.Equal(t, uint64(0x10000), p.Ctx.Local.Sepc)
		require.Equal(t, uint64(memory.UserStackTop), p.Ctx.Local.Sp)
		require.True(t, p.Ctx.Local.User)
		require.Equal(t, p.Space.RootFrame(), p.Ctx.Satp.PPN())

		// The portal is mapped at its fixed address.
		_, ok := p.Space.FrameOf(memory.PortalBase)
		require.True(t, ok)

		require.NotZero(t, p.HeapBottom)
		require.Equal(t, p.HeapBottom, p.Brk)
	})

	n.It("leaks nothing when the image is malformed", func(t *testing.T) {
		res := testResources(t)
		before := res.Pool.InUse()

		p, err := NewProcessFromELF(res, []byte("definitely not an elf"))
		require.Error(t, err)
		require.Nil(t, p)

		require.Equal(t, before, res.Pool.InUse())
		require.Equal(t, 0, res.Pids.New().Value())
	})

	n.It("leaks nothing when frames run out mid build", func(t *testing.T) {
		res := testResources(t)
		res.Pool = memory.NewFramePool(4) // too small for stack + tables

		before := res.Pool.InUse()

		_, err := NewProcessFromELF(res, appImage(t, "hello"))
		require.Error(t, err)
		require.Equal(t, before, res.Pool.InUse())
	})

	n.It("exec preserves the pid and replaces the address space", func(t *testing.T) {
		res := testResources(t)

		p, err := NewProcessFromELF(res, appImage(t, "hello"))
		require.NoError(t, err)

		pid := p.Pid()
		oldRoot := p.Space.RootFrame()
		inUse := res.Pool.InUse()

		require.NoError(t, p.Exec(appImage(t, "seven")))

		require.Equal(t, pid, p.Pid())
		require.NotEqual(t, oldRoot, p.Space.RootFrame())
		require.Equal(t, p.Space.RootFrame(), p.Ctx.Satp.PPN())
		require.Equal(t, uint64(0x10000), p.Ctx.Local.Sepc)
		require.Equal(t, uint64(memory.UserStackTop), p.Ctx.Local.Sp)

		// The old image's frames all came back.
		require.LessOrEqual(t, res.Pool.InUse(), inUse)
	})

	n.It("failed exec leaves the caller intact", func(t *testing.T) {
		res := testResources(t)

		p, err := NewProcessFromELF(res, appImage(t, "hello"))
		require.NoError(t, err)

		root := p.Space.RootFrame()

		require.Error(t, p.Exec([]byte("garbage")))

		require.Equal(t, root, p.Space.RootFrame())

		_, err = p.CopyIn(0x10000, 4)
		require.NoError(t, err)
	})

	n.It("fork deep copies the address space", func(t *testing.T) {
		res := testResources(t)

		p, err := NewProcessFromELF(res, appImage(t, "echo3"))
		require.NoError(t, err)

		// Scribble state a fork must carry over.
		require.NoError(t, p.Space.CopyOut(memory.UserStackTop-16, []byte("stackstate")))
		p.Ctx.Local.A[0] = 77
		p.Ctx.Local.S[3] = 0xabcdef

		child, err := p.Fork()
		require.NoError(t, err)

		require.NotEqual(t, p.Pid(), child.Pid())
		require.NotEqual(t, p.Space.RootFrame(), child.Space.RootFrame())

		// Register state is cloned verbatim, satp aside.
		childLocal := child.Ctx.Local
		require.Equal(t, p.Ctx.Local, childLocal)
		require.Equal(t, child.Space.RootFrame(), child.Ctx.Satp.PPN())

		require.Equal(t, p.HeapBottom, child.HeapBottom)
		require.Equal(t, p.Brk, child.Brk)

		// Every user page: same contents, different frames.
		require.Equal(t, p.Space.Pages(), child.Space.Pages())

		for _, vaddr := range p.Space.Pages() {
			pf, _ := p.Space.FrameOf(vaddr)
			cf, _ := child.Space.FrameOf(vaddr)

			if vaddr == memory.PortalBase {
				require.Equal(t, pf, cf)
				continue
			}

			require.NotEqual(t, pf, cf, "page %#x shares a frame", vaddr)

			pb := res.Pool.Bytes(pf)
			cb := res.Pool.Bytes(cf)
			require.Equal(t, pb, cb, "page %#x differs", vaddr)
		}
	})

	n.It("fork reports frame exhaustion without leaking", func(t *testing.T) {
		res := testResources(t)

		p, err := NewProcessFromELF(res, appImage(t, "hello"))
		require.NoError(t, err)

		// Drain the pool so the clone cannot finish.
		var hold []memory.Frame
		for {
			f, err := res.Pool.Alloc()
			if err != nil {
				break
			}
			hold = append(hold, f)
		}

		inUse := res.Pool.InUse()

		child, err := p.Fork()
		require.Error(t, err)
		require.Nil(t, child)
		require.Equal(t, inUse, res.Pool.InUse())
	})

	n.Meow()
}
