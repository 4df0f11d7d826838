package memory

import (
	"sort"

	"github.com/pkg/errors"
)

var (
	ErrBadAddress = errors.New("address not mapped with required permission")
	ErrOverlap    = errors.New("mapping overlaps an existing page")
	ErrUnaligned  = errors.New("mapping base is not page aligned")
)

type mapping struct {
	frame Frame
	perm  Perm

	// owned marks frames the space must return to the pool on release.
	// The portal frame is shared by every space and owned by none.
	owned bool
}

// AddressSpace is one Sv39 address space: a three-level page table over
// pool frames plus the bookkeeping needed to clone and release it.
type AddressSpace struct {
	pool *FramePool
	root Frame

	// tables holds the root and every intermediate table frame.
	tables []Frame

	// pages maps virtual page base -> mapping for every leaf.
	pages map[uint64]mapping
}

func NewAddressSpace(pool *FramePool) (*AddressSpace, error) {
	root, err := pool.Alloc()
	if err != nil {
		return nil, errors.Wrap(err, "allocating root page table")
	}

	return &AddressSpace{
		pool:   pool,
		root:   root,
		tables: []Frame{root},
		pages:  make(map[uint64]mapping),
	}, nil
}

// RootFrame is the physical frame number satp encodes.
func (as *AddressSpace) RootFrame() uint64 {
	return uint64(as.root)
}

// walk returns the page holding the leaf PTE for vaddr and its index,
// creating intermediate tables when create is set.
func (as *AddressSpace) walk(vaddr uint64, create bool) ([]byte, int, error) {
	table := as.root

	for level := 2; level > 0; level-- {
		page := as.pool.Bytes(table)
		idx := vpn(vaddr, level)

		e := loadPTE(page, idx)
		if !e.valid() {
			if !create {
				return nil, 0, ErrBadAddress
			}

			next, err := as.pool.Alloc()
			if err != nil {
				return nil, 0, errors.Wrap(err, "allocating page table")
			}

			as.tables = append(as.tables, next)
			storePTE(page, idx, newPTE(next, 0))
			table = next
			continue
		}

		if e.leaf() {
			// Sv39 superpages are not used here.
			return nil, 0, ErrBadAddress
		}

		table = e.frame()
	}

	return as.pool.Bytes(table), vpn(vaddr, 0), nil
}

func (as *AddressSpace) mapPage(vaddr uint64, frame Frame, perm Perm, owned bool) error {
	if vaddr%PageSize != 0 {
		return ErrUnaligned
	}

	if _, ok := as.pages[vaddr]; ok {
		return errors.Wrapf(ErrOverlap, "page %#x", vaddr)
	}

	page, idx, err := as.walk(vaddr, true)
	if err != nil {
		return err
	}

	if loadPTE(page, idx).valid() {
		return errors.Wrapf(ErrOverlap, "page %#x", vaddr)
	}

	storePTE(page, idx, newPTE(frame, perm))
	as.pages[vaddr] = mapping{frame: frame, perm: perm, owned: owned}

	return nil
}

// MapSegment maps a loadable segment: memSize bytes at vaddr, the first
// len(data) loaded from data and the tail zero filled. The user bit is
// implied.
func (as *AddressSpace) MapSegment(vaddr uint64, data []byte, memSize uint64, perm Perm) error {
	if vaddr%PageSize != 0 {
		return ErrUnaligned
	}

	if uint64(len(data)) > memSize {
		memSize = uint64(len(data))
	}

	for off := uint64(0); off < memSize; off += PageSize {
		frame, err := as.pool.Alloc()
		if err != nil {
			return errors.Wrapf(err, "segment page %#x", vaddr+off)
		}

		if off < uint64(len(data)) {
			copy(as.pool.Bytes(frame), data[off:])
		}

		if err := as.mapPage(vaddr+off, frame, perm|PermU, true); err != nil {
			as.pool.Free(frame)
			return err
		}
	}

	return nil
}

// MapUserStack maps the fixed-size user stack just under the portal and
// returns the initial stack pointer.
func (as *AddressSpace) MapUserStack() (uint64, error) {
	base := uint64(UserStackTop - UserStackPages*PageSize)

	for off := uint64(0); off < UserStackPages*PageSize; off += PageSize {
		frame, err := as.pool.Alloc()
		if err != nil {
			return 0, errors.Wrap(err, "user stack")
		}

		if err := as.mapPage(base+off, frame, PermR|PermW|PermU, true); err != nil {
			as.pool.Free(frame)
			return 0, err
		}
	}

	return UserStackTop, nil
}

// MapPortal maps the shared trap portal page at PortalBase. The frame is
// common to every address space and is not owned by any of them.
func (as *AddressSpace) MapPortal(frame Frame) error {
	return as.mapPage(PortalBase, frame, PermR|PermX, false)
}

// view returns the kernel view of the page containing vaddr, from vaddr
// to at most the page end, after a permission-checked walk.
func (as *AddressSpace) view(vaddr uint64, perm Perm) ([]byte, error) {
	page, idx, err := as.walk(vaddr, false)
	if err != nil {
		return nil, errors.Wrapf(err, "address %#x", vaddr)
	}

	e := loadPTE(page, idx)
	if !e.valid() || e.perm()&perm != perm {
		return nil, errors.Wrapf(ErrBadAddress, "address %#x perm %#x", vaddr, uint64(perm))
	}

	off := vaddr % PageSize
	return as.pool.Bytes(e.frame())[off:], nil
}

// Translate returns a kernel pointer to n bytes at vaddr, mapped with
// the required permission. The span must not cross a page boundary;
// use CopyIn/CopyOut for arbitrary spans.
func (as *AddressSpace) Translate(vaddr uint64, n int, perm Perm) ([]byte, error) {
	b, err := as.view(vaddr, perm)
	if err != nil {
		return nil, err
	}

	if n > len(b) {
		return nil, errors.Wrapf(ErrBadAddress, "span %#x+%d crosses page", vaddr, n)
	}

	return b[:n], nil
}

// CopyIn reads n bytes of user memory at vaddr, assembling across pages.
func (as *AddressSpace) CopyIn(vaddr uint64, n int, perm Perm) ([]byte, error) {
	out := make([]byte, 0, n)

	for n > 0 {
		b, err := as.view(vaddr, perm)
		if err != nil {
			return nil, err
		}

		take := n
		if take > len(b) {
			take = len(b)
		}

		out = append(out, b[:take]...)
		vaddr += uint64(take)
		n -= take
	}

	return out, nil
}

// CopyOut writes data to user memory at vaddr. The pages must be mapped
// user writable.
func (as *AddressSpace) CopyOut(vaddr uint64, data []byte) error {
	for len(data) > 0 {
		b, err := as.view(vaddr, PermW|PermU)
		if err != nil {
			return err
		}

		n := copy(b, data)
		data = data[n:]
		vaddr += uint64(n)
	}

	return nil
}

// FrameOf reports the physical frame backing vaddr's page.
func (as *AddressSpace) FrameOf(vaddr uint64) (Frame, bool) {
	m, ok := as.pages[pageDown(vaddr)]
	return m.frame, ok
}

// Pages returns every mapped virtual page base in ascending order.
func (as *AddressSpace) Pages() []uint64 {
	out := make([]uint64, 0, len(as.pages))
	for v := range as.pages {
		out = append(out, v)
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CloneInto deep copies every mapping into dst: owned pages get fresh
// frames with their contents copied byte for byte, the portal is mapped
// shared. dst must be empty.
func (as *AddressSpace) CloneInto(dst *AddressSpace) error {
	for _, vaddr := range as.Pages() {
		m := as.pages[vaddr]

		if !m.owned {
			if err := dst.mapPage(vaddr, m.frame, m.perm, false); err != nil {
				return err
			}
			continue
		}

		frame, err := dst.pool.Alloc()
		if err != nil {
			return errors.Wrapf(err, "cloning page %#x", vaddr)
		}

		copy(dst.pool.Bytes(frame), as.pool.Bytes(m.frame))

		if err := dst.mapPage(vaddr, frame, m.perm, true); err != nil {
			dst.pool.Free(frame)
			return err
		}
	}

	return nil
}

// Release returns every owned frame and page table to the pool.
// Safe to call twice.
func (as *AddressSpace) Release() {
	if as.root == 0 {
		return
	}

	for _, m := range as.pages {
		if m.owned {
			as.pool.Free(m.frame)
		}
	}

	for _, t := range as.tables {
		as.pool.Free(t)
	}

	as.root = 0
	as.tables = nil
	as.pages = nil
}
