package memory

import "github.com/pkg/errors"

// Frame is a physical frame number.
type Frame uint64

// frameBase is the first frame number handed out, matching a physical
// memory window that starts at 0x80000000.
const frameBase Frame = 0x80000

var ErrOutOfFrames = errors.New("out of physical frames")

// FramePool allocates 4 KiB frames from a fixed budget. Freed frames go
// on a free list and are reused before the watermark advances.
type FramePool struct {
	limit int
	next  Frame
	free  []Frame
	mem   map[Frame][]byte
}

func NewFramePool(frames int) *FramePool {
	return &FramePool{
		limit: frames,
		next:  frameBase,
		mem:   make(map[Frame][]byte),
	}
}

// Alloc returns a zeroed frame.
func (p *FramePool) Alloc() (Frame, error) {
	if n := len(p.free); n > 0 {
		f := p.free[n-1]
		p.free = p.free[:n-1]

		clear(p.mem[f])
		return f, nil
	}

	if len(p.mem) >= p.limit {
		return 0, ErrOutOfFrames
	}

	f := p.next
	p.next++
	p.mem[f] = make([]byte, PageSize)

	return f, nil
}

func (p *FramePool) Free(f Frame) {
	if _, ok := p.mem[f]; !ok {
		panic("memory: freeing frame not owned by pool")
	}

	for _, g := range p.free {
		if g == f {
			panic("memory: double free of frame")
		}
	}

	p.free = append(p.free, f)
}

// Bytes is the backing page of f.
func (p *FramePool) Bytes(f Frame) []byte {
	b, ok := p.mem[f]
	if !ok {
		panic("memory: access to unallocated frame")
	}

	return b
}

// InUse reports how many frames are allocated and not on the free list.
func (p *FramePool) InUse() int {
	return len(p.mem) - len(p.free)
}
