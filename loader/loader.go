// Package loader parses the ELF64 images the kernel launches: entry
// point plus loadable segments. Parsed programs are cached so repeated
// exec of the same image skips the parse.
package loader

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

var (
	ErrNotELF    = errors.New("image is not ELF64 little-endian")
	ErrBadImage  = errors.New("malformed ELF image")
	ErrNotRISCV  = errors.New("image is not an executable for RISC-V")
	ErrNoSegment = errors.New("image has no loadable segment")
)

// Segment flag bits, as in the ELF program header.
const (
	FlagX uint32 = 1 << 0
	FlagW uint32 = 1 << 1
	FlagR uint32 = 1 << 2
)

type Segment struct {
	Vaddr   uint64
	MemSize uint64
	Flags   uint32
	Data    []byte
}

type Program struct {
	Entry    uint64
	Segments []Segment
}

const (
	ehdrSize = 64
	phdrSize = 56

	etExec     = 2
	emRISCV    = 243
	ptLoad     = 1
	classELF64 = 2
	dataLE     = 1
)

// Parse extracts the entry point and loadable segments of image.
func Parse(image []byte) (*Program, error) {
	if len(image) < ehdrSize {
		return nil, ErrNotELF
	}

	if image[0] != 0x7f || image[1] != 'E' || image[2] != 'L' || image[3] != 'F' {
		return nil, ErrNotELF
	}

	if image[4] != classELF64 || image[5] != dataLE {
		return nil, ErrNotELF
	}

	le := binary.LittleEndian

	if le.Uint16(image[16:]) != etExec {
		return nil, errors.Wrap(ErrBadImage, "not an executable")
	}

	if le.Uint16(image[18:]) != emRISCV {
		return nil, ErrNotRISCV
	}

	var (
		entry  = le.Uint64(image[24:])
		phoff  = le.Uint64(image[32:])
		phents = uint64(le.Uint16(image[54:]))
		phnum  = uint64(le.Uint16(image[56:]))
	)

	if phents != phdrSize {
		return nil, errors.Wrapf(ErrBadImage, "program header size %d", phents)
	}

	prog := &Program{Entry: entry}

	for i := uint64(0); i < phnum; i++ {
		off := phoff + i*phdrSize
		if off+phdrSize > uint64(len(image)) {
			return nil, errors.Wrap(ErrBadImage, "program header out of bounds")
		}

		ph := image[off:]

		if le.Uint32(ph) != ptLoad {
			continue
		}

		var (
			flags  = le.Uint32(ph[4:])
			foff   = le.Uint64(ph[8:])
			vaddr  = le.Uint64(ph[16:])
			filesz = le.Uint64(ph[32:])
			memsz  = le.Uint64(ph[40:])
		)

		if foff+filesz > uint64(len(image)) {
			return nil, errors.Wrap(ErrBadImage, "segment data out of bounds")
		}

		if memsz < filesz {
			return nil, errors.Wrap(ErrBadImage, "segment memsz < filesz")
		}

		prog.Segments = append(prog.Segments, Segment{
			Vaddr:   vaddr,
			MemSize: memsz,
			Flags:   flags,
			Data:    image[foff : foff+filesz],
		})
	}

	if len(prog.Segments) == 0 {
		return nil, ErrNoSegment
	}

	return prog, nil
}
