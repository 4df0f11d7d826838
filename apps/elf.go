package apps

import (
	"bytes"
	"encoding/binary"
)

// elfImage wraps assembled text and data into an ELF64 executable for
// RISC-V: one R+X segment for code, one R+W segment for data when
// present. Entry is the start of text.
func elfImage(textBase uint64, text []byte, dataBase uint64, data []byte) []byte {
	const (
		ehdrSize = 64
		phdrSize = 56
		pageSize = 4096

		pfX = 1
		pfW = 2
		pfR = 4
	)

	phnum := 1
	if len(data) > 0 {
		phnum = 2
	}

	textOff := uint64(pageSize)
	dataOff := textOff + pageUp(uint64(len(text)))

	var buf bytes.Buffer
	le := binary.LittleEndian

	// ELF header.
	buf.Write([]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0})
	buf.Write(make([]byte, 8))

	var hdr [48]byte
	le.PutUint16(hdr[0:], 2)              // e_type: ET_EXEC
	le.PutUint16(hdr[2:], 243)            // e_machine: EM_RISCV
	le.PutUint32(hdr[4:], 1)              // e_version
	le.PutUint64(hdr[8:], textBase)       // e_entry
	le.PutUint64(hdr[16:], ehdrSize)      // e_phoff
	le.PutUint64(hdr[24:], 0)             // e_shoff
	le.PutUint32(hdr[32:], 0)             // e_flags
	le.PutUint16(hdr[36:], ehdrSize)      // e_ehsize
	le.PutUint16(hdr[38:], phdrSize)      // e_phentsize
	le.PutUint16(hdr[40:], uint16(phnum)) // e_phnum
	buf.Write(hdr[:])

	phdr := func(flags uint32, off, vaddr, filesz uint64) {
		var ph [phdrSize]byte
		le.PutUint32(ph[0:], 1) // PT_LOAD
		le.PutUint32(ph[4:], flags)
		le.PutUint64(ph[8:], off)
		le.PutUint64(ph[16:], vaddr)
		le.PutUint64(ph[24:], vaddr) // p_paddr
		le.PutUint64(ph[32:], filesz)
		le.PutUint64(ph[40:], filesz) // p_memsz
		le.PutUint64(ph[48:], pageSize)
		buf.Write(ph[:])
	}

	phdr(pfR|pfX, textOff, textBase, uint64(len(text)))
	if phnum == 2 {
		phdr(pfR|pfW, dataOff, dataBase, uint64(len(data)))
	}

	pad := func(to uint64) {
		buf.Write(make([]byte, int(to)-buf.Len()))
	}

	pad(textOff)
	buf.Write(text)

	if phnum == 2 {
		pad(dataOff)
		buf.Write(data)
	}

	return buf.Bytes()
}

func pageUp(v uint64) uint64 {
	const pageSize = 4096
	return (v + pageSize - 1) &^ uint64(pageSize-1)
}
