package arch

import "encoding/binary"

// PortalCode is the content of the trap portal page mapped at the same
// virtual address in every address space. The hosted hart reenters the
// kernel directly, so only the tail of the real save/restore sequence
// is materialized: a fence and the sret that reenters user mode.
func PortalCode() []byte {
	words := []uint32{
		0x0ff0000f, // fence
		0x10200073, // sret
	}

	out := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}

	return out
}
