package arch

// Satp is the Sv39 address-translation control register: mode in the
// top four bits, root page-table physical frame number in the low 44.
type Satp uint64

const (
	satpModeSv39 = 8
	satpPPNMask  = (1 << 44) - 1
)

// NewSatp composes an Sv39 satp for the given root frame number.
func NewSatp(rootPPN uint64) Satp {
	return Satp(satpModeSv39<<60 | (rootPPN & satpPPNMask))
}

func (s Satp) PPN() uint64 {
	return uint64(s) & satpPPNMask
}

func (s Satp) Mode() uint64 {
	return uint64(s) >> 60
}
