package vm

const pageSize = 65536

// memory is a bounds-checked linear memory, grown in 64KiB pages up to an
// optional maximum.
type memory struct {
	data     []byte
	maxPages uint32
	hasMax   bool
}

func newMemory(minPages, maxPages uint32, hasMax bool) *memory {
	return &memory{data: make([]byte, int(minPages)*pageSize), maxPages: maxPages, hasMax: hasMax}
}

func (m *memory) pages() uint32 { return uint32(len(m.data) / pageSize) }

// grow adds delta pages and returns the previous page count, or -1 if the
// growth would exceed the declared maximum (or the implementation's own
// ceiling of 65536 pages, i.e. the full 32-bit address space).
func (m *memory) grow(delta uint32) int32 {
	prev := m.pages()
	next := prev + delta
	if next < prev {
		return -1
	}
	if m.hasMax && next > m.maxPages {
		return -1
	}
	if next > 65536 {
		return -1
	}
	m.data = append(m.data, make([]byte, int(delta)*pageSize)...)
	return int32(prev)
}

func (m *memory) bounds(offset uint32, addr uint32, width uint32) (int, error) {
	ea := uint64(offset) + uint64(addr)
	end := ea + uint64(width)
	if end > uint64(len(m.data)) {
		return 0, trap(ErrOutOfBoundsMemoryAccess)
	}
	return int(ea), nil
}

func (m *memory) load(offset, addr, width uint32) ([]byte, error) {
	start, err := m.bounds(offset, addr, width)
	if err != nil {
		return nil, err
	}
	return m.data[start : start+int(width)], nil
}

func (m *memory) store(offset, addr uint32, b []byte) error {
	start, err := m.bounds(offset, addr, uint32(len(b)))
	if err != nil {
		return err
	}
	copy(m.data[start:], b)
	return nil
}
