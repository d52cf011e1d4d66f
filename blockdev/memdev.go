package blockdev

// Mem is a RAM-backed Device with flash-like erase-to-0xFF semantics.
// It backs host tests and the on-target self-test.
type Mem struct {
	geo Geometry
	mem []byte
}

// NewMem allocates a device in the erased state (all bytes 0xFF).
func NewMem(geo Geometry) (*Mem, error) {
	if err := geo.Validate(); err != nil {
		return nil, err
	}
	m := &Mem{geo: geo, mem: make([]byte, geo.Capacity)}
	for i := range m.mem {
		m.mem[i] = 0xFF
	}
	return m, nil
}

func (m *Mem) Geometry() Geometry { return m.geo }

func (m *Mem) ReadCluster(cluster, offset int, buf []byte) error {
	if err := checkSpan(m.geo, cluster, offset, len(buf)); err != nil {
		return err
	}
	addr := cluster*m.geo.ClusterSize() + offset
	copy(buf, m.mem[addr:])
	return nil
}

func (m *Mem) WriteCluster(cluster, offset int, buf []byte) error {
	if err := checkSpan(m.geo, cluster, offset, len(buf)); err != nil {
		return err
	}
	addr := cluster*m.geo.ClusterSize() + offset
	copy(m.mem[addr:], buf)
	return nil
}

func (m *Mem) EraseSector(sector int) error {
	if sector < 0 || sector >= m.geo.SectorCount() {
		return ErrOutOfRange
	}
	base := sector * m.geo.SectorSize
	for i := 0; i < m.geo.SectorSize; i++ {
		m.mem[base+i] = 0xFF
	}
	return nil
}

func (m *Mem) EraseChip() error {
	for i := range m.mem {
		m.mem[i] = 0xFF
	}
	return nil
}

// Snapshot returns a copy of the raw contents, for tests and imaging tools.
func (m *Mem) Snapshot() []byte {
	out := make([]byte, len(m.mem))
	copy(out, m.mem)
	return out
}
