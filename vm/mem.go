package vm

import (
	"encoding/binary"
	"math"
)

// Memory is a single contiguous byte buffer divided into five fixed
// segments: STACK, RSTACK, CODE, STRING and GLOBAL. STACK, RSTACK and
// GLOBAL additionally share a unified cell-addressed space so that
// DATA_REF and stack cells can both be expressed as one absolute cell
// index.
type Segment int

const (
	SegStack Segment = iota
	SegRStack
	SegCode
	SegString
	SegGlobal
	segCount
)

const (
	CellSize = 4

	StackCapacityCells  = 4096
	RStackCapacityCells = 2048
	GlobalCapacityCells = 8192

	CodeCapacityBytes   = 1 << 16
	StringCapacityBytes = 1 << 16

	// Absolute cell index bases within the unified STACK+RSTACK+GLOBAL region.
	StackBaseCells  = 0
	RStackBaseCells = StackBaseCells + StackCapacityCells
	GlobalBaseCells = RStackBaseCells + RStackCapacityCells
	UnifiedCells    = GlobalBaseCells + GlobalCapacityCells
)

type Memory struct {
	// Single contiguous backing buffer. The unified cell region (stack,
	// rstack, global) lives at the front; code and string segments follow.
	buf []byte

	base [segCount]int
	size [segCount]int
}

func NewMemory() *Memory {
	m := &Memory{}
	unifiedBytes := UnifiedCells * CellSize

	m.base[SegStack] = StackBaseCells * CellSize
	m.size[SegStack] = StackCapacityCells * CellSize

	m.base[SegRStack] = RStackBaseCells * CellSize
	m.size[SegRStack] = RStackCapacityCells * CellSize

	m.base[SegGlobal] = GlobalBaseCells * CellSize
	m.size[SegGlobal] = GlobalCapacityCells * CellSize

	m.base[SegCode] = unifiedBytes
	m.size[SegCode] = CodeCapacityBytes

	m.base[SegString] = unifiedBytes + CodeCapacityBytes
	m.size[SegString] = StringCapacityBytes

	m.buf = make([]byte, unifiedBytes+CodeCapacityBytes+StringCapacityBytes)
	return m
}

func (m *Memory) boundsCheck(seg Segment, offset, width int) error {
	if offset < 0 || offset+width > m.size[seg] {
		return errMemoryAccess
	}
	return nil
}

func (m *Memory) Read8(seg Segment, offset int) (byte, error) {
	if err := m.boundsCheck(seg, offset, 1); err != nil {
		return 0, err
	}
	return m.buf[m.base[seg]+offset], nil
}

func (m *Memory) Write8(seg Segment, offset int, v byte) error {
	if err := m.boundsCheck(seg, offset, 1); err != nil {
		return err
	}
	m.buf[m.base[seg]+offset] = v
	return nil
}

func (m *Memory) Read16(seg Segment, offset int) (uint16, error) {
	if err := m.boundsCheck(seg, offset, 2); err != nil {
		return 0, err
	}
	start := m.base[seg] + offset
	return binary.LittleEndian.Uint16(m.buf[start:]), nil
}

func (m *Memory) Write16(seg Segment, offset int, v uint16) error {
	if err := m.boundsCheck(seg, offset, 2); err != nil {
		return err
	}
	start := m.base[seg] + offset
	binary.LittleEndian.PutUint16(m.buf[start:], v)
	return nil
}

func (m *Memory) ReadFloat32(seg Segment, offset int) (float32, error) {
	if err := m.boundsCheck(seg, offset, 4); err != nil {
		return 0, err
	}
	start := m.base[seg] + offset
	return math.Float32frombits(binary.LittleEndian.Uint32(m.buf[start:])), nil
}

func (m *Memory) WriteFloat32(seg Segment, offset int, v float32) error {
	if err := m.boundsCheck(seg, offset, 4); err != nil {
		return err
	}
	start := m.base[seg] + offset
	binary.LittleEndian.PutUint32(m.buf[start:], math.Float32bits(v))
	return nil
}

// readCell/writeCell address the unified STACK+RSTACK+GLOBAL region at
// cell granularity using an absolute cell index.
func (m *Memory) ReadCell(absCell int) (float32, error) {
	offset := absCell * CellSize
	if offset < 0 || offset+CellSize > UnifiedCells*CellSize {
		return 0, errMemoryAccess
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(m.buf[offset:])), nil
}

func (m *Memory) WriteCell(absCell int, v float32) error {
	offset := absCell * CellSize
	if offset < 0 || offset+CellSize > UnifiedCells*CellSize {
		return errMemoryAccess
	}
	binary.LittleEndian.PutUint32(m.buf[offset:], math.Float32bits(v))
	return nil
}

func (m *Memory) SegmentCapacityCells(seg Segment) int {
	return m.size[seg] / CellSize
}
