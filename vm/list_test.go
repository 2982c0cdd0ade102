package vm

import "testing"

func TestOpenCloseListSlotCount(t *testing.T) {
	m := NewVM(false)
	m.OpenList()
	assert(t, m.ds.Push(MakeInteger(1)) == nil, "push failed")
	assert(t, m.ds.Push(MakeInteger(2)) == nil, "push failed")
	assert(t, m.ds.Push(MakeInteger(3)) == nil, "push failed")
	assert(t, m.CloseList() == nil, "CloseList failed")

	assert(t, m.ds.Depth() == 4, "expected 3 payload cells + 1 header, got depth %d", m.ds.Depth())
	header, err := m.ds.Peek()
	assert(t, err == nil, "peek failed: %v", err)
	tv := FromTaggedValue(header)
	assert(t, tv.Tag == TagList, "expected LIST header, got %s", tv.Tag)
	assert(t, tv.Value == 3, "expected 3 slots, got %d", tv.Value)
}

func TestSpanSkipsCompoundElement(t *testing.T) {
	assert(t, Span(MakeInteger(5)) == 1, "a scalar should have span 1")
	assert(t, Span(MakeList(4)) == 5, "a LIST(4) header should have span 5 (header + 4 payload)")
}

func TestElementAddressFlatList(t *testing.T) {
	m := NewVM(false)
	m.OpenList()
	assert(t, m.ds.Push(MakeInteger(10)) == nil, "push failed")
	assert(t, m.ds.Push(MakeInteger(20)) == nil, "push failed")
	assert(t, m.ds.Push(MakeInteger(30)) == nil, "push failed")
	assert(t, m.CloseList() == nil, "CloseList failed")

	headerAbsCell := m.ds.SP() - 1
	addr, err := ElementAddress(m.mem, headerAbsCell, 0)
	assert(t, err == nil, "ElementAddress failed: %v", err)
	v, err := m.mem.ReadCell(addr)
	assert(t, err == nil && AsInteger(v) == 30, "index 0 (nearest header) should be 30, got %v", v)

	addr, err = ElementAddress(m.mem, headerAbsCell, 2)
	assert(t, err == nil, "ElementAddress failed: %v", err)
	v, err = m.mem.ReadCell(addr)
	assert(t, err == nil && AsInteger(v) == 10, "index 2 (deepest) should be 10, got %v", v)

	addr, err = ElementAddress(m.mem, headerAbsCell, 5)
	assert(t, err == nil, "out-of-range ElementAddress should not error")
	assert(t, addr == -1, "out-of-range index should return -1, got %d", addr)
}

func TestGetAtInRangeAndOutOfRange(t *testing.T) {
	m := NewVM(false)
	m.OpenList()
	assert(t, m.ds.Push(MakeInteger(10)) == nil, "push failed")
	assert(t, m.ds.Push(MakeInteger(20)) == nil, "push failed")
	assert(t, m.ds.Push(MakeInteger(30)) == nil, "push failed")
	assert(t, m.CloseList() == nil, "CloseList failed")

	assert(t, m.ds.Push(MakeInteger(1)) == nil, "push index failed")
	assert(t, m.GetAt() == nil, "GetAt failed")
	v, err := m.ds.Peek()
	assert(t, err == nil && AsInteger(v) == 20, "expected 20 at index 1, got %v", v)

	assert(t, m.ds.DropList() == nil, "drop failed")
	m.OpenList()
	assert(t, m.ds.Push(MakeInteger(10)) == nil, "push failed")
	assert(t, m.ds.Push(MakeInteger(20)) == nil, "push failed")
	assert(t, m.ds.Push(MakeInteger(30)) == nil, "push failed")
	assert(t, m.CloseList() == nil, "CloseList failed")
	assert(t, m.ds.Push(MakeInteger(99)) == nil, "push index failed")
	assert(t, m.GetAt() == nil, "GetAt failed")
	v, err = m.ds.Peek()
	assert(t, err == nil && IsNIL(v), "expected NIL for an out-of-range index, got %v", v)
}
