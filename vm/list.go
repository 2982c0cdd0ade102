package vm

import "fmt"

// Lists are reverse, stack-native: a LIST occupies slots+1 contiguous cells
// with the header (tag LIST, value=slots) at the highest address (TOS),
// payload cells below it, laid down first as the list is built.
//
// Construction (openList/closeList) is implemented by remembering the data
// stack's SP on open and pushing the header on close, rather than patching
// a placeholder header in place -- this is the only construction order
// that keeps the header at TOS at every point after closeList. See
// DESIGN.md "List construction order" for the full reasoning.
//
// Traversal within a span must start at the header and walk toward lower
// addresses: only the header carries the slot count needed to skip a
// nested list's payload, so a low-to-high scan cannot identify spans
// without already knowing where they end. elementAddress/getAt therefore
// index logical elements starting from the one nearest the header (index 0
// = most recently pushed), not the deepest one. See DESIGN.md for why this
// reading was chosen.

// Span returns 1 for a simple cell, and 1+slotCount for a LIST/RLIST
// header.
func Span(cell float32) int {
	tv := FromTaggedValue(cell)
	if tv.Tag == TagList || tv.Tag == TagRList {
		return 1 + int(tv.Value)
	}
	return 1
}

// ElementAddress walks payload cells starting just below headerAbsCell,
// advancing by Span each step, to find the absolute cell address of the
// index-th logical element. Returns -1 if index is out of range. For a
// compound (nested-list) element the returned address is that nested
// list's own header cell.
func ElementAddress(mem *Memory, headerAbsCell, index int) (int, error) {
	header, err := mem.ReadCell(headerAbsCell)
	if err != nil {
		return -1, err
	}
	total := int(FromTaggedValue(header).Value)
	if index < 0 {
		return -1, nil
	}

	pos := headerAbsCell - 1
	floor := headerAbsCell - total
	for i := 0; i < index; i++ {
		if pos < floor {
			return -1, nil
		}
		v, err := mem.ReadCell(pos)
		if err != nil {
			return -1, err
		}
		pos -= Span(v)
	}
	if pos < floor {
		return -1, nil
	}
	return pos, nil
}

// listNode is an in-memory (non-stack) materialization of a list used to
// implement broadcasting and construction without juggling raw stack
// offsets for recursive cases.
type listNode struct {
	isList bool
	scalar float32
	// items is in logical index order: items[0] is nearest the header
	// (last physically pushed).
	items []listNode
}

func (n listNode) slotCells() int {
	if !n.isList {
		return 1
	}
	total := 0
	for _, it := range n.items {
		total += it.slotCells()
		if it.isList {
			total++ // the nested list's own header cell
		}
	}
	return total
}

// readNode materializes the list (or scalar) at cellAddr into a listNode
// tree.
func readNode(mem *Memory, cellAddr int) (listNode, error) {
	v, err := mem.ReadCell(cellAddr)
	if err != nil {
		return listNode{}, err
	}
	tv := FromTaggedValue(v)
	if tv.Tag != TagList && tv.Tag != TagRList {
		return listNode{scalar: v}, nil
	}

	total := int(tv.Value)
	pos := cellAddr - 1
	floor := cellAddr - total
	var items []listNode
	for pos >= floor {
		item, err := readNode(mem, pos)
		if err != nil {
			return listNode{}, err
		}
		items = append(items, item)
		pos -= item.slotCells()
		if item.isList {
			pos-- // skip the nested list's header as well as its payload
		}
	}
	return listNode{isList: true, items: items}, nil
}

// pushNode writes a listNode back onto the data stack following the
// forward-construction convention: for a list, items are pushed from
// last-logical-index to first (so items[0] ends up nearest the header),
// then the header itself.
func pushNode(ds *Stack, n listNode) error {
	if !n.isList {
		return ds.Push(n.scalar)
	}
	for i := len(n.items) - 1; i >= 0; i-- {
		if err := pushNode(ds, n.items[i]); err != nil {
			return err
		}
	}
	return ds.Push(MakeList(uint16(n.slotCells())))
}

// OpenList begins list construction: remember the current SP.
func (vm *VM) OpenList() {
	vm.listMarks = append(vm.listMarks, vm.ds.SP())
	vm.listDepth++
}

// CloseList finishes list construction: compute slots from the remembered
// SP and push the header.
func (vm *VM) CloseList() error {
	if len(vm.listMarks) == 0 {
		return fmt.Errorf("%w: unmatched list close", errSyntaxError)
	}
	mark := vm.listMarks[len(vm.listMarks)-1]
	vm.listMarks = vm.listMarks[:len(vm.listMarks)-1]
	vm.listDepth--

	slots := vm.ds.SP() - mark
	return vm.ds.Push(MakeList(uint16(slots)))
}

func toIndex(v float32) (int, bool) {
	tv := FromTaggedValue(v)
	if tv.Tag == TagNumber {
		return int(v), true
	}
	if tv.Tag == TagInteger {
		return int(int16(tv.Value)), true
	}
	return 0, false
}

// GetAt implements "(list i — value|NIL)".
func (vm *VM) GetAt() error {
	if err := vm.ds.EnsureSize(2, "getAt"); err != nil {
		return err
	}
	iv, err := vm.ds.Pop()
	if err != nil {
		return err
	}
	idx, ok := toIndex(iv)
	if !ok {
		return fmt.Errorf("%w: getAt index must be numeric", errTypeError)
	}

	headerAddr := vm.ds.SP() - 1
	header, err := vm.ds.mem.ReadCell(headerAddr)
	if err != nil {
		return err
	}
	tv := FromTaggedValue(header)
	if tv.Tag != TagList && tv.Tag != TagRList {
		return fmt.Errorf("%w: getAt requires a list", errTypeError)
	}

	addr, err := ElementAddress(vm.ds.mem, headerAddr, idx)
	if err != nil {
		return err
	}

	result := NIL()
	if addr >= 0 {
		result, err = vm.ds.mem.ReadCell(addr)
		if err != nil {
			return err
		}
	}

	if err := vm.ds.DropList(); err != nil {
		return err
	}
	return vm.ds.Push(result)
}

// SetAt implements "(list i value — list')". A compound target slot is
// refused: NIL is pushed on top and the list is left unchanged, which is
// the one place list mutation is asymmetric in stack arity between its
// success and failure paths.
func (vm *VM) SetAt() error {
	if err := vm.ds.EnsureSize(3, "setAt"); err != nil {
		return err
	}
	value, err := vm.ds.Pop()
	if err != nil {
		return err
	}
	iv, err := vm.ds.Pop()
	if err != nil {
		return err
	}
	idx, ok := toIndex(iv)
	if !ok {
		return fmt.Errorf("%w: setAt index must be numeric", errTypeError)
	}

	headerAddr := vm.ds.SP() - 1
	header, err := vm.ds.mem.ReadCell(headerAddr)
	if err != nil {
		return err
	}
	if tv := FromTaggedValue(header); tv.Tag != TagList && tv.Tag != TagRList {
		return fmt.Errorf("%w: setAt requires a list", errTypeError)
	}

	addr, err := ElementAddress(vm.ds.mem, headerAddr, idx)
	if err != nil {
		return err
	}
	if addr < 0 || Span(mustReadCell(vm.ds.mem, addr)) > 1 {
		return vm.ds.Push(NIL())
	}

	return vm.ds.mem.WriteCell(addr, value)
}

func mustReadCell(mem *Memory, addr int) float32 {
	v, _ := mem.ReadCell(addr)
	return v
}

// Prepend implements "(value list — list')" in O(1): the value already
// sits exactly where the new deepest payload cell needs to be (directly
// below the old list), so only the header needs replacing.
func (vm *VM) Prepend() error {
	if err := vm.ds.EnsureSize(2, "prepend"); err != nil {
		return err
	}
	header, err := vm.ds.Pop()
	if err != nil {
		return err
	}
	tv := FromTaggedValue(header)
	if tv.Tag != TagList && tv.Tag != TagRList {
		return fmt.Errorf("%w: prepend requires a list", errTypeError)
	}
	if err := vm.ds.EnsureSize(int(tv.Value)+1, "prepend"); err != nil {
		return err
	}
	return vm.ds.Push(MakeList(tv.Value + 1))
}

// Append implements "(value list — list')" in O(slots): shift the payload
// down by one cell to close the gap left by moving value up next to the
// header.
func (vm *VM) Append() error {
	if err := vm.ds.EnsureSize(2, "append"); err != nil {
		return err
	}
	header, err := vm.ds.Pop()
	if err != nil {
		return err
	}
	tv := FromTaggedValue(header)
	if tv.Tag != TagList && tv.Tag != TagRList {
		return fmt.Errorf("%w: append requires a list", errTypeError)
	}
	n := int(tv.Value)
	if err := vm.ds.EnsureSize(n+1, "append"); err != nil {
		return err
	}

	top := vm.ds.SP() - 1 // after popping header, TOS is the shallowest payload cell (or value, if n==0)
	base := top - n       // absolute index where value currently sits

	value, err := vm.ds.mem.ReadCell(base)
	if err != nil {
		return err
	}
	for i := 1; i <= n; i++ {
		v, err := vm.ds.mem.ReadCell(base + i)
		if err != nil {
			return err
		}
		if err := vm.ds.mem.WriteCell(base+i-1, v); err != nil {
			return err
		}
	}
	if err := vm.ds.mem.WriteCell(base+n, value); err != nil {
		return err
	}

	return vm.ds.Push(MakeList(uint16(n + 1)))
}
