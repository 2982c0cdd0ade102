package vm

import (
	"fmt"
	"math"
)

// broadcasting: arithmetic/comparison builtins are lifted to lists by two
// generic helpers. Rather than walking raw stack offsets for the binary
// recursive case (which needs to align two independently shaped trees),
// operands are first read into a listNode tree (list.go), combined in
// ordinary Go recursion, then written back with pushNode. This produces
// a duplicate-and-transform contract for unary ops and a fresh-output
// contract for binary ops, without hand-rolling the cell-shuffling twice.

func popNode(vm *VM) (listNode, error) {
	tos, err := vm.ds.Peek()
	if err != nil {
		return listNode{}, err
	}
	if !IsList(tos) {
		v, err := vm.ds.Pop()
		if err != nil {
			return listNode{}, err
		}
		return listNode{scalar: v}, nil
	}
	headerAddr := vm.ds.SP() - 1
	node, err := readNode(vm.mem, headerAddr)
	if err != nil {
		return listNode{}, err
	}
	if err := vm.ds.DropList(); err != nil {
		return listNode{}, err
	}
	return node, nil
}

func requireNumber(v float32) error {
	if !IsNumber(v) {
		return fmt.Errorf("%w: expected a number, got %s", errTypeError, FromTaggedValue(v).Tag)
	}
	return nil
}

func transformNode(n listNode, f func(float32) float32) (listNode, error) {
	if !n.isList {
		if err := requireNumber(n.scalar); err != nil {
			return listNode{}, err
		}
		return listNode{scalar: f(n.scalar)}, nil
	}
	items := make([]listNode, len(n.items))
	for i, it := range n.items {
		transformed, err := transformNode(it, f)
		if err != nil {
			return listNode{}, err
		}
		items[i] = transformed
	}
	return listNode{isList: true, items: items}, nil
}

func broadcastBinary(a, b listNode, f func(x, y float32) float32) (listNode, error) {
	if !a.isList && !b.isList {
		if err := requireNumber(a.scalar); err != nil {
			return listNode{}, err
		}
		if err := requireNumber(b.scalar); err != nil {
			return listNode{}, err
		}
		return listNode{scalar: f(a.scalar, b.scalar)}, nil
	}
	if a.isList && b.isList {
		m, n := len(a.items), len(b.items)
		if m == 0 || n == 0 {
			return listNode{isList: true}, nil
		}
		length := m
		if n > length {
			length = n
		}
		items := make([]listNode, length)
		for i := 0; i < length; i++ {
			combined, err := broadcastBinary(a.items[i%m], b.items[i%n], f)
			if err != nil {
				return listNode{}, err
			}
			items[i] = combined
		}
		return listNode{isList: true, items: items}, nil
	}
	if a.isList {
		if len(a.items) == 0 {
			return listNode{isList: true}, nil
		}
		items := make([]listNode, len(a.items))
		for i, it := range a.items {
			combined, err := broadcastBinary(it, b, f)
			if err != nil {
				return listNode{}, err
			}
			items[i] = combined
		}
		return listNode{isList: true, items: items}, nil
	}
	if len(b.items) == 0 {
		return listNode{isList: true}, nil
	}
	items := make([]listNode, len(b.items))
	for i, it := range b.items {
		combined, err := broadcastBinary(a, it, f)
		if err != nil {
			return listNode{}, err
		}
		items[i] = combined
	}
	return listNode{isList: true, items: items}, nil
}

func unaryArithOp(f func(float32) float32) func(*VM) error {
	return func(vm *VM) error {
		n, err := popNode(vm)
		if err != nil {
			return err
		}
		transformed, err := transformNode(n, f)
		if err != nil {
			return err
		}
		return pushNode(vm.ds, transformed)
	}
}

func binaryArithOp(f func(x, y float32) float32) func(*VM) error {
	return func(vm *VM) error {
		b, err := popNode(vm)
		if err != nil {
			return err
		}
		a, err := popNode(vm)
		if err != nil {
			return err
		}
		result, err := broadcastBinary(a, b, f)
		if err != nil {
			return err
		}
		return pushNode(vm.ds, result)
	}
}

func boolF(cmp func(a, b float32) bool) func(a, b float32) float32 {
	return func(a, b float32) float32 {
		if cmp(a, b) {
			return 1
		}
		return 0
	}
}

func addF(a, b float32) float32 { return a + b }
func subF(a, b float32) float32 { return a - b }
func mulF(a, b float32) float32 { return a * b }
func divF(a, b float32) float32 { return a / b }
func modF(a, b float32) float32 { return float32(math.Mod(float64(a), float64(b))) }
func minF(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}
func maxF(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
func powF(a, b float32) float32 { return float32(math.Pow(float64(a), float64(b))) }

func absF(a float32) float32   { return float32(math.Abs(float64(a))) }
func negF(a float32) float32   { return -a }
func expF(a float32) float32   { return float32(math.Exp(float64(a))) }
func lnF(a float32) float32    { return float32(math.Log(float64(a))) }
func logF(a float32) float32   { return float32(math.Log10(float64(a))) }
func sqrtF(a float32) float32  { return float32(math.Sqrt(float64(a))) }
func recipF(a float32) float32 { return 1 / a }
func floorF(a float32) float32 { return float32(math.Floor(float64(a))) }

func signF(a float32) float32 {
	switch {
	case a > 0:
		return 1
	case a < 0:
		return -1
	default:
		return 0
	}
}

func notF(a float32) float32 {
	if a == 0 {
		return 1
	}
	return 0
}

// Stack operations, all list-aware: duplicating, swapping, or picking the
// "top element" treats a whole list as one unit via Span.

func (vm *VM) opDup() error {
	tos, err := vm.ds.Peek()
	if err != nil {
		return err
	}
	if !IsList(tos) {
		return vm.ds.Push(tos)
	}
	headerAddr := vm.ds.SP() - 1
	n := int(FromTaggedValue(tos).Value)
	if err := vm.ds.EnsureSize(n+1, "dup"); err != nil {
		return err
	}
	for i := 0; i <= n; i++ {
		v, err := vm.mem.ReadCell(headerAddr - n + i)
		if err != nil {
			return err
		}
		if err := vm.ds.Push(v); err != nil {
			return err
		}
	}
	return nil
}

func (vm *VM) opSwap() error {
	a, err := popNode(vm)
	if err != nil {
		return err
	}
	b, err := popNode(vm)
	if err != nil {
		return err
	}
	if err := pushNode(vm.ds, a); err != nil {
		return err
	}
	return pushNode(vm.ds, b)
}

func (vm *VM) opOver() error {
	a, err := popNode(vm)
	if err != nil {
		return err
	}
	b, err := popNode(vm)
	if err != nil {
		return err
	}
	if err := pushNode(vm.ds, b); err != nil {
		return err
	}
	if err := pushNode(vm.ds, a); err != nil {
		return err
	}
	return pushNode(vm.ds, b)
}

func (vm *VM) opNip() error {
	a, err := popNode(vm)
	if err != nil {
		return err
	}
	if _, err := popNode(vm); err != nil {
		return err
	}
	return pushNode(vm.ds, a)
}

func (vm *VM) opTuck() error {
	a, err := popNode(vm)
	if err != nil {
		return err
	}
	b, err := popNode(vm)
	if err != nil {
		return err
	}
	if err := pushNode(vm.ds, a); err != nil {
		return err
	}
	if err := pushNode(vm.ds, b); err != nil {
		return err
	}
	return pushNode(vm.ds, a)
}

func (vm *VM) opRot() error {
	c, err := popNode(vm)
	if err != nil {
		return err
	}
	b, err := popNode(vm)
	if err != nil {
		return err
	}
	a, err := popNode(vm)
	if err != nil {
		return err
	}
	if err := pushNode(vm.ds, b); err != nil {
		return err
	}
	if err := pushNode(vm.ds, c); err != nil {
		return err
	}
	return pushNode(vm.ds, a)
}

func (vm *VM) opRevRot() error {
	c, err := popNode(vm)
	if err != nil {
		return err
	}
	b, err := popNode(vm)
	if err != nil {
		return err
	}
	a, err := popNode(vm)
	if err != nil {
		return err
	}
	if err := pushNode(vm.ds, c); err != nil {
		return err
	}
	if err := pushNode(vm.ds, a); err != nil {
		return err
	}
	return pushNode(vm.ds, b)
}

// opPick duplicates the n-th list-aware element from the top (0 = TOS).
func (vm *VM) opPick() error {
	iv, err := vm.ds.Pop()
	if err != nil {
		return err
	}
	depth, ok := toIndex(iv)
	if !ok || depth < 0 {
		return fmt.Errorf("%w: pick index must be a non-negative number", errTypeError)
	}

	pos := vm.ds.SP() - 1
	for i := 0; i < depth; i++ {
		v, err := vm.mem.ReadCell(pos)
		if err != nil {
			return err
		}
		pos -= Span(v)
		if pos < vm.ds.base {
			return newStackUnderflow("pick", depth+1, vm.ds.Depth())
		}
	}
	v, err := vm.mem.ReadCell(pos)
	if err != nil {
		return err
	}
	n := Span(v)
	for i := 0; i < n; i++ {
		cell, err := vm.mem.ReadCell(pos - (n - 1) + i)
		if err != nil {
			return err
		}
		if err := vm.ds.Push(cell); err != nil {
			return err
		}
	}
	return nil
}

// Literals.

func (vm *VM) opLitNumber() error {
	v, err := vm.mem.ReadFloat32(SegCode, vm.ip)
	if err != nil {
		return err
	}
	vm.ip += 4
	return vm.ds.Push(v)
}

func (vm *VM) opLitString() error {
	off, err := vm.mem.Read16(SegCode, vm.ip)
	if err != nil {
		return err
	}
	vm.ip += 2
	return vm.ds.Push(MakeString(off))
}

func (vm *VM) opLitAddress() error {
	v, err := vm.mem.ReadFloat32(SegCode, vm.ip)
	if err != nil {
		return err
	}
	vm.ip += 4
	return vm.ds.Push(v)
}

// Lists.

func (vm *VM) opLength() error {
	tos, err := vm.ds.Peek()
	if err != nil {
		return err
	}
	if !IsList(tos) {
		return vm.ds.Push(MakeInteger(1))
	}
	return vm.ds.Push(MakeInteger(int16(len(mustNode(vm, vm.ds.SP()-1).items))))
}

func (vm *VM) opSize() error {
	tos, err := vm.ds.Peek()
	if err != nil {
		return err
	}
	return vm.ds.Push(MakeInteger(int16(Span(tos))))
}

func mustNode(vm *VM, headerAddr int) listNode {
	n, _ := readNode(vm.mem, headerAddr)
	return n
}

// opElem computes a reference (absolute cell ADDRESS) to the i-th logical
// element, rather than reading its value. The list is left on the stack
// below the result: load/store dereference an ADDRESS by absolute cell
// index, not stack-relatively, so the referenced cell only stays valid
// for as long as the list it belongs to is still on the stack above it.
// Dropping the list here (as getAt does for its own result) would free
// that cell's slot for the very next push to land on, silently
// corrupting a ref the caller hasn't used yet.
func (vm *VM) opElem() error {
	iv, err := vm.ds.Pop()
	if err != nil {
		return err
	}
	idx, ok := toIndex(iv)
	if !ok {
		return fmt.Errorf("%w: elem index must be numeric", errTypeError)
	}
	tos, err := vm.ds.Peek()
	if err != nil {
		return err
	}
	if !IsList(tos) {
		return fmt.Errorf("%w: elem requires a list", errTypeError)
	}
	headerAddr := vm.ds.SP() - 1
	addr, err := ElementAddress(vm.mem, headerAddr, idx)
	if err != nil {
		return err
	}
	if addr < 0 {
		return vm.ds.Push(NIL())
	}
	return vm.ds.Push(MakeAddress(uint16(addr)))
}

// Dictionary.

func (vm *VM) opDefine() error {
	nameOff, err := vm.ds.Pop()
	if err != nil {
		return err
	}
	value, err := vm.ds.Pop()
	if err != nil {
		return err
	}
	tv := FromTaggedValue(nameOff)
	if tv.Tag != TagString {
		return fmt.Errorf("%w: define requires a string name", errTypeError)
	}
	name, err := vm.digest.Get(tv.Value)
	if err != nil {
		return err
	}
	return vm.dict.Define(name, value)
}

func (vm *VM) opLookup() error {
	nameOff, err := vm.ds.Pop()
	if err != nil {
		return err
	}
	tv := FromTaggedValue(nameOff)
	if tv.Tag != TagString {
		return fmt.Errorf("%w: lookup requires a string name", errTypeError)
	}
	name, err := vm.digest.Get(tv.Value)
	if err != nil {
		return err
	}
	payload, ok, err := vm.dict.Lookup(name)
	if err != nil {
		return err
	}
	if !ok {
		return vm.ds.Push(NIL())
	}
	return vm.ds.Push(payload)
}

func (vm *VM) opLoad() error {
	ref, err := vm.ds.Pop()
	if err != nil {
		return err
	}
	tv := FromTaggedValue(ref)
	if tv.Tag != TagAddress {
		return fmt.Errorf("%w: load requires an address", errTypeError)
	}
	v, err := vm.mem.ReadCell(int(tv.Value))
	if err != nil {
		return err
	}
	return vm.ds.Push(v)
}

func (vm *VM) opStore() error {
	ref, err := vm.ds.Pop()
	if err != nil {
		return err
	}
	value, err := vm.ds.Pop()
	if err != nil {
		return err
	}
	tv := FromTaggedValue(ref)
	if tv.Tag != TagAddress {
		return fmt.Errorf("%w: store requires an address", errTypeError)
	}
	return vm.mem.WriteCell(int(tv.Value), value)
}

// Heap.

func (vm *VM) opGMark() error {
	return vm.ds.Push(MakeAddress(vm.heap.Mark()))
}

func (vm *VM) opGSweep() error {
	mark, err := vm.ds.Pop()
	if err != nil {
		return err
	}
	tv := FromTaggedValue(mark)
	if tv.Tag != TagAddress {
		return fmt.Errorf("%w: gsweep requires a mark", errTypeError)
	}
	vm.heap.Sweep(tv.Value)
	return nil
}

func (vm *VM) opGPush() error {
	tos, err := vm.ds.Peek()
	if err != nil {
		return err
	}
	if !IsList(tos) {
		v, err := vm.ds.Pop()
		if err != nil {
			return err
		}
		start, err := vm.heap.allocCells(1)
		if err != nil {
			return err
		}
		if err := vm.mem.WriteCell(start, v); err != nil {
			return err
		}
		return vm.ds.Push(MakeAddress(uint16(start)))
	}
	ref, err := vm.heap.PushList(vm.mem, vm.ds.SP()-1)
	if err != nil {
		return err
	}
	if err := vm.ds.DropList(); err != nil {
		return err
	}
	return vm.ds.Push(ref)
}

// opGPop reads the referenced heap cell like gpeek, but additionally
// reclaims it if it is the most-recently-pushed item: the bump allocator
// can only ever free its current top, so a ref that isn't there (because
// something else was pushed after it) falls back to a plain read, the
// same as gpeek.
func (vm *VM) opGPop() error {
	ref, err := vm.ds.Peek()
	if err != nil {
		return err
	}
	tv := FromTaggedValue(ref)
	if tv.Tag != TagAddress {
		return fmt.Errorf("%w: gpop requires an address", errTypeError)
	}
	if err := vm.opGPeek(); err != nil {
		return err
	}
	cell, err := vm.mem.ReadCell(int(tv.Value))
	if err != nil {
		return err
	}
	if int(tv.Value)+1 == vm.heap.cursor {
		vm.heap.cursor -= Span(cell)
	}
	return nil
}

func (vm *VM) opGPeek() error {
	ref, err := vm.ds.Pop()
	if err != nil {
		return err
	}
	tv := FromTaggedValue(ref)
	if tv.Tag != TagAddress {
		return fmt.Errorf("%w: gpeek requires an address", errTypeError)
	}
	v, err := vm.mem.ReadCell(int(tv.Value))
	if err != nil {
		return err
	}
	if !IsList(v) {
		return vm.ds.Push(v)
	}
	node, err := readNode(vm.mem, int(tv.Value))
	if err != nil {
		return err
	}
	return pushNode(vm.ds, node)
}

// Meta.

func (vm *VM) opPushSymbolRef() error {
	nameOff, err := vm.ds.Pop()
	if err != nil {
		return err
	}
	tv := FromTaggedValue(nameOff)
	if tv.Tag != TagString {
		return fmt.Errorf("%w: pushSymbolRef requires a string name", errTypeError)
	}
	name, err := vm.digest.Get(tv.Value)
	if err != nil {
		return err
	}
	resolved, err := vm.dict.ResolveSymbol(name)
	if err != nil {
		return fmt.Errorf("%w: %s", errSymbolNotFound, name)
	}
	return vm.ds.Push(resolved)
}

func (vm *VM) opPrint() error {
	v, err := vm.ds.Peek()
	if err != nil {
		return err
	}
	fmt.Println(vm.formatValue(v))
	return nil
}

func (vm *VM) formatValue(v float32) string {
	if !IsList(v) {
		return formatCell(v)
	}
	node := mustNode(vm, vm.ds.SP()-1)
	return formatNode(node)
}

func formatNode(n listNode) string {
	if !n.isList {
		return formatCell(n.scalar)
	}
	s := "("
	for i, it := range n.items {
		if i > 0 {
			s += " "
		}
		s += formatNode(it)
	}
	return s + ")"
}

func formatCell(v float32) string {
	tv := FromTaggedValue(v)
	switch tv.Tag {
	case TagNumber:
		return fmt.Sprintf("%g", v)
	case TagInteger:
		return fmt.Sprintf("%d", AsInteger(v))
	case TagSentinel:
		if IsNIL(v) {
			return "nil"
		}
		return fmt.Sprintf("sentinel(%d)", tv.Value)
	case TagList, TagRList:
		return fmt.Sprintf("list(%d)", tv.Value)
	case TagCode:
		return fmt.Sprintf("code(%d)", tv.Value)
	case TagBuiltin:
		return fmt.Sprintf("builtin(%s)", Opcode(tv.Value))
	case TagString:
		return fmt.Sprintf("string(%d)", tv.Value)
	case TagAddress:
		return fmt.Sprintf("addr(%d)", tv.Value)
	case TagLocal:
		return fmt.Sprintf("local(%d)", tv.Value)
	default:
		return fmt.Sprintf("?(%d)", tv.Value)
	}
}
