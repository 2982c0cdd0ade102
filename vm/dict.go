package vm

import "fmt"

// Dictionary is a heap-backed singly-linked symbol chain living in the
// GLOBAL segment. Each record is three consecutive cells: {name (STRING
// cell), payload, prev link (ADDRESS cell pointing at the previous
// record's name cell, or NIL)}. A flat, manually walked chain rather than
// a map: a linear walk from head backwards gives most-recent-wins
// shadowing, and mark/revert is then just "rewind head", an O(1)
// operation symmetric with Heap's gmark/gsweep.
type Dictionary struct {
	heap *Heap
	head uint16 // absolute cell index of the most recent record's name cell, or sentinel for empty
}

const dictEmptyHead = 0xFFFF

func NewDictionary(heap *Heap) *Dictionary {
	return &Dictionary{heap: heap, head: dictEmptyHead}
}

// Mark returns a checkpoint that Revert can later roll back to.
func (d *Dictionary) Mark() uint16 { return d.head }

// Revert rewinds the dictionary to a previous Mark, making every
// definition made since invisible to Lookup. Non-destructive: the
// underlying heap cells are not reused until Heap.Sweep also rewinds past
// them.
func (d *Dictionary) Revert(mark uint16) { d.head = mark }

// Define adds a new record at the head of the chain, shadowing (not
// replacing) any existing definition of the same name.
func (d *Dictionary) Define(name string, payload float32) error {
	nameOff, err := d.heap.digest.Intern(name)
	if err != nil {
		return err
	}

	rec, err := d.heap.allocCells(3)
	if err != nil {
		return err
	}
	if err := d.heap.mem.WriteCell(rec, MakeString(nameOff)); err != nil {
		return err
	}
	if err := d.heap.mem.WriteCell(rec+1, payload); err != nil {
		return err
	}
	prevLink := NIL()
	if d.head != dictEmptyHead {
		prevLink = MakeAddress(d.head)
	}
	if err := d.heap.mem.WriteCell(rec+2, prevLink); err != nil {
		return err
	}

	d.head = uint16(rec)
	return nil
}

// DefineBuiltin is a convenience wrapper binding name directly to a
// BUILTIN-tagged opcode reference.
func (d *Dictionary) DefineBuiltin(name string, opcode uint16) error {
	return d.Define(name, MakeBuiltin(opcode))
}

// DefineCode is a convenience wrapper binding name to a CODE reference at
// the given bytecode address.
func (d *Dictionary) DefineCode(name string, addr uint16, isBlock bool) error {
	return d.Define(name, MakeCode(addr, isBlock))
}

// Lookup walks the chain from head backwards, returning the payload of the
// most recent (innermost) definition of name.
func (d *Dictionary) Lookup(name string) (float32, bool, error) {
	cell := d.head
	for cell != dictEmptyHead {
		nameCell, err := d.heap.mem.ReadCell(int(cell))
		if err != nil {
			return 0, false, err
		}
		tv := FromTaggedValue(nameCell)
		if tv.Tag != TagString {
			return 0, false, fmt.Errorf("%w: corrupt dictionary record", errMemoryAccess)
		}
		s, err := d.heap.digest.Get(tv.Value)
		if err != nil {
			return 0, false, err
		}
		if s == name {
			payload, err := d.heap.mem.ReadCell(int(cell) + 1)
			if err != nil {
				return 0, false, err
			}
			return payload, true, nil
		}

		link, err := d.heap.mem.ReadCell(int(cell) + 2)
		if err != nil {
			return 0, false, err
		}
		if IsNIL(link) {
			cell = dictEmptyHead
			break
		}
		cell = FromTaggedValue(link).Value
	}
	return 0, false, nil
}

// ResolveSymbol is Lookup with a miss reported as errUndefinedWord; the
// pushSymbolRef builtin uses it to resolve @name references.
func (d *Dictionary) ResolveSymbol(name string) (float32, error) {
	payload, ok, err := d.Lookup(name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s", errUndefinedWord, name)
	}
	return payload, nil
}
