package vm

import "fmt"

// Heap is a bump-pointer allocator over the GLOBAL segment's cell range,
// used both for Dictionary records and for DATA_REF-backed heap lists.
// Deallocation is LIFO only, via Mark/Sweep: predictable,
// caller-controlled memory management rather than relying on the Go
// garbage collector during execution (see run.go's GC-disable policy).
type Heap struct {
	mem    *Memory
	digest *Digest
	cursor int // absolute cell index of the next free cell
}

func NewHeap(mem *Memory, digest *Digest) *Heap {
	return &Heap{mem: mem, digest: digest, cursor: GlobalBaseCells}
}

func (h *Heap) allocCells(n int) (int, error) {
	if h.cursor+n > GlobalBaseCells+GlobalCapacityCells {
		return 0, fmt.Errorf("%w: global heap exhausted", errMemoryAccess)
	}
	start := h.cursor
	h.cursor += n
	return start, nil
}

// Mark returns a checkpoint for Sweep to roll back to.
func (h *Heap) Mark() uint16 { return uint16(h.cursor) }

// Sweep frees every cell allocated since mark, in one O(1) pointer move.
func (h *Heap) Sweep(mark uint16) { h.cursor = int(mark) }

// PushList copies a list (header + payload, as currently laid out on a
// Stack) into the heap and returns a DATA_REF-style ADDRESS cell pointing
// at its header, so it survives past the data stack frame that built it.
func (h *Heap) PushList(mem *Memory, headerAbsCell int) (float32, error) {
	header, err := mem.ReadCell(headerAbsCell)
	if err != nil {
		return 0, err
	}
	tv := FromTaggedValue(header)
	if tv.Tag != TagList && tv.Tag != TagRList {
		return 0, fmt.Errorf("%w: gpush requires a list", errTypeError)
	}
	n := int(tv.Value)

	start, err := h.allocCells(n + 1)
	if err != nil {
		return 0, err
	}
	for i := 0; i <= n; i++ {
		v, err := mem.ReadCell(headerAbsCell - n + i)
		if err != nil {
			return 0, err
		}
		if err := h.mem.WriteCell(start+i, v); err != nil {
			return 0, err
		}
	}
	return MakeAddress(uint16(start + n)), nil
}
