package vm

// Stack is the data (or return) stack: a cursor into the unified cell
// region of Memory plus a fixed base/capacity, parameterized over which
// region (STACK vs RSTACK) it walks.
type Stack struct {
	mem      *Memory
	base     int // absolute cell index of the stack's bottom
	capacity int // in cells
	sp       int // absolute cell index, one past the last occupied cell

	overflowErr, underflowErr error
	name                      string
}

func newStack(mem *Memory, base, capacity int, name string, overflow, underflow error) *Stack {
	return &Stack{
		mem:         mem,
		base:        base,
		capacity:    capacity,
		sp:          base,
		overflowErr: overflow,
		underflowErr: underflow,
		name:        name,
	}
}

func NewDataStack(mem *Memory) *Stack {
	return newStack(mem, StackBaseCells, StackCapacityCells, "data stack", errStackOverflow, errStackUnderflow)
}

func NewReturnStack(mem *Memory) *Stack {
	return newStack(mem, RStackBaseCells, RStackCapacityCells, "return stack", errReturnStackOverflow, errReturnStackUnderflow)
}

// Depth returns the number of cells currently on the stack.
func (s *Stack) Depth() int { return s.sp - s.base }

// SP returns the absolute cell index one past the last occupied cell.
func (s *Stack) SP() int { return s.sp }

// SetSP forcibly relocates the stack pointer (used by exit's frame
// teardown).
func (s *Stack) SetSP(abs int) { s.sp = abs }

func (s *Stack) Push(v float32) error {
	if s.sp >= s.base+s.capacity {
		return s.overflowErr
	}
	if err := s.mem.WriteCell(s.sp, v); err != nil {
		return err
	}
	s.sp++
	return nil
}

func (s *Stack) Pop() (float32, error) {
	if s.sp <= s.base {
		return 0, s.underflowErr
	}
	s.sp--
	return s.mem.ReadCell(s.sp)
}

// Peek returns the top-of-stack cell without popping it.
func (s *Stack) Peek() (float32, error) { return s.PeekAt(0) }

// PeekAt reads the cell `depth` cells below the top (0 is TOS).
func (s *Stack) PeekAt(depth int) (float32, error) {
	idx := s.sp - 1 - depth
	if idx < s.base {
		return 0, s.underflowErr
	}
	return s.mem.ReadCell(idx)
}

// SetAt overwrites the cell `depth` cells below the top.
func (s *Stack) SetAt(depth int, v float32) error {
	idx := s.sp - 1 - depth
	if idx < s.base {
		return s.underflowErr
	}
	return s.mem.WriteCell(idx, v)
}

// EnsureSize fails with a StackUnderflowError carrying op/required/depth if
// the stack does not hold at least n cells.
func (s *Stack) EnsureSize(n int, opName string) error {
	if s.Depth() < n {
		return newStackUnderflow(opName, n, s.Depth())
	}
	return nil
}

// DropList drops the whole list if TOS is a LIST header (O(1): read the
// header, move SP down by slots+1); otherwise behaves as Pop.
func (s *Stack) DropList() error {
	tos, err := s.Peek()
	if err != nil {
		return err
	}
	tv := FromTaggedValue(tos)
	if tv.Tag == TagList || tv.Tag == TagRList {
		n := int(tv.Value) + 1
		if s.Depth() < n {
			return newStackUnderflow("dropList", n, s.Depth())
		}
		s.sp -= n
		return nil
	}
	_, err = s.Pop()
	return err
}
