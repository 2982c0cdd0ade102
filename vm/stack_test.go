package vm

import "testing"

func TestStackPushPopOrder(t *testing.T) {
	mem := NewMemory()
	s := NewDataStack(mem)

	assert(t, s.Push(1) == nil, "push 1 failed")
	assert(t, s.Push(2) == nil, "push 2 failed")
	assert(t, s.Push(3) == nil, "push 3 failed")
	assert(t, s.Depth() == 3, "expected depth 3, got %d", s.Depth())

	v, err := s.Pop()
	assert(t, err == nil && v == 3, "expected 3, got %v (err %v)", v, err)
	v, err = s.Pop()
	assert(t, err == nil && v == 2, "expected 2, got %v (err %v)", v, err)
	v, err = s.Pop()
	assert(t, err == nil && v == 1, "expected 1, got %v (err %v)", v, err)
	assert(t, s.Depth() == 0, "expected empty stack, got depth %d", s.Depth())
}

func TestStackUnderflow(t *testing.T) {
	mem := NewMemory()
	s := NewDataStack(mem)
	_, err := s.Pop()
	assert(t, err == errStackUnderflow, "expected errStackUnderflow, got %v", err)
}

func TestStackOverflow(t *testing.T) {
	mem := NewMemory()
	s := NewDataStack(mem)
	var err error
	for i := 0; i < StackCapacityCells+1; i++ {
		if err = s.Push(float32(i)); err != nil {
			break
		}
	}
	assert(t, err == errStackOverflow, "expected errStackOverflow once capacity is exceeded, got %v", err)
}

func TestStackPeekAtAndSetAt(t *testing.T) {
	mem := NewMemory()
	s := NewDataStack(mem)
	assert(t, s.Push(10) == nil, "push failed")
	assert(t, s.Push(20) == nil, "push failed")
	assert(t, s.Push(30) == nil, "push failed")

	v, err := s.PeekAt(0)
	assert(t, err == nil && v == 30, "PeekAt(0) expected 30, got %v", v)
	v, err = s.PeekAt(2)
	assert(t, err == nil && v == 10, "PeekAt(2) expected 10, got %v", v)

	assert(t, s.SetAt(1, 99) == nil, "SetAt failed")
	v, err = s.PeekAt(1)
	assert(t, err == nil && v == 99, "expected 99 after SetAt, got %v", v)
}

func TestStackDropList(t *testing.T) {
	mem := NewMemory()
	s := NewDataStack(mem)
	assert(t, s.Push(1) == nil, "push failed")
	assert(t, s.Push(2) == nil, "push failed")
	assert(t, s.Push(3) == nil, "push failed")
	assert(t, s.Push(MakeList(3)) == nil, "push header failed")
	assert(t, s.Depth() == 4, "expected depth 4, got %d", s.Depth())

	assert(t, s.DropList() == nil, "DropList failed")
	assert(t, s.Depth() == 0, "expected the whole list dropped in one call, got depth %d", s.Depth())
}

func TestStackEnsureSize(t *testing.T) {
	mem := NewMemory()
	s := NewDataStack(mem)
	assert(t, s.Push(1) == nil, "push failed")

	err := s.EnsureSize(2, "add")
	assert(t, err != nil, "expected an underflow error")
	var underflow *StackUnderflowError
	ok := asStackUnderflow(err, &underflow)
	assert(t, ok, "expected a *StackUnderflowError, got %T", err)
	assert(t, underflow.Op == "add" && underflow.Required == 2 && underflow.Depth == 1,
		"expected {add, 2, 1}, got {%s, %d, %d}", underflow.Op, underflow.Required, underflow.Depth)
}

func asStackUnderflow(err error, target **StackUnderflowError) bool {
	e, ok := err.(*StackUnderflowError)
	if ok {
		*target = e
	}
	return ok
}
