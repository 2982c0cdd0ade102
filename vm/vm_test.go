package vm

import (
	"errors"
	"fmt"
	"testing"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

// runSource compiles src from a fresh compile position and runs it to
// completion, mirroring the REPL's compileAndRun contract but without the
// GC-disable dance RunProgram wraps around it.
func runSource(t *testing.T, src string) *VM {
	t.Helper()
	m := NewVM(false)
	p := NewParser(m)

	entry := m.comp.CP()
	if err := p.Compile(src); err != nil {
		t.Fatalf("compile %q: %v", src, err)
	}
	assert(t, m.comp.EmitOpcode(OpHalt) == nil, "failed to emit halt")

	if err := m.Run(entry); err != nil {
		t.Fatalf("run %q: %v", src, err)
	}
	return m
}

func peekNumberAt(t *testing.T, m *VM, depth int) float32 {
	t.Helper()
	v, err := m.ds.PeekAt(depth)
	assert(t, err == nil, "peek at depth %d: %v", depth, err)
	return v
}

func TestArithmetic(t *testing.T) {
	m := runSource(t, "5 3 add")
	assert(t, m.ds.Depth() == 1, "expected depth 1, got %d", m.ds.Depth())
	assert(t, peekNumberAt(t, m, 0) == 8, "expected 8, got %v", peekNumberAt(t, m, 0))

	m = runSource(t, "5 3 add 2 mul")
	assert(t, peekNumberAt(t, m, 0) == 16, "expected 16, got %v", peekNumberAt(t, m, 0))
}

func TestFlatListLiteral(t *testing.T) {
	m := runSource(t, "(1 2 3)")
	assert(t, m.ds.Depth() == 4, "expected 4 cells (3 payload + header), got %d", m.ds.Depth())

	top := peekNumberAt(t, m, 0)
	tv := FromTaggedValue(top)
	assert(t, tv.Tag == TagList, "expected TOS to be a LIST header, got %s", tv.Tag)
	assert(t, tv.Value == 3, "expected 3 slots, got %d", tv.Value)

	// Forward construction: payload cells are laid down in source order,
	// so the element nearest the header -- logical index 0 -- is the last
	// literal written, 3.
	assert(t, peekNumberAt(t, m, 1) == 3, "index 0 (nearest header) should be 3")
	assert(t, peekNumberAt(t, m, 2) == 2, "index 1 should be 2")
	assert(t, peekNumberAt(t, m, 3) == 1, "index 2 (deepest) should be 1")
}

func TestNestedListLiteral(t *testing.T) {
	m := runSource(t, "(1 (2 3) 4)")
	// payload, deep to shallow: 1, 2, 3, LIST(2), 4, LIST(5) -- forward
	// construction with top-down indexing; see list.go.
	assert(t, m.ds.Depth() == 6, "expected 6 cells, got %d", m.ds.Depth())

	outer := FromTaggedValue(peekNumberAt(t, m, 0))
	assert(t, outer.Tag == TagList && outer.Value == 5, "expected outer LIST(5), got %s(%d)", outer.Tag, outer.Value)

	four := peekNumberAt(t, m, 1)
	assert(t, four == 4, "expected 4 nearest outer header, got %v", four)

	inner := FromTaggedValue(peekNumberAt(t, m, 2))
	assert(t, inner.Tag == TagList && inner.Value == 2, "expected inner LIST(2), got %s(%d)", inner.Tag, inner.Value)

	assert(t, peekNumberAt(t, m, 3) == 3, "expected inner element 3")
	assert(t, peekNumberAt(t, m, 4) == 2, "expected inner element 2")
	assert(t, peekNumberAt(t, m, 5) == 1, "expected 1 at the base")
}

func TestColonDefinition(t *testing.T) {
	m := runSource(t, ": square dup mul ; 3 square")
	assert(t, m.ds.Depth() == 1, "expected depth 1, got %d", m.ds.Depth())
	assert(t, peekNumberAt(t, m, 0) == 9, "expected 9, got %v", peekNumberAt(t, m, 0))
}

func TestBroadcastBinary(t *testing.T) {
	m := runSource(t, "(1 2) (10 20 30) add")
	top := FromTaggedValue(peekNumberAt(t, m, 0))
	assert(t, top.Tag == TagList && top.Value == 3, "expected a 3-element result list, got %s(%d)", top.Tag, top.Value)

	// a=(1 2) (items nearest-header-first: 2,1), b=(10 20 30) (items
	// nearest-header-first: 30,20,10); modulo-cycled over the longer
	// length: [2+30, 1+20, 2+10] = [32, 21, 12].
	assert(t, peekNumberAt(t, m, 1) == 32, "expected 32, got %v", peekNumberAt(t, m, 1))
	assert(t, peekNumberAt(t, m, 2) == 21, "expected 21, got %v", peekNumberAt(t, m, 2))
	assert(t, peekNumberAt(t, m, 3) == 12, "expected 12, got %v", peekNumberAt(t, m, 3))
}

func TestSymbolRefEval(t *testing.T) {
	m := runSource(t, "3 5 @add eval")
	assert(t, m.ds.Depth() == 1, "expected depth 1, got %d", m.ds.Depth())
	assert(t, peekNumberAt(t, m, 0) == 8, "expected 8, got %v", peekNumberAt(t, m, 0))
}

func TestGetAt(t *testing.T) {
	m := runSource(t, "(10 20 30) 1 getAt")
	assert(t, peekNumberAt(t, m, 0) == 20, "expected 20, got %v", peekNumberAt(t, m, 0))

	m = runSource(t, "(10 20 30) 5 getAt")
	assert(t, IsNIL(peekNumberAt(t, m, 0)), "expected NIL for an out-of-range index")
}

// TestElemLoadStore guards against elem returning a ref into space the
// list's own drop/the ref's own push has already reclaimed: the list must
// still be live on the stack under the ref for load/store to observe a
// stable cell, including at the deepest (most reclaim-prone) index.
func TestElemLoadStore(t *testing.T) {
	m := runSource(t, "(10 20 30) 1 elem load")
	assert(t, peekNumberAt(t, m, 0) == 20, "expected elem+load to read 20, got %v", peekNumberAt(t, m, 0))

	// Index 2 is the deepest payload cell (span's traversal floor); this is
	// exactly the case where a dropList-before-push would have let the
	// ref's own push clobber the very cell it points at.
	m = runSource(t, "(10 20 30) 2 elem load")
	assert(t, peekNumberAt(t, m, 0) == 10, "expected elem+load to read 10, got %v", peekNumberAt(t, m, 0))

	m = runSource(t, "(10 20 30) 1 elem 777 swap store 1 getAt")
	assert(t, peekNumberAt(t, m, 0) == 777, "expected store to mutate index 1 to 777, got %v", peekNumberAt(t, m, 0))
}

func TestIfElse(t *testing.T) {
	m := runSource(t, "1 if 10 else 20 ;")
	assert(t, peekNumberAt(t, m, 0) == 10, "expected true branch 10, got %v", peekNumberAt(t, m, 0))

	m = runSource(t, "0 if 10 else 20 ;")
	assert(t, peekNumberAt(t, m, 0) == 20, "expected false branch 20, got %v", peekNumberAt(t, m, 0))
}

func TestDoEndLoop(t *testing.T) {
	// Increments a counter each pass until it reaches 5: a post-condition
	// loop where "do" marks the loop top and "end" (the parser's trailing
	// ";") branches back while the popped condition is false.
	m := runSource(t, "0 do 1 add dup 5 eq ;")
	assert(t, m.ds.Depth() == 1, "expected depth 1, got %d", m.ds.Depth())
	assert(t, peekNumberAt(t, m, 0) == 5, "expected loop to land on 5, got %v", peekNumberAt(t, m, 0))
}

func TestCaseOfDefault(t *testing.T) {
	m := runSource(t, "2 case 1 of 100 ; 2 of 200 ; default 999 ; endcase")
	assert(t, peekNumberAt(t, m, 0) == 200, "expected matching arm 200, got %v", peekNumberAt(t, m, 0))

	m = runSource(t, "9 case 1 of 100 ; 2 of 200 ; default 999 ; endcase")
	assert(t, peekNumberAt(t, m, 0) == 999, "expected default arm 999, got %v", peekNumberAt(t, m, 0))

	// A match on a non-final "of" arm must not fall through into pushing
	// the next arm's test value before branching past the case: depth
	// must stay at exactly 1, with the matched arm's own value on top.
	m = runSource(t, "1 case 1 of 100 ; 2 of 200 ; default 999 ; endcase")
	assert(t, m.ds.Depth() == 1, "expected depth 1 after matching a non-final arm, got %d", m.ds.Depth())
	assert(t, peekNumberAt(t, m, 0) == 100, "expected matching first arm 100, got %v", peekNumberAt(t, m, 0))
}

// TestCaseInsideDefinition guards against a matched "of" arm's skip branch
// landing past endcase instead of on it: if it does, the SENTINEL case
// pushes onto RSTACK is never popped, and it's still sitting there above
// the saved BP when the definition returns, corrupting the frame teardown.
func TestCaseInsideDefinition(t *testing.T) {
	m := runSource(t, ": pick2 case 1 of 100 ; 2 of 200 ; default 999 ; endcase ; 1 pick2 99 add")
	assert(t, m.ds.Depth() == 1, "expected depth 1, got %d", m.ds.Depth())
	assert(t, peekNumberAt(t, m, 0) == 199, "expected 100+99=199, got %v", peekNumberAt(t, m, 0))
}

// TestHeapGPushGPop guards gpop's LIFO reclaim: popping the most recently
// gpush'd cell must read its value and roll the heap cursor back to
// exactly where gmark found it, not merely alias gpeek.
func TestHeapGPushGPop(t *testing.T) {
	m := runSource(t, "gmark 42 gpush gpop")
	assert(t, m.ds.Depth() == 2, "expected depth 2, got %d", m.ds.Depth())
	assert(t, peekNumberAt(t, m, 0) == 42, "expected gpop to read 42, got %v", peekNumberAt(t, m, 0))

	mark := FromTaggedValue(peekNumberAt(t, m, 1))
	assert(t, mark.Tag == TagAddress, "expected gmark result to be an address")
	assert(t, m.heap.Mark() == mark.Value, "expected heap cursor restored to mark, got %d want %d", m.heap.Mark(), mark.Value)
}

func TestStackUnderflowError(t *testing.T) {
	m := NewVM(false)
	p := NewParser(m)
	entry := m.comp.CP()
	assert(t, p.Compile("add") == nil, "compile failed unexpectedly")
	assert(t, m.comp.EmitOpcode(OpHalt) == nil, "failed to emit halt")

	err := m.Run(entry)
	assert(t, errors.Is(err, errStackUnderflow), "expected an underflow error, got %v", err)
	fmt.Sprintf("%v", err) // exercised for its Error() formatting, not matched literally
}

func TestDictionaryMarkRevert(t *testing.T) {
	m := NewVM(false)
	mark := m.dict.Mark()
	assert(t, m.dict.Define("scratch", MakeInteger(7)) == nil, "define failed")

	v, ok, err := m.dict.Lookup("scratch")
	assert(t, err == nil && ok, "expected scratch to be defined")
	assert(t, AsInteger(v) == 7, "expected 7, got %d", AsInteger(v))

	m.dict.Revert(mark)
	_, ok, err = m.dict.Lookup("scratch")
	assert(t, err == nil && !ok, "expected scratch to be gone after revert")
}
