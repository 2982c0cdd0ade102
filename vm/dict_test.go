package vm

import "testing"

func TestDictionaryDefineAndLookup(t *testing.T) {
	mem := NewMemory()
	heap := NewHeap(mem, NewDigest(mem))
	d := NewDictionary(heap)

	assert(t, d.Define("x", MakeInteger(42)) == nil, "define failed")
	v, ok, err := d.Lookup("x")
	assert(t, err == nil, "lookup failed: %v", err)
	assert(t, ok, "expected x to be found")
	assert(t, AsInteger(v) == 42, "expected 42, got %d", AsInteger(v))

	_, ok, err = d.Lookup("nonexistent")
	assert(t, err == nil, "lookup should not error on a miss: %v", err)
	assert(t, !ok, "expected nonexistent to be absent")
}

func TestDictionaryShadowingFindsMostRecent(t *testing.T) {
	mem := NewMemory()
	heap := NewHeap(mem, NewDigest(mem))
	d := NewDictionary(heap)

	assert(t, d.Define("x", MakeInteger(1)) == nil, "first define failed")
	assert(t, d.Define("x", MakeInteger(2)) == nil, "second define failed")

	v, ok, err := d.Lookup("x")
	assert(t, err == nil && ok, "lookup failed")
	assert(t, AsInteger(v) == 2, "expected the most recent definition (2), got %d", AsInteger(v))
}

func TestDictionaryMarkRevertIsOPointerRewind(t *testing.T) {
	mem := NewMemory()
	heap := NewHeap(mem, NewDigest(mem))
	d := NewDictionary(heap)

	assert(t, d.Define("a", MakeInteger(1)) == nil, "define a failed")
	mark := d.Mark()
	assert(t, d.Define("b", MakeInteger(2)) == nil, "define b failed")

	_, ok, _ := d.Lookup("b")
	assert(t, ok, "expected b to be visible before revert")

	d.Revert(mark)

	_, ok, _ = d.Lookup("b")
	assert(t, !ok, "expected b to be gone after revert")
	_, ok, _ = d.Lookup("a")
	assert(t, ok, "expected a (defined before the mark) to survive revert")
}

func TestDictionaryBuiltinAndCodeWrappers(t *testing.T) {
	mem := NewMemory()
	heap := NewHeap(mem, NewDigest(mem))
	d := NewDictionary(heap)

	assert(t, d.DefineBuiltin("add", uint16(OpAdd)) == nil, "DefineBuiltin failed")
	v, ok, err := d.Lookup("add")
	assert(t, err == nil && ok, "lookup failed")
	tv := FromTaggedValue(v)
	assert(t, tv.Tag == TagBuiltin && tv.Value == uint16(OpAdd), "expected BUILTIN(add), got %s(%d)", tv.Tag, tv.Value)

	assert(t, d.DefineCode("square", 100, false) == nil, "DefineCode failed")
	v, ok, err = d.Lookup("square")
	assert(t, err == nil && ok, "lookup failed")
	tv = FromTaggedValue(v)
	assert(t, tv.Tag == TagCode && tv.Value == 100 && tv.Meta == 0, "expected CODE(100, meta=0), got %s(%d, meta=%d)", tv.Tag, tv.Value, tv.Meta)
}

func TestResolveSymbolForPushSymbolRef(t *testing.T) {
	mem := NewMemory()
	heap := NewHeap(mem, NewDigest(mem))
	d := NewDictionary(heap)

	assert(t, d.DefineBuiltin("dup", uint16(OpDup)) == nil, "DefineBuiltin failed")
	v, err := d.ResolveSymbol("dup")
	assert(t, err == nil, "ResolveSymbol failed: %v", err)
	assert(t, FromTaggedValue(v).Tag == TagBuiltin, "expected BUILTIN, got %s", FromTaggedValue(v).Tag)

	_, err = d.ResolveSymbol("missing")
	assert(t, err != nil, "expected an error resolving an undefined symbol")
}
