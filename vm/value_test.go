package vm

import "testing"

func TestTaggedValueRoundTrip(t *testing.T) {
	cases := []struct {
		tag   Tag
		value uint16
		meta  uint8
	}{
		{TagInteger, 0, 0},
		{TagInteger, 0xFFFF, 1},
		{TagCode, 1234, 1},
		{TagBuiltin, 7, 0},
		{TagString, 255, 0},
		{TagList, 0, 0},
		{TagSentinel, 0xCA5E, 0},
		{TagAddress, 42, 0},
	}
	for _, c := range cases {
		packed := ToTaggedValue(c.value, c.tag, c.meta)
		got := FromTaggedValue(packed)
		assert(t, got.Tag == c.tag, "tag: expected %s, got %s", c.tag, got.Tag)
		assert(t, got.Value == c.value, "value: expected %d, got %d", c.value, got.Value)
		assert(t, got.Meta == c.meta, "meta: expected %d, got %d", c.meta, got.Meta)
	}
}

func TestNumberIsNotTagged(t *testing.T) {
	for _, f := range []float32{0, 1, -1, 3.5, -123.25, 1e10} {
		assert(t, IsNumber(f), "expected %v to decode as NUMBER", f)
	}
}

func TestNilIsDistinctSentinel(t *testing.T) {
	n := NIL()
	assert(t, IsNIL(n), "NIL() should be recognized by IsNIL")
	assert(t, FromTaggedValue(n).Tag == TagSentinel, "NIL should be SENTINEL-tagged")
	assert(t, !IsNIL(MakeSentinel(0xCA5E)), "a different sentinel id must not equal NIL")
}

func TestMakeHelpers(t *testing.T) {
	assert(t, IsCode(MakeCode(10, false)), "MakeCode should decode as CODE")
	assert(t, FromTaggedValue(MakeCode(10, true)).Meta == 1, "block code should carry meta=1")
	assert(t, IsList(MakeList(4)), "MakeList should decode as a list")
	assert(t, IsRef(MakeString(0)), "STRING is a ref tag")
	assert(t, !IsRef(MakeInteger(5)), "INTEGER is not a ref tag")
	assert(t, IsInteger(MakeInteger(-5)), "MakeInteger should decode as INTEGER")
	assert(t, AsInteger(MakeInteger(-5)) == -5, "AsInteger should round-trip negative values")
}
