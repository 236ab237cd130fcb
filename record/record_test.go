package record

import "testing"

func TestGeometryLen(t *testing.T) {
	tests := []struct {
		name    string
		g       Geometry
		wantLen int
	}{
		{"rounds up to multiple of 8", Geometry{KeyLen: 8, DataLen: 4}, 40},   // 24+8+4=36 -> 40
		{"already aligned", Geometry{KeyLen: 8, DataLen: 8}, 40},       // 24+8+8=40
		{"large key", Geometry{KeyLen: 40, DataLen: 100}, 168},         // 24+40+100=164 -> 168
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.g.Len(); got != tt.wantLen {
				t.Fatalf("Len() = %d, want %d", got, tt.wantLen)
			}
			if got := tt.g.Len(); got%8 != 0 {
				t.Fatalf("Len() = %d, not a multiple of 8", got)
			}
		})
	}
}

func TestViewHeaderRoundTrip(t *testing.T) {
	g := Geometry{KeyLen: 8, DataLen: 4}
	buf := make([]byte, g.Len())
	v := NewView(buf, g)

	v.SetNext(Ordinal(7))
	v.SetPrevious(Ordinal(3))
	v.SetFlags(Valid)

	if v.Next() != 7 {
		t.Fatalf("Next() = %d, want 7", v.Next())
	}
	if v.Previous() != 3 {
		t.Fatalf("Previous() = %d, want 3", v.Previous())
	}
	if !v.HasFlag(Valid) {
		t.Fatal("expected Valid flag set")
	}
	if v.HasFlag(Deleted) {
		t.Fatal("did not expect Deleted flag set")
	}

	v.SetFlag(Deleted)
	if !v.HasFlag(Valid) || !v.HasFlag(Deleted) {
		t.Fatal("expected both Valid and Deleted set")
	}

	v.ClearFlag(Valid)
	if v.HasFlag(Valid) {
		t.Fatal("expected Valid cleared")
	}
	if !v.HasFlag(Deleted) {
		t.Fatal("expected Deleted still set")
	}
}

func TestViewKeyValue(t *testing.T) {
	g := Geometry{KeyLen: 8, DataLen: 4}
	buf := make([]byte, g.Len())
	v := NewView(buf, g)

	v.SetKey([]byte("alpha   "))
	v.SetValue([]byte{1, 2, 3, 4})

	if v.KeyString() != "alpha   " {
		t.Fatalf("KeyString() = %q", v.KeyString())
	}
	if string(v.Value()) != "\x01\x02\x03\x04" {
		t.Fatalf("Value() = %v", v.Value())
	}
	if got := v.StrnlenKeyLen(); got != len("alpha   ") {
		t.Fatalf("StrnlenKeyLen() = %d, want %d", got, len("alpha   "))
	}
}

func TestViewFreeAndClear(t *testing.T) {
	g := Geometry{KeyLen: 8, DataLen: 4}
	buf := make([]byte, g.Len())
	v := NewView(buf, g)

	if !v.Free() {
		t.Fatal("expected a zeroed slot to be free")
	}

	v.SetKey([]byte("a0      "))
	v.SetFlags(Valid)
	if v.Free() {
		t.Fatal("expected slot to no longer be free")
	}

	v.Clear()
	if !v.Free() {
		t.Fatal("expected Clear() to restore the free state")
	}
	if v.Flags() != 0 {
		t.Fatal("expected flags cleared")
	}
}

func TestOrdinalMath(t *testing.T) {
	const nrecPB = 4

	o := OrdinalOf(3, 2, nrecPB)
	if o.Block(nrecPB) != 3 {
		t.Fatalf("Block() = %d, want 3", o.Block(nrecPB))
	}
	if o.Slot(nrecPB) != 2 {
		t.Fatalf("Slot() = %d, want 2", o.Slot(nrecPB))
	}
	if uint64(o) != 14 {
		t.Fatalf("ordinal = %d, want 14", uint64(o))
	}
}
