package jt1078

import (
	"bytes"
	"testing"
)

func fragment(sim string, channel, subpackage byte, body []byte) *Packet {
	return &Packet{
		SIM:        sim,
		Channel:    channel,
		DataType:   DataTypeIFrame,
		Subpackage: subpackage,
		Body:       body,
	}
}

func TestAssemblerFirstMiddleLast(t *testing.T) {
	a := NewAssembler()

	if out := a.Process(fragment("123", 1, SubpackageFirst, []byte("A"))); out != nil {
		t.Fatalf("FIRST emitted %q", out)
	}
	if out := a.Process(fragment("123", 1, SubpackageMiddle, []byte("B"))); out != nil {
		t.Fatalf("MIDDLE emitted %q", out)
	}
	out := a.Process(fragment("123", 1, SubpackageLast, []byte("C")))
	if !bytes.Equal(out, []byte("ABC")) {
		t.Fatalf("LAST emitted %q, want ABC", out)
	}

	// Buffer cleared after emission.
	if out := a.Process(fragment("123", 1, SubpackageLast, []byte("X"))); out != nil {
		t.Fatalf("stray LAST after emission produced %q", out)
	}
}

func TestAssemblerAtomicPassThrough(t *testing.T) {
	a := NewAssembler()
	out := a.Process(fragment("123", 1, SubpackageAtomic, []byte("whole")))
	if !bytes.Equal(out, []byte("whole")) {
		t.Fatalf("atomic emitted %q", out)
	}
}

func TestAssemblerStrayLast(t *testing.T) {
	a := NewAssembler()
	if out := a.Process(fragment("123", 1, SubpackageLast, []byte("C"))); out != nil {
		t.Fatalf("stray LAST emitted %q", out)
	}
}

func TestAssemblerStrayMiddle(t *testing.T) {
	a := NewAssembler()
	if out := a.Process(fragment("123", 1, SubpackageMiddle, []byte("B"))); out != nil {
		t.Fatalf("stray MIDDLE emitted %q", out)
	}
	// The stray middle must not seed a buffer a later LAST could flush.
	if out := a.Process(fragment("123", 1, SubpackageLast, []byte("C"))); out != nil {
		t.Fatalf("LAST after stray MIDDLE emitted %q", out)
	}
}

func TestAssemblerNewFirstDiscardsStale(t *testing.T) {
	a := NewAssembler()
	a.Process(fragment("123", 1, SubpackageFirst, []byte("old")))
	a.Process(fragment("123", 1, SubpackageFirst, []byte("new")))
	out := a.Process(fragment("123", 1, SubpackageLast, []byte("!")))
	if !bytes.Equal(out, []byte("new!")) {
		t.Fatalf("got %q, want new!", out)
	}
}

func TestAssemblerKeysAreIndependent(t *testing.T) {
	a := NewAssembler()
	a.Process(fragment("123", 1, SubpackageFirst, []byte("a1")))
	a.Process(fragment("123", 2, SubpackageFirst, []byte("a2")))
	a.Process(fragment("456", 1, SubpackageFirst, []byte("b1")))

	out := a.Process(fragment("123", 2, SubpackageLast, []byte("!")))
	if !bytes.Equal(out, []byte("a2!")) {
		t.Fatalf("channel 2 got %q", out)
	}
	out = a.Process(fragment("123", 1, SubpackageLast, []byte("!")))
	if !bytes.Equal(out, []byte("a1!")) {
		t.Fatalf("channel 1 got %q", out)
	}
}

func TestAssemblerClearDevice(t *testing.T) {
	a := NewAssembler()
	a.Process(fragment("123", 1, SubpackageFirst, []byte("abc")))
	a.ClearDevice("123")
	if out := a.Process(fragment("123", 1, SubpackageLast, []byte("!"))); out != nil {
		t.Fatalf("LAST after ClearDevice emitted %q", out)
	}
}
