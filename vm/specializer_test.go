package vm

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

// ---------------------------------------------------------------------------
// RegisterFile tests
// ---------------------------------------------------------------------------

func TestRegisterFileReadWrite(t *testing.T) {
	r := NewRegisterFile()
	if err := r.WriteRegister(7, 1234); err != nil {
		t.Fatalf("write: %v", err)
	}
	v, err := r.ReadRegister(7)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if v != 1234 {
		t.Errorf("register 7 = %d, want 1234", v)
	}
}

func TestRegisterFileBounds(t *testing.T) {
	r := NewRegisterFile()
	if _, err := r.ReadRegister(LocalSlots); !errors.Is(err, ErrLocalIndex) {
		t.Errorf("read err = %v, want ErrLocalIndex", err)
	}
	if err := r.WriteRegister(math.MaxUint64, 1); !errors.Is(err, ErrLocalIndex) {
		t.Errorf("write err = %v, want ErrLocalIndex", err)
	}
}

func TestRegisterFileReset(t *testing.T) {
	r := NewRegisterFile()
	r.WriteRegister(0, 5)
	r.DeclarePCConst(3, fetchSite)
	r.PushContext(0)
	r.Reset()

	if v, _ := r.ReadRegister(0); v != 0 {
		t.Errorf("register 0 after reset = %d, want 0", v)
	}
	if len(r.Witnesses()) != 0 || r.OpenContexts() != 0 {
		t.Error("reset left recorded traffic behind")
	}
}

// ---------------------------------------------------------------------------
// Nop tests
// ---------------------------------------------------------------------------

func TestNopDeclinesRequests(t *testing.T) {
	var slot EntrySlot
	req := NewSpecializationRequest(SampleSumLoop(1), &slot)
	if err := (Nop{}).Request(req); !errors.Is(err, ErrSpecializationUnsupported) {
		t.Errorf("err = %v, want ErrSpecializationUnsupported", err)
	}
	if slot.Load() != nil {
		t.Error("declined request must not fill the entry slot")
	}
}

// ---------------------------------------------------------------------------
// Specialized-mode interpretation tests
// ---------------------------------------------------------------------------

func TestSpecializedModeTransparent(t *testing.T) {
	// Hook-routed and direct storage must be observably identical.
	for _, goal := range []Word{1, 5, 17} {
		p := SampleSumLoop(goal)

		var genericOut bytes.Buffer
		genericResult, err := NewEngine(&genericOut).Execute(p)
		if err != nil {
			t.Fatalf("generic execute: %v", err)
		}

		var specOut bytes.Buffer
		specResult, err := NewSpecializedEngine(&specOut, NewRegisterFile()).Execute(p)
		if err != nil {
			t.Fatalf("specialized execute: %v", err)
		}

		if specResult != genericResult {
			t.Errorf("N=%d: specialized result = %d, generic = %d", goal, specResult, genericResult)
		}
		if specOut.String() != genericOut.String() {
			t.Errorf("N=%d: specialized output = %q, generic = %q", goal, specOut.String(), genericOut.String())
		}
	}
}

func TestSpecializedModeWitnessesPC(t *testing.T) {
	r := NewRegisterFile()
	p := NewProgramBuilder("t").Emit(OpLoadImmediate, 1).Emit(OpHalt).Build()
	if _, err := NewSpecializedEngine(&bytes.Buffer{}, r).Execute(p); err != nil {
		t.Fatalf("execute: %v", err)
	}

	w := r.Witnesses()
	if len(w) != 2 {
		t.Fatalf("witness count = %d, want 2 (one per fetch)", len(w))
	}
	if w[0].PC != 0 || w[1].PC != 2 {
		t.Errorf("witnessed pcs = %d, %d, want 0, 2", w[0].PC, w[1].PC)
	}
	for _, wit := range w {
		if wit.Site != fetchSite {
			t.Errorf("witness site = %d, want %d", wit.Site, fetchSite)
		}
	}
}

func TestSpecializedModeContextBracketing(t *testing.T) {
	r := NewRegisterFile()
	p := SampleSumLoop(3)
	if _, err := NewSpecializedEngine(&bytes.Buffer{}, r).Execute(p); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if r.OpenContexts() != 0 {
		t.Errorf("open contexts = %d, want 0 (push/pop must bracket the call)", r.OpenContexts())
	}
	// Every instruction except the final HALT reports its continuation.
	if r.Updates() != len(r.Witnesses())-1 {
		t.Errorf("updates = %d, witnesses = %d, want updates = witnesses-1", r.Updates(), len(r.Witnesses()))
	}
}

func TestSpecializedModeContextPoppedOnError(t *testing.T) {
	r := NewRegisterFile()
	p := &Program{Words: []Word{99}}
	if _, err := NewSpecializedEngine(&bytes.Buffer{}, r).Execute(p); err == nil {
		t.Fatal("expected decode error")
	}
	if r.OpenContexts() != 0 {
		t.Errorf("open contexts after error = %d, want 0", r.OpenContexts())
	}
}
