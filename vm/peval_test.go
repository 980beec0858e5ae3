package vm

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Residualization tests
// ---------------------------------------------------------------------------

func TestResidualizeEquivalence(t *testing.T) {
	for _, goal := range []Word{1, 2, 5, 10, 64} {
		p := SampleSumLoop(goal)

		var genericOut bytes.Buffer
		genericResult, err := NewEngine(&genericOut).Execute(p)
		if err != nil {
			t.Fatalf("generic execute: %v", err)
		}

		fn, err := Residualize(p)
		if err != nil {
			t.Fatalf("residualize: %v", err)
		}
		var specOut bytes.Buffer
		specResult, err := fn(&specOut)
		if err != nil {
			t.Fatalf("specialized call: %v", err)
		}

		if specResult != genericResult {
			t.Errorf("N=%d: specialized result = %d, generic = %d", goal, specResult, genericResult)
		}
		if specOut.String() != genericOut.String() {
			t.Errorf("N=%d: specialized output = %q, generic = %q", goal, specOut.String(), genericOut.String())
		}
	}
}

func TestResidualizedStateIsFreshPerCall(t *testing.T) {
	fn, err := Residualize(SampleSumLoop(5))
	if err != nil {
		t.Fatalf("residualize: %v", err)
	}
	for i := 0; i < 3; i++ {
		var out bytes.Buffer
		result, err := fn(&out)
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if result != 15 || out.String() != "Result: 15\n" {
			t.Errorf("call %d: result = %d output = %q, want 15 / %q", i, result, out.String(), "Result: 15\n")
		}
	}
}

func TestResidualizeFollowsBothBranchOutcomes(t *testing.T) {
	// The fall-through arm contains the bad opcode; a specializer that
	// only followed the taken arm would miss it.
	p := &Program{Words: []Word{
		Word(OpLoadImmediate), 1,
		Word(OpJmpNZ), 5,
		99,
		Word(OpHalt),
	}}
	if _, err := Residualize(p); !errors.Is(err, ErrUnknownOpcode) {
		t.Errorf("err = %v, want ErrUnknownOpcode", err)
	}
}

func TestResidualizeRejectsBadJumpTarget(t *testing.T) {
	p := &Program{Words: []Word{
		Word(OpLoadImmediate), 1,
		Word(OpJmpNZ), 100,
		Word(OpHalt),
	}}
	if _, err := Residualize(p); !errors.Is(err, ErrPCRange) {
		t.Errorf("err = %v, want ErrPCRange", err)
	}
}

func TestResidualizeRejectsUnknownOpcode(t *testing.T) {
	p := &Program{Words: []Word{99}}
	if _, err := Residualize(p); !errors.Is(err, ErrUnknownOpcode) {
		t.Errorf("err = %v, want ErrUnknownOpcode", err)
	}
}

func TestResidualizeRejectsMissingHalt(t *testing.T) {
	p := NewProgramBuilder("t").Emit(OpInc).Build()
	if _, err := Residualize(p); !errors.Is(err, ErrPCRange) {
		t.Errorf("err = %v, want ErrPCRange", err)
	}
}

func TestResidualizeRejectsBadLocalIndex(t *testing.T) {
	p := NewProgramBuilder("t").Emit(OpStoreLocal, LocalSlots).Emit(OpHalt).Build()
	if _, err := Residualize(p); !errors.Is(err, ErrLocalIndex) {
		t.Errorf("err = %v, want ErrLocalIndex", err)
	}
}

// ---------------------------------------------------------------------------
// PartialEvaluator tests
// ---------------------------------------------------------------------------

func TestPartialEvaluatorFillsSlotAsync(t *testing.T) {
	pe := NewPartialEvaluator()
	defer pe.Close()

	var slot EntrySlot
	req := NewSpecializationRequest(SampleSumLoop(5), &slot)
	if err := pe.Request(req); err != nil {
		t.Fatalf("request: %v", err)
	}

	select {
	case <-req.Done:
	case <-time.After(5 * time.Second):
		t.Fatal("build did not finish")
	}

	fn := slot.Load()
	if fn == nil {
		t.Fatal("entry slot not filled")
	}
	var out bytes.Buffer
	result, err := (*fn)(&out)
	if err != nil {
		t.Fatalf("specialized call: %v", err)
	}
	if result != 15 || out.String() != "Result: 15\n" {
		t.Errorf("result = %d output = %q, want 15 / %q", result, out.String(), "Result: 15\n")
	}
	if pe.Builds() != 1 {
		t.Errorf("builds = %d, want 1", pe.Builds())
	}
}

func TestPartialEvaluatorLeavesSlotEmptyOnFailure(t *testing.T) {
	pe := NewPartialEvaluator()
	defer pe.Close()

	var slot EntrySlot
	req := NewSpecializationRequest(&Program{Words: []Word{99}}, &slot)
	if err := pe.Request(req); err != nil {
		t.Fatalf("request: %v", err)
	}
	<-req.Done

	if slot.Load() != nil {
		t.Error("failed build must leave the entry slot empty")
	}
	if pe.Failures() != 1 {
		t.Errorf("failures = %d, want 1", pe.Failures())
	}
}

func TestPartialEvaluatorRequestAfterClose(t *testing.T) {
	pe := NewPartialEvaluator()
	pe.Close()

	var slot EntrySlot
	err := pe.Request(NewSpecializationRequest(SampleSumLoop(1), &slot))
	if !errors.Is(err, ErrSpecializationUnsupported) {
		t.Errorf("err = %v, want ErrSpecializationUnsupported", err)
	}
}
