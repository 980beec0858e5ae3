package vm

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Specializer: the partial-evaluation collaboration surface
// ---------------------------------------------------------------------------

// ErrSpecializationUnsupported is reported by specializers that cannot
// serve a given operation. Absence of specialization support is the
// expected common case for the driver, which simply stays on the generic
// path; it is not treated as a failure.
var ErrSpecializationUnsupported = errors.New("vm: specialization not supported")

// SpecializedFunc is a specialized entry point produced by a
// specializer. The program it was built from is baked in, so it takes no
// program argument; only the output sink is supplied at call time.
type SpecializedFunc func(out io.Writer) (Word, error)

// EntrySlot receives a specialized entry point asynchronously. The
// driver loads it before every call; a nil load selects the generic
// engine.
type EntrySlot = atomic.Pointer[SpecializedFunc]

// SpecializationRequest asks a specializer to eagerly produce a
// specialized version of the engine's entry point for one program. The
// program is the read-only memory region the specializer may treat as
// baked-in constants. The result is written into Out when the build
// completes; the request itself returns without waiting.
type SpecializationRequest struct {
	ID      string
	Program *Program
	Out     *EntrySlot

	// Done is closed once the build has finished (successfully or not).
	Done chan struct{}
}

// NewSpecializationRequest creates a request with a fresh ID.
func NewSpecializationRequest(p *Program, out *EntrySlot) *SpecializationRequest {
	return &SpecializationRequest{
		ID:      uuid.NewString(),
		Program: p,
		Out:     out,
		Done:    make(chan struct{}),
	}
}

// Specializer is the external partial-evaluation engine as seen by the
// VM. The engine itself only consumes this surface; a no-op
// implementation yields plain interpretation.
//
// DeclarePCConst asserts that pc is invariant at the identified program
// point for the current call context. ReadRegister and WriteRegister
// substitute for local-array access under specialized execution,
// addressed by the same indices. PushContext, UpdateContext and
// PopContext bracket one logical execution span so the specializer can
// track per-context constant-pc state.
type Specializer interface {
	DeclarePCConst(pc Word, site int)
	ReadRegister(idx Word) (Word, error)
	WriteRegister(idx, v Word) error
	PushContext(id Word)
	UpdateContext(pc Word)
	PopContext()
	Request(req *SpecializationRequest) error
}

// ---------------------------------------------------------------------------
// Nop: the default specializer
// ---------------------------------------------------------------------------

// Nop is the specializer used for plain execution: witness and context
// hooks do nothing, and requests are declined. Its register hooks are
// backed by nothing; generic-mode execution never reaches them.
type Nop struct{}

func (Nop) DeclarePCConst(Word, int) {}

func (Nop) ReadRegister(idx Word) (Word, error) {
	return 0, fmt.Errorf("%w: read register %d without a register file", ErrSpecializationUnsupported, idx)
}

func (Nop) WriteRegister(idx, _ Word) error {
	return fmt.Errorf("%w: write register %d without a register file", ErrSpecializationUnsupported, idx)
}

func (Nop) PushContext(Word)   {}
func (Nop) UpdateContext(Word) {}
func (Nop) PopContext()        {}

func (Nop) Request(*SpecializationRequest) error {
	return ErrSpecializationUnsupported
}

// ---------------------------------------------------------------------------
// RegisterFile: a hook-backed register store
// ---------------------------------------------------------------------------

// PCWitness records one declare-pc-constant call.
type PCWitness struct {
	PC   Word
	Site int
}

// RegisterFile is a Specializer whose register hooks are backed by its
// own 256-slot file, with the witness and context traffic recorded. It
// stands in for the real partial evaluator's externalized state: running
// the engine in specialized mode against a RegisterFile must be
// observably identical to generic execution.
//
// A RegisterFile is not safe for concurrent use; like the engine's own
// state it is meant to back a single invocation at a time.
type RegisterFile struct {
	regs      [LocalSlots]Word
	witnesses []PCWitness
	contexts  []Word // open context ids, innermost last
	updates   int    // UpdateContext calls observed
}

// NewRegisterFile creates an empty register file.
func NewRegisterFile() *RegisterFile {
	return &RegisterFile{}
}

func (r *RegisterFile) DeclarePCConst(pc Word, site int) {
	r.witnesses = append(r.witnesses, PCWitness{PC: pc, Site: site})
}

func (r *RegisterFile) ReadRegister(idx Word) (Word, error) {
	if idx >= LocalSlots {
		return 0, fmt.Errorf("%w: read register %d", ErrLocalIndex, idx)
	}
	return r.regs[idx], nil
}

func (r *RegisterFile) WriteRegister(idx, v Word) error {
	if idx >= LocalSlots {
		return fmt.Errorf("%w: write register %d", ErrLocalIndex, idx)
	}
	r.regs[idx] = v
	return nil
}

func (r *RegisterFile) PushContext(id Word) {
	r.contexts = append(r.contexts, id)
}

func (r *RegisterFile) UpdateContext(Word) {
	r.updates++
}

func (r *RegisterFile) PopContext() {
	if n := len(r.contexts); n > 0 {
		r.contexts = r.contexts[:n-1]
	}
}

// Request declines: a bare register file records state but does not
// build specialized functions.
func (r *RegisterFile) Request(*SpecializationRequest) error {
	return ErrSpecializationUnsupported
}

// Witnesses returns the recorded pc-constancy declarations in order.
func (r *RegisterFile) Witnesses() []PCWitness {
	return r.witnesses
}

// OpenContexts returns the number of contexts pushed but not yet popped.
func (r *RegisterFile) OpenContexts() int {
	return len(r.contexts)
}

// Updates returns the number of continuation-point reports observed.
func (r *RegisterFile) Updates() int {
	return r.updates
}

// Reset clears registers and recorded traffic for reuse across
// invocations.
func (r *RegisterFile) Reset() {
	r.regs = [LocalSlots]Word{}
	r.witnesses = r.witnesses[:0]
	r.contexts = r.contexts[:0]
	r.updates = 0
}
