package vm

import (
	"errors"
	"fmt"
	"io"
)

// ---------------------------------------------------------------------------
// Error sentinels
// ---------------------------------------------------------------------------

// ErrUnknownOpcode is returned (wrapped in a *DecodeError) when the
// fetched word does not correspond to a known opcode.
var ErrUnknownOpcode = errors.New("vm: unknown opcode")

// ErrPCRange is returned when the program counter runs past the end of
// the program, either fetching an opcode or an operand.
var ErrPCRange = errors.New("vm: program counter out of range")

// ErrLocalIndex is returned when a local slot index is >= LocalSlots.
var ErrLocalIndex = errors.New("vm: local index out of range")

// ErrStackOverflow is returned when a push exceeds StackSlots.
var ErrStackOverflow = errors.New("vm: stack overflow")

// ErrStackUnderflow is returned when a pop is executed on an empty stack.
var ErrStackUnderflow = errors.New("vm: stack underflow")

// ErrStringIndex is returned when a PRINT operand does not resolve to an
// entry in the program's string table.
var ErrStringIndex = errors.New("vm: string table index out of range")

// DecodeError reports an opcode word outside the known set. The
// invocation that hit it terminates with a zero result; no operands of
// the bad instruction are consumed and no side effects are performed.
type DecodeError struct {
	Opcode Word // the unrecognized opcode word
	PC     Word // index of the word that was fetched
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("vm: unknown opcode %d at pc %d", e.Opcode, e.PC)
}

func (e *DecodeError) Unwrap() error {
	return ErrUnknownOpcode
}

// ---------------------------------------------------------------------------
// Execution state
// ---------------------------------------------------------------------------

// Capacities of the per-invocation register and stack files.
const (
	LocalSlots = 256
	StackSlots = 256
)

// fetchSite identifies the engine's single opcode-fetch site to the
// specializer's pc-constancy witness.
const fetchSite = 1

// Mode selects how the engine binds its local-variable storage and
// whether it emits pc-constancy witnesses.
type Mode int

const (
	// ModeGeneric runs as a plain interpreter over an in-call local
	// array; all specializer hooks are skipped.
	ModeGeneric Mode = iota

	// ModeSpecialized routes local reads/writes through the
	// specializer's register hooks and declares the pc as a
	// compile-time constant before every fetch.
	ModeSpecialized
)

func (m Mode) String() string {
	if m == ModeSpecialized {
		return "specialized"
	}
	return "generic"
}

// localStore is the storage seam that lets the same dispatch logic serve
// both a plain interpreter and a partially evaluated one: generic mode
// binds a direct array, specialized mode binds the specializer's
// register hooks.
type localStore interface {
	load(idx Word) (Word, error)
	store(idx, v Word) error
}

// directStore is the generic-mode local file: a fixed-capacity,
// bounds-checked array scoped to one invocation.
type directStore struct {
	slots [LocalSlots]Word
}

func (s *directStore) load(idx Word) (Word, error) {
	if idx >= LocalSlots {
		return 0, fmt.Errorf("%w: load local %d", ErrLocalIndex, idx)
	}
	return s.slots[idx], nil
}

func (s *directStore) store(idx, v Word) error {
	if idx >= LocalSlots {
		return fmt.Errorf("%w: store local %d", ErrLocalIndex, idx)
	}
	s.slots[idx] = v
	return nil
}

// hookStore routes local access through the external specializer,
// addressed by the same indices as the direct array.
type hookStore struct {
	spec Specializer
}

func (s hookStore) load(idx Word) (Word, error) {
	return s.spec.ReadRegister(idx)
}

func (s hookStore) store(idx, v Word) error {
	return s.spec.WriteRegister(idx, v)
}

// execState is the auxiliary stack file. No opcode currently pushes or
// pops; the primitives are available for future opcodes.
type execState struct {
	stack [StackSlots]Word
	sp    int
}

func (st *execState) push(v Word) error {
	if st.sp >= StackSlots {
		return fmt.Errorf("%w: sp %d", ErrStackOverflow, st.sp)
	}
	st.stack[st.sp] = v
	st.sp++
	return nil
}

func (st *execState) pop() (Word, error) {
	if st.sp <= 0 {
		return 0, ErrStackUnderflow
	}
	st.sp--
	v := st.stack[st.sp]
	st.stack[st.sp] = 0
	return v, nil
}

// ---------------------------------------------------------------------------
// Engine: the fetch/decode/dispatch loop
// ---------------------------------------------------------------------------

// Engine executes programs. One engine may run any number of programs;
// all mutable state (accumulator, locals, stack, pc) is scoped to a
// single Execute call, so a generic-mode engine is safe to share across
// goroutines as long as the output writer is.
type Engine struct {
	mode Mode
	spec Specializer
	out  io.Writer
}

// NewEngine creates a generic-mode engine writing PRINT/PRINTI output to
// out.
func NewEngine(out io.Writer) *Engine {
	return &Engine{mode: ModeGeneric, spec: Nop{}, out: out}
}

// NewSpecializedEngine creates an engine whose local storage and pc are
// exposed to the given specializer.
func NewSpecializedEngine(out io.Writer, spec Specializer) *Engine {
	return &Engine{mode: ModeSpecialized, spec: spec, out: out}
}

// Mode returns the engine's execution mode.
func (e *Engine) Mode() Mode {
	return e.mode
}

// Execute runs a program to completion and returns the final
// accumulator. A decode error (unknown opcode) or out-of-range
// pc/local/stack/string index terminates the invocation with a zero
// result and a non-nil error; no state survives into later calls either
// way.
func (e *Engine) Execute(p *Program) (Word, error) {
	var (
		accumulator Word
		direct      directStore
		st          execState
		locals      localStore = &direct
		pc          Word
	)
	_ = st // stack primitives unused by the current instruction set

	specialized := e.mode == ModeSpecialized
	if specialized {
		locals = hookStore{e.spec}
		e.spec.PushContext(0)
		defer e.spec.PopContext()
	}

	limit := Word(p.Len())
	for {
		if specialized {
			// Witness for the partial evaluator: at this point the pc is
			// a compile-time constant for the current call context.
			e.spec.DeclarePCConst(pc, fetchSite)
		}
		if pc >= limit {
			return 0, fmt.Errorf("%w: pc %d (program length %d)", ErrPCRange, pc, limit)
		}
		opWord := p.Words[pc]
		opPC := pc
		pc++
		op := Opcode(opWord)

		if n := Word(op.Operands()); op.Valid() && pc+n > limit {
			return 0, fmt.Errorf("%w: %s at pc %d needs %d operand words", ErrPCRange, op, opPC, n)
		}

		switch op {
		case OpLoadImmediate:
			accumulator = p.Words[pc]
			pc++

		case OpStoreLocal:
			idx := p.Words[pc]
			pc++
			if err := locals.store(idx, accumulator); err != nil {
				return 0, err
			}

		case OpLoadLocal:
			idx := p.Words[pc]
			pc++
			v, err := locals.load(idx)
			if err != nil {
				return 0, err
			}
			accumulator = v

		case OpPrint:
			idx := p.Words[pc]
			pc++
			s, err := p.StringAt(idx)
			if err != nil {
				return 0, err
			}
			if _, err := io.WriteString(e.out, s); err != nil {
				return 0, fmt.Errorf("vm: print: %w", err)
			}

		case OpPrintI:
			if _, err := fmt.Fprintf(e.out, "%d", accumulator); err != nil {
				return 0, fmt.Errorf("vm: print: %w", err)
			}

		case OpJmpNZ:
			target := p.Words[pc]
			pc++
			if accumulator != 0 {
				pc = target
			}

		case OpInc:
			accumulator++

		case OpDec:
			accumulator--

		case OpAdd:
			idx1, idx2 := p.Words[pc], p.Words[pc+1]
			pc += 2
			a, err := locals.load(idx1)
			if err != nil {
				return 0, err
			}
			b, err := locals.load(idx2)
			if err != nil {
				return 0, err
			}
			accumulator = a + b

		case OpHalt:
			return accumulator, nil

		default:
			return 0, &DecodeError{Opcode: opWord, PC: opPC}
		}

		if specialized {
			// Report the continuation point so the specializer can track
			// per-context constant-pc state across iterations.
			e.spec.UpdateContext(pc)
		}
	}
}
