package vm

import (
	"fmt"
	"io"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Residualization: constant-folding the pc out of the dispatch loop
// ---------------------------------------------------------------------------

// A step is one residualized instruction: decode and operand fetch were
// paid at build time, so running it touches only machine state.
type step func(m *machine) error

// machine is the state of one specialized invocation. Like the
// interpreter's execution state it is created fresh per call and
// discarded at halt.
type machine struct {
	accumulator Word
	locals      [LocalSlots]Word
	out         io.Writer
}

// Terminator kinds for residual blocks.
const (
	termHalt = iota
	termBranch
)

// block is a straight-line run of residualized instructions entered at a
// constant pc. Control leaves a block only through its terminator: a
// halt, or the residual two-way branch left behind by JMPNZ.
type block struct {
	steps []step
	term  int
	// branch targets, valid when term == termBranch
	taken Word // pc when the accumulator is nonzero
	next  Word // fall-through pc
}

// Residualize builds a specialized entry point from a program. Every
// reachable pc value is constant-folded away: instructions become direct
// closures grouped into basic blocks, JMPNZ becomes a residual branch
// between blocks, and PRINT operands are resolved to their strings up
// front. Both outcomes of every JMPNZ are followed, so the build fails
// on any reachable unknown opcode, out-of-range jump target, or bad
// local/string index — in that case the caller keeps interpreting.
func Residualize(p *Program) (SpecializedFunc, error) {
	blocks := make(map[Word]*block)
	worklist := []Word{0}

	for len(worklist) > 0 {
		entry := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		if _, ok := blocks[entry]; ok {
			continue
		}
		b, succs, err := buildBlock(p, entry)
		if err != nil {
			return nil, err
		}
		blocks[entry] = b
		worklist = append(worklist, succs...)
	}

	entryBlock := blocks[0]
	return func(out io.Writer) (Word, error) {
		m := &machine{out: out}
		b := entryBlock
		for {
			for _, s := range b.steps {
				if err := s(m); err != nil {
					return 0, err
				}
			}
			if b.term == termHalt {
				return m.accumulator, nil
			}
			if m.accumulator != 0 {
				b = blocks[b.taken]
			} else {
				b = blocks[b.next]
			}
		}
	}, nil
}

// buildBlock residualizes the straight-line run starting at entry and
// returns the block plus the entry pcs of its successors.
func buildBlock(p *Program, entry Word) (*block, []Word, error) {
	limit := Word(p.Len())
	b := &block{}
	pc := entry

	for {
		if pc >= limit {
			return nil, nil, fmt.Errorf("%w: pc %d (program length %d)", ErrPCRange, pc, limit)
		}
		opWord := p.Words[pc]
		op := Opcode(opWord)
		if !op.Valid() {
			return nil, nil, fmt.Errorf("residualize pc %d: %w", pc, &DecodeError{Opcode: opWord, PC: pc})
		}
		operands := Word(op.Operands())
		if pc+1+operands > limit {
			return nil, nil, fmt.Errorf("%w: %s at pc %d needs %d operand words", ErrPCRange, op, pc, operands)
		}
		args := p.Words[pc+1 : pc+1+operands]
		pc += 1 + operands

		switch op {
		case OpLoadImmediate:
			v := args[0]
			b.steps = append(b.steps, func(m *machine) error {
				m.accumulator = v
				return nil
			})

		case OpStoreLocal:
			idx := args[0]
			if idx >= LocalSlots {
				return nil, nil, fmt.Errorf("%w: store local %d", ErrLocalIndex, idx)
			}
			b.steps = append(b.steps, func(m *machine) error {
				m.locals[idx] = m.accumulator
				return nil
			})

		case OpLoadLocal:
			idx := args[0]
			if idx >= LocalSlots {
				return nil, nil, fmt.Errorf("%w: load local %d", ErrLocalIndex, idx)
			}
			b.steps = append(b.steps, func(m *machine) error {
				m.accumulator = m.locals[idx]
				return nil
			})

		case OpPrint:
			s, err := p.StringAt(args[0])
			if err != nil {
				return nil, nil, err
			}
			b.steps = append(b.steps, func(m *machine) error {
				if _, err := io.WriteString(m.out, s); err != nil {
					return fmt.Errorf("vm: print: %w", err)
				}
				return nil
			})

		case OpPrintI:
			b.steps = append(b.steps, func(m *machine) error {
				if _, err := fmt.Fprintf(m.out, "%d", m.accumulator); err != nil {
					return fmt.Errorf("vm: print: %w", err)
				}
				return nil
			})

		case OpInc:
			b.steps = append(b.steps, func(m *machine) error {
				m.accumulator++
				return nil
			})

		case OpDec:
			b.steps = append(b.steps, func(m *machine) error {
				m.accumulator--
				return nil
			})

		case OpAdd:
			idx1, idx2 := args[0], args[1]
			if idx1 >= LocalSlots || idx2 >= LocalSlots {
				return nil, nil, fmt.Errorf("%w: add locals %d, %d", ErrLocalIndex, idx1, idx2)
			}
			b.steps = append(b.steps, func(m *machine) error {
				m.accumulator = m.locals[idx1] + m.locals[idx2]
				return nil
			})

		case OpJmpNZ:
			target := args[0]
			if target >= limit {
				return nil, nil, fmt.Errorf("%w: jump target %d", ErrPCRange, target)
			}
			b.term = termBranch
			b.taken = target
			b.next = pc
			return b, []Word{target, pc}, nil

		case OpHalt:
			b.term = termHalt
			return b, nil, nil
		}
	}
}

// ---------------------------------------------------------------------------
// PartialEvaluator: background specialization service
// ---------------------------------------------------------------------------

// PartialEvaluator is a working Specializer. Its register hooks are
// backed by the embedded register file, and specialization requests are
// built on a background worker so entry points become available ahead of
// the real call without blocking the requester.
type PartialEvaluator struct {
	*RegisterFile

	pending chan *SpecializationRequest
	done    chan struct{}

	builds   atomic.Uint64
	failures atomic.Uint64
}

// NewPartialEvaluator creates a partial evaluator and starts its build
// worker. Call Close to stop the worker.
func NewPartialEvaluator() *PartialEvaluator {
	pe := &PartialEvaluator{
		RegisterFile: NewRegisterFile(),
		pending:      make(chan *SpecializationRequest, 16),
		done:         make(chan struct{}),
	}
	go pe.buildWorker()
	return pe
}

// Request queues a specialization request. It returns once the request
// is accepted; the result is published asynchronously into the request's
// out slot, and the request's Done channel is closed when the build
// finishes either way.
func (pe *PartialEvaluator) Request(req *SpecializationRequest) error {
	select {
	case <-pe.done:
		return fmt.Errorf("%w: partial evaluator closed", ErrSpecializationUnsupported)
	default:
	}
	select {
	case pe.pending <- req:
		return nil
	default:
		return fmt.Errorf("%w: specialization queue full", ErrSpecializationUnsupported)
	}
}

func (pe *PartialEvaluator) buildWorker() {
	for {
		select {
		case req := <-pe.pending:
			pe.build(req)
		case <-pe.done:
			return
		}
	}
}

func (pe *PartialEvaluator) build(req *SpecializationRequest) {
	defer close(req.Done)
	fn, err := Residualize(req.Program)
	if err != nil {
		// The slot stays empty; the driver keeps interpreting.
		pe.failures.Add(1)
		return
	}
	req.Out.Store(&fn)
	pe.builds.Add(1)
}

// Builds returns the number of successfully built entry points.
func (pe *PartialEvaluator) Builds() uint64 {
	return pe.builds.Load()
}

// Failures returns the number of failed builds.
func (pe *PartialEvaluator) Failures() uint64 {
	return pe.failures.Load()
}

// Close stops the build worker. Pending requests are abandoned.
func (pe *PartialEvaluator) Close() {
	close(pe.done)
}
