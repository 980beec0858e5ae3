package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Words and opcodes
// ---------------------------------------------------------------------------

// Word is the machine word of the VM. Instruction words are used
// polymorphically: as an opcode tag, an immediate value, a local slot
// index, a jump target, or a string-table index.
type Word = uint64

// Opcode tags the first word of an instruction.
type Opcode Word

// The instruction set. Values are part of the program encoding and must
// not be reordered: jump targets are raw word indices computed against
// the arity table below.
const (
	OpLoadImmediate Opcode = iota // accumulator := operand
	OpStoreLocal                  // locals[operand] := accumulator
	OpLoadLocal                   // accumulator := locals[operand]
	OpPrint                       // write strings[operand] to output
	OpPrintI                      // write accumulator as decimal unsigned
	OpJmpNZ                       // if accumulator != 0 { pc := operand }
	OpInc                         // accumulator++
	OpDec                         // accumulator--
	OpAdd                         // accumulator := locals[op1] + locals[op2]
	OpHalt                        // return accumulator

	numOpcodes
)

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name     string // human-readable name
	Operands int    // number of operand words following the tag
}

// opcodeTable maps opcodes to their metadata. The operand counts define
// the instruction encoding: decoding reads exactly this many words after
// the tag, with no length prefix and no operand typing.
var opcodeTable = [numOpcodes]OpcodeInfo{
	OpLoadImmediate: {"LOAD_IMMEDIATE", 1},
	OpStoreLocal:    {"STORE_LOCAL", 1},
	OpLoadLocal:     {"LOAD_LOCAL", 1},
	OpPrint:         {"PRINT", 1},
	OpPrintI:        {"PRINTI", 0},
	OpJmpNZ:         {"JMPNZ", 1},
	OpInc:           {"INC", 0},
	OpDec:           {"DEC", 0},
	OpAdd:           {"ADD", 2},
	OpHalt:          {"HALT", 0},
}

// Valid reports whether op is a known opcode.
func (op Opcode) Valid() bool {
	return op < numOpcodes
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if op.Valid() {
		return opcodeTable[op]
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%d", Word(op))}
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// Operands returns the number of operand words for an opcode.
func (op Opcode) Operands() int {
	return op.Info().Operands
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// ---------------------------------------------------------------------------
// Program
// ---------------------------------------------------------------------------

// Program is an immutable flat sequence of instruction words plus the
// string table referenced by PRINT operands. The engine only reads it, so
// a Program may be shared freely across invocations.
type Program struct {
	Name    string
	Words   []Word
	Strings []string
}

// Len returns the number of instruction words.
func (p *Program) Len() int {
	return len(p.Words)
}

// StringAt resolves a PRINT string-table index.
func (p *Program) StringAt(idx Word) (string, error) {
	if idx >= Word(len(p.Strings)) {
		return "", fmt.Errorf("%w: index %d (table size %d)", ErrStringIndex, idx, len(p.Strings))
	}
	return p.Strings[idx], nil
}

// ---------------------------------------------------------------------------
// ProgramBuilder: helper for constructing programs
// ---------------------------------------------------------------------------

// ProgramBuilder helps construct instruction sequences. PRINT operands
// are interned into the program's string table at build time instead of
// carrying raw pointers in the instruction stream.
type ProgramBuilder struct {
	name     string
	words    []Word
	strings  []string
	interned map[string]Word
}

// NewProgramBuilder creates a builder for a named program.
func NewProgramBuilder(name string) *ProgramBuilder {
	return &ProgramBuilder{
		name:     name,
		words:    make([]Word, 0, 32),
		interned: make(map[string]Word),
	}
}

// Pos returns the index the next emitted word will occupy. Useful as a
// backward jump target.
func (b *ProgramBuilder) Pos() Word {
	return Word(len(b.words))
}

// Emit appends an opcode with its operand words. The operand count must
// match the opcode's arity.
func (b *ProgramBuilder) Emit(op Opcode, operands ...Word) *ProgramBuilder {
	if len(operands) != op.Operands() {
		panic(fmt.Sprintf("vm: %s takes %d operands, got %d", op, op.Operands(), len(operands)))
	}
	b.words = append(b.words, Word(op))
	b.words = append(b.words, operands...)
	return b
}

// EmitPrint appends a PRINT instruction, interning text into the string
// table.
func (b *ProgramBuilder) EmitPrint(text string) *ProgramBuilder {
	idx, ok := b.interned[text]
	if !ok {
		idx = Word(len(b.strings))
		b.strings = append(b.strings, text)
		b.interned[text] = idx
	}
	return b.Emit(OpPrint, idx)
}

// Label represents a forward jump target.
type Label struct {
	resolved bool
	target   Word
	refs     []int // operand positions awaiting the target
}

// NewLabel creates an unresolved label.
func (b *ProgramBuilder) NewLabel() *Label {
	return &Label{}
}

// Mark resolves a label to the current position and patches all forward
// references.
func (b *ProgramBuilder) Mark(l *Label) {
	if l.resolved {
		panic("vm: label already resolved")
	}
	l.resolved = true
	l.target = b.Pos()
	for _, ref := range l.refs {
		b.words[ref] = l.target
	}
	l.refs = nil
}

// EmitJmpNZ appends a JMPNZ instruction targeting a label. Backward jumps
// resolve immediately; forward jumps are patched at Mark.
func (b *ProgramBuilder) EmitJmpNZ(l *Label) *ProgramBuilder {
	b.words = append(b.words, Word(OpJmpNZ))
	if l.resolved {
		b.words = append(b.words, l.target)
	} else {
		l.refs = append(l.refs, len(b.words))
		b.words = append(b.words, 0) // placeholder
	}
	return b
}

// Build finalizes the program. The builder must not be reused afterwards.
func (b *ProgramBuilder) Build() *Program {
	return &Program{
		Name:    b.name,
		Words:   b.words,
		Strings: b.strings,
	}
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// Disassemble returns a human-readable listing of a program, one
// instruction per line with its word index.
func Disassemble(p *Program) string {
	var sb strings.Builder
	pc := Word(0)
	for pc < Word(p.Len()) {
		op := Opcode(p.Words[pc])
		fmt.Fprintf(&sb, "%04d  %s", pc, op.Name())
		if !op.Valid() {
			sb.WriteByte('\n')
			pc++
			continue
		}
		end := pc + 1 + Word(op.Operands())
		if end > Word(p.Len()) {
			sb.WriteString("  <truncated>\n")
			break
		}
		for _, operand := range p.Words[pc+1 : end] {
			fmt.Fprintf(&sb, " %d", operand)
		}
		if op == OpPrint {
			if s, err := p.StringAt(p.Words[pc+1]); err == nil {
				fmt.Fprintf(&sb, " %q", s)
			}
		}
		sb.WriteByte('\n')
		pc = end
	}
	return sb.String()
}
