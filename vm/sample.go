package vm

// SampleSumLoop builds the bundled demonstration program: sum the
// integers 1..goal into local 0 by counting local 1 down, then print
// "Result: " followed by the sum and a newline. The goal must be
// positive; the loop body runs before the counter is tested.
func SampleSumLoop(goal Word) *Program {
	const (
		result = 0
		loopc  = 1
	)
	b := NewProgramBuilder("sumloop")

	b.Emit(OpLoadImmediate, 0)
	b.Emit(OpStoreLocal, result)
	b.Emit(OpLoadImmediate, goal)
	b.Emit(OpStoreLocal, loopc)

	loop := b.Pos()
	b.Emit(OpAdd, result, loopc)
	b.Emit(OpStoreLocal, result)
	b.Emit(OpLoadLocal, loopc)
	b.Emit(OpDec)
	b.Emit(OpStoreLocal, loopc)
	b.Emit(OpJmpNZ, loop)

	b.EmitPrint("Result: ")
	b.Emit(OpLoadLocal, result)
	b.Emit(OpPrintI)
	b.EmitPrint("\n")
	b.Emit(OpHalt)

	return b.Build()
}
