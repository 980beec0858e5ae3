// Package vm implements the ferrite virtual machine.
//
// This package contains:
//   - Word-oriented instruction set and flat program encoding
//   - Fetch/decode/dispatch interpreter with a dual-mode storage seam
//   - Specializer collaboration surface and a working partial evaluator
//   - Call-time driver preferring specialized entry points
//   - Program images, content addressing and run history
package vm
