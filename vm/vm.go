package vm

import (
	"fmt"
	"io"
	"time"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("ferrite.vm")

// ---------------------------------------------------------------------------
// VM: the call-time driver
// ---------------------------------------------------------------------------

// VM binds one program to an engine and a specializer and picks the
// execution path at call time: if a specialized entry point has been
// produced (asynchronously, ahead of the call), it is invoked directly
// with no program argument — the program was baked in at specialization
// time. Otherwise the generic engine interprets the full program.
type VM struct {
	program *Program
	spec    Specializer
	engine  *Engine
	out     io.Writer

	entry   EntrySlot
	lastReq *SpecializationRequest
}

// New creates a VM with the no-op specializer: every call interprets.
func New(p *Program, out io.Writer) *VM {
	return NewWithSpecializer(p, out, Nop{})
}

// NewWithSpecializer creates a VM collaborating with the given
// specializer. The fallback engine stays generic; specialization only
// takes effect once an entry point lands in the slot.
func NewWithSpecializer(p *Program, out io.Writer, spec Specializer) *VM {
	return &VM{
		program: p,
		spec:    spec,
		engine:  NewEngine(out),
		out:     out,
	}
}

// Program returns the program this VM runs.
func (vm *VM) Program() *Program {
	return vm.program
}

// Specialized reports whether a specialized entry point is available.
func (vm *VM) Specialized() bool {
	return vm.entry.Load() != nil
}

// Call executes the program once and returns the final accumulator.
func (vm *VM) Call() (Word, error) {
	if fn := vm.entry.Load(); fn != nil {
		log.Debugf("call %s: specialized entry", vm.program.Name)
		return (*fn)(vm.out)
	}
	log.Debugf("call %s: generic engine", vm.program.Name)
	return vm.engine.Execute(vm.program)
}

// Specialize asks the specializer to eagerly build a specialized entry
// point for this VM's program. The build is asynchronous; the entry slot
// fills when it completes. A specializer that declines
// (ErrSpecializationUnsupported) leaves the VM permanently on the
// generic path, which is the expected common case rather than a failure.
func (vm *VM) Specialize() error {
	req := NewSpecializationRequest(vm.program, &vm.entry)
	if err := vm.spec.Request(req); err != nil {
		log.Infof("specialization unavailable for %s: %v", vm.program.Name, err)
		return err
	}
	vm.lastReq = req
	log.Infof("specialization requested for %s (request %s)", vm.program.Name, req.ID)
	return nil
}

// WaitSpecialized blocks until the most recent specialization request
// finishes or the timeout elapses, and reports whether an entry point is
// now available. With no request outstanding it returns immediately.
func (vm *VM) WaitSpecialized(timeout time.Duration) bool {
	if vm.lastReq != nil {
		select {
		case <-vm.lastReq.Done:
		case <-time.After(timeout):
			log.Warningf("specialization of %s not ready after %v", vm.program.Name, timeout)
		}
	}
	return vm.Specialized()
}

// SpecializeAndWait is the synchronous convenience wrapper used by
// drivers that want a specialized entry before the first call.
func (vm *VM) SpecializeAndWait(timeout time.Duration) error {
	if err := vm.Specialize(); err != nil {
		return err
	}
	if !vm.WaitSpecialized(timeout) {
		return fmt.Errorf("vm: specialization of %s did not produce an entry point", vm.program.Name)
	}
	return nil
}
