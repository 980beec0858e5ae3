// Ferrite CLI - runs ferrite programs generically or specialized
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/ferrite/manifest"
	"github.com/chazu/ferrite/vm"

	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("ferrite")

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	imagePath := flag.String("image", "", "Program image to run (default: bundled sum-loop sample)")
	emitPath := flag.String("emit", "", "Write the program image to this path and exit")
	disassemble := flag.Bool("dis", false, "Print a disassembly and exit")
	specialize := flag.Bool("spec", false, "Build a specialized entry point before calling")
	goal := flag.Uint64("n", 5, "Loop goal for the bundled sample program")
	storePath := flag.String("store", "", "Record the run into this sqlite database")
	specTimeout := flag.Duration("spec-timeout", 5*time.Second, "How long to wait for specialization")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ferrite [options]\n\n")
		fmt.Fprintf(os.Stderr, "Runs a ferrite program, preferring a specialized entry point when one\n")
		fmt.Fprintf(os.Stderr, "has been built. Settings default from a ferrite.toml manifest if present.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  ferrite -n 100                  # Interpret the sample for N=100\n")
		fmt.Fprintf(os.Stderr, "  ferrite -n 100 -spec            # Same result via a specialized entry\n")
		fmt.Fprintf(os.Stderr, "  ferrite -emit sumloop.fbi       # Save the sample as a program image\n")
		fmt.Fprintf(os.Stderr, "  ferrite -image sumloop.fbi -dis # Disassemble an image\n")
	}
	flag.Parse()

	verbosity := 0
	if *verbose {
		verbosity = 2
	}
	commonlog.Configure(verbosity, nil)

	// A manifest supplies defaults for flags the user did not set.
	m, err := manifest.FindAndLoad(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading manifest: %v\n", err)
		os.Exit(1)
	}
	explicit := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
	if m != nil {
		if !explicit["image"] {
			*imagePath = m.ImagePath()
		}
		if !explicit["spec"] {
			*specialize = m.Run.Specialize
		}
		if !explicit["n"] && m.Run.Goal != 0 {
			*goal = m.Run.Goal
		}
		if !explicit["store"] {
			*storePath = m.StorePath()
		}
	}

	var program *vm.Program
	if *imagePath != "" {
		program, err = vm.LoadImage(*imagePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading image: %v\n", err)
			os.Exit(1)
		}
		log.Infof("loaded program %s from %s (%d words)", program.Name, *imagePath, program.Len())
	} else {
		if *goal == 0 {
			fmt.Fprintf(os.Stderr, "Error: -n must be positive\n")
			os.Exit(1)
		}
		program = vm.SampleSumLoop(*goal)
	}

	if *disassemble {
		fmt.Print(vm.Disassemble(program))
		return
	}
	if *emitPath != "" {
		if err := vm.SaveImage(*emitPath, program); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing image: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %s (%d words) to %s\n", program.Name, program.Len(), *emitPath)
		return
	}

	// Tee program output when recording so the run history carries the
	// printed bytes alongside the result word.
	var captured bytes.Buffer
	out := io.Writer(os.Stdout)
	if *storePath != "" {
		out = io.MultiWriter(os.Stdout, &captured)
	}

	var machine *vm.VM
	if *specialize {
		pe := vm.NewPartialEvaluator()
		defer pe.Close()
		machine = vm.NewWithSpecializer(program, out, pe)
		if err := machine.SpecializeAndWait(*specTimeout); err != nil {
			log.Warningf("falling back to generic execution: %v", err)
		}
	} else {
		machine = vm.New(program, out)
	}

	result, err := machine.Call()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	mode := vm.ModeGeneric
	if machine.Specialized() {
		mode = vm.ModeSpecialized
	}
	if *verbose {
		fmt.Printf("result=%d mode=%s\n", result, mode)
	}

	if *storePath != "" {
		store, err := vm.OpenRunStore(*storePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening run store: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()
		rec := &vm.RunRecord{
			ProgramHash: vm.ContentHashString(program),
			Mode:        mode.String(),
			Result:      result,
			Output:      captured.String(),
		}
		if err := store.Record(rec); err != nil {
			fmt.Fprintf(os.Stderr, "Error recording run: %v\n", err)
			os.Exit(1)
		}
		log.Infof("recorded run %s for program %s", rec.ID, rec.ProgramHash[:12])
	}
}
