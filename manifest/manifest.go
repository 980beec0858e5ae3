// Package manifest handles ferrite.toml run configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Manifest represents a ferrite.toml run configuration.
type Manifest struct {
	Program Program `toml:"program"`
	Run     Run     `toml:"run"`

	// Dir is the directory containing the ferrite.toml file (set at load time).
	Dir string `toml:"-"`
}

// Program identifies the program to run.
type Program struct {
	Name  string `toml:"name"`
	Image string `toml:"image"` // program image path, empty = bundled sample
}

// Run configures how the program is executed.
type Run struct {
	Specialize bool   `toml:"specialize"` // request a specialized entry point before calling
	Goal       uint64 `toml:"goal"`       // loop goal for the bundled sample program
	Store      string `toml:"store"`      // run-history database path, empty = don't record
	Trace      bool   `toml:"trace"`      // verbose execution logging
}

// Load parses a ferrite.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "ferrite.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if m.Program.Name == "" {
		m.Program.Name = "sumloop"
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a ferrite.toml file, then
// loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "ferrite.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// ImagePath returns the absolute path of the configured program image,
// or empty when the bundled sample should be used.
func (m *Manifest) ImagePath() string {
	if m.Program.Image == "" {
		return ""
	}
	if filepath.IsAbs(m.Program.Image) {
		return m.Program.Image
	}
	return filepath.Join(m.Dir, m.Program.Image)
}

// StorePath returns the absolute path of the run-history database, or
// empty when recording is disabled.
func (m *Manifest) StorePath() string {
	if m.Run.Store == "" {
		return ""
	}
	if filepath.IsAbs(m.Run.Store) {
		return m.Run.Store
	}
	return filepath.Join(m.Dir, m.Run.Store)
}
