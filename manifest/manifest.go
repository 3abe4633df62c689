// Package manifest handles acsvm.toml project configuration.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/chazu/acsvm/vm"
)

// FileName is the name of the project file looked up by Load and
// FindAndLoad.
const FileName = "acsvm.toml"

// DefaultCacheSize is the number of module images kept in memory when the
// manifest does not set one.
const DefaultCacheSize = 64

// Manifest represents an acsvm.toml project configuration.
type Manifest struct {
	Project Project   `toml:"project"`
	Modules Modules   `toml:"modules"`
	VM      VMConfig  `toml:"vm"`
	Log     LogConfig `toml:"log"`

	// Dir is the directory containing the acsvm.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name string `toml:"name"`
}

// Modules configures where module images come from and which are loaded
// when the project's map is entered.
type Modules struct {
	Dirs      []string `toml:"dirs"`
	Archive   string   `toml:"archive"`
	Map       int32    `toml:"map"`
	Level     string   `toml:"level"`
	Load      []string `toml:"load"`
	CacheSize int      `toml:"cache-size"`
}

// VMConfig tunes the environment.
type VMConfig struct {
	RunawayLimit  int      `toml:"runaway-limit"`
	GraceDelay    int32    `toml:"grace-delay"`
	SystemStrings []string `toml:"system-strings"`
}

// LogConfig configures the commonlog backend.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Load parses an acsvm.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
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
	if len(m.Modules.Dirs) == 0 && m.Modules.Archive == "" {
		m.Modules.Dirs = []string{"modules"}
	}
	if m.Modules.CacheSize == 0 {
		m.Modules.CacheSize = DefaultCacheSize
	}
	if m.Modules.Map == 0 {
		m.Modules.Map = 1
	}

	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	var errs []error
	if m.Modules.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("modules.cache-size %d is negative", m.Modules.CacheSize))
	}
	if m.Modules.Map < 0 {
		errs = append(errs, fmt.Errorf("modules.map %d is negative", m.Modules.Map))
	}
	if m.VM.RunawayLimit < 0 {
		errs = append(errs, fmt.Errorf("vm.runaway-limit %d is negative", m.VM.RunawayLimit))
	}
	if m.VM.GraceDelay < 0 {
		errs = append(errs, fmt.Errorf("vm.grace-delay %d is negative", m.VM.GraceDelay))
	}
	return errors.Join(errs...)
}

// FindAndLoad walks up from startDir to find an acsvm.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
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

// ModuleDirPaths returns absolute paths for the configured module directories.
func (m *Manifest) ModuleDirPaths() []string {
	var paths []string
	for _, d := range m.Modules.Dirs {
		paths = append(paths, m.resolve(d))
	}
	return paths
}

// ArchivePath returns the absolute path of the module archive, or "" when
// none is configured.
func (m *Manifest) ArchivePath() string {
	if m.Modules.Archive == "" {
		return ""
	}
	return m.resolve(m.Modules.Archive)
}

// LogPath returns the absolute path of the log file, or "" for stderr.
func (m *Manifest) LogPath() string {
	if m.Log.File == "" {
		return ""
	}
	return m.resolve(m.Log.File)
}

// SaveDir returns the path to the .acsvm/saves directory.
func (m *Manifest) SaveDir() string {
	return filepath.Join(m.Dir, ".acsvm", "saves")
}

// Options returns the environment options the manifest asks for. Unset
// values are left zero so the environment applies its defaults.
func (m *Manifest) Options() vm.Options {
	return vm.Options{
		RunawayLimit:  m.VM.RunawayLimit,
		GraceDelay:    m.VM.GraceDelay,
		SystemStrings: m.VM.SystemStrings,
	}
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}
