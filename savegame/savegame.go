// Package savegame wraps a VM state archive in a save file: a CBOR header
// naming the session, map and modules, followed by the archive bytes.
package savegame

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/chazu/acsvm/vm"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// Version is the save file format version.
const Version = 1

var (
	ErrBadSave        = errors.New("malformed save file")
	ErrVersion        = errors.New("unsupported save file version")
	ErrModuleMismatch = fmt.Errorf("save file modules differ: %w", vm.ErrArchiveMismatch)
)

// Canonical encoding keeps identical saves byte-identical.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("savegame: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Header describes a save.
type Header struct {
	Version int       `cbor:"1,keyasint"`
	Session uuid.UUID `cbor:"2,keyasint"`
	Label   string    `cbor:"3,keyasint,omitempty"`
	Map     int32     `cbor:"4,keyasint"`
	Tic     uint64    `cbor:"5,keyasint"`
	Level   string    `cbor:"6,keyasint"`
	// Modules lists every loaded module in load order.
	Modules []string `cbor:"7,keyasint"`
}

// File is a decoded save.
type File struct {
	Header Header `cbor:"1,keyasint"`
	State  []byte `cbor:"2,keyasint"`
}

// Capture saves env. The session, label and tic come from hdr; a zero
// session is replaced with a new random one.
func Capture(env *vm.Environment, hdr Header) *File {
	hdr.Version = Version
	if hdr.Session == uuid.Nil {
		hdr.Session = uuid.New()
	}
	hdr.Map = env.Map()
	hdr.Level = ""
	if lvl := env.LevelModule(); lvl != nil {
		hdr.Level = lvl.Name
	}
	hdr.Modules = nil
	for _, m := range env.Modules() {
		hdr.Modules = append(hdr.Modules, m.Name)
	}
	return &File{Header: hdr, State: env.SaveState()}
}

// Marshal encodes the save.
func (f *File) Marshal() ([]byte, error) {
	return cborEncMode.Marshal(f)
}

// Unmarshal decodes a save and checks its version.
func Unmarshal(data []byte) (*File, error) {
	var f File
	if err := cbor.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSave, err)
	}
	if f.Header.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, f.Header.Version)
	}
	return &f, nil
}

// Restore enters the saved map with the saved modules and restores the VM
// state into env, resolving triggers through the host. If the state cannot
// be restored env is left on the freshly entered map.
func (f *File) Restore(env *vm.Environment) error {
	h := &f.Header
	if err := env.EnterMap(h.Map, h.Level, h.Modules...); err != nil {
		return err
	}
	if err := f.checkModules(env); err != nil {
		return err
	}
	if err := env.RestoreState(f.State); err != nil {
		return err
	}
	env.ResolveTriggers()
	return nil
}

func (f *File) checkModules(env *vm.Environment) error {
	loaded := env.Modules()
	if len(loaded) != len(f.Header.Modules) {
		return fmt.Errorf("%w: %d loaded, %d saved", ErrModuleMismatch, len(loaded), len(f.Header.Modules))
	}
	for i, m := range loaded {
		if !strings.EqualFold(m.Name, f.Header.Modules[i]) {
			return fmt.Errorf("%w: module %d is %s, saved %s", ErrModuleMismatch, i, m.Name, f.Header.Modules[i])
		}
	}
	return nil
}

// WriteFile saves env to path.
func WriteFile(path string, env *vm.Environment, hdr Header) (*File, error) {
	f := Capture(env, hdr)
	data, err := f.Marshal()
	if err != nil {
		return nil, fmt.Errorf("encoding save: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, fmt.Errorf("writing save: %w", err)
	}
	return f, nil
}

// ReadFile reads a save from path.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading save: %w", err)
	}
	f, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}
