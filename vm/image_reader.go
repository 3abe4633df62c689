package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Image format
// ---------------------------------------------------------------------------

// ImageMagic identifies a module image.
var ImageMagic = [4]byte{'A', 'C', 'S', 'V'}

// ImageVersion is the module image format version.
const ImageVersion uint32 = 1

// Chunk identifiers.
var (
	chunkCode    = [4]byte{'C', 'O', 'D', 'E'}
	chunkJumps   = [4]byte{'J', 'U', 'M', 'P'}
	chunkStrings = [4]byte{'S', 'T', 'R', 'L'}
	chunkScripts = [4]byte{'S', 'C', 'P', 'T'}
	chunkFuncs   = [4]byte{'F', 'U', 'N', 'C'}
	chunkMapVars = [4]byte{'M', 'V', 'A', 'R'}
	chunkMapArrs = [4]byte{'M', 'A', 'R', 'R'}
	chunkLoads   = [4]byte{'L', 'O', 'A', 'D'}
)

// noName marks an absent string reference in SCPT and FUNC records.
const noName int32 = -1

type scriptRecord struct {
	number   int32
	name     int32
	typ      uint32
	entry    uint32
	argCount uint32
	varCount uint32
}

type funcRecord struct {
	name     int32
	entry    uint32
	argCount uint32
	varCount uint32
	imported bool
}

type varRecord struct {
	slot     uint32
	name     uint32
	imported bool
}

type arrRecord struct {
	slot     uint32
	size     uint32
	name     uint32
	imported bool
}

// moduleImage is a parsed, validated image that has not been linked yet.
type moduleImage struct {
	flags   uint32
	code    []int32
	jumps   []uint32
	strings [][]byte
	scripts []scriptRecord
	funcs   []funcRecord
	mapVars []varRecord
	mapArrs []arrRecord
	loads   []uint32
}

// ---------------------------------------------------------------------------
// Parsing
// ---------------------------------------------------------------------------

// ParseImage parses and validates a module image without linking it. It is
// exported for tools that inspect images.
func ParseImage(data []byte) error {
	_, err := parseImage(data)
	return err
}

func parseImage(data []byte) (*moduleImage, error) {
	r := newByteReader(data, ErrUnexpectedEOF)
	magic := r.take(4)
	version := r.uint32()
	flags := r.uint32()
	chunks := r.uint32()
	if r.err != nil {
		return nil, r.err
	}
	if [4]byte(magic) != ImageMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrBadImage, magic)
	}
	if version != ImageVersion {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrBadImage, version, ImageVersion)
	}

	img := &moduleImage{flags: flags}
	seen := make(map[[4]byte]bool)
	for i := uint32(0); i < chunks; i++ {
		idBytes := r.take(4)
		length := r.uint32()
		payload := r.take(int(length))
		if r.err != nil {
			return nil, r.err
		}
		id := [4]byte(idBytes)
		if seen[id] {
			return nil, fmt.Errorf("%w: duplicate %s chunk", ErrBadImage, id[:])
		}
		seen[id] = true

		cr := newByteReader(payload, ErrUnexpectedEOF)
		img.readChunk(id, cr)
		if cr.err != nil {
			return nil, fmt.Errorf("%s chunk: %w", id[:], cr.err)
		}
		if cr.remaining() != 0 {
			return nil, fmt.Errorf("%w: %d trailing bytes in %s chunk", ErrBadImage, cr.remaining(), id[:])
		}
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrBadImage, r.remaining())
	}
	if err := img.validate(); err != nil {
		return nil, err
	}
	return img, nil
}

func (img *moduleImage) readChunk(id [4]byte, r *byteReader) {
	switch id {
	case chunkCode:
		n := r.count(4)
		img.code = make([]int32, n)
		for i := range img.code {
			img.code[i] = r.int32()
		}
	case chunkJumps:
		n := r.count(4)
		img.jumps = make([]uint32, n)
		for i := range img.jumps {
			img.jumps[i] = r.uint32()
		}
	case chunkStrings:
		n := r.count(4)
		img.strings = make([][]byte, n)
		for i := range img.strings {
			img.strings[i] = r.bytes()
		}
	case chunkScripts:
		n := r.count(24)
		img.scripts = make([]scriptRecord, n)
		for i := range img.scripts {
			img.scripts[i] = scriptRecord{
				number:   r.int32(),
				name:     r.int32(),
				typ:      r.uint32(),
				entry:    r.uint32(),
				argCount: r.uint32(),
				varCount: r.uint32(),
			}
		}
	case chunkFuncs:
		n := r.count(17)
		img.funcs = make([]funcRecord, n)
		for i := range img.funcs {
			img.funcs[i] = funcRecord{
				name:     r.int32(),
				entry:    r.uint32(),
				argCount: r.uint32(),
				varCount: r.uint32(),
				imported: r.bool(),
			}
		}
	case chunkMapVars:
		n := r.count(9)
		img.mapVars = make([]varRecord, n)
		for i := range img.mapVars {
			img.mapVars[i] = varRecord{slot: r.uint32(), name: r.uint32(), imported: r.bool()}
		}
	case chunkMapArrs:
		n := r.count(13)
		img.mapArrs = make([]arrRecord, n)
		for i := range img.mapArrs {
			img.mapArrs[i] = arrRecord{slot: r.uint32(), size: r.uint32(), name: r.uint32(), imported: r.bool()}
		}
	case chunkLoads:
		n := r.count(4)
		img.loads = make([]uint32, n)
		for i := range img.loads {
			img.loads[i] = r.uint32()
		}
	default:
		// Unknown chunks are skipped.
		r.take(r.remaining())
	}
}

func (img *moduleImage) validString(i int64) bool {
	return i >= 0 && i < int64(len(img.strings))
}

func (img *moduleImage) validate() error {
	codeLen := uint32(len(img.code))
	for i, t := range img.jumps {
		if t >= codeLen {
			return fmt.Errorf("%w: jump %d targets %d, code has %d words", ErrBadImage, i, t, codeLen)
		}
	}
	for i, s := range img.scripts {
		if s.name == noName && s.number == 0 {
			return fmt.Errorf("%w: script record %d has neither number nor name", ErrBadImage, i)
		}
		if s.name != noName && !img.validString(int64(s.name)) {
			return fmt.Errorf("%w: script record %d names string %d", ErrBadImage, i, s.name)
		}
		if s.entry >= codeLen {
			return fmt.Errorf("%w: script record %d enters at %d", ErrBadImage, i, s.entry)
		}
		if s.varCount < s.argCount {
			return fmt.Errorf("%w: script record %d has %d args but %d locals", ErrBadImage, i, s.argCount, s.varCount)
		}
	}
	for i, f := range img.funcs {
		if f.name != noName && !img.validString(int64(f.name)) {
			return fmt.Errorf("%w: function %d names string %d", ErrBadImage, i, f.name)
		}
		if f.imported {
			if f.name == noName {
				return fmt.Errorf("%w: imported function %d has no name", ErrBadImage, i)
			}
			continue
		}
		if f.entry >= codeLen {
			return fmt.Errorf("%w: function %d enters at %d", ErrBadImage, i, f.entry)
		}
		if f.varCount < f.argCount {
			return fmt.Errorf("%w: function %d has %d args but %d locals", ErrBadImage, i, f.argCount, f.varCount)
		}
	}
	for _, v := range img.mapVars {
		if v.slot >= NumMapVars {
			return fmt.Errorf("%w: map variable slot %d", ErrBadImage, v.slot)
		}
		if !img.validString(int64(v.name)) {
			return fmt.Errorf("%w: map variable %d names string %d", ErrBadImage, v.slot, v.name)
		}
	}
	for _, a := range img.mapArrs {
		if a.slot >= NumMapArrs {
			return fmt.Errorf("%w: map array slot %d", ErrBadImage, a.slot)
		}
		if !img.validString(int64(a.name)) {
			return fmt.Errorf("%w: map array %d names string %d", ErrBadImage, a.slot, a.name)
		}
	}
	for _, l := range img.loads {
		if !img.validString(int64(l)) {
			return fmt.Errorf("%w: load names string %d", ErrBadImage, l)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Loading and linking
// ---------------------------------------------------------------------------

type pendingModule struct {
	module *Module
	image  *moduleImage
}

// LoadModules loads the named modules and everything they import, then
// links them. Modules already loaded are reused. On any error every module
// added by this call is discarded and the registry is left as it was.
func (env *Environment) LoadModules(names ...string) ([]*Module, error) {
	modCount := len(env.modules)
	funcCount := len(env.funcs)
	strCount := uint32(env.strings.Len())

	var pending []pendingModule
	var roots []*Module
	for _, name := range names {
		m, err := env.loadModule(name, &pending)
		if err != nil {
			env.unloadSince(modCount, funcCount, strCount)
			return nil, err
		}
		roots = append(roots, m)
	}
	for _, p := range pending {
		if err := env.linkModule(p); err != nil {
			env.unloadSince(modCount, funcCount, strCount)
			return nil, err
		}
	}
	for _, p := range pending {
		env.registerScripts(p.module)
		env.log.Debugf("loaded %s: %d words, %d scripts", p.module, len(p.module.Code), len(p.module.Scripts))
	}
	return roots, nil
}

// Module returns a loaded module by name.
func (env *Environment) Module(name string) (*Module, bool) {
	for _, m := range env.modules {
		if strings.EqualFold(m.Name, name) {
			return m, true
		}
	}
	return nil, false
}

// Modules returns the loaded modules in load order.
func (env *Environment) Modules() []*Module {
	return env.modules
}

func (env *Environment) loadModule(name string, pending *[]pendingModule) (*Module, error) {
	if m, ok := env.Module(name); ok {
		return m, nil
	}

	data, err := env.host.LoadModule(name)
	if err != nil {
		return nil, &LoadError{Module: name, Err: err}
	}
	img, err := parseImage(data)
	if err != nil {
		return nil, &LoadError{Module: name, Err: err}
	}

	m := newModule(len(env.modules), name)
	m.Flags = img.flags
	m.Code = img.code
	m.Jumps = img.jumps
	m.strings = make([]uint32, len(img.strings))
	for i, s := range img.strings {
		m.strings[i] = env.strings.Intern(s)
	}
	env.modules = append(env.modules, m)

	m.funcs = make([]*Function, len(img.funcs))
	for i, rec := range img.funcs {
		if rec.imported {
			continue
		}
		f := &Function{
			Number:   int32(len(env.funcs)),
			Module:   m,
			Entry:    rec.entry,
			ArgCount: int32(rec.argCount),
			VarCount: int32(rec.varCount),
		}
		if rec.name != noName {
			f.Name = string(img.strings[rec.name])
		}
		env.funcs = append(env.funcs, f)
		m.funcs[i] = f
	}
	for _, v := range img.mapVars {
		m.MapVarNames[v.slot] = string(img.strings[v.name])
		m.varImported[v.slot] = v.imported
	}
	for _, a := range img.mapArrs {
		m.MapArrNames[a.slot] = string(img.strings[a.name])
		m.MapArrSizes[a.slot] = a.size
		m.arrImported[a.slot] = a.imported
	}
	for _, rec := range img.scripts {
		s := &Script{
			Number:   rec.number,
			Type:     ScriptType(rec.typ),
			Module:   m,
			Entry:    rec.entry,
			ArgCount: int32(rec.argCount),
			VarCount: int32(rec.varCount),
		}
		if rec.name != noName {
			s.Name = string(img.strings[rec.name])
		}
		m.Scripts = append(m.Scripts, s)
	}
	*pending = append(*pending, pendingModule{module: m, image: img})

	for _, l := range img.loads {
		dep := string(img.strings[l])
		m.Imports = append(m.Imports, dep)
		if _, err := env.loadModule(dep, pending); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// linkModule resolves imported functions, map variables and map arrays
// against the modules named in the module's LOAD list.
func (env *Environment) linkModule(p pendingModule) error {
	m, img := p.module, p.image
	var deps []*Module
	for _, name := range m.Imports {
		dep, ok := env.Module(name)
		if !ok {
			return &LoadError{Module: m.Name, Err: fmt.Errorf("%w: module %q", ErrModuleNotFound, name)}
		}
		deps = append(deps, dep)
	}
	unresolved := func(what, name string) error {
		return &LoadError{Module: m.Name, Err: fmt.Errorf("%w: %s %q", ErrUnresolvedImport, what, name)}
	}

	for i, rec := range img.funcs {
		if !rec.imported {
			continue
		}
		name := string(img.strings[rec.name])
		for _, dep := range deps {
			if f, ok := dep.exportedFunc(name); ok {
				m.funcs[i] = f
				break
			}
		}
		if m.funcs[i] == nil {
			return unresolved("function", name)
		}
	}
	for _, v := range img.mapVars {
		if !v.imported {
			continue
		}
		name := m.MapVarNames[v.slot]
		found := false
		for _, dep := range deps {
			if j, ok := dep.exportedVar(name); ok {
				m.mapVarPtr[v.slot] = &dep.mapVars[j]
				found = true
				break
			}
		}
		if !found {
			return unresolved("variable", name)
		}
	}
	for _, a := range img.mapArrs {
		if !a.imported {
			continue
		}
		name := m.MapArrNames[a.slot]
		found := false
		for _, dep := range deps {
			if j, ok := dep.exportedArr(name); ok {
				m.mapArrPtr[a.slot] = dep.mapArrs[j]
				found = true
				break
			}
		}
		if !found {
			return unresolved("array", name)
		}
	}
	return nil
}

// registerScripts makes a module's scripts reachable by number and name. The
// first module to define a number or name wins.
func (env *Environment) registerScripts(m *Module) {
	for _, s := range m.Scripts {
		if s.Number != 0 {
			if _, dup := env.byNumber[s.Number]; !dup {
				env.byNumber[s.Number] = s
			}
		}
		if s.Name != "" {
			key := strings.ToLower(s.Name)
			if _, dup := env.byName[key]; !dup {
				env.byName[key] = s
			}
		}
	}
}

// unloadSince drops modules, functions and strings added after the given
// registry sizes.
func (env *Environment) unloadSince(modCount, funcCount int, strCount uint32) {
	for _, m := range env.modules[modCount:] {
		for _, s := range m.Scripts {
			if env.byNumber[s.Number] == s {
				delete(env.byNumber, s.Number)
			}
			if key := strings.ToLower(s.Name); env.byName[key] == s {
				delete(env.byName, key)
			}
		}
	}
	clear(env.modules[modCount:])
	env.modules = env.modules[:modCount]
	clear(env.funcs[funcCount:])
	env.funcs = env.funcs[:funcCount]
	env.strings.Truncate(strCount)
}
