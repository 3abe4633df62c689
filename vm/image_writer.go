package vm

import (
	"fmt"
	"sort"
)

// ---------------------------------------------------------------------------
// Builder: assembles module images
// ---------------------------------------------------------------------------

// Builder assembles a module image from Go calls. It emits the binary image
// format read by the loader; it does not compile any source language.
type Builder struct {
	flags   uint32
	code    []int32
	jumps   []uint32
	strings [][]byte
	strIdx  map[string]int32
	scripts []scriptRecord
	funcs   []funcRecord
	mapVars []varRecord
	mapArrs []arrRecord
	loads   []uint32
	labels  []*Label
	defined []bool // per function: entry set
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		code:   make([]int32, 0, 64),
		strIdx: make(map[string]int32),
	}
}

// SetFlags sets the image header flags.
func (b *Builder) SetFlags(flags uint32) {
	b.flags = flags
}

// Pos returns the word offset of the next emitted instruction.
func (b *Builder) Pos() int {
	return len(b.code)
}

// Emit appends an instruction and returns its word offset.
func (b *Builder) Emit(op Opcode, operands ...int32) int {
	pos := len(b.code)
	b.code = append(b.code, int32(op))
	b.code = append(b.code, operands...)
	return pos
}

// EmitVar appends a variable-family instruction. Stack forms take no slot.
func (b *Builder) EmitVar(f Family, c StorageClass, slot int32) int {
	if c == ClassStack {
		return b.Emit(VarOp(f, c))
	}
	return b.Emit(VarOp(f, c), slot)
}

// EmitRaw appends raw words.
func (b *Builder) EmitRaw(words ...int32) {
	b.code = append(b.code, words...)
}

// String returns the module string index for s, adding it if needed.
func (b *Builder) String(s string) int32 {
	if i, ok := b.strIdx[s]; ok {
		return i
	}
	i := int32(len(b.strings))
	b.strings = append(b.strings, []byte(s))
	b.strIdx[s] = i
	return i
}

// Script defines a numbered script entering at the current position.
func (b *Builder) Script(number int32, typ ScriptType, argCount, varCount int32) {
	b.scripts = append(b.scripts, scriptRecord{
		number:   number,
		name:     noName,
		typ:      uint32(typ),
		entry:    uint32(len(b.code)),
		argCount: uint32(argCount),
		varCount: uint32(varCount),
	})
}

// NamedScript defines a named script entering at the current position.
func (b *Builder) NamedScript(name string, typ ScriptType, argCount, varCount int32) {
	b.scripts = append(b.scripts, scriptRecord{
		name:     b.String(name),
		typ:      uint32(typ),
		entry:    uint32(len(b.code)),
		argCount: uint32(argCount),
		varCount: uint32(varCount),
	})
}

// DeclareFunction adds a function and returns its module function index.
// Its entry is set by BeginFunction.
func (b *Builder) DeclareFunction(name string, argCount, varCount int32) int32 {
	nameIdx := noName
	if name != "" {
		nameIdx = b.String(name)
	}
	b.funcs = append(b.funcs, funcRecord{
		name:     nameIdx,
		argCount: uint32(argCount),
		varCount: uint32(varCount),
	})
	b.defined = append(b.defined, false)
	return int32(len(b.funcs) - 1)
}

// BeginFunction sets a declared function's entry to the current position.
func (b *Builder) BeginFunction(idx int32) {
	b.funcs[idx].entry = uint32(len(b.code))
	b.defined[idx] = true
}

// ImportFunction adds a function resolved at link time by name.
func (b *Builder) ImportFunction(name string) int32 {
	b.funcs = append(b.funcs, funcRecord{name: b.String(name), imported: true})
	b.defined = append(b.defined, true)
	return int32(len(b.funcs) - 1)
}

// MapVar names map variable slot so other modules may import it.
func (b *Builder) MapVar(slot int32, name string) {
	b.mapVars = append(b.mapVars, varRecord{slot: uint32(slot), name: uint32(b.String(name))})
}

// ImportMapVar aliases map variable slot to another module's variable.
func (b *Builder) ImportMapVar(slot int32, name string) {
	b.mapVars = append(b.mapVars, varRecord{slot: uint32(slot), name: uint32(b.String(name)), imported: true})
}

// MapArray declares map array slot.
func (b *Builder) MapArray(slot int32, size uint32, name string) {
	b.mapArrs = append(b.mapArrs, arrRecord{slot: uint32(slot), size: size, name: uint32(b.String(name))})
}

// ImportMapArray aliases map array slot to another module's array.
func (b *Builder) ImportMapArray(slot int32, name string) {
	b.mapArrs = append(b.mapArrs, arrRecord{slot: uint32(slot), name: uint32(b.String(name)), imported: true})
}

// Load records a module this one imports.
func (b *Builder) Load(name string) {
	b.loads = append(b.loads, uint32(b.String(name)))
}

// JumpTarget adds a BRANCH_STACK jump table entry for label and returns its
// index.
func (b *Builder) JumpTarget(l *Label) int32 {
	idx := len(b.jumps)
	b.jumps = append(b.jumps, 0)
	l.jumpRefs = append(l.jumpRefs, idx)
	if l.resolved {
		b.jumps[idx] = uint32(l.position)
	}
	return int32(idx)
}

// ---------------------------------------------------------------------------
// Label management for branches
// ---------------------------------------------------------------------------

// Label is a branch target that may be referenced before it is placed.
type Label struct {
	resolved bool
	position int   // word offset, once resolved
	refs     []int // code words holding the target
	jumpRefs []int // jump table entries holding the target
}

// NewLabel creates an unresolved label.
func (b *Builder) NewLabel() *Label {
	l := &Label{}
	b.labels = append(b.labels, l)
	return l
}

// Mark resolves a label to the current position.
func (b *Builder) Mark(l *Label) {
	if l.resolved {
		panic("label already resolved")
	}
	l.resolved = true
	l.position = len(b.code)
	for _, ref := range l.refs {
		b.code[ref] = int32(l.position)
	}
	for _, ref := range l.jumpRefs {
		b.jumps[ref] = uint32(l.position)
	}
}

// target appends a word referring to l.
func (b *Builder) target(l *Label) {
	if l.resolved {
		b.code = append(b.code, int32(l.position))
		return
	}
	l.refs = append(l.refs, len(b.code))
	b.code = append(b.code, 0)
}

// EmitBranch appends BRANCH_IMM, BRANCH_ZERO or BRANCH_NOTZERO to l.
func (b *Builder) EmitBranch(op Opcode, l *Label) int {
	pos := b.Emit(op)
	b.target(l)
	return pos
}

// EmitCase appends a BRANCH_CASE comparing the top of stack with value.
func (b *Builder) EmitCase(value int32, l *Label) int {
	pos := b.Emit(OpBranchCase, value)
	b.target(l)
	return pos
}

// Case is one entry of a case table.
type Case struct {
	Value  int32
	Target *Label
}

// EmitCaseTable appends a BRANCH_CASETABLE. Cases are sorted by value.
func (b *Builder) EmitCaseTable(cases []Case) int {
	sorted := make([]Case, len(cases))
	copy(sorted, cases)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Value < sorted[j].Value })
	pos := b.Emit(OpBranchCaseTable, int32(len(sorted)))
	for _, c := range sorted {
		b.code = append(b.code, c.Value)
		b.target(c.Target)
	}
	return pos
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

// Bytes encodes the image. It fails if a referenced label was never marked or
// a declared function never begun.
func (b *Builder) Bytes() ([]byte, error) {
	for _, l := range b.labels {
		if !l.resolved && (len(l.refs) > 0 || len(l.jumpRefs) > 0) {
			return nil, fmt.Errorf("unresolved label referenced at %v", l.refs)
		}
	}
	for i, ok := range b.defined {
		if !ok {
			return nil, fmt.Errorf("function %d declared but never begun", i)
		}
	}

	var chunks []struct {
		id   [4]byte
		data []byte
	}
	add := func(id [4]byte, w *byteWriter) {
		chunks = append(chunks, struct {
			id   [4]byte
			data []byte
		}{id, w.Bytes()})
	}

	w := &byteWriter{}
	w.uint32(uint32(len(b.code)))
	for _, word := range b.code {
		w.int32(word)
	}
	add(chunkCode, w)

	if len(b.jumps) > 0 {
		w = &byteWriter{}
		w.uint32(uint32(len(b.jumps)))
		for _, t := range b.jumps {
			w.uint32(t)
		}
		add(chunkJumps, w)
	}
	if len(b.strings) > 0 {
		w = &byteWriter{}
		w.uint32(uint32(len(b.strings)))
		for _, s := range b.strings {
			w.bytes(s)
		}
		add(chunkStrings, w)
	}
	if len(b.scripts) > 0 {
		w = &byteWriter{}
		w.uint32(uint32(len(b.scripts)))
		for _, s := range b.scripts {
			w.int32(s.number)
			w.int32(s.name)
			w.uint32(s.typ)
			w.uint32(s.entry)
			w.uint32(s.argCount)
			w.uint32(s.varCount)
		}
		add(chunkScripts, w)
	}
	if len(b.funcs) > 0 {
		w = &byteWriter{}
		w.uint32(uint32(len(b.funcs)))
		for _, f := range b.funcs {
			w.int32(f.name)
			w.uint32(f.entry)
			w.uint32(f.argCount)
			w.uint32(f.varCount)
			w.bool(f.imported)
		}
		add(chunkFuncs, w)
	}
	if len(b.mapVars) > 0 {
		w = &byteWriter{}
		w.uint32(uint32(len(b.mapVars)))
		for _, v := range b.mapVars {
			w.uint32(v.slot)
			w.uint32(v.name)
			w.bool(v.imported)
		}
		add(chunkMapVars, w)
	}
	if len(b.mapArrs) > 0 {
		w = &byteWriter{}
		w.uint32(uint32(len(b.mapArrs)))
		for _, a := range b.mapArrs {
			w.uint32(a.slot)
			w.uint32(a.size)
			w.uint32(a.name)
			w.bool(a.imported)
		}
		add(chunkMapArrs, w)
	}
	if len(b.loads) > 0 {
		w = &byteWriter{}
		w.uint32(uint32(len(b.loads)))
		for _, l := range b.loads {
			w.uint32(l)
		}
		add(chunkLoads, w)
	}

	out := &byteWriter{}
	out.buf.Write(ImageMagic[:])
	out.uint32(ImageVersion)
	out.uint32(b.flags)
	out.uint32(uint32(len(chunks)))
	for _, c := range chunks {
		out.buf.Write(c.id[:])
		out.bytes(c.data)
	}
	return out.Bytes(), nil
}

// MustBytes is Bytes for images known to be well formed. It panics on error.
func (b *Builder) MustBytes() []byte {
	data, err := b.Bytes()
	if err != nil {
		panic(err)
	}
	return data
}
