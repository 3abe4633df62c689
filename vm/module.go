package vm

import (
	"fmt"
	"strings"
)

// Storage sizes.
const (
	NumMapVars    = 128
	NumMapArrs    = 128
	NumWorldVars  = 64
	NumWorldArrs  = 64
	NumGlobalVars = 64
	NumGlobalArrs = 64
)

// ---------------------------------------------------------------------------
// Module: a loaded, linked compilation unit
// ---------------------------------------------------------------------------

// Module holds the code and module-scoped storage of one loaded image.
//
// Map variables and arrays are reached through indirection tables so that a
// slot imported from another module aliases the exporter's storage.
type Module struct {
	ID   int    // index in the environment's module registry
	Name string // name the module was loaded under

	Code  []int32  // instruction words
	Jumps []uint32 // BRANCH_STACK targets

	strings []uint32    // module string index -> global string handle
	Scripts []*Script   // scripts defined by this module
	funcs   []*Function // module function index -> function, after linking

	mapVars   [NumMapVars]int32
	mapVarPtr [NumMapVars]*int32
	mapArrs   [NumMapArrs]*Array
	mapArrPtr [NumMapArrs]*Array

	MapVarNames [NumMapVars]string
	MapArrNames [NumMapArrs]string
	MapArrSizes [NumMapArrs]uint32

	varImported [NumMapVars]bool
	arrImported [NumMapArrs]bool

	Imports []string // names of modules this one loads
	Flags   uint32
}

func newModule(id int, name string) *Module {
	m := &Module{ID: id, Name: name}
	for i := range m.mapVarPtr {
		m.mapVarPtr[i] = &m.mapVars[i]
	}
	for i := range m.mapArrs {
		m.mapArrs[i] = new(Array)
		m.mapArrPtr[i] = m.mapArrs[i]
	}
	return m
}

func (m *Module) String() string {
	return fmt.Sprintf("module %d (%s)", m.ID, m.Name)
}

// MapVar returns the value of map variable slot i. Imported slots read the
// exporter's storage.
func (m *Module) MapVar(i int) int32 {
	return *m.mapVarPtr[i]
}

// SetMapVar stores v in map variable slot i.
func (m *Module) SetMapVar(i int, v int32) {
	*m.mapVarPtr[i] = v
}

// MapArray returns map array slot i.
func (m *Module) MapArray(i int) *Array {
	return m.mapArrPtr[i]
}

// StringHandle maps a module string index to its global handle.
func (m *Module) StringHandle(i int32) (uint32, bool) {
	if i < 0 || int(i) >= len(m.strings) {
		return 0, false
	}
	return m.strings[i], true
}

// NumStrings returns the number of module strings.
func (m *Module) NumStrings() int {
	return len(m.strings)
}

// Function returns the function for a module function index.
func (m *Module) Function(i int32) (*Function, bool) {
	if i < 0 || int(i) >= len(m.funcs) {
		return nil, false
	}
	return m.funcs[i], true
}

// NumFunctions returns the number of module function slots, imported ones
// included.
func (m *Module) NumFunctions() int {
	return len(m.funcs)
}

// exportedVar finds a map variable defined (not imported) under name.
func (m *Module) exportedVar(name string) (int, bool) {
	for i, n := range m.MapVarNames {
		if n != "" && !m.varImported[i] && strings.EqualFold(n, name) {
			return i, true
		}
	}
	return 0, false
}

// exportedArr finds a map array defined (not imported) under name.
func (m *Module) exportedArr(name string) (int, bool) {
	for i, n := range m.MapArrNames {
		if n != "" && !m.arrImported[i] && strings.EqualFold(n, name) {
			return i, true
		}
	}
	return 0, false
}

// exportedFunc finds a function defined by this module under name.
func (m *Module) exportedFunc(name string) (*Function, bool) {
	for _, f := range m.funcs {
		if f != nil && f.Module == m && strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return nil, false
}
