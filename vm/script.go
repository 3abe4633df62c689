package vm

import (
	"fmt"
	"slices"
)

// ScriptType records when the host is expected to start a script. Only Open
// scripts have behavior inside the VM: they start when their map is entered.
type ScriptType uint32

const (
	ScriptClosed ScriptType = iota
	ScriptOpen
	ScriptRespawn
	ScriptDeath
	ScriptEnter
	ScriptReturn
	ScriptLightning
	ScriptUnloading
	ScriptDisconnect
)

var scriptTypeNames = [...]string{
	"closed", "open", "respawn", "death", "enter", "return", "lightning", "unloading", "disconnect",
}

func (t ScriptType) String() string {
	if int(t) < len(scriptTypeNames) {
		return scriptTypeNames[t]
	}
	return fmt.Sprintf("type%d", uint32(t))
}

// ---------------------------------------------------------------------------
// Script
// ---------------------------------------------------------------------------

// Script is an entry point defined by a module. It keeps the ids of its
// running threads in start order.
type Script struct {
	Number   int32
	Name     string // empty for unnamed scripts
	Type     ScriptType
	Module   *Module
	Entry    uint32
	ArgCount int32
	VarCount int32

	threads []ThreadID
}

func (s *Script) String() string {
	if s.Name != "" {
		return fmt.Sprintf("script %q", s.Name)
	}
	return fmt.Sprintf("script %d", s.Number)
}

// Threads returns the ids of the script's running threads in start order.
func (s *Script) Threads() []ThreadID {
	return slices.Clone(s.threads)
}

// Running reports whether the script has any live thread.
func (s *Script) Running() bool {
	return len(s.threads) > 0
}

func (s *Script) addThread(id ThreadID) {
	s.threads = append(s.threads, id)
}

func (s *Script) removeThread(id ThreadID) {
	if i := slices.Index(s.threads, id); i >= 0 {
		s.threads = slices.Delete(s.threads, i, i+1)
	}
}

// ---------------------------------------------------------------------------
// Function
// ---------------------------------------------------------------------------

// Function is a callable code block. Functions are numbered globally from 1
// in load order; number 0 means no function.
type Function struct {
	Number   int32
	Name     string
	Module   *Module
	Entry    uint32
	ArgCount int32
	VarCount int32
}

func (f *Function) String() string {
	if f.Name != "" {
		return fmt.Sprintf("function %d (%s)", f.Number, f.Name)
	}
	return fmt.Sprintf("function %d", f.Number)
}
