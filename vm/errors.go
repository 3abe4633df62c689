package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Load errors
// ---------------------------------------------------------------------------

var (
	ErrBadImage         = errors.New("malformed module image")
	ErrUnexpectedEOF    = fmt.Errorf("%w: unexpected end of data", ErrBadImage)
	ErrUnresolvedImport = errors.New("unresolved import")
	ErrModuleNotFound   = errors.New("module not found")
)

// LoadError reports a module that failed to load. No script from a module
// that failed to load is ever started.
type LoadError struct {
	Module string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading module %q: %v", e.Module, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// ---------------------------------------------------------------------------
// Archive errors
// ---------------------------------------------------------------------------

var (
	ErrBadArchive       = errors.New("malformed state archive")
	ErrArchiveTruncated = fmt.Errorf("%w: unexpected end of data", ErrBadArchive)
	ErrArchiveMismatch  = errors.New("state archive does not match loaded modules")
)

// ---------------------------------------------------------------------------
// Runtime errors
// ---------------------------------------------------------------------------

// RuntimeErrorKind classifies a fatal thread error.
type RuntimeErrorKind int

const (
	ErrKindDivideByZero RuntimeErrorKind = iota
	ErrKindRunaway
	ErrKindBadOpcode
	ErrKindBadFunction
	ErrKindKill
	ErrKindStackUnderflow
	ErrKindBadOperand
)

var runtimeErrorKindNames = [...]string{
	ErrKindDivideByZero:   "divide by zero",
	ErrKindRunaway:        "runaway script",
	ErrKindBadOpcode:      "unknown opcode",
	ErrKindBadFunction:    "bad function reference",
	ErrKindKill:           "killed",
	ErrKindStackUnderflow: "stack underflow",
	ErrKindBadOperand:     "bad operand",
}

func (k RuntimeErrorKind) String() string {
	if int(k) < len(runtimeErrorKindNames) {
		return runtimeErrorKindNames[k]
	}
	return fmt.Sprintf("RuntimeErrorKind(%d)", int(k))
}

// RuntimeError is a fatal error raised while stepping a thread. It only ever
// terminates the thread that raised it.
type RuntimeError struct {
	Kind   RuntimeErrorKind
	Value  int32  // offending value: opcode, function number, operand
	IP     int    // code word offset of the faulting instruction
	Module string // module the thread was executing in
	Script string // script identity, as printed by Script.String
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s in %s (value %d, module %q, ip %d)", e.Kind, e.Script, e.Value, e.Module, e.IP)
}
