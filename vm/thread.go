package vm

import "fmt"

// ThreadID identifies a thread for the lifetime of an environment. Ids are
// never reused.
type ThreadID uint64

// ThreadState is the wait/state register of a thread.
type ThreadState int32

const (
	ThreadStopped ThreadState = iota
	ThreadRunning
	ThreadSuspended
	ThreadWaitingOnTag
	ThreadWaitingOnScriptNumber
	ThreadWaitingOnScriptName
	ThreadWaitingOnPolyobject
	ThreadTerminating
)

var threadStateNames = [...]string{
	"stopped", "running", "suspended", "waiting on tag", "waiting on script",
	"waiting on named script", "waiting on polyobject", "terminating",
}

func (s ThreadState) String() string {
	if s >= 0 && int(s) < len(threadStateNames) {
		return threadStateNames[s]
	}
	return fmt.Sprintf("ThreadState(%d)", int32(s))
}

// Default buffer sizes for a new thread.
const (
	defaultStackSize = 256
	defaultCallDepth = 8
)

// callFrame is the caller state saved by a function call.
type callFrame struct {
	ip        int
	numLocals int
	module    int // module registry index
}

// ---------------------------------------------------------------------------
// Thread: one running instance of a script
// ---------------------------------------------------------------------------

// Thread is a saved-and-resumed execution context. The operand stack, local
// window and call frames are slices addressed by offsets, so growing them
// never invalidates saved positions.
type Thread struct {
	ID ThreadID

	script *Script
	module *Module // module currently executing; changes across calls

	ip    int
	stack []int32

	locals    []int32 // shared by all frames
	localBase int     // first local of the current frame
	numLocals int     // locals in the current frame

	calls  []callFrame
	prints [][]byte // nested print buffers, innermost last

	state  ThreadState
	datum  int32 // tag, script number, string handle or polyobject id
	delay  int32
	result int32

	trigger       Entity
	triggerHandle uint32 // handle read from an archive, pending ResolveTriggers
	line          int32  // 0 for none, else host line number + 1
	side          int32
}

func newThread(id ThreadID, s *Script) *Thread {
	th := &Thread{
		ID:        id,
		script:    s,
		module:    s.Module,
		ip:        int(s.Entry),
		stack:     make([]int32, 0, defaultStackSize),
		locals:    make([]int32, s.VarCount),
		numLocals: int(s.VarCount),
		calls:     make([]callFrame, 0, defaultCallDepth),
		state:     ThreadRunning,
	}
	return th
}

func (th *Thread) String() string {
	return fmt.Sprintf("thread %d (%s)", th.ID, th.script)
}

// Script returns the script this thread runs.
func (th *Thread) Script() *Script { return th.script }

// Module returns the module currently executing.
func (th *Thread) Module() *Module { return th.module }

// State returns the state register.
func (th *Thread) State() ThreadState { return th.state }

// Datum returns the auxiliary wait datum.
func (th *Thread) Datum() int32 { return th.datum }

// Delay returns the pending delay in tics.
func (th *Thread) Delay() int32 { return th.delay }

// IP returns the instruction pointer as a code word offset.
func (th *Thread) IP() int { return th.ip }

// Result returns the result register set by SET_RESULT.
func (th *Thread) Result() int32 { return th.result }

// Stack returns a copy of the operand stack, bottom first.
func (th *Thread) Stack() []int32 {
	return append([]int32(nil), th.stack...)
}

// Locals returns a copy of the current frame's locals.
func (th *Thread) Locals() []int32 {
	return append([]int32(nil), th.locals[th.localBase:th.localBase+th.numLocals]...)
}

// CallDepth returns the number of saved call frames.
func (th *Thread) CallDepth() int { return len(th.calls) }

// PrintBuffers returns copies of the open print buffers, outermost first.
func (th *Thread) PrintBuffers() []string {
	out := make([]string, len(th.prints))
	for i, p := range th.prints {
		out[i] = string(p)
	}
	return out
}

// Trigger returns the entity that started the thread, or nil.
func (th *Thread) Trigger() Entity { return th.trigger }

// Line returns the host line number that started the thread. ok is false
// when no line was involved.
func (th *Thread) Line() (line int32, ok bool) {
	if th.line == 0 {
		return 0, false
	}
	return th.line - 1, true
}

// Side returns the side of the line that started the thread.
func (th *Thread) Side() int32 { return th.side }

// ---------------------------------------------------------------------------
// Operand stack
// ---------------------------------------------------------------------------

func (th *Thread) push(v int32) {
	th.stack = append(th.stack, v)
}

func (th *Thread) pop() int32 {
	n := len(th.stack)
	if n == 0 {
		panic(fault(ErrKindStackUnderflow, 0))
	}
	v := th.stack[n-1]
	th.stack = th.stack[:n-1]
	return v
}

// top returns a pointer to the top of stack.
func (th *Thread) top() *int32 {
	n := len(th.stack)
	if n == 0 {
		panic(fault(ErrKindStackUnderflow, 0))
	}
	return &th.stack[n-1]
}

// popN removes the top n values and returns them bottom first. The result
// aliases the stack buffer and is only valid until the next push.
func (th *Thread) popN(n int) []int32 {
	if n < 0 || n > len(th.stack) {
		panic(fault(ErrKindStackUnderflow, int32(n)))
	}
	vals := th.stack[len(th.stack)-n:]
	th.stack = th.stack[:len(th.stack)-n]
	return vals
}

// ---------------------------------------------------------------------------
// Locals
// ---------------------------------------------------------------------------

func (th *Thread) local(i int32) *int32 {
	if i < 0 || int(i) >= th.numLocals {
		panic(fault(ErrKindBadOperand, i))
	}
	return &th.locals[th.localBase+int(i)]
}

// reserveLocals makes the locals buffer at least n long, keeping contents.
func (th *Thread) reserveLocals(n int) {
	if n <= len(th.locals) {
		return
	}
	if n <= cap(th.locals) {
		th.locals = th.locals[:n]
		return
	}
	grown := make([]int32, n, 2*n)
	copy(grown, th.locals)
	th.locals = grown
}
