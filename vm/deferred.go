package vm

import (
	"fmt"
	"slices"
	"strings"
)

// ExecFlags modify a script start request.
type ExecFlags uint32

const (
	// ExecAlways starts a new thread even if the script is already running,
	// and bypasses duplicate suppression in the deferred queue.
	ExecAlways ExecFlags = 1 << iota
	// ExecImmediate runs the new thread's first step at start time instead
	// of waiting for the next tick.
	ExecImmediate
)

// DeferredKind is the request recorded by a deferred action.
type DeferredKind uint8

const (
	DeferExecuteNumber DeferredKind = iota
	DeferExecuteName
	DeferSuspendNumber
	DeferSuspendName
	DeferTerminateNumber
	DeferTerminateName
	numDeferredKinds
)

var deferredKindNames = [...]string{
	"execute number", "execute name", "suspend number", "suspend name",
	"terminate number", "terminate name",
}

func (k DeferredKind) String() string {
	if int(k) < len(deferredKindNames) {
		return deferredKindNames[k]
	}
	return fmt.Sprintf("DeferredKind(%d)", uint8(k))
}

// byName reports whether the action targets a script by name.
func (k DeferredKind) byName() bool {
	return k == DeferExecuteName || k == DeferSuspendName || k == DeferTerminateName
}

// DeferredAction is a start, suspend or terminate request waiting for its
// map to become active.
type DeferredAction struct {
	Kind   DeferredKind
	Number int32  // for number kinds
	Name   string // for name kinds
	Map    int32
	Flags  ExecFlags
	Args   []int32
}

func (d *DeferredAction) String() string {
	if d.Kind.byName() {
		return fmt.Sprintf("%s %q on map %d", d.Kind, d.Name, d.Map)
	}
	return fmt.Sprintf("%s %d on map %d", d.Kind, d.Number, d.Map)
}

// sameTarget reports whether d is a pending non-always request for the
// same script on the same map as other.
func (d *DeferredAction) sameTarget(other *DeferredAction) bool {
	if d.Map != other.Map || d.Flags&ExecAlways != 0 {
		return false
	}
	if d.Kind.byName() != other.Kind.byName() {
		return false
	}
	if d.Kind.byName() {
		return strings.EqualFold(d.Name, other.Name)
	}
	return d.Number == other.Number
}

// ---------------------------------------------------------------------------
// Queue
// ---------------------------------------------------------------------------

// Defer appends a request to the deferred queue. Unless the request is an
// execute flagged ExecAlways, it is dropped when an equivalent non-always
// request for the same script and map is already pending; Defer then
// reports false.
func (env *Environment) Defer(d DeferredAction) bool {
	always := d.Flags&ExecAlways != 0 &&
		(d.Kind == DeferExecuteNumber || d.Kind == DeferExecuteName)
	if !always {
		for _, p := range env.deferred {
			if p.sameTarget(&d) {
				env.log.Debugf("dropped duplicate deferred %s", &d)
				return false
			}
		}
	}
	d.Args = slices.Clone(d.Args)
	env.deferred = append(env.deferred, &d)
	env.log.Debugf("deferred %s", &d)
	return true
}

// Deferred returns the pending actions in queue order.
func (env *Environment) Deferred() []DeferredAction {
	out := make([]DeferredAction, len(env.deferred))
	for i, d := range env.deferred {
		out[i] = *d
		out[i].Args = slices.Clone(d.Args)
	}
	return out
}

// drainDeferred runs and removes every action queued for mapnum in FIFO
// order. Started threads get the grace delay.
func (env *Environment) drainDeferred(mapnum int32) {
	var ready []*DeferredAction
	kept := env.deferred[:0]
	for _, d := range env.deferred {
		if d.Map == mapnum {
			ready = append(ready, d)
		} else {
			kept = append(kept, d)
		}
	}
	clear(env.deferred[len(kept):])
	env.deferred = kept

	for _, d := range ready {
		env.runDeferred(d)
	}
}

func (env *Environment) runDeferred(d *DeferredAction) {
	switch d.Kind {
	case DeferExecuteNumber, DeferExecuteName:
		var s *Script
		if d.Kind == DeferExecuteName {
			s, _ = env.ScriptByName(d.Name)
		} else {
			s, _ = env.ScriptByNumber(d.Number)
		}
		if th, _ := env.start(s, d.Args, StartInfo{}, d.Flags); th != nil {
			th.delay = env.opts.GraceDelay
		}
	case DeferSuspendNumber:
		s, _ := env.ScriptByNumber(d.Number)
		env.suspend(s)
	case DeferSuspendName:
		s, _ := env.ScriptByName(d.Name)
		env.suspend(s)
	case DeferTerminateNumber:
		s, _ := env.ScriptByNumber(d.Number)
		env.terminate(s)
	case DeferTerminateName:
		s, _ := env.ScriptByName(d.Name)
		env.terminate(s)
	}
}
