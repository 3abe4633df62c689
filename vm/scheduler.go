package vm

import (
	"strings"
)

// ---------------------------------------------------------------------------
// Tick
// ---------------------------------------------------------------------------

// Tick runs one scheduling pass over every live thread in creation order.
// Threads started during the pass are run in the same pass.
func (env *Environment) Tick() {
	env.ticking = true
	for i := 0; i < len(env.order); i++ {
		if th, ok := env.threads[env.order[i]]; ok {
			env.think(th)
		}
	}
	env.ticking = false
	env.compactOrder()
}

// think advances one thread by at most one step.
func (env *Environment) think(th *Thread) {
	switch th.state {
	case ThreadWaitingOnTag:
		if !env.host.CheckTag(TagSector, th.datum) {
			return
		}
		th.state = ThreadRunning
		th.datum = 0
	case ThreadWaitingOnPolyobject:
		if !env.host.CheckTag(TagPolyobject, th.datum) {
			return
		}
		th.state = ThreadRunning
		th.datum = 0
	case ThreadRunning:
	case ThreadTerminating:
		env.finishThread(th)
		return
	default:
		return
	}

	if th.delay > 0 {
		th.delay--
		return
	}
	env.runThread(th)
}

func (env *Environment) compactOrder() {
	kept := env.order[:0]
	for _, id := range env.order {
		if _, ok := env.threads[id]; ok {
			kept = append(kept, id)
		}
	}
	env.order = kept
}

// ---------------------------------------------------------------------------
// Thread lifecycle
// ---------------------------------------------------------------------------

// StartInfo carries the world context a thread is started from.
type StartInfo struct {
	Trigger Entity
	line    int32
	Side    int32
}

// OnLine returns a copy of si recording the host line and side that
// started the script.
func (si StartInfo) OnLine(line, side int32) StartInfo {
	si.line = line + 1
	si.Side = side
	return si
}

// spawn creates a running thread of s and adds it to the arena. The first
// ArgCount locals receive args, zero-filled when args is short.
func (env *Environment) spawn(s *Script, args []int32, info StartInfo) *Thread {
	th := newThread(env.nextID, s)
	env.nextID++
	n := min(int(s.ArgCount), len(args), len(th.locals))
	copy(th.locals, args[:n])
	th.trigger = info.Trigger
	th.line = info.line
	th.side = info.Side

	env.threads[th.ID] = th
	env.order = append(env.order, th.ID)
	s.addThread(th.ID)
	return th
}

// start implements a script start request against the active map. Suspended
// threads of s are resumed. A running script without ExecAlways is left
// alone, and ok reports whether anything was resumed. Otherwise a new
// thread is created and returned.
func (env *Environment) start(s *Script, args []int32, info StartInfo, flags ExecFlags) (th *Thread, ok bool) {
	if s == nil {
		return nil, false
	}
	resumed := false
	for _, id := range s.threads {
		if t := env.threads[id]; t != nil && t.state == ThreadSuspended {
			t.state = ThreadRunning
			resumed = true
		}
	}
	if flags&ExecAlways == 0 && s.Running() {
		return nil, resumed
	}

	th = env.spawn(s, args, info)
	env.log.Debugf("started %s", th)
	if flags&ExecImmediate != 0 {
		env.runThread(th)
	}
	return th, true
}

// terminate moves every thread of s to Terminating.
func (env *Environment) terminate(s *Script) bool {
	if s == nil {
		return false
	}
	affected := false
	for _, id := range s.threads {
		if t := env.threads[id]; t != nil && t.state != ThreadStopped {
			t.state = ThreadTerminating
			affected = true
		}
	}
	return affected
}

// suspend moves every thread of s that is not stopping to Suspended.
func (env *Environment) suspend(s *Script) bool {
	if s == nil {
		return false
	}
	affected := false
	for _, id := range s.threads {
		t := env.threads[id]
		if t == nil || t.state == ThreadStopped || t.state == ThreadTerminating {
			continue
		}
		t.state = ThreadSuspended
		affected = true
	}
	return affected
}

// finishThread destroys th and wakes threads waiting on its script once
// the script has no thread left.
func (env *Environment) finishThread(th *Thread) {
	if _, ok := env.threads[th.ID]; !ok {
		return
	}
	s := th.script
	s.removeThread(th.ID)
	delete(env.threads, th.ID)
	env.releasePrints(th)
	th.state = ThreadStopped
	th.trigger = nil
	if !env.ticking {
		env.compactOrder()
	}

	if !s.Running() {
		env.scriptFinished(s)
	}
}

// scriptFinished wakes every thread waiting on s by number or by name.
func (env *Environment) scriptFinished(s *Script) {
	for _, id := range env.order {
		t, ok := env.threads[id]
		if !ok {
			continue
		}
		switch t.state {
		case ThreadWaitingOnScriptNumber:
			if t.datum == s.Number {
				t.state = ThreadRunning
				t.datum = 0
			}
		case ThreadWaitingOnScriptName:
			if s.Name != "" && strings.EqualFold(env.strings.String(uint32(t.datum)), s.Name) {
				t.state = ThreadRunning
				t.datum = 0
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Start, stop and suspend requests
// ---------------------------------------------------------------------------

// isActive reports whether a request for mapnum applies to the active map.
// Zero means the active map.
func (env *Environment) isActive(mapnum int32) bool {
	return mapnum == 0 || mapnum == env.mapnum
}

// StartScript starts script number on map mapnum. Requests for another map
// are deferred until it becomes active. The result reports whether a thread
// was started or resumed, or whether the request was queued.
func (env *Environment) StartScript(number, mapnum int32, args []int32, info StartInfo, flags ExecFlags) bool {
	if !env.isActive(mapnum) {
		return env.Defer(DeferredAction{Kind: DeferExecuteNumber, Number: number, Map: mapnum, Flags: flags, Args: args})
	}
	s, _ := env.ScriptByNumber(number)
	_, ok := env.start(s, args, info, flags)
	return ok
}

// StartScriptName is StartScript for a named script.
func (env *Environment) StartScriptName(name string, mapnum int32, args []int32, info StartInfo, flags ExecFlags) bool {
	if !env.isActive(mapnum) {
		return env.Defer(DeferredAction{Kind: DeferExecuteName, Name: name, Map: mapnum, Flags: flags, Args: args})
	}
	s, _ := env.ScriptByName(name)
	_, ok := env.start(s, args, info, flags)
	return ok
}

// StartScriptString is StartScriptName with the name given as a string
// handle.
func (env *Environment) StartScriptString(handle uint32, mapnum int32, args []int32, info StartInfo, flags ExecFlags) bool {
	name, ok := env.strings.Get(handle)
	if !ok {
		return false
	}
	return env.StartScriptName(string(name), mapnum, args, info, flags)
}

// StopScript terminates every thread of script number. Requests for another
// map are deferred.
func (env *Environment) StopScript(number, mapnum int32) bool {
	if !env.isActive(mapnum) {
		return env.Defer(DeferredAction{Kind: DeferTerminateNumber, Number: number, Map: mapnum})
	}
	s, _ := env.ScriptByNumber(number)
	return env.terminate(s)
}

// StopScriptName is StopScript for a named script.
func (env *Environment) StopScriptName(name string, mapnum int32) bool {
	if !env.isActive(mapnum) {
		return env.Defer(DeferredAction{Kind: DeferTerminateName, Name: name, Map: mapnum})
	}
	s, _ := env.ScriptByName(name)
	return env.terminate(s)
}

// StopScriptString is StopScriptName with the name given as a string handle.
func (env *Environment) StopScriptString(handle uint32, mapnum int32) bool {
	name, ok := env.strings.Get(handle)
	if !ok {
		return false
	}
	return env.StopScriptName(string(name), mapnum)
}

// SuspendScript suspends every thread of script number. Requests for
// another map are deferred.
func (env *Environment) SuspendScript(number, mapnum int32) bool {
	if !env.isActive(mapnum) {
		return env.Defer(DeferredAction{Kind: DeferSuspendNumber, Number: number, Map: mapnum})
	}
	s, _ := env.ScriptByNumber(number)
	return env.suspend(s)
}

// SuspendScriptName is SuspendScript for a named script.
func (env *Environment) SuspendScriptName(name string, mapnum int32) bool {
	if !env.isActive(mapnum) {
		return env.Defer(DeferredAction{Kind: DeferSuspendName, Name: name, Map: mapnum})
	}
	s, _ := env.ScriptByName(name)
	return env.suspend(s)
}

// SuspendScriptString is SuspendScriptName with the name given as a string
// handle.
func (env *Environment) SuspendScriptString(handle uint32, mapnum int32) bool {
	name, ok := env.strings.Get(handle)
	if !ok {
		return false
	}
	return env.SuspendScriptName(string(name), mapnum)
}

// ExecuteResult starts a new thread of script number on the active map, runs
// it at once and returns its result register. Unknown scripts yield 0.
func (env *Environment) ExecuteResult(number int32, args []int32, info StartInfo) int32 {
	s, _ := env.ScriptByNumber(number)
	return env.executeResult(s, args, info)
}

// ExecuteResultName is ExecuteResult for a named script.
func (env *Environment) ExecuteResultName(name string, args []int32, info StartInfo) int32 {
	s, _ := env.ScriptByName(name)
	return env.executeResult(s, args, info)
}

func (env *Environment) executeResult(s *Script, args []int32, info StartInfo) int32 {
	th, _ := env.start(s, args, info, ExecAlways|ExecImmediate)
	if th == nil {
		return 0
	}
	return th.result
}
