package vm

import (
	"fmt"
	"strings"
)

// savedState is a decoded archive, checked and applied by RestoreState.
type savedState struct {
	mapnum  int32
	nextID  ThreadID
	modules []savedModule

	worldVars  [NumWorldVars]int32
	worldArrs  [NumWorldArrs]Array
	globalVars [NumGlobalVars]int32
	globalArrs [NumGlobalArrs]Array

	deferred []*DeferredAction
	strBase  uint32
	strings  []savedString // handles from strBase on
	threads  []savedThread
}

type savedModule struct {
	name string
	vars [NumMapVars]int32
	arrs [NumMapArrs]Array
}

type savedString struct {
	present bool
	data    []byte
}

type savedFrame struct {
	ip, numLocals, module uint32
}

type savedThread struct {
	id                   ThreadID
	scriptModule, script uint32
	module, ip           uint32
	stack, locals        []int32
	localBase, numLocals uint32
	calls                []savedFrame
	prints               [][]byte
	state                ThreadState
	datum, delay, result int32
	trigger              uint32
	line, side           int32
}

// RestoreState replaces the VM state with an archive written by SaveState.
// The environment must have the archive's modules loaded in the same order,
// normally by entering the saved map first. Threads come back with trigger
// handles only; call ResolveTriggers once the host has restored its
// entities. On error the environment is left unchanged.
func (env *Environment) RestoreState(data []byte) error {
	st, err := decodeState(data)
	if err != nil {
		return err
	}
	if err := env.checkState(st); err != nil {
		return err
	}
	env.applyState(st)
	env.log.Debugf("restored %d threads on map %d", len(st.threads), st.mapnum)
	return nil
}

// checkState verifies that an archive fits the loaded modules.
func (env *Environment) checkState(st *savedState) error {
	if len(st.modules) != len(env.modules) {
		return fmt.Errorf("%w: archive has %d modules, %d loaded", ErrArchiveMismatch, len(st.modules), len(env.modules))
	}
	for i, sm := range st.modules {
		if !strings.EqualFold(sm.name, env.modules[i].Name) {
			return fmt.Errorf("%w: module %d is %q, archive has %q", ErrArchiveMismatch, i, env.modules[i].Name, sm.name)
		}
	}
	if st.strBase != env.strings.Base() {
		return fmt.Errorf("%w: string base %d, archive has %d", ErrArchiveMismatch, env.strings.Base(), st.strBase)
	}

	bad := func(t *savedThread, format string, args ...any) error {
		return fmt.Errorf("%w: thread %d: %s", ErrBadArchive, t.id, fmt.Sprintf(format, args...))
	}
	seen := make(map[ThreadID]bool, len(st.threads))
	for i := range st.threads {
		t := &st.threads[i]
		if t.id == 0 || t.id >= st.nextID || seen[t.id] {
			return bad(t, "invalid id")
		}
		seen[t.id] = true
		if int(t.scriptModule) >= len(env.modules) || int(t.script) >= len(env.modules[t.scriptModule].Scripts) {
			return bad(t, "script %d of module %d", t.script, t.scriptModule)
		}
		if int(t.module) >= len(env.modules) || int(t.ip) > len(env.modules[t.module].Code) {
			return bad(t, "ip %d in module %d", t.ip, t.module)
		}
		if uint64(t.localBase)+uint64(t.numLocals) > uint64(len(t.locals)) {
			return bad(t, "local window %d+%d of %d", t.localBase, t.numLocals, len(t.locals))
		}
		// the saved frames' windows lie back to back below the current one
		var below uint64
		for _, f := range t.calls {
			if int(f.module) >= len(env.modules) || int(f.ip) > len(env.modules[f.module].Code) {
				return bad(t, "call frame ip %d in module %d", f.ip, f.module)
			}
			below += uint64(f.numLocals)
		}
		if below != uint64(t.localBase) {
			return bad(t, "call frames hold %d locals below base %d", below, t.localBase)
		}
		if t.state <= ThreadStopped || t.state > ThreadTerminating {
			return bad(t, "state %d", t.state)
		}
		if t.delay < 0 {
			return bad(t, "delay %d", t.delay)
		}
	}
	return nil
}

func (env *Environment) applyState(st *savedState) {
	for _, th := range env.Threads() {
		env.releasePrints(th)
		th.script.removeThread(th.ID)
	}
	clear(env.threads)
	env.order = env.order[:0]

	for i, m := range env.modules {
		m.mapVars = st.modules[i].vars
		for j, a := range m.mapArrs {
			*a = st.modules[i].arrs[j]
		}
	}
	env.worldVars = st.worldVars
	env.worldArrs = st.worldArrs
	env.globalVars = st.globalVars
	env.globalArrs = st.globalArrs
	env.deferred = st.deferred

	env.restoreStrings(st)

	env.mapnum = st.mapnum
	env.nextID = st.nextID
	for i := range st.threads {
		th := env.restoreThread(&st.threads[i])
		env.threads[th.ID] = th
		env.order = append(env.order, th.ID)
		th.script.addThread(th.ID)
	}
}

// restoreStrings replaces the run-time strings with the archived ones and
// points each module's string table at the handles for the same content.
func (env *Environment) restoreStrings(st *savedState) {
	tbl := env.strings
	contents := make([][][]byte, len(env.modules))
	for i, m := range env.modules {
		contents[i] = make([][]byte, len(m.strings))
		for j, h := range m.strings {
			contents[i][j], _ = tbl.Get(h)
		}
	}

	tbl.Truncate(st.strBase)
	for _, s := range st.strings {
		tbl.appendSlot(s.data, s.present)
	}
	for i, m := range env.modules {
		for j, data := range contents[i] {
			m.strings[j] = tbl.Intern(data)
		}
	}
}

func (env *Environment) restoreThread(t *savedThread) *Thread {
	s := env.modules[t.scriptModule].Scripts[t.script]
	th := &Thread{
		ID:            t.id,
		script:        s,
		module:        env.modules[t.module],
		ip:            int(t.ip),
		stack:         make([]int32, len(t.stack), max(len(t.stack), defaultStackSize)),
		locals:        t.locals,
		localBase:     int(t.localBase),
		numLocals:     int(t.numLocals),
		calls:         make([]callFrame, len(t.calls), max(len(t.calls), defaultCallDepth)),
		prints:        t.prints,
		state:         t.state,
		datum:         t.datum,
		delay:         t.delay,
		result:        t.result,
		triggerHandle: t.trigger,
		line:          t.line,
		side:          t.side,
	}
	copy(th.stack, t.stack)
	for i, f := range t.calls {
		th.calls[i] = callFrame{ip: int(f.ip), numLocals: int(f.numLocals), module: int(f.module)}
	}
	if len(th.prints) == 0 {
		th.prints = nil
	}
	return th
}

// ResolveTriggers turns the entity handles of restored threads back into
// entities through the host.
func (env *Environment) ResolveTriggers() {
	for _, th := range env.threads {
		if th.triggerHandle == 0 {
			continue
		}
		th.trigger = env.host.EntityByHandle(th.triggerHandle)
		th.triggerHandle = 0
	}
}
