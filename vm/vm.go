package vm

import (
	"strings"

	"github.com/tliron/commonlog"
)

// TicRate is the number of simulation tics per second.
const TicRate = 35

// ---------------------------------------------------------------------------
// Environment: all VM state
// ---------------------------------------------------------------------------

// Options tune an Environment. Zero fields take defaults.
type Options struct {
	// RunawayLimit is the number of branches a thread may take in one step.
	RunawayLimit int
	// GraceDelay is the delay, in tics, given to open scripts at map entry
	// and to deferred executes when their map becomes active.
	GraceDelay int32
	// SystemStrings are interned ahead of any module string and survive
	// every collection.
	SystemStrings []string
	// Logger receives diagnostics. Defaults to the "acsvm.vm" logger.
	Logger commonlog.Logger
}

func (o Options) withDefaults() Options {
	if o.RunawayLimit <= 0 {
		o.RunawayLimit = DefaultRunawayLimit
	}
	if o.GraceDelay <= 0 {
		o.GraceDelay = TicRate
	}
	if o.Logger == nil {
		o.Logger = log
	}
	return o
}

// Environment owns every piece of VM state: the string table, loaded
// modules, world and global storage, threads and the deferred queue. It is
// not safe for concurrent use; the host drives it from its simulation loop.
type Environment struct {
	host Host
	log  commonlog.Logger
	opts Options

	strings  *StringTable
	modules  []*Module
	funcs    []*Function // global number -> function; index 0 is unused
	byNumber map[int32]*Script
	byName   map[string]*Script // lower-cased name
	level    *Module

	worldVars  [NumWorldVars]int32
	worldArrs  [NumWorldArrs]Array
	globalVars [NumGlobalVars]int32
	globalArrs [NumGlobalArrs]Array

	threads  map[ThreadID]*Thread
	order    []ThreadID // creation order
	nextID   ThreadID
	ticking  bool

	deferred []*DeferredAction
	mapnum   int32

	printPool [][]byte
}

// NewEnvironment creates an environment with no modules loaded.
func NewEnvironment(host Host, opts Options) *Environment {
	if host == nil {
		host = NopHost{}
	}
	opts = opts.withDefaults()
	env := &Environment{
		host:     host,
		log:      opts.Logger,
		opts:     opts,
		strings:  NewStringTable(),
		funcs:    []*Function{nil},
		byNumber: make(map[int32]*Script),
		byName:   make(map[string]*Script),
		threads:  make(map[ThreadID]*Thread),
		nextID:   1,
	}
	env.strings.InternString("")
	for _, s := range opts.SystemStrings {
		env.strings.InternString(s)
	}
	env.strings.MarkBase()
	return env
}

// Host returns the host the environment calls into.
func (env *Environment) Host() Host { return env.host }

// Strings returns the string table.
func (env *Environment) Strings() *StringTable { return env.strings }

// Map returns the number of the active map.
func (env *Environment) Map() int32 { return env.mapnum }

// LevelModule returns the module loaded as the active map's level script.
func (env *Environment) LevelModule() *Module { return env.level }

// WorldVar returns world variable i.
func (env *Environment) WorldVar(i int) int32 { return env.worldVars[i] }

// SetWorldVar stores world variable i.
func (env *Environment) SetWorldVar(i int, v int32) { env.worldVars[i] = v }

// GlobalVar returns global variable i.
func (env *Environment) GlobalVar(i int) int32 { return env.globalVars[i] }

// SetGlobalVar stores global variable i.
func (env *Environment) SetGlobalVar(i int, v int32) { env.globalVars[i] = v }

// WorldArray returns world array i.
func (env *Environment) WorldArray(i int) *Array { return &env.worldArrs[i] }

// GlobalArray returns global array i.
func (env *Environment) GlobalArray(i int) *Array { return &env.globalArrs[i] }

// Function returns the function with a global number.
func (env *Environment) Function(num int32) (*Function, bool) {
	if num <= 0 || int(num) >= len(env.funcs) {
		return nil, false
	}
	return env.funcs[num], true
}

// ScriptByNumber looks up a script of a loaded module by number.
func (env *Environment) ScriptByNumber(num int32) (*Script, bool) {
	s, ok := env.byNumber[num]
	return s, ok
}

// ScriptByName looks up a script of a loaded module by name, ignoring case.
func (env *Environment) ScriptByName(name string) (*Script, bool) {
	s, ok := env.byName[strings.ToLower(name)]
	return s, ok
}

// Thread returns a live thread by id.
func (env *Environment) Thread(id ThreadID) (*Thread, bool) {
	th, ok := env.threads[id]
	return th, ok
}

// Threads returns the live threads in creation order.
func (env *Environment) Threads() []*Thread {
	out := make([]*Thread, 0, len(env.threads))
	for _, id := range env.order {
		if th, ok := env.threads[id]; ok {
			out = append(out, th)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Unload stops every thread without running it again and forgets every
// module. World and global storage, strings and the deferred queue are kept.
func (env *Environment) Unload() {
	for _, th := range env.Threads() {
		env.releasePrints(th)
	}
	clear(env.threads)
	env.order = env.order[:0]
	env.unloadSince(0, 1, uint32(env.strings.Len()))
	clear(env.byNumber)
	clear(env.byName)
	env.level = nil
}

// NewGame resets everything that persists across maps: world and global
// storage, the deferred queue and run-time strings. Loaded modules are
// unloaded.
func (env *Environment) NewGame() {
	env.Unload()
	env.worldVars = [NumWorldVars]int32{}
	env.globalVars = [NumGlobalVars]int32{}
	for i := range env.worldArrs {
		env.worldArrs[i].Clear()
	}
	for i := range env.globalArrs {
		env.globalArrs[i].Clear()
	}
	clear(env.deferred)
	env.deferred = env.deferred[:0]
	env.strings.Truncate(env.strings.Base())
	env.mapnum = 0
	env.log.Debug("new game")
}

// EnterMap activates a map: the previous map's modules and threads are torn
// down, the level module and any extra modules are loaded and linked, open
// scripts are started and deferred actions for the map are run. If loading
// fails no script is started and the error is returned.
func (env *Environment) EnterMap(mapnum int32, level string, extra ...string) error {
	env.Unload()
	env.mapnum = mapnum

	names := make([]string, 0, 1+len(extra))
	if level != "" {
		names = append(names, level)
	}
	names = append(names, extra...)
	roots, err := env.LoadModules(names...)
	if err != nil {
		env.log.Errorf("map %d: %s", mapnum, err)
		return err
	}
	if level != "" {
		env.level = roots[0]
	}
	env.CollectStrings()

	env.startOpenScripts()
	env.drainDeferred(mapnum)
	env.log.Debugf("entered map %d with %d modules", mapnum, len(env.modules))
	return nil
}

// startOpenScripts starts every open script of every loaded module with the
// grace delay.
func (env *Environment) startOpenScripts() {
	for _, m := range env.modules {
		for _, s := range m.Scripts {
			if s.Type != ScriptOpen {
				continue
			}
			th := env.spawn(s, nil, StartInfo{})
			th.delay = env.opts.GraceDelay
		}
	}
}

// ForgetEntity clears the trigger of every thread started by e. Hosts call
// it when an entity is removed from the world.
func (env *Environment) ForgetEntity(e Entity) {
	if e == nil {
		return
	}
	for _, th := range env.threads {
		if th.trigger == e {
			th.trigger = nil
		}
	}
}

// ---------------------------------------------------------------------------
// String retention
// ---------------------------------------------------------------------------

// RefStrings marks every string handle reachable from VM state as live:
// module strings, every variable and array cell, and thread stacks, locals
// and result registers. Any reachable word that happens to be a valid handle
// is kept.
func (env *Environment) RefStrings() {
	st := env.strings
	st.ClearLive()
	for _, m := range env.modules {
		for _, h := range m.strings {
			st.MarkLive(h)
		}
		for _, v := range m.mapVars {
			st.MarkLive(uint32(v))
		}
		for _, a := range m.mapArrs {
			a.each(func(v int32) { st.MarkLive(uint32(v)) })
		}
	}
	for _, v := range env.worldVars {
		st.MarkLive(uint32(v))
	}
	for _, v := range env.globalVars {
		st.MarkLive(uint32(v))
	}
	for i := range env.worldArrs {
		env.worldArrs[i].each(func(v int32) { st.MarkLive(uint32(v)) })
	}
	for i := range env.globalArrs {
		env.globalArrs[i].each(func(v int32) { st.MarkLive(uint32(v)) })
	}
	for _, th := range env.threads {
		for _, v := range th.stack {
			st.MarkLive(uint32(v))
		}
		for _, v := range th.locals {
			st.MarkLive(uint32(v))
		}
		st.MarkLive(uint32(th.result))
		if th.state == ThreadWaitingOnScriptName {
			st.MarkLive(uint32(th.datum))
		}
	}
	for _, d := range env.deferred {
		for _, v := range d.Args {
			st.MarkLive(uint32(v))
		}
	}
}

// CollectStrings drops every run-time string not reachable from VM state and
// returns how many were dropped.
func (env *Environment) CollectStrings() int {
	env.RefStrings()
	n := env.strings.Collect()
	if n > 0 {
		env.log.Debugf("collected %d strings", n)
	}
	return n
}
