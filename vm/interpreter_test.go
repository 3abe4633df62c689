package vm

import (
	"math"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

func TestInterpreterStackArithmetic(t *testing.T) {
	tests := []struct {
		f    Family
		a, b int32
		want int32
	}{
		{FamilyAdd, 7, 5, 12},
		{FamilyAdd, math.MaxInt32, 1, math.MinInt32},
		{FamilySub, 7, 5, 2},
		{FamilyMul, -3, 4, -12},
		{FamilyDiv, 7, 2, 3},
		{FamilyDiv, -7, 2, -3},
		{FamilyDiv, math.MinInt32, -1, math.MinInt32},
		{FamilyMod, 7, 3, 1},
		{FamilyMod, -7, 3, -1},
		{FamilyMod, 5, -1, 0},
		{FamilyAnd, 6, 3, 2},
		{FamilyIor, 6, 3, 7},
		{FamilyXor, 6, 3, 5},
		{FamilyLsh, 1, 33, 2},
		{FamilyRsh, -8, 1, -4},
	}

	b := NewBuilder()
	for i, tt := range tests {
		b.Script(int32(i+1), ScriptClosed, 0, 0)
		b.Emit(OpGetImm, tt.a)
		b.Emit(OpGetImm, tt.b)
		b.EmitVar(tt.f, ClassStack, 0)
		b.EmitVar(FamilySet, ClassGlobalVar, int32(i))
		b.Emit(OpScriptTerminate)
	}
	env, host := newTestEnv(t, b)

	for i, tt := range tests {
		runScript(t, env, int32(i+1))
		if got := env.GlobalVar(i); got != tt.want {
			t.Errorf("%s(%d, %d) = %d, want %d", familyNames[tt.f], tt.a, tt.b, got, tt.want)
		}
	}
	if errs := host.errors(); len(errs) != 0 {
		t.Errorf("unexpected errors: %v", errs)
	}
}

func TestInterpreterCompareAndLogic(t *testing.T) {
	tests := []struct {
		op   Opcode
		a, b int32
		want int32
	}{
		{OpCmpEq, 3, 3, 1},
		{OpCmpNe, 3, 3, 0},
		{OpCmpLt, -1, 5, 1},
		{OpCmpGt, -1, 5, 0},
		{OpCmpLe, 5, 5, 1},
		{OpCmpGe, 4, 5, 0},
		{OpLogAnd, 2, 0, 0},
		{OpLogAnd, 2, -3, 1},
		{OpLogIor, 0, 0, 0},
		{OpLogIor, 0, 9, 1},
		{OpMulX, 2 << 16, 3 << 15, 3 << 16},
		{OpDivX, 3 << 16, 2 << 16, 3 << 15},
	}

	b := NewBuilder()
	for i, tt := range tests {
		b.Script(int32(i+1), ScriptClosed, 0, 0)
		b.Emit(OpGetImm, tt.a)
		b.Emit(OpGetImm, tt.b)
		b.Emit(tt.op)
		b.EmitVar(FamilySet, ClassGlobalVar, int32(i))
	}
	env, _ := newTestEnv(t, b)

	for i, tt := range tests {
		runScript(t, env, int32(i+1))
		if got := env.GlobalVar(i); got != tt.want {
			t.Errorf("%s(%d, %d) = %d, want %d", tt.op, tt.a, tt.b, got, tt.want)
		}
	}
}

func TestInterpreterUnaryOps(t *testing.T) {
	tests := []struct {
		op   Opcode
		a    int32
		want int32
	}{
		{OpInvert, 0, -1},
		{OpNegate, 5, -5},
		{OpNegate, math.MinInt32, math.MinInt32},
		{OpLogNot, 0, 1},
		{OpLogNot, 7, 0},
		{OpTrigSin, 0, 0},
		{OpTrigSin, 0x4000, 65536},
		{OpTrigSin, -0x4000, -65536},
		{OpTrigCos, 0, 65536},
		{OpTrigCos, 0x8000, -65536},
	}

	b := NewBuilder()
	for i, tt := range tests {
		b.Script(int32(i+1), ScriptClosed, 0, 0)
		b.Emit(OpGetImm, tt.a)
		b.Emit(tt.op)
		b.EmitVar(FamilySet, ClassGlobalVar, int32(i))
	}
	env, _ := newTestEnv(t, b)

	for i, tt := range tests {
		runScript(t, env, int32(i+1))
		if got := env.GlobalVar(i); got != tt.want {
			t.Errorf("%s(%d) = %d, want %d", tt.op, tt.a, got, tt.want)
		}
	}
}

func TestVectorAngle(t *testing.T) {
	tests := []struct {
		x, y int32
		want int32
	}{
		{65536, 0, 0},
		{0, 65536, 0x4000},
		{-65536, 0, -0x8000},
		{0, -65536, -0x4000},
	}
	for _, tt := range tests {
		got := vectorAngle(tt.x, tt.y)
		if int16(got) != int16(tt.want) {
			t.Errorf("vectorAngle(%d, %d) = %#x, want %#x", tt.x, tt.y, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

func TestInterpreterLocals(t *testing.T) {
	b := NewBuilder()
	b.Script(1, ScriptClosed, 2, 3)
	b.Emit(OpGetImm, 10)
	b.EmitVar(FamilyAdd, ClassLocal, 0)
	b.EmitVar(FamilyInc, ClassLocal, 1)
	for i := int32(0); i < 3; i++ {
		b.EmitVar(FamilyGet, ClassLocal, i)
		b.EmitVar(FamilySet, ClassGlobalVar, i)
	}
	env, _ := newTestEnv(t, b)

	runScript(t, env, 1, 5, 6, 99)
	want := []int32{15, 7, 0}
	for i, w := range want {
		if got := env.GlobalVar(i); got != w {
			t.Errorf("local %d = %d, want %d", i, got, w)
		}
	}
}

func TestInterpreterScalarClasses(t *testing.T) {
	b := NewBuilder()
	b.MapVar(4, "score")
	b.Script(1, ScriptClosed, 0, 0)
	b.Emit(OpGetImm, 3)
	b.EmitVar(FamilySet, ClassMapVar, 4)
	b.Emit(OpGetImm, 4)
	b.EmitVar(FamilyMul, ClassMapVar, 4)
	b.EmitVar(FamilyDec, ClassWorldVar, 5)
	b.Emit(OpGetImm, 100)
	b.EmitVar(FamilySub, ClassGlobalVar, 6)
	env, _ := newTestEnv(t, b)

	runScript(t, env, 1)
	if got := env.LevelModule().MapVar(4); got != 12 {
		t.Errorf("map var = %d, want 12", got)
	}
	if got := env.WorldVar(5); got != -1 {
		t.Errorf("world var = %d, want -1", got)
	}
	if got := env.GlobalVar(6); got != -100 {
		t.Errorf("global var = %d, want -100", got)
	}
}

func TestInterpreterArrays(t *testing.T) {
	b := NewBuilder()
	b.MapArray(0, 0, "cells")
	b.Script(1, ScriptClosed, 0, 0)
	// cells[1000] = 77; cells[1000]++; cells[1000] *= 2
	b.Emit(OpGetImm, 1000)
	b.Emit(OpGetImm, 77)
	b.EmitVar(FamilySet, ClassMapArr, 0)
	b.Emit(OpGetImm, 1000)
	b.EmitVar(FamilyInc, ClassMapArr, 0)
	b.Emit(OpGetImm, 1000)
	b.Emit(OpGetImm, 2)
	b.EmitVar(FamilyMul, ClassMapArr, 0)
	b.Emit(OpGetImm, 1000)
	b.EmitVar(FamilyGet, ClassMapArr, 0)
	b.EmitVar(FamilySet, ClassGlobalVar, 0)
	// world[2][0xFFFFFFFF] = 5; global[3][7]--
	b.Emit(OpGetImm, -1)
	b.Emit(OpGetImm, 5)
	b.EmitVar(FamilySet, ClassWorldArr, 2)
	b.Emit(OpGetImm, 7)
	b.EmitVar(FamilyDec, ClassGlobalArr, 3)
	// read an unwritten cell
	b.Emit(OpGetImm, 123456)
	b.EmitVar(FamilyGet, ClassGlobalArr, 9)
	b.EmitVar(FamilySet, ClassGlobalVar, 1)
	env, _ := newTestEnv(t, b)
	env.SetGlobalVar(1, 55)

	runScript(t, env, 1)
	if got := env.GlobalVar(0); got != 156 {
		t.Errorf("cells[1000] = %d, want 156", got)
	}
	if got := env.WorldArray(2).Get(math.MaxUint32); got != 5 {
		t.Errorf("world[2][max] = %d, want 5", got)
	}
	if got := env.GlobalArray(3).Get(7); got != -1 {
		t.Errorf("global[3][7] = %d, want -1", got)
	}
	if got := env.GlobalVar(1); got != 0 {
		t.Errorf("unwritten cell = %d, want 0", got)
	}
	if !env.GlobalArray(9).IsEmpty() {
		t.Error("reading an array allocated storage")
	}
}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

func TestInterpreterBranchCase(t *testing.T) {
	b := NewBuilder()
	b.Script(1, ScriptClosed, 1, 1)
	b.EmitVar(FamilyGet, ClassLocal, 0)
	five, nine := b.NewLabel(), b.NewLabel()
	b.EmitCase(5, five)
	b.EmitCase(9, nine)
	b.EmitVar(FamilySet, ClassGlobalVar, 0) // no match: tested value is still there
	b.Emit(OpScriptTerminate)
	b.Mark(five)
	b.Emit(OpGetImm, 50)
	b.EmitVar(FamilySet, ClassGlobalVar, 1)
	b.Emit(OpScriptTerminate)
	b.Mark(nine)
	b.Emit(OpGetImm, 90)
	b.EmitVar(FamilySet, ClassGlobalVar, 1)
	env, host := newTestEnv(t, b)

	runScript(t, env, 1, 5)
	if env.GlobalVar(1) != 50 || env.GlobalVar(0) != 0 {
		t.Errorf("case 5: globals = %d, %d", env.GlobalVar(0), env.GlobalVar(1))
	}
	runScript(t, env, 1, 9)
	if env.GlobalVar(1) != 90 {
		t.Errorf("case 9: global 1 = %d", env.GlobalVar(1))
	}
	runScript(t, env, 1, 7)
	if env.GlobalVar(0) != 7 {
		t.Errorf("fallthrough: global 0 = %d, want 7", env.GlobalVar(0))
	}
	if errs := host.errors(); len(errs) != 0 {
		t.Errorf("unexpected errors: %v", errs)
	}
}

func TestInterpreterBranchCaseTable(t *testing.T) {
	values := []int32{-40, -3, 0, 1, 8, 15, 22, 1000, math.MaxInt32}

	b := NewBuilder()
	b.Script(1, ScriptClosed, 1, 1)
	b.EmitVar(FamilyGet, ClassLocal, 0)
	cases := make([]Case, len(values))
	for i, v := range values {
		cases[i] = Case{Value: v, Target: b.NewLabel()}
	}
	b.EmitCaseTable(cases)
	b.EmitVar(FamilySet, ClassGlobalVar, 0)
	b.Emit(OpGetImm, -1)
	b.EmitVar(FamilySet, ClassGlobalVar, 1)
	b.Emit(OpScriptTerminate)
	for i, c := range cases {
		b.Mark(c.Target)
		b.Emit(OpGetImm, int32(i))
		b.EmitVar(FamilySet, ClassGlobalVar, 1)
		b.Emit(OpScriptTerminate)
	}
	env, _ := newTestEnv(t, b)

	for i, v := range values {
		env.SetGlobalVar(0, 12345)
		runScript(t, env, 1, v)
		if got := env.GlobalVar(1); got != int32(i) {
			t.Errorf("value %d selected case %d, want %d", v, got, i)
		}
		if env.GlobalVar(0) != 12345 {
			t.Errorf("value %d fell through", v)
		}
	}
	for _, v := range []int32{-41, 2, 21, math.MinInt32} {
		runScript(t, env, 1, v)
		if env.GlobalVar(1) != -1 || env.GlobalVar(0) != v {
			t.Errorf("unmatched %d: globals = %d, %d", v, env.GlobalVar(0), env.GlobalVar(1))
		}
	}
}

func TestSearchCaseTable(t *testing.T) {
	table := []int32{-5, 100, 0, 101, 3, 102, 9, 103}
	for i, v := range []int32{-5, 0, 3, 9} {
		idx, ok := searchCaseTable(table, v)
		if !ok || idx != i {
			t.Errorf("searchCaseTable(%d) = %d, %v", v, idx, ok)
		}
	}
	if _, ok := searchCaseTable(table, 4); ok {
		t.Error("found a missing value")
	}
	if _, ok := searchCaseTable(nil, 0); ok {
		t.Error("found a value in an empty table")
	}
}

func TestInterpreterBranchStack(t *testing.T) {
	b := NewBuilder()
	labels := []*Label{b.NewLabel(), b.NewLabel()}
	b.Script(1, ScriptClosed, 1, 1)
	b.EmitVar(FamilyGet, ClassLocal, 0)
	b.Emit(OpBranchStack)
	b.Emit(OpScriptTerminate)
	for i, l := range labels {
		b.Mark(l)
		b.Emit(OpGetImm, int32(10+i))
		b.EmitVar(FamilySet, ClassGlobalVar, 0)
		b.Emit(OpScriptTerminate)
	}
	// jump table entries, in order
	for _, l := range labels {
		b.JumpTarget(l)
	}
	env, host := newTestEnv(t, b)

	runScript(t, env, 1, 1)
	if env.GlobalVar(0) != 11 {
		t.Errorf("global 0 = %d, want 11", env.GlobalVar(0))
	}
	runScript(t, env, 1, 5)
	if errs := host.errors(); len(errs) != 1 || !strings.Contains(errs[0], "bad operand") {
		t.Errorf("errors = %v, want one bad operand", errs)
	}
}

func TestInterpreterLoopAndConditional(t *testing.T) {
	// for (i = 0; i < 10; i++) global0 += i
	b := NewBuilder()
	b.Script(1, ScriptClosed, 0, 1)
	top, done := b.NewLabel(), b.NewLabel()
	b.Mark(top)
	b.EmitVar(FamilyGet, ClassLocal, 0)
	b.Emit(OpGetImm, 10)
	b.Emit(OpCmpLt)
	b.EmitBranch(OpBranchZero, done)
	b.EmitVar(FamilyGet, ClassLocal, 0)
	b.EmitVar(FamilyAdd, ClassGlobalVar, 0)
	b.EmitVar(FamilyInc, ClassLocal, 0)
	b.EmitBranch(OpBranchImm, top)
	b.Mark(done)
	env, _ := newTestEnv(t, b)

	runScript(t, env, 1)
	if got := env.GlobalVar(0); got != 45 {
		t.Errorf("sum = %d, want 45", got)
	}
}

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

func TestInterpreterRecursiveCall(t *testing.T) {
	b := NewBuilder()
	fact := b.DeclareFunction("fact", 1, 1)
	b.Script(1, ScriptClosed, 0, 0)
	b.Emit(OpGetImm, 6)
	b.Emit(OpBranchCallImm, fact)
	b.EmitVar(FamilySet, ClassGlobalVar, 0)
	b.Emit(OpScriptTerminate)

	b.BeginFunction(fact)
	recurse := b.NewLabel()
	b.EmitVar(FamilyGet, ClassLocal, 0)
	b.Emit(OpGetImm, 1)
	b.Emit(OpCmpLe)
	b.EmitBranch(OpBranchZero, recurse)
	b.Emit(OpGetImm, 1)
	b.Emit(OpBranchReturn)
	b.Mark(recurse)
	b.EmitVar(FamilyGet, ClassLocal, 0)
	b.EmitVar(FamilyGet, ClassLocal, 0)
	b.Emit(OpGetImm, 1)
	b.EmitVar(FamilySub, ClassStack, 0)
	b.Emit(OpBranchCallImm, fact)
	b.EmitVar(FamilyMul, ClassStack, 0)
	b.Emit(OpBranchReturn)
	env, host := newTestEnv(t, b)

	runScript(t, env, 1)
	if got := env.GlobalVar(0); got != 720 {
		t.Errorf("fact(6) = %d, want 720", got)
	}
	if errs := host.errors(); len(errs) != 0 {
		t.Errorf("unexpected errors: %v", errs)
	}
}

func TestInterpreterDeepCallsGrowBuffers(t *testing.T) {
	// sum(n) = n == 0 ? 0 : n + sum(n-1), deep enough to outgrow the
	// initial call and local buffers
	b := NewBuilder()
	sum := b.DeclareFunction("sum", 1, 2)
	b.Script(1, ScriptClosed, 0, 0)
	b.Emit(OpGetImm, 100)
	b.Emit(OpBranchCallImm, sum)
	b.EmitVar(FamilySet, ClassGlobalVar, 0)
	b.Emit(OpScriptTerminate)

	b.BeginFunction(sum)
	base := b.NewLabel()
	b.EmitVar(FamilyGet, ClassLocal, 0)
	b.EmitBranch(OpBranchZero, base)
	b.EmitVar(FamilyGet, ClassLocal, 0)
	b.EmitVar(FamilyGet, ClassLocal, 0)
	b.Emit(OpGetImm, 1)
	b.EmitVar(FamilySub, ClassStack, 0)
	b.Emit(OpBranchCallImm, sum)
	b.EmitVar(FamilyAdd, ClassStack, 0)
	b.Emit(OpBranchReturn)
	b.Mark(base)
	b.Emit(OpGetImm, 0)
	b.Emit(OpBranchReturn)
	env, _ := newTestEnv(t, b)

	runScript(t, env, 1)
	if got := env.GlobalVar(0); got != 5050 {
		t.Errorf("sum(100) = %d, want 5050", got)
	}
}

func TestInterpreterFunctionPointer(t *testing.T) {
	b := NewBuilder()
	inc := b.DeclareFunction("", 1, 1)
	b.Script(1, ScriptClosed, 0, 0)
	b.Emit(OpGetImm, 41)
	b.Emit(OpGetFuncP, inc)
	b.Emit(OpBranchCall)
	b.EmitVar(FamilySet, ClassGlobalVar, 0)
	b.Emit(OpScriptTerminate)
	b.BeginFunction(inc)
	b.EmitVar(FamilyGet, ClassLocal, 0)
	b.Emit(OpGetImm, 1)
	b.EmitVar(FamilyAdd, ClassStack, 0)
	b.Emit(OpBranchReturn)
	env, _ := newTestEnv(t, b)

	runScript(t, env, 1)
	if got := env.GlobalVar(0); got != 42 {
		t.Errorf("result = %d, want 42", got)
	}
}

func TestInterpreterReturnWithoutFrameTerminates(t *testing.T) {
	b := NewBuilder()
	b.Script(1, ScriptClosed, 0, 0)
	b.Emit(OpBranchReturn)
	b.Emit(OpGetImm, 1)
	b.EmitVar(FamilySet, ClassGlobalVar, 0)
	env, host := newTestEnv(t, b)

	if th := runScript(t, env, 1); th != nil {
		t.Fatal("thread still alive")
	}
	if env.GlobalVar(0) != 0 {
		t.Error("code after the return ran")
	}
	if len(host.errors()) != 0 {
		t.Error("return without a frame reported an error")
	}
}

func TestInterpreterCrossModuleImports(t *testing.T) {
	lib := NewBuilder()
	lib.MapVar(0, "counter")
	lib.MapArray(1, 16, "buf")
	triple := lib.DeclareFunction("Triple", 1, 1)
	lib.BeginFunction(triple)
	lib.EmitVar(FamilyInc, ClassMapVar, 0) // counts calls in the library's own storage
	lib.EmitVar(FamilyGet, ClassLocal, 0)
	lib.Emit(OpGetImm, 3)
	lib.EmitVar(FamilyMul, ClassStack, 0)
	lib.Emit(OpBranchReturn)

	main := NewBuilder()
	main.Load("lib")
	f := main.ImportFunction("triple")
	main.ImportMapVar(7, "COUNTER")
	main.ImportMapArray(2, "buf")
	main.Script(1, ScriptClosed, 0, 0)
	main.Emit(OpGetImm, 5)
	main.Emit(OpBranchCallImm, f)
	main.EmitVar(FamilySet, ClassGlobalVar, 0)
	main.EmitVar(FamilyGet, ClassMapVar, 7)
	main.EmitVar(FamilySet, ClassGlobalVar, 1)
	main.Emit(OpGetImm, 3)
	main.Emit(OpGetImm, 88)
	main.EmitVar(FamilySet, ClassMapArr, 2)

	host := newTestHost()
	host.add("main", main)
	host.add("lib", lib)
	env := NewEnvironment(host, Options{})
	if err := env.EnterMap(1, "main"); err != nil {
		t.Fatal(err)
	}
	if n := len(env.Modules()); n != 2 {
		t.Fatalf("modules = %d, want 2", n)
	}

	runScript(t, env, 1)
	if got := env.GlobalVar(0); got != 15 {
		t.Errorf("triple(5) = %d, want 15", got)
	}
	if got := env.GlobalVar(1); got != 1 {
		t.Errorf("imported counter = %d, want 1", got)
	}
	libMod, _ := env.Module("LIB")
	if got := libMod.MapVar(0); got != 1 {
		t.Errorf("library counter = %d, want 1", got)
	}
	if got := libMod.MapArray(1).Get(3); got != 88 {
		t.Errorf("library buf[3] = %d, want 88", got)
	}
}

// ---------------------------------------------------------------------------
// Host calls
// ---------------------------------------------------------------------------

func TestInterpreterHostCalls(t *testing.T) {
	b := NewBuilder()
	b.Script(1, ScriptClosed, 0, 0)
	b.Emit(OpGetImm, 1)
	b.Emit(OpGetImm, 2)
	b.Emit(OpGetImm, 3)
	b.Emit(OpCallFunc, 1, 3)
	b.EmitVar(FamilySet, ClassGlobalVar, 0)
	b.Emit(OpCallFuncImm, 3, 2, 10, 20)
	b.EmitVar(FamilySet, ClassGlobalVar, 1)
	b.EmitVar(FamilySet, ClassGlobalVar, 2)
	b.Emit(OpGetImm, 9)
	b.EmitVar(FamilySet, ClassGlobalVar, 3)
	b.Emit(OpCallFuncZD, 2, 0)
	b.EmitVar(FamilySet, ClassGlobalVar, 3)
	b.Emit(OpGetImm, 4)
	b.Emit(OpLineSpecRet, 7, 1)
	b.EmitVar(FamilySet, ClassGlobalVar, 4)
	b.Emit(OpLineSpecImm, 8, 2, 1, 2)
	b.Emit(OpSetGravityImm, 800)
	env, host := newTestEnv(t, b)

	runScript(t, env, 1)
	want := []int32{6, 10, 20, 0, 70}
	for i, w := range want {
		if got := env.GlobalVar(i); got != w {
			t.Errorf("global %d = %d, want %d", i, got, w)
		}
	}
	if len(host.specials) != 2 || host.specials[1].spec != 8 || len(host.specials[1].args) != 2 {
		t.Errorf("specials = %+v", host.specials)
	}
	if host.gravity != 800 {
		t.Errorf("gravity = %d, want 800", host.gravity)
	}
}

func TestInterpreterLineContext(t *testing.T) {
	b := NewBuilder()
	b.Script(1, ScriptClosed, 0, 0)
	b.Emit(OpLineSide)
	b.EmitVar(FamilySet, ClassGlobalVar, 0)
	b.Emit(OpClearLineSpecial)
	env, _ := newTestEnv(t, b)

	var cleared []int32
	host := &lineHost{testHost: env.Host().(*testHost), cleared: &cleared}
	env.host = host

	env.StartScript(1, 0, nil, StartInfo{}.OnLine(12, 1), ExecImmediate)
	if got := env.GlobalVar(0); got != 1 {
		t.Errorf("line side = %d, want 1", got)
	}
	if len(cleared) != 1 || cleared[0] != 12 {
		t.Errorf("cleared lines = %v, want [12]", cleared)
	}

	// without a line the special is left alone
	env.StartScript(1, 0, nil, StartInfo{}, ExecImmediate)
	if len(cleared) != 1 {
		t.Errorf("cleared lines = %v, want one", cleared)
	}
}

type lineHost struct {
	*testHost
	cleared *[]int32
}

func (h *lineHost) ClearLineSpecial(line int32) {
	*h.cleared = append(*h.cleared, line)
}

// ---------------------------------------------------------------------------
// Printing and strings
// ---------------------------------------------------------------------------

func TestInterpreterPrint(t *testing.T) {
	b := NewBuilder()
	hello := b.String("Hello ")
	b.Script(1, ScriptClosed, 0, 0)
	b.Emit(OpStartPrint)
	b.Emit(OpGetImm, hello)
	b.Emit(OpTagString)
	b.Emit(OpPrintString)
	b.Emit(OpGetImm, -1)
	b.Emit(OpPrintInt)
	b.Emit(OpGetImm, '!')
	b.Emit(OpPrintChar)
	b.Emit(OpEndPrint)

	b.Emit(OpStartPrint)
	b.Emit(OpGetImm, 255)
	b.Emit(OpPrintIntHex)
	b.Emit(OpGetImm, ' ')
	b.Emit(OpPrintChar)
	b.Emit(OpGetImm, -1)
	b.Emit(OpPrintIntHex)
	b.Emit(OpGetImm, ' ')
	b.Emit(OpPrintChar)
	b.Emit(OpGetImm, 5)
	b.Emit(OpPrintIntBin)
	b.Emit(OpGetImm, ' ')
	b.Emit(OpPrintChar)
	b.Emit(OpGetImm, 3<<15)
	b.Emit(OpPrintFixed)
	b.Emit(OpGetImm, ' ')
	b.Emit(OpPrintChar)
	b.Emit(OpGetImm, 1)
	b.Emit(OpPrintName)
	b.Emit(OpEndPrintBold)

	// nested buffers
	b.Emit(OpStartPrint)
	b.Emit(OpGetImm, 'a')
	b.Emit(OpPrintChar)
	b.Emit(OpStartPrint)
	b.Emit(OpGetImm, 'b')
	b.Emit(OpPrintChar)
	b.Emit(OpEndPrintString)
	b.Emit(OpPrintString)
	b.Emit(OpEndPrintLog)
	env, host := newTestEnv(t, b)
	host.players[1] = "Player1"

	runScript(t, env, 1)
	texts := host.texts()
	want := []string{"Hello -1!", "FF FFFFFFFF 101 1.5 Player1"}
	if len(texts) != len(want) {
		t.Fatalf("messages = %q, want %q", texts, want)
	}
	for i := range want {
		if texts[i] != want[i] {
			t.Errorf("message %d = %q, want %q", i, texts[i], want[i])
		}
	}
	if host.messages[1].ch != ChannelBold {
		t.Errorf("ENDPRINTBOLD channel = %v", host.messages[1].ch)
	}
	if len(host.logs) != 1 || host.logs[0] != "ab" {
		t.Errorf("logs = %q, want [ab]", host.logs)
	}
	if n := len(env.printPool); n == 0 {
		t.Error("print buffers were not returned to the pool")
	}
}

func TestAppendFixed(t *testing.T) {
	tests := []struct {
		v    int32
		want string
	}{
		{0, "0"},
		{65536, "1"},
		{3 << 15, "1.5"},
		{-32768, "-0.5"},
		{1, "1.52588E-05"},
		{math.MaxInt32, "32768"},
		{100 << 16, "100"},
	}
	for _, tt := range tests {
		if got := string(appendFixed(nil, tt.v)); got != tt.want {
			t.Errorf("appendFixed(%d) = %q, want %q", tt.v, got, tt.want)
		}
	}
}

func TestInterpreterStringOps(t *testing.T) {
	b := NewBuilder()
	doom := b.String("doom")
	b.MapArray(0, 0, "text")
	b.Script(1, ScriptClosed, 0, 0)
	// copy "doom" into text[10..] with room for it
	b.Emit(OpGetArrImm, 4, 0, 0, 10, 16)
	b.Emit(OpGetImm, doom)
	b.Emit(OpTagString)
	b.Emit(OpGetImm, 0)
	b.Emit(OpStrCpyMap)
	b.EmitVar(FamilySet, ClassGlobalVar, 0)
	// the same copy with no room for the terminator fails
	b.Emit(OpGetArrImm, 4, 0, 0, 30, 4)
	b.Emit(OpGetImm, doom)
	b.Emit(OpTagString)
	b.Emit(OpGetImm, 0)
	b.Emit(OpStrCpyMap)
	b.EmitVar(FamilySet, ClassGlobalVar, 1)
	// STRLEN and GET_STRINGARR
	b.Emit(OpGetImm, doom)
	b.Emit(OpTagString)
	b.Emit(OpStrLen)
	b.EmitVar(FamilySet, ClassGlobalVar, 2)
	b.Emit(OpGetImm, doom)
	b.Emit(OpTagString)
	b.Emit(OpGetImm, 1)
	b.Emit(OpGetStringArr)
	b.EmitVar(FamilySet, ClassGlobalVar, 3)
	// print the copy back
	b.Emit(OpStartPrint)
	b.Emit(OpGetImm, 10)
	b.Emit(OpGetImm, 0)
	b.Emit(OpPrintMapArray)
	b.Emit(OpEndPrint)
	env, host := newTestEnv(t, b)

	runScript(t, env, 1)
	if errs := host.errors(); len(errs) != 0 {
		t.Fatalf("errors: %v", errs)
	}
	want := []int32{1, 0, 4, 'o'}
	for i, w := range want {
		if got := env.GlobalVar(i); got != w {
			t.Errorf("global %d = %d, want %d", i, got, w)
		}
	}
	if texts := host.texts(); len(texts) != 1 || texts[0] != "doom" {
		t.Errorf("printed %q, want [doom]", texts)
	}
	if env.LevelModule().MapArray(0).Get(30) != 0 {
		t.Error("failed copy wrote to the array")
	}
}

// ---------------------------------------------------------------------------
// Fatal errors
// ---------------------------------------------------------------------------

func TestInterpreterDivideByZeroKillsOnlyFaultingThread(t *testing.T) {
	b := NewBuilder()
	b.Script(1, ScriptClosed, 0, 0)
	b.Emit(OpGetImm, 99)
	b.EmitVar(FamilySet, ClassGlobalVar, 5)
	b.Emit(OpDelayImm, 1)
	b.Emit(OpGetImm, 1)
	b.EmitVar(FamilySet, ClassGlobalVar, 6)

	b.Script(2, ScriptClosed, 0, 1)
	b.Emit(OpGetImm, 3)
	b.EmitVar(FamilySet, ClassGlobalVar, 7)
	b.Emit(OpGetImm, 1)
	b.Emit(OpGetImm, 0)
	b.EmitVar(FamilyDiv, ClassStack, 0)
	b.EmitVar(FamilySet, ClassGlobalVar, 7)

	b.Script(3, ScriptClosed, 0, 1)
	b.Emit(OpGetImm, 0)
	b.EmitVar(FamilyMod, ClassLocal, 0)
	env, host := newTestEnv(t, b)

	env.StartScript(1, 0, nil, StartInfo{}, 0)
	env.StartScript(2, 0, nil, StartInfo{}, 0)
	env.StartScript(3, 0, nil, StartInfo{}, 0)
	env.Tick()

	threads := env.Threads()
	if len(threads) != 1 || threads[0].Script().Number != 1 {
		t.Fatalf("live threads = %v, want only script 1", threads)
	}
	if th := threads[0]; th.State() != ThreadRunning || th.Delay() != 1 {
		t.Errorf("survivor state = %v delay = %d", th.State(), th.Delay())
	}
	if env.GlobalVar(5) != 99 {
		t.Error("survivor state was disturbed")
	}
	if env.GlobalVar(7) != 3 {
		t.Errorf("partial write = %d, want 3", env.GlobalVar(7))
	}
	errs := host.errors()
	if len(errs) != 2 {
		t.Fatalf("errors = %q, want two", errs)
	}
	for _, e := range errs {
		if !strings.Contains(e, "divide by zero") || !strings.Contains(e, `module "main"`) {
			t.Errorf("diagnostic %q lacks kind or module", e)
		}
	}

	env.Tick()
	env.Tick()
	if env.GlobalVar(6) != 1 {
		t.Error("survivor did not resume")
	}
}

func TestInterpreterRunawayDoesNotBlockOthers(t *testing.T) {
	b := NewBuilder()
	b.Script(1, ScriptClosed, 0, 0)
	loop := b.NewLabel()
	b.Mark(loop)
	b.EmitBranch(OpBranchImm, loop)

	b.Script(2, ScriptClosed, 0, 0)
	b.Emit(OpGetImm, 1)
	b.EmitVar(FamilySet, ClassGlobalVar, 0)

	host := newTestHost()
	host.add("main", b)
	env := NewEnvironment(host, Options{RunawayLimit: 1000})
	if err := env.EnterMap(1, "main"); err != nil {
		t.Fatal(err)
	}
	env.StartScript(1, 0, nil, StartInfo{}, 0)
	env.StartScript(2, 0, nil, StartInfo{}, 0)
	env.Tick()

	if env.GlobalVar(0) != 1 {
		t.Error("thread after the runaway did not run")
	}
	if len(env.Threads()) != 0 {
		t.Error("runaway thread survived")
	}
	if errs := host.errors(); len(errs) != 1 || !strings.Contains(errs[0], "runaway") {
		t.Errorf("errors = %q", errs)
	}
}

func TestInterpreterFatalConditions(t *testing.T) {
	tests := []struct {
		name string
		emit func(b *Builder)
		kind string
	}{
		{"kill", func(b *Builder) { b.Emit(OpKill, 4, 2) }, "killed"},
		{"unknown opcode", func(b *Builder) { b.EmitRaw(0x7FFF) }, "unknown opcode"},
		{"bad function", func(b *Builder) { b.Emit(OpGetImm, 77); b.Emit(OpBranchCall) }, "bad function"},
		{"stack underflow", func(b *Builder) { b.Emit(OpStackDrop) }, "stack underflow"},
		{"bad local", func(b *Builder) { b.EmitVar(FamilyInc, ClassLocal, 3) }, "bad operand"},
		{"bad map var", func(b *Builder) { b.EmitVar(FamilyInc, ClassMapVar, NumMapVars) }, "bad operand"},
		{"fixed divide by zero", func(b *Builder) { b.Emit(OpGetArrImm, 2, 1, 0); b.Emit(OpDivX) }, "divide by zero"},
		{"truncated operand", func(b *Builder) { b.EmitRaw(int32(OpGetImm)) }, "bad operand"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder()
			b.Script(1, ScriptClosed, 0, 0)
			tt.emit(b)
			env, host := newTestEnv(t, b)
			if th := runScript(t, env, 1); th != nil {
				t.Fatal("thread survived a fatal error")
			}
			errs := host.errors()
			if len(errs) != 1 || !strings.Contains(errs[0], tt.kind) {
				t.Errorf("errors = %q, want %q", errs, tt.kind)
			}
		})
	}
}

func TestInterpreterStackGrows(t *testing.T) {
	b := NewBuilder()
	b.Script(1, ScriptClosed, 0, 0)
	const n = 3 * defaultStackSize
	for i := 0; i < n; i++ {
		b.Emit(OpGetImm, 1)
	}
	for i := 1; i < n; i++ {
		b.EmitVar(FamilyAdd, ClassStack, 0)
	}
	b.EmitVar(FamilySet, ClassGlobalVar, 0)
	env, _ := newTestEnv(t, b)

	runScript(t, env, 1)
	if got := env.GlobalVar(0); got != n {
		t.Errorf("sum = %d, want %d", got, n)
	}
}
