package vm

import (
	"math"
	"runtime"
	"slices"
)

// DefaultRunawayLimit is the number of branches a thread may take in one
// step before it is killed.
const DefaultRunawayLimit = 500000

// fault builds a runtime error for panicking out of the dispatch loop. The
// step boundary fills in the location.
func fault(kind RuntimeErrorKind, value int32) *RuntimeError {
	return &RuntimeError{Kind: kind, Value: value}
}

// ---------------------------------------------------------------------------
// Fixed-point trigonometry
// ---------------------------------------------------------------------------

const (
	fineAngles       = 8192
	fineMask         = fineAngles - 1
	angleToFineShift = 19
)

// fineSine holds sin over a full turn in 16.16 fixed point.
var fineSine [fineAngles]int32

func init() {
	for i := range fineSine {
		fineSine[i] = int32(math.Round(math.Sin(float64(i)*2*math.Pi/fineAngles) * 65536))
	}
}

// fineIndex converts a fixed-point fraction of a turn to a table index.
func fineIndex(angle int32) int {
	return int(uint32(angle<<16)>>angleToFineShift) & fineMask
}

func fixedSin(angle int32) int32 {
	return fineSine[fineIndex(angle)]
}

func fixedCos(angle int32) int32 {
	return fineSine[(fineIndex(angle)+fineAngles/4)&fineMask]
}

// vectorAngle returns the angle of (x, y) as a fixed-point fraction of a turn.
func vectorAngle(x, y int32) int32 {
	a := math.Atan2(float64(y), float64(x))
	if a < 0 {
		a += 2 * math.Pi
	}
	bam := uint64(a / (2 * math.Pi) * (1 << 32))
	return int32(uint32(bam) >> 16)
}

func boolInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// ---------------------------------------------------------------------------
// Thread stepping
// ---------------------------------------------------------------------------

// runThread steps th once and destroys it if it finished. Fatal errors are
// reported and end only this thread.
func (env *Environment) runThread(th *Thread) {
	finished, err := env.step(th)
	if err != nil {
		env.reportFault(th, err)
		finished = true
	}
	if finished {
		env.finishThread(th)
	}
}

func (env *Environment) reportFault(th *Thread, err *RuntimeError) {
	err.Script = th.script.String()
	if err.Module == "" {
		err.Module = th.module.Name
	}
	env.log.Errorf("%s: %s", th, err)
	env.host.Message("script error: "+err.Error(), ChannelError, th)
}

// step executes instructions until th suspends, finishes or faults.
func (env *Environment) step(th *Thread) (finished bool, rerr *RuntimeError) {
	at := th.ip
	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(*RuntimeError)
			if !ok {
				rt, isRuntime := r.(runtime.Error)
				if !isRuntime {
					panic(r)
				}
				env.log.Criticalf("%s: %s", th, rt)
				e = fault(ErrKindBadOperand, 0)
			}
			e.IP = at
			e.Module = th.module.Name
			finished, rerr = true, e
		}
	}()

	branches := 0
	branch := func() {
		branches++
		if branches > env.opts.RunawayLimit {
			panic(fault(ErrKindRunaway, int32(branches)))
		}
	}

	for {
		code := th.module.Code
		if th.ip < 0 || th.ip >= len(code) {
			return true, nil
		}
		at = th.ip
		op := Opcode(code[th.ip])
		th.ip++

		switch op {
		case OpNop:

		case OpKill:
			kill := env.operand(th)
			env.operand(th)
			panic(fault(ErrKindKill, kill))

		// Host calls

		case OpCallFunc, OpCallFuncZD:
			fn := env.operand(th)
			args := slices.Clone(th.popN(int(env.operand(th))))
			ret := env.host.CallFunc(fn, args, th)
			th.stack = append(th.stack, ret...)
			if op == OpCallFuncZD && len(ret) == 0 {
				th.push(0)
			}
		case OpCallFuncImm:
			fn := env.operand(th)
			args := env.operands(th, env.operand(th))
			th.stack = append(th.stack, env.host.CallFunc(fn, args, th)...)
		case OpLineSpec, OpLineSpecRet:
			spec := env.operand(th)
			args := slices.Clone(th.popN(int(env.operand(th))))
			res := env.host.ExecSpecial(spec, args, th)
			if op == OpLineSpecRet {
				th.push(res)
			}
		case OpLineSpecImm:
			spec := env.operand(th)
			args := env.operands(th, env.operand(th))
			env.host.ExecSpecial(spec, args, th)

		// Loads

		case OpGetImm:
			th.push(env.operand(th))
		case OpGetArrImm:
			th.stack = append(th.stack, env.operands(th, env.operand(th))...)
		case OpGetFuncP:
			idx := env.operand(th)
			f, ok := th.module.Function(idx)
			if !ok || f == nil {
				panic(fault(ErrKindBadFunction, idx))
			}
			th.push(f.Number)
		case OpGetStringArr:
			idx := th.pop()
			t := th.top()
			data, ok := env.strings.Get(uint32(*t))
			if ok && idx >= 0 && int(idx) < len(data) {
				*t = int32(data[idx])
			} else {
				*t = 0
			}
		case OpGetLevelArr:
			t := th.top()
			*t = env.host.LevelProperty(*t)
		case OpGetThingVar:
			prop := th.pop()
			t := th.top()
			*t = env.host.ThingProperty(*t, prop, th)
		case OpSetThingVar:
			value := th.pop()
			prop := th.pop()
			env.host.SetThingProperty(th.pop(), prop, value, th)
		case OpChkThingVar:
			value := th.pop()
			prop := th.pop()
			t := th.top()
			*t = env.host.CheckThingProperty(*t, prop, value, th)
		case OpSetResult:
			th.result = th.pop()

		// Arithmetic

		case OpCmpEq, OpCmpNe, OpCmpLt, OpCmpGt, OpCmpLe, OpCmpGe:
			b := th.pop()
			t := th.top()
			a := *t
			switch op {
			case OpCmpEq:
				*t = boolInt(a == b)
			case OpCmpNe:
				*t = boolInt(a != b)
			case OpCmpLt:
				*t = boolInt(a < b)
			case OpCmpGt:
				*t = boolInt(a > b)
			case OpCmpLe:
				*t = boolInt(a <= b)
			case OpCmpGe:
				*t = boolInt(a >= b)
			}
		case OpMulX:
			b := th.pop()
			t := th.top()
			*t = int32((int64(*t) * int64(b)) >> 16)
		case OpDivX:
			b := th.pop()
			if b == 0 {
				panic(fault(ErrKindDivideByZero, b))
			}
			t := th.top()
			*t = int32((int64(*t) << 16) / int64(b))
		case OpInvert:
			t := th.top()
			*t = ^*t
		case OpNegate:
			t := th.top()
			*t = -*t
		case OpLogAnd:
			b := th.pop()
			t := th.top()
			*t = boolInt(*t != 0 && b != 0)
		case OpLogIor:
			b := th.pop()
			t := th.top()
			*t = boolInt(*t != 0 || b != 0)
		case OpLogNot:
			t := th.top()
			*t = boolInt(*t == 0)
		case OpTrigSin:
			t := th.top()
			*t = fixedSin(*t)
		case OpTrigCos:
			t := th.top()
			*t = fixedCos(*t)
		case OpTrigVectorAngle:
			y := th.pop()
			t := th.top()
			*t = vectorAngle(*t, y)

		// Branches

		case OpBranchImm:
			target := env.operand(th)
			branch()
			env.jump(th, target)
		case OpBranchZero, OpBranchNotZero:
			target := env.operand(th)
			if (th.pop() == 0) == (op == OpBranchZero) {
				branch()
				env.jump(th, target)
			}
		case OpBranchCase:
			value := env.operand(th)
			target := env.operand(th)
			if *th.top() == value {
				th.pop()
				branch()
				env.jump(th, target)
			}
		case OpBranchCaseTable:
			n := int(env.operand(th))
			table := th.ip
			if n < 0 || table+2*n > len(code) {
				panic(fault(ErrKindBadOperand, int32(n)))
			}
			th.ip = table + 2*n
			value := *th.top()
			i, found := searchCaseTable(code[table:table+2*n], value)
			if found {
				th.pop()
				branch()
				env.jump(th, code[table+2*i+1])
			}
		case OpBranchStack:
			idx := th.pop()
			jumps := th.module.Jumps
			if idx < 0 || int(idx) >= len(jumps) {
				panic(fault(ErrKindBadOperand, idx))
			}
			branch()
			th.ip = int(jumps[idx])
		case OpBranchCall:
			num := th.pop()
			if num <= 0 || int(num) >= len(env.funcs) || env.funcs[num] == nil {
				panic(fault(ErrKindBadFunction, num))
			}
			branch()
			env.call(th, env.funcs[num])
		case OpBranchCallImm:
			idx := env.operand(th)
			f, ok := th.module.Function(idx)
			if !ok || f == nil {
				panic(fault(ErrKindBadFunction, idx))
			}
			branch()
			env.call(th, f)
		case OpBranchReturn:
			branch()
			if len(th.calls) == 0 {
				return true, nil
			}
			env.ret(th)

		// Stack

		case OpStackCopy:
			th.push(*th.top())
		case OpStackDrop:
			th.pop()
		case OpStackSwap:
			n := len(th.stack)
			if n < 2 {
				panic(fault(ErrKindStackUnderflow, int32(n)))
			}
			th.stack[n-1], th.stack[n-2] = th.stack[n-2], th.stack[n-1]

		// Script control

		case OpDelay:
			th.delay = max(th.pop(), 0)
			return false, nil
		case OpDelayImm:
			th.delay = max(env.operand(th), 0)
			return false, nil
		case OpScriptSuspend:
			th.state = ThreadSuspended
			return false, nil
		case OpScriptTerminate:
			return true, nil
		case OpScriptRestart:
			branch()
			th.module = th.script.Module
			th.ip = int(th.script.Entry)
		case OpTagWait, OpTagWaitImm:
			th.datum = env.popOrOperand(th, op == OpTagWaitImm)
			th.state = ThreadWaitingOnTag
			return false, nil
		case OpPolyWait, OpPolyWaitImm:
			th.datum = env.popOrOperand(th, op == OpPolyWaitImm)
			th.state = ThreadWaitingOnPolyobject
			return false, nil
		case OpScriptWait, OpScriptWaitImm:
			th.datum = env.popOrOperand(th, op == OpScriptWaitImm)
			th.state = ThreadWaitingOnScriptNumber
			return false, nil
		case OpScriptWaitName:
			th.datum = th.pop()
			th.state = ThreadWaitingOnScriptName
			return false, nil
		case OpScriptWaitNameImm:
			idx := env.operand(th)
			h, ok := th.module.StringHandle(idx)
			if !ok {
				panic(fault(ErrKindBadOperand, idx))
			}
			th.datum = int32(h)
			th.state = ThreadWaitingOnScriptName
			return false, nil

		// Printing

		case OpStartPrint:
			env.startPrint(th)
		case OpPrintString:
			buf := env.printBuffer(th)
			*buf = append(*buf, env.strings.CString(uint32(th.pop()))...)
		case OpPrintInt:
			v := th.pop()
			buf := env.printBuffer(th)
			*buf = appendInt(*buf, v)
		case OpPrintIntHex:
			v := th.pop()
			buf := env.printBuffer(th)
			*buf = appendHex(*buf, v)
		case OpPrintIntBin:
			v := th.pop()
			buf := env.printBuffer(th)
			*buf = appendBin(*buf, v)
		case OpPrintFixed:
			v := th.pop()
			buf := env.printBuffer(th)
			*buf = appendFixed(*buf, v)
		case OpPrintChar:
			v := th.pop()
			buf := env.printBuffer(th)
			*buf = append(*buf, byte(v))
		case OpPrintName:
			n := th.pop()
			name, ok := env.host.PlayerName(n)
			buf := env.printBuffer(th)
			if ok {
				*buf = append(*buf, name...)
			}
		case OpPrintMapArray, OpPrintWorldArray, OpPrintGlobalArray:
			vals := th.popN(2)
			offset, slot := vals[0], vals[1]
			arr := env.arrayFor(th, printArrayClass(op), slot)
			buf := env.printBuffer(th)
			*buf = arr.AppendRange(*buf, uint32(offset), math.MaxUint32)
		case OpPrintMapRange, OpPrintWorldRange, OpPrintGlobalRange:
			vals := th.popN(4)
			offset, slot, start, length := vals[0], vals[1], vals[2], vals[3]
			arr := env.arrayFor(th, printArrayClass(op), slot)
			buf := env.printBuffer(th)
			*buf = arr.AppendRange(*buf, uint32(offset+start), uint32(length))
		case OpEndPrint:
			env.host.Message(env.endPrint(th), ChannelPlayer, th)
		case OpEndPrintBold:
			env.host.Message(env.endPrint(th), ChannelBold, th)
		case OpEndPrintLog:
			env.host.Log(env.endPrint(th))
		case OpEndPrintString:
			text := env.endPrint(th)
			th.push(int32(env.strings.InternString(text)))

		// Strings

		case OpStrLen:
			t := th.top()
			*t = int32(len(env.strings.CString(uint32(*t))))
		case OpTagString:
			t := th.top()
			h, ok := th.module.StringHandle(*t)
			if !ok {
				panic(fault(ErrKindBadOperand, *t))
			}
			*t = int32(h)
		case OpStrCpyMap, OpStrCpyWorld, OpStrCpyGlobal:
			vals := th.popN(6)
			offset, slot, start, maxLen, str, srcOff := vals[0], vals[1], vals[2], vals[3], vals[4], vals[5]
			arr := env.arrayFor(th, strcpyArrayClass(op), slot)
			ok := arr.CopyString(env.strings, uint32(offset+start), uint32(maxLen), uint32(str), uint32(srcOff))
			th.push(boolInt(ok))

		// Host queries

		case OpPlayerCount:
			th.push(env.host.PlayerCount())
		case OpGameSkill:
			th.push(env.host.GameProperty(PropSkill))
		case OpGameType:
			th.push(env.host.GameProperty(PropGameType))
		case OpTimer:
			th.push(env.host.GameProperty(PropLevelTime))
		case OpScreenWidth:
			th.push(env.host.GameProperty(PropScreenWidth))
		case OpScreenHeight:
			th.push(env.host.GameProperty(PropScreenHeight))
		case OpLineSide:
			th.push(th.side)
		case OpLineOffsetY:
			if line, ok := th.Line(); ok {
				th.push(env.host.LineOffsetY(line))
			} else {
				th.push(0)
			}
		case OpClearLineSpecial:
			if line, ok := th.Line(); ok {
				env.host.ClearLineSpecial(line)
			}
		case OpSetGravity:
			env.host.SetGravity(th.pop())
		case OpSetGravityImm:
			env.host.SetGravity(env.operand(th))

		default:
			f, c, ok := op.Var()
			if !ok {
				panic(fault(ErrKindBadOpcode, int32(op)))
			}
			env.execVar(th, f, c)
		}
	}
}

// operand reads the next immediate word.
func (env *Environment) operand(th *Thread) int32 {
	code := th.module.Code
	if th.ip >= len(code) {
		panic(fault(ErrKindBadOperand, int32(th.ip)))
	}
	v := code[th.ip]
	th.ip++
	return v
}

// operands reads n immediate words into a new slice.
func (env *Environment) operands(th *Thread, n int32) []int32 {
	code := th.module.Code
	if n < 0 || th.ip+int(n) > len(code) {
		panic(fault(ErrKindBadOperand, n))
	}
	vals := slices.Clone(code[th.ip : th.ip+int(n)])
	th.ip += int(n)
	return vals
}

func (env *Environment) popOrOperand(th *Thread, imm bool) int32 {
	if imm {
		return env.operand(th)
	}
	return th.pop()
}

// jump moves th to target. A target at the end of code ends the thread on
// the next fetch.
func (env *Environment) jump(th *Thread, target int32) {
	if target < 0 || int(target) > len(th.module.Code) {
		panic(fault(ErrKindBadOperand, target))
	}
	th.ip = int(target)
}

// searchCaseTable binary-searches a (value, target) table sorted by value.
func searchCaseTable(table []int32, value int32) (int, bool) {
	lo, hi := 0, len(table)/2
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		v := table[2*mid]
		switch {
		case v == value:
			return mid, true
		case v < value:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return 0, false
}

// call enters f. Its arguments are taken from the top of the operand stack
// into a new locals window placed after the caller's.
func (env *Environment) call(th *Thread, f *Function) {
	args := th.popN(int(f.ArgCount))
	th.calls = append(th.calls, callFrame{ip: th.ip, numLocals: th.numLocals, module: th.module.ID})

	base := th.localBase + th.numLocals
	th.reserveLocals(base + int(f.VarCount))
	copy(th.locals[base:], args)
	clear(th.locals[base+len(args) : base+int(f.VarCount)])

	th.localBase = base
	th.numLocals = int(f.VarCount)
	th.module = f.Module
	th.ip = int(f.Entry)
}

// ret returns to the innermost saved frame.
func (env *Environment) ret(th *Thread) {
	frame := th.calls[len(th.calls)-1]
	th.calls = th.calls[:len(th.calls)-1]
	th.localBase -= frame.numLocals
	th.numLocals = frame.numLocals
	th.module = env.modules[frame.module]
	th.ip = frame.ip
}

// ---------------------------------------------------------------------------
// Variable families
// ---------------------------------------------------------------------------

func printArrayClass(op Opcode) StorageClass {
	switch op {
	case OpPrintMapArray, OpPrintMapRange:
		return ClassMapArr
	case OpPrintWorldArray, OpPrintWorldRange:
		return ClassWorldArr
	}
	return ClassGlobalArr
}

func strcpyArrayClass(op Opcode) StorageClass {
	switch op {
	case OpStrCpyMap:
		return ClassMapArr
	case OpStrCpyWorld:
		return ClassWorldArr
	}
	return ClassGlobalArr
}

// scalarFor resolves a scalar slot of a non-array storage class.
func (env *Environment) scalarFor(th *Thread, c StorageClass, slot int32) *int32 {
	switch c {
	case ClassLocal:
		return th.local(slot)
	case ClassMapVar:
		if slot >= 0 && slot < NumMapVars {
			return th.module.mapVarPtr[slot]
		}
	case ClassWorldVar:
		if slot >= 0 && slot < NumWorldVars {
			return &env.worldVars[slot]
		}
	case ClassGlobalVar:
		if slot >= 0 && slot < NumGlobalVars {
			return &env.globalVars[slot]
		}
	}
	panic(fault(ErrKindBadOperand, slot))
}

// arrayFor resolves an array slot of an array storage class.
func (env *Environment) arrayFor(th *Thread, c StorageClass, slot int32) *Array {
	switch c {
	case ClassMapArr:
		if slot >= 0 && slot < NumMapArrs {
			return th.module.mapArrPtr[slot]
		}
	case ClassWorldArr:
		if slot >= 0 && slot < NumWorldArrs {
			return &env.worldArrs[slot]
		}
	case ClassGlobalArr:
		if slot >= 0 && slot < NumGlobalArrs {
			return &env.globalArrs[slot]
		}
	}
	panic(fault(ErrKindBadOperand, slot))
}

// binop applies an arithmetic family. Division and modulo by zero fault.
func binop(f Family, a, b int32) int32 {
	switch f {
	case FamilyAdd:
		return a + b
	case FamilySub:
		return a - b
	case FamilyMul:
		return a * b
	case FamilyDiv:
		if b == 0 {
			panic(fault(ErrKindDivideByZero, a))
		}
		if a == math.MinInt32 && b == -1 {
			return a
		}
		return a / b
	case FamilyMod:
		if b == 0 {
			panic(fault(ErrKindDivideByZero, a))
		}
		if b == -1 {
			return 0
		}
		return a % b
	case FamilyAnd:
		return a & b
	case FamilyIor:
		return a | b
	case FamilyXor:
		return a ^ b
	case FamilyLsh:
		return a << (uint32(b) & 31)
	case FamilyRsh:
		return a >> (uint32(b) & 31)
	}
	panic(fault(ErrKindBadOpcode, int32(f)))
}

// execVar executes a variable-family instruction.
//
// Scalar forms take the slot as an immediate. Array forms take the array
// slot as an immediate and the element index from the stack; for SET and the
// arithmetic families the value is popped first, then the index.
func (env *Environment) execVar(th *Thread, f Family, c StorageClass) {
	if c == ClassStack {
		b := th.pop()
		t := th.top()
		*t = binop(f, *t, b)
		return
	}

	slot := env.operand(th)
	if !c.IsArray() {
		p := env.scalarFor(th, c, slot)
		switch f {
		case FamilySet:
			*p = th.pop()
		case FamilyGet:
			th.push(*p)
		case FamilyInc:
			*p++
		case FamilyDec:
			*p--
		default:
			*p = binop(f, *p, th.pop())
		}
		return
	}

	arr := env.arrayFor(th, c, slot)
	switch f {
	case FamilySet:
		value := th.pop()
		arr.Set(uint32(th.pop()), value)
	case FamilyGet:
		t := th.top()
		*t = arr.Get(uint32(*t))
	case FamilyInc:
		*arr.cell(uint32(th.pop()))++
	case FamilyDec:
		*arr.cell(uint32(th.pop()))--
	default:
		value := th.pop()
		p := arr.cell(uint32(th.pop()))
		*p = binop(f, *p, value)
	}
}
