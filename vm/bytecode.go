package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode is a single instruction word. Code is a sequence of int32 words:
// an opcode followed by its immediate operands.
type Opcode int32

// Miscellaneous
const (
	OpNop  Opcode = 0x00 // no operation
	OpKill Opcode = 0x01 // fatal: kill thread (code, arg)
)

// Host calls
const (
	OpCallFunc    Opcode = 0x10 // call host function (fn, argc); args from stack
	OpCallFuncImm Opcode = 0x11 // call host function (fn, argc, args...)
	OpCallFuncZD  Opcode = 0x12 // like CALLFUNC, pushes 0 when nothing was returned
	OpLineSpec    Opcode = 0x13 // execute side effect (spec, argc); args from stack
	OpLineSpecImm Opcode = 0x14 // execute side effect (spec, argc, args...)
	OpLineSpecRet Opcode = 0x15 // execute side effect (spec, argc), push result
)

// Immediate and indirect loads
const (
	OpGetImm       Opcode = 0x20 // push immediate (value)
	OpGetArrImm    Opcode = 0x21 // push n immediates (n, values...)
	OpGetFuncP     Opcode = 0x22 // push global number of local function (index)
	OpGetStringArr Opcode = 0x23 // pop index, pop string, push byte
	OpGetLevelArr  Opcode = 0x24 // TOP = level property TOP
	OpGetThingVar  Opcode = 0x25 // pop prop, pop tid, push thing property
	OpSetThingVar  Opcode = 0x26 // pop value, pop prop, pop tid
	OpChkThingVar  Opcode = 0x27 // pop value, pop prop, pop tid, push check
	OpSetResult    Opcode = 0x28 // pop result register
)

// Arithmetic and logic on the operand stack
const (
	OpCmpEq           Opcode = 0x30
	OpCmpNe           Opcode = 0x31
	OpCmpLt           Opcode = 0x32
	OpCmpGt           Opcode = 0x33
	OpCmpLe           Opcode = 0x34
	OpCmpGe           Opcode = 0x35
	OpMulX            Opcode = 0x36 // 16.16 fixed multiply
	OpDivX            Opcode = 0x37 // 16.16 fixed divide
	OpInvert          Opcode = 0x38 // bitwise not
	OpNegate          Opcode = 0x39
	OpLogAnd          Opcode = 0x3A
	OpLogIor          Opcode = 0x3B
	OpLogNot          Opcode = 0x3C
	OpTrigSin         Opcode = 0x3D
	OpTrigCos         Opcode = 0x3E
	OpTrigVectorAngle Opcode = 0x3F
)

// Control flow. Branch targets are absolute code word offsets.
const (
	OpBranchImm       Opcode = 0x40 // (target)
	OpBranchZero      Opcode = 0x41 // pop, branch if zero (target)
	OpBranchNotZero   Opcode = 0x42 // pop, branch if not zero (target)
	OpBranchCase      Opcode = 0x43 // (value, target)
	OpBranchCaseTable Opcode = 0x44 // (n, value0, target0, ...) sorted by value
	OpBranchStack     Opcode = 0x45 // pop jump table index
	OpBranchCall      Opcode = 0x46 // pop global function number
	OpBranchCallImm   Opcode = 0x47 // (local function index)
	OpBranchReturn    Opcode = 0x48
)

// Stack manipulation
const (
	OpStackCopy Opcode = 0x50
	OpStackDrop Opcode = 0x51
	OpStackSwap Opcode = 0x52
)

// Script control. Every instruction in this group except TERMINATE and
// RESTART ends the current step.
const (
	OpDelay             Opcode = 0x60 // pop tics
	OpDelayImm          Opcode = 0x61 // (tics)
	OpScriptSuspend     Opcode = 0x62
	OpScriptTerminate   Opcode = 0x63
	OpScriptRestart     Opcode = 0x64
	OpTagWait           Opcode = 0x65 // pop tag
	OpTagWaitImm        Opcode = 0x66 // (tag)
	OpPolyWait          Opcode = 0x67 // pop polyobject id
	OpPolyWaitImm       Opcode = 0x68 // (polyobject id)
	OpScriptWait        Opcode = 0x69 // pop script number
	OpScriptWaitImm     Opcode = 0x6A // (script number)
	OpScriptWaitName    Opcode = 0x6B // pop string handle
	OpScriptWaitNameImm Opcode = 0x6C // (module string index)
)

// Printing
const (
	OpStartPrint       Opcode = 0x70
	OpPrintString      Opcode = 0x71 // pop string handle
	OpPrintInt         Opcode = 0x72
	OpPrintIntHex      Opcode = 0x73
	OpPrintIntBin      Opcode = 0x74
	OpPrintFixed       Opcode = 0x75
	OpPrintChar        Opcode = 0x76
	OpPrintName        Opcode = 0x77 // pop player number, 0 is the console
	OpPrintMapArray    Opcode = 0x78 // pop array, pop offset
	OpPrintWorldArray  Opcode = 0x79
	OpPrintGlobalArray Opcode = 0x7A
	OpPrintMapRange    Opcode = 0x7B // pop length, start, array, offset
	OpPrintWorldRange  Opcode = 0x7C
	OpPrintGlobalRange Opcode = 0x7D
	OpEndPrint         Opcode = 0x7E
	OpEndPrintBold     Opcode = 0x7F
	OpEndPrintLog      Opcode = 0x80
	OpEndPrintString   Opcode = 0x81 // push handle of the interned buffer
)

// Strings
const (
	OpStrLen       Opcode = 0x90 // TOP = length of string TOP
	OpTagString    Opcode = 0x91 // TOP = global handle of module string TOP
	OpStrCpyMap    Opcode = 0x92 // pop srcOffset, string, maxLength, start, array, offset
	OpStrCpyWorld  Opcode = 0x93
	OpStrCpyGlobal Opcode = 0x94
)

// Host queries
const (
	OpPlayerCount      Opcode = 0xA0
	OpGameSkill        Opcode = 0xA1
	OpGameType         Opcode = 0xA2
	OpTimer            Opcode = 0xA3
	OpScreenWidth      Opcode = 0xA4
	OpScreenHeight     Opcode = 0xA5
	OpLineSide         Opcode = 0xA6
	OpLineOffsetY      Opcode = 0xA7
	OpClearLineSpecial Opcode = 0xA8
	OpSetGravity       Opcode = 0xA9 // pop gravity
	OpSetGravityImm    Opcode = 0xAA // (gravity)
)

// ---------------------------------------------------------------------------
// Variable families
// ---------------------------------------------------------------------------

// Family is the operation of a variable instruction.
type Family int32

const (
	FamilySet Family = iota
	FamilyGet
	FamilyInc
	FamilyDec
	FamilyAdd
	FamilySub
	FamilyMul
	FamilyDiv
	FamilyMod
	FamilyAnd
	FamilyIor
	FamilyXor
	FamilyLsh
	FamilyRsh
	numFamilies
)

var familyNames = [numFamilies]string{
	"SET", "GET", "INC", "DEC", "ADD", "SUB", "MUL", "DIV", "MOD",
	"AND", "IOR", "XOR", "LSH", "RSH",
}

// StorageClass selects where a variable instruction reads and writes.
type StorageClass int32

const (
	ClassStack StorageClass = iota
	ClassLocal
	ClassMapVar
	ClassWorldVar
	ClassGlobalVar
	ClassMapArr
	ClassWorldArr
	ClassGlobalArr
	numStorageClasses
)

var classNames = [numStorageClasses]string{
	"STACK", "LOCAL", "MAPVAR", "WORLDVAR", "GLOBALVAR", "MAPARR", "WORLDARR", "GLOBALARR",
}

// IsArray reports whether the class addresses an array.
func (c StorageClass) IsArray() bool {
	return c >= ClassMapArr
}

// opVarBase is the first variable-family opcode. Variable opcodes are laid
// out family-major: opVarBase + family*numStorageClasses + class.
const opVarBase Opcode = 0x100

const opVarEnd = opVarBase + Opcode(numFamilies)*Opcode(numStorageClasses)

// VarOp returns the opcode for a family over a storage class. Stack forms
// exist only for the binary arithmetic families.
func VarOp(f Family, c StorageClass) Opcode {
	return opVarBase + Opcode(f)*Opcode(numStorageClasses) + Opcode(c)
}

// Var decodes a variable opcode. ok is false for other opcodes and for the
// invalid stack forms of SET, GET, INC and DEC.
func (op Opcode) Var() (f Family, c StorageClass, ok bool) {
	if op < opVarBase || op >= opVarEnd {
		return 0, 0, false
	}
	n := op - opVarBase
	f = Family(n / Opcode(numStorageClasses))
	c = StorageClass(n % Opcode(numStorageClasses))
	if c == ClassStack && f < FamilyAdd {
		return 0, 0, false
	}
	return f, c, true
}

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name     string // human-readable name
	Operands int    // fixed immediate operand count
	Variable bool   // further operands follow, counted by an immediate
}

// opcodeTable maps opcodes to their metadata. Variable-family opcodes are
// added by init.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpNop:  {"NOP", 0, false},
	OpKill: {"KILL", 2, false},

	OpCallFunc:    {"CALLFUNC", 2, false},
	OpCallFuncImm: {"CALLFUNC_IMM", 2, true},
	OpCallFuncZD:  {"CALLFUNC_ZD", 2, false},
	OpLineSpec:    {"LINESPEC", 2, false},
	OpLineSpecImm: {"LINESPEC_IMM", 2, true},
	OpLineSpecRet: {"LINESPEC_RET", 2, false},

	OpGetImm:       {"GET_IMM", 1, false},
	OpGetArrImm:    {"GETARR_IMM", 1, true},
	OpGetFuncP:     {"GET_FUNCP", 1, false},
	OpGetStringArr: {"GET_STRINGARR", 0, false},
	OpGetLevelArr:  {"GET_LEVELARR", 0, false},
	OpGetThingVar:  {"GET_THINGVAR", 0, false},
	OpSetThingVar:  {"SET_THINGVAR", 0, false},
	OpChkThingVar:  {"CHK_THINGVAR", 0, false},
	OpSetResult:    {"SET_RESULT", 0, false},

	OpCmpEq:           {"CMP_EQ", 0, false},
	OpCmpNe:           {"CMP_NE", 0, false},
	OpCmpLt:           {"CMP_LT", 0, false},
	OpCmpGt:           {"CMP_GT", 0, false},
	OpCmpLe:           {"CMP_LE", 0, false},
	OpCmpGe:           {"CMP_GE", 0, false},
	OpMulX:            {"MULX_STACK", 0, false},
	OpDivX:            {"DIVX_STACK", 0, false},
	OpInvert:          {"INVERT", 0, false},
	OpNegate:          {"NEGATE", 0, false},
	OpLogAnd:          {"LOGAND", 0, false},
	OpLogIor:          {"LOGIOR", 0, false},
	OpLogNot:          {"LOGNOT", 0, false},
	OpTrigSin:         {"TRIG_SIN", 0, false},
	OpTrigCos:         {"TRIG_COS", 0, false},
	OpTrigVectorAngle: {"TRIG_VECTORANGLE", 0, false},

	OpBranchImm:       {"BRANCH_IMM", 1, false},
	OpBranchZero:      {"BRANCH_ZERO", 1, false},
	OpBranchNotZero:   {"BRANCH_NOTZERO", 1, false},
	OpBranchCase:      {"BRANCH_CASE", 2, false},
	OpBranchCaseTable: {"BRANCH_CASETABLE", 1, true},
	OpBranchStack:     {"BRANCH_STACK", 0, false},
	OpBranchCall:      {"BRANCH_CALL", 0, false},
	OpBranchCallImm:   {"BRANCH_CALL_IMM", 1, false},
	OpBranchReturn:    {"BRANCH_RETURN", 0, false},

	OpStackCopy: {"STACK_COPY", 0, false},
	OpStackDrop: {"STACK_DROP", 0, false},
	OpStackSwap: {"STACK_SWAP", 0, false},

	OpDelay:             {"DELAY", 0, false},
	OpDelayImm:          {"DELAY_IMM", 1, false},
	OpScriptSuspend:     {"SCRIPT_SUSPEND", 0, false},
	OpScriptTerminate:   {"SCRIPT_TERMINATE", 0, false},
	OpScriptRestart:     {"SCRIPT_RESTART", 0, false},
	OpTagWait:           {"TAGWAIT", 0, false},
	OpTagWaitImm:        {"TAGWAIT_IMM", 1, false},
	OpPolyWait:          {"POLYWAIT", 0, false},
	OpPolyWaitImm:       {"POLYWAIT_IMM", 1, false},
	OpScriptWait:        {"SCRIPTWAIT", 0, false},
	OpScriptWaitImm:     {"SCRIPTWAIT_IMM", 1, false},
	OpScriptWaitName:    {"SCRIPTWAITNAME", 0, false},
	OpScriptWaitNameImm: {"SCRIPTWAITNAME_IMM", 1, false},

	OpStartPrint:       {"STARTPRINT", 0, false},
	OpPrintString:      {"PRINTSTRING", 0, false},
	OpPrintInt:         {"PRINTINT", 0, false},
	OpPrintIntHex:      {"PRINTINT_HEX", 0, false},
	OpPrintIntBin:      {"PRINTINT_BIN", 0, false},
	OpPrintFixed:       {"PRINTFIXED", 0, false},
	OpPrintChar:        {"PRINTCHAR", 0, false},
	OpPrintName:        {"PRINTNAME", 0, false},
	OpPrintMapArray:    {"PRINTMAPARRAY", 0, false},
	OpPrintWorldArray:  {"PRINTWORLDARRAY", 0, false},
	OpPrintGlobalArray: {"PRINTGLOBALARRAY", 0, false},
	OpPrintMapRange:    {"PRINTMAPRANGE", 0, false},
	OpPrintWorldRange:  {"PRINTWORLDRANGE", 0, false},
	OpPrintGlobalRange: {"PRINTGLOBALRANGE", 0, false},
	OpEndPrint:         {"ENDPRINT", 0, false},
	OpEndPrintBold:     {"ENDPRINTBOLD", 0, false},
	OpEndPrintLog:      {"ENDPRINTLOG", 0, false},
	OpEndPrintString:   {"ENDPRINTSTRING", 0, false},

	OpStrLen:       {"STRLEN", 0, false},
	OpTagString:    {"TAGSTRING", 0, false},
	OpStrCpyMap:    {"STRCPYMAP", 0, false},
	OpStrCpyWorld:  {"STRCPYWORLD", 0, false},
	OpStrCpyGlobal: {"STRCPYGLOBAL", 0, false},

	OpPlayerCount:      {"PLAYERCOUNT", 0, false},
	OpGameSkill:        {"GAMESKILL", 0, false},
	OpGameType:         {"GAMETYPE", 0, false},
	OpTimer:            {"TIMER", 0, false},
	OpScreenWidth:      {"GETSCREENWIDTH", 0, false},
	OpScreenHeight:     {"GETSCREENHEIGHT", 0, false},
	OpLineSide:         {"LINESIDE", 0, false},
	OpLineOffsetY:      {"LINEOFFSETY", 0, false},
	OpClearLineSpecial: {"CLEARLINESPECIAL", 0, false},
	OpSetGravity:       {"SETGRAVITY", 0, false},
	OpSetGravityImm:    {"SETGRAVITY_IMM", 1, false},
}

func init() {
	for f := Family(0); f < numFamilies; f++ {
		for c := StorageClass(0); c < numStorageClasses; c++ {
			op := VarOp(f, c)
			if _, _, ok := op.Var(); !ok {
				continue
			}
			operands := 1
			if c == ClassStack {
				operands = 0
			}
			opcodeTable[op] = OpcodeInfo{
				Name:     familyNames[f] + "_" + classNames[c],
				Operands: operands,
			}
		}
	}
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() (OpcodeInfo, bool) {
	info, ok := opcodeTable[op]
	return info, ok
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	if info, ok := opcodeTable[op]; ok {
		return info.Name
	}
	return fmt.Sprintf("UNKNOWN_%X", int32(op))
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// OpcodeByName looks up an opcode by its name, ignoring case.
func OpcodeByName(name string) (Opcode, bool) {
	name = strings.ToUpper(name)
	for op, info := range opcodeTable {
		if info.Name == name {
			return op, true
		}
	}
	return 0, false
}

// InstructionLength returns the number of words occupied by the instruction
// at ip, opcode included. ok is false for unknown opcodes and for
// instructions that run past the end of code.
func InstructionLength(code []int32, ip int) (n int, ok bool) {
	if ip < 0 || ip >= len(code) {
		return 0, false
	}
	op := Opcode(code[ip])
	info, known := opcodeTable[op]
	if !known {
		return 0, false
	}
	n = 1 + info.Operands
	if info.Variable {
		if ip+n > len(code) {
			return 0, false
		}
		switch op {
		case OpCallFuncImm, OpLineSpecImm:
			n += int(code[ip+2])
		case OpGetArrImm:
			n += int(code[ip+1])
		case OpBranchCaseTable:
			n += 2 * int(code[ip+1])
		}
	}
	if n < 1+info.Operands || ip+n > len(code) {
		return 0, false
	}
	return n, true
}
