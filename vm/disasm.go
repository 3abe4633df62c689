package vm

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of a module: its scripts,
// functions, named variables and code.
func Disassemble(m *Module, strs *StringTable) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("; === %s ===\n", m.Name))
	sb.WriteString(fmt.Sprintf("; Flags: 0x%04X, %d words\n", m.Flags, len(m.Code)))
	if len(m.Imports) > 0 {
		sb.WriteString(fmt.Sprintf("; Imports: %s\n", strings.Join(m.Imports, ", ")))
	}

	entries := make(map[int][]string)
	if len(m.Scripts) > 0 {
		sb.WriteString("; Scripts:\n")
		for _, s := range m.Scripts {
			sb.WriteString(fmt.Sprintf(";   %s %s at %04X (args=%d, vars=%d)\n",
				s, s.Type, s.Entry, s.ArgCount, s.VarCount))
			entries[int(s.Entry)] = append(entries[int(s.Entry)], s.String())
		}
	}
	if len(m.funcs) > 0 {
		sb.WriteString("; Functions:\n")
		for i, f := range m.funcs {
			if f == nil {
				continue
			}
			if f.Module != m {
				sb.WriteString(fmt.Sprintf(";   [%3d] %s imported from %s\n", i, f, f.Module.Name))
				continue
			}
			sb.WriteString(fmt.Sprintf(";   [%3d] %s at %04X (args=%d, vars=%d)\n",
				i, f, f.Entry, f.ArgCount, f.VarCount))
			entries[int(f.Entry)] = append(entries[int(f.Entry)], f.String())
		}
	}
	for i, name := range m.MapVarNames {
		if name != "" {
			sb.WriteString(fmt.Sprintf("; Map var %d: %s\n", i, name))
		}
	}
	for i, name := range m.MapArrNames {
		if name != "" {
			sb.WriteString(fmt.Sprintf("; Map array %d: %s [%d]\n", i, name, m.MapArrSizes[i]))
		}
	}
	sb.WriteString("\n; Code:\n")

	ip := 0
	for ip < len(m.Code) {
		for _, label := range entries[ip] {
			sb.WriteString(fmt.Sprintf("%s:\n", label))
		}
		line, n := disassembleInstruction(m, strs, ip)
		sb.WriteString(fmt.Sprintf("%04X  %s\n", ip, line))
		ip += n
	}
	return sb.String()
}

// disassembleInstruction formats the instruction at ip and returns its
// length. A malformed instruction is shown as a raw word of length one.
func disassembleInstruction(m *Module, strs *StringTable, ip int) (string, int) {
	code := m.Code
	op := Opcode(code[ip])
	n, ok := InstructionLength(code, ip)
	if !ok {
		return fmt.Sprintf(".word %d", code[ip]), 1
	}
	operands := code[ip+1 : ip+n]

	var sb strings.Builder
	sb.WriteString(op.Name())
	for _, v := range operands {
		sb.WriteString(fmt.Sprintf(" %d", v))
	}

	switch op {
	case OpScriptWaitNameImm:
		if h, ok := m.StringHandle(operands[0]); ok && strs != nil {
			sb.WriteString(fmt.Sprintf(" ; %q", strs.String(h)))
		}
	case OpBranchCallImm:
		if f, ok := m.Function(operands[0]); ok {
			sb.WriteString(" ; " + f.String())
		}
	}
	if _, c, ok := op.Var(); ok && c != ClassStack {
		slot := operands[0]
		switch c {
		case ClassMapVar:
			if slot >= 0 && int(slot) < NumMapVars && m.MapVarNames[slot] != "" {
				sb.WriteString(" ; " + m.MapVarNames[slot])
			}
		case ClassMapArr:
			if slot >= 0 && int(slot) < NumMapArrs && m.MapArrNames[slot] != "" {
				sb.WriteString(" ; " + m.MapArrNames[slot])
			}
		}
	}
	return sb.String(), n
}
