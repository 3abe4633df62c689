package vm

import "strconv"

// ---------------------------------------------------------------------------
// Print buffers
// ---------------------------------------------------------------------------

// startPrint opens a nested print buffer, reusing a pooled one if possible.
func (env *Environment) startPrint(th *Thread) {
	var buf []byte
	if n := len(env.printPool); n > 0 {
		buf = env.printPool[n-1][:0]
		env.printPool = env.printPool[:n-1]
	} else {
		buf = make([]byte, 0, 64)
	}
	th.prints = append(th.prints, buf)
}

// printBuffer returns a pointer to the innermost open buffer. Printing with
// no open buffer opens one.
func (env *Environment) printBuffer(th *Thread) *[]byte {
	if len(th.prints) == 0 {
		env.startPrint(th)
	}
	return &th.prints[len(th.prints)-1]
}

// endPrint closes the innermost buffer and returns its text. Ending with no
// open buffer yields empty text.
func (env *Environment) endPrint(th *Thread) string {
	n := len(th.prints)
	if n == 0 {
		return ""
	}
	buf := th.prints[n-1]
	th.prints[n-1] = nil
	th.prints = th.prints[:n-1]
	text := string(buf)
	env.printPool = append(env.printPool, buf)
	return text
}

// releasePrints returns every open buffer of a finished thread to the pool.
func (env *Environment) releasePrints(th *Thread) {
	for _, buf := range th.prints {
		env.printPool = append(env.printPool, buf)
	}
	th.prints = nil
}

// ---------------------------------------------------------------------------
// Formatting
// ---------------------------------------------------------------------------

func appendInt(dst []byte, v int32) []byte {
	return strconv.AppendInt(dst, int64(v), 10)
}

// appendHex appends the unsigned upper-case hexadecimal form of v.
func appendHex(dst []byte, v int32) []byte {
	start := len(dst)
	dst = strconv.AppendUint(dst, uint64(uint32(v)), 16)
	for i := start; i < len(dst); i++ {
		if c := dst[i]; c >= 'a' && c <= 'f' {
			dst[i] = c - 'a' + 'A'
		}
	}
	return dst
}

// appendBin appends the unsigned binary form of v.
func appendBin(dst []byte, v int32) []byte {
	return strconv.AppendUint(dst, uint64(uint32(v)), 2)
}

// appendFixed appends a 16.16 fixed-point value the way C's %G prints it:
// six significant digits, trailing zeros dropped, exponent form for very
// large or small magnitudes.
func appendFixed(dst []byte, v int32) []byte {
	f := float64(v) / 65536
	return strconv.AppendFloat(dst, f, 'G', 6, 64)
}
