package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// State archive format
// ---------------------------------------------------------------------------

// Archive header.
var ArchiveMagic = [4]byte{'A', 'C', 'S', 'S'}

const ArchiveVersion = 1

// SaveState collects unreachable strings and encodes the complete VM state:
// module storage, world and global storage, the deferred queue, the string
// table and every live thread.
//
// The archive refers to modules by registry index and to scripts by their
// index within a module, so it can only be restored into an environment
// with the same modules loaded in the same order.
func (env *Environment) SaveState() []byte {
	env.CollectStrings()

	w := &byteWriter{}
	w.buf.Write(ArchiveMagic[:])
	w.uint32(ArchiveVersion)
	w.int32(env.mapnum)
	w.uint64(uint64(env.nextID))

	w.uint32(uint32(len(env.modules)))
	for _, m := range env.modules {
		w.string(m.Name)
		for _, v := range m.mapVars {
			w.int32(v)
		}
		for _, a := range m.mapArrs {
			writeArray(w, a)
		}
	}

	for _, v := range env.worldVars {
		w.int32(v)
	}
	for i := range env.worldArrs {
		writeArray(w, &env.worldArrs[i])
	}
	for _, v := range env.globalVars {
		w.int32(v)
	}
	for i := range env.globalArrs {
		writeArray(w, &env.globalArrs[i])
	}

	w.uint32(uint32(len(env.deferred)))
	for _, d := range env.deferred {
		w.uint8(uint8(d.Kind))
		w.int32(d.Number)
		w.string(d.Name)
		w.int32(d.Map)
		w.uint32(uint32(d.Flags))
		writeWords(w, d.Args)
	}

	st := env.strings
	w.uint32(st.Base())
	w.uint32(uint32(st.Len()))
	for id := st.Base(); id < uint32(st.Len()); id++ {
		data, ok := st.Get(id)
		w.bool(ok)
		if ok {
			w.bytes(data)
		}
	}

	threads := env.Threads()
	w.uint32(uint32(len(threads)))
	for _, th := range threads {
		env.writeThread(w, th)
	}
	return w.Bytes()
}

func (env *Environment) writeThread(w *byteWriter, th *Thread) {
	s := th.script
	w.uint64(uint64(th.ID))
	w.uint32(uint32(s.Module.ID))
	w.uint32(uint32(scriptIndex(s)))
	w.uint32(uint32(th.module.ID))
	w.uint32(uint32(th.ip))

	writeWords(w, th.stack)
	writeWords(w, th.locals)
	w.uint32(uint32(th.localBase))
	w.uint32(uint32(th.numLocals))

	w.uint32(uint32(len(th.calls)))
	for _, f := range th.calls {
		w.uint32(uint32(f.ip))
		w.uint32(uint32(f.numLocals))
		w.uint32(uint32(f.module))
	}
	w.uint32(uint32(len(th.prints)))
	for _, p := range th.prints {
		w.bytes(p)
	}

	w.int32(int32(th.state))
	w.int32(th.datum)
	w.int32(th.delay)
	w.int32(th.result)
	handle := th.triggerHandle
	if th.trigger != nil {
		handle = env.host.EntityHandle(th.trigger)
	}
	w.uint32(handle)
	w.int32(th.line)
	w.int32(th.side)
}

func scriptIndex(s *Script) int {
	for i, other := range s.Module.Scripts {
		if other == s {
			return i
		}
	}
	return -1
}

func writeWords(w *byteWriter, words []int32) {
	w.uint32(uint32(len(words)))
	for _, v := range words {
		w.int32(v)
	}
}

// writeArray writes the allocated pages of a as nested lists of present
// regions, blocks and pages.
func writeArray(w *byteWriter, a *Array) {
	var regions []int
	for r, region := range a.regions {
		if region != nil {
			regions = append(regions, r)
		}
	}
	w.uint32(uint32(len(regions)))
	for _, r := range regions {
		region := a.regions[r]
		w.uint8(uint8(r))
		var blocks []int
		for b, block := range region {
			if block != nil {
				blocks = append(blocks, b)
			}
		}
		w.uint32(uint32(len(blocks)))
		for _, b := range blocks {
			block := region[b]
			w.uint8(uint8(b))
			var pages []int
			for p, page := range block {
				if page != nil {
					pages = append(pages, p)
				}
			}
			w.uint32(uint32(len(pages)))
			for _, p := range pages {
				w.uint8(uint8(p))
				for _, v := range block[p] {
					w.int32(v)
				}
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

func readWords(r *byteReader) []int32 {
	n := r.count(4)
	words := make([]int32, n)
	for i := range words {
		words[i] = r.int32()
	}
	return words
}

func readArray(r *byteReader, a *Array) {
	for range r.count(5) {
		region := new(arrayRegion)
		ri := r.uint8()
		if r.err == nil && a.regions[ri] != nil {
			r.err = fmt.Errorf("%w: region %d repeated", ErrBadArchive, ri)
		}
		a.regions[ri] = region
		for range r.count(5) {
			block := new(arrayBlock)
			bi := r.uint8()
			if r.err == nil && region[bi] != nil {
				r.err = fmt.Errorf("%w: block %d repeated", ErrBadArchive, bi)
			}
			region[bi] = block
			for range r.count(1 + 4*PageCells) {
				page := new(arrayPage)
				pi := r.uint8()
				if r.err == nil && block[pi] != nil {
					r.err = fmt.Errorf("%w: page %d repeated", ErrBadArchive, pi)
				}
				block[pi] = page
				for c := range page {
					page[c] = r.int32()
				}
			}
		}
	}
}

// decodeState parses an archive without touching the environment.
func decodeState(data []byte) (*savedState, error) {
	r := newByteReader(data, ErrArchiveTruncated)
	var magic [4]byte
	copy(magic[:], r.take(4))
	if r.err == nil && magic != ArchiveMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrBadArchive, magic[:])
	}
	if v := r.uint32(); r.err == nil && v != ArchiveVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadArchive, v)
	}

	st := &savedState{}
	st.mapnum = r.int32()
	st.nextID = ThreadID(r.uint64())

	st.modules = make([]savedModule, r.count(4))
	for i := range st.modules {
		m := &st.modules[i]
		m.name = r.string()
		for j := range m.vars {
			m.vars[j] = r.int32()
		}
		for j := range m.arrs {
			readArray(r, &m.arrs[j])
		}
	}

	for i := range st.worldVars {
		st.worldVars[i] = r.int32()
	}
	for i := range st.worldArrs {
		readArray(r, &st.worldArrs[i])
	}
	for i := range st.globalVars {
		st.globalVars[i] = r.int32()
	}
	for i := range st.globalArrs {
		readArray(r, &st.globalArrs[i])
	}

	st.deferred = make([]*DeferredAction, r.count(21))
	for i := range st.deferred {
		d := &DeferredAction{}
		d.Kind = DeferredKind(r.uint8())
		d.Number = r.int32()
		d.Name = r.string()
		d.Map = r.int32()
		d.Flags = ExecFlags(r.uint32())
		d.Args = readWords(r)
		if r.err == nil && d.Kind >= numDeferredKinds {
			return nil, fmt.Errorf("%w: deferred action kind %d", ErrBadArchive, d.Kind)
		}
		st.deferred[i] = d
	}

	st.strBase = r.uint32()
	strLen := r.uint32()
	if r.err == nil && strLen < st.strBase {
		return nil, fmt.Errorf("%w: string count %d below base %d", ErrBadArchive, strLen, st.strBase)
	}
	if r.err == nil && uint64(strLen-st.strBase) > uint64(r.remaining()) {
		return nil, ErrArchiveTruncated
	}
	for id := st.strBase; r.err == nil && id < strLen; id++ {
		s := savedString{present: r.bool()}
		if s.present {
			s.data = r.bytes()
		}
		st.strings = append(st.strings, s)
	}

	st.threads = make([]savedThread, r.count(76))
	for i := range st.threads {
		readThread(r, &st.threads[i])
	}

	if r.err != nil {
		return nil, r.err
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrBadArchive, r.remaining())
	}
	return st, nil
}

func readThread(r *byteReader, t *savedThread) {
	t.id = ThreadID(r.uint64())
	t.scriptModule = r.uint32()
	t.script = r.uint32()
	t.module = r.uint32()
	t.ip = r.uint32()

	t.stack = readWords(r)
	t.locals = readWords(r)
	t.localBase = r.uint32()
	t.numLocals = r.uint32()

	t.calls = make([]savedFrame, r.count(12))
	for i := range t.calls {
		t.calls[i] = savedFrame{ip: r.uint32(), numLocals: r.uint32(), module: r.uint32()}
	}
	t.prints = make([][]byte, r.count(4))
	for i := range t.prints {
		t.prints[i] = r.bytes()
	}

	t.state = ThreadState(r.int32())
	t.datum = r.int32()
	t.delay = r.int32()
	t.result = r.int32()
	t.trigger = r.uint32()
	t.line = r.int32()
	t.side = r.int32()
}
