package vm

import "bytes"

// ---------------------------------------------------------------------------
// StringTable: Interned script strings
// ---------------------------------------------------------------------------

// StringTable interns byte strings to stable integer handles.
//
// Strings compare by exact content (length and bytes, case-sensitive). A
// handle is never renumbered: when a dynamic string is collected its slot is
// left as a tombstone so later handles keep their meaning.
type StringTable struct {
	byData map[string]uint32 // content -> handle
	byID   []*tableString    // handle -> entry (nil for collected strings)
	base   uint32            // strings below base are permanent
}

type tableString struct {
	data []byte
	live bool
}

// NewStringTable creates an empty string table.
func NewStringTable() *StringTable {
	return &StringTable{
		byData: make(map[string]uint32),
		byID:   make([]*tableString, 0, 256),
	}
}

// Intern returns the handle for s, adding it if it is not present yet.
func (st *StringTable) Intern(s []byte) uint32 {
	if id, ok := st.byData[string(s)]; ok {
		return id
	}

	id := uint32(len(st.byID))
	data := bytes.Clone(s)
	if data == nil {
		data = []byte{}
	}
	st.byData[string(data)] = id
	st.byID = append(st.byID, &tableString{data: data})
	return id
}

// InternString is Intern for a Go string.
func (st *StringTable) InternString(s string) uint32 {
	return st.Intern([]byte(s))
}

// Lookup returns the handle for s without interning it.
func (st *StringTable) Lookup(s []byte) (uint32, bool) {
	id, ok := st.byData[string(s)]
	return id, ok
}

// Get returns the bytes for a handle. The second result is false for handles
// that were never assigned or were collected.
func (st *StringTable) Get(id uint32) ([]byte, bool) {
	if int(id) >= len(st.byID) || st.byID[id] == nil {
		return nil, false
	}
	return st.byID[id].data, true
}

// String returns the content for a handle as a Go string, or "" if invalid.
func (st *StringTable) String(id uint32) string {
	data, _ := st.Get(id)
	return string(data)
}

// CString returns the content up to the first NUL byte, the way script
// printing and length operations see a string.
func (st *StringTable) CString(id uint32) []byte {
	data, ok := st.Get(id)
	if !ok {
		return nil
	}
	if i := bytes.IndexByte(data, 0); i >= 0 {
		return data[:i]
	}
	return data
}

// Len returns the number of handles ever assigned, including tombstones.
func (st *StringTable) Len() int {
	return len(st.byID)
}

// Base returns the number of permanent handles. Handles at or above Base
// belong to loaded modules or were created at run time.
func (st *StringTable) Base() uint32 {
	return st.base
}

// MarkBase makes every current handle permanent.
func (st *StringTable) MarkBase() {
	st.base = uint32(len(st.byID))
}

// ---------------------------------------------------------------------------
// Retention
// ---------------------------------------------------------------------------

// ClearLive resets every live flag.
func (st *StringTable) ClearLive() {
	for _, s := range st.byID {
		if s != nil {
			s.live = false
		}
	}
}

// MarkLive flags a handle as reachable. Values that are not valid handles are
// ignored, so callers may pass any script word.
func (st *StringTable) MarkLive(id uint32) {
	if int(id) < len(st.byID) && st.byID[id] != nil {
		st.byID[id].live = true
	}
}

// IsLive reports the live flag of a handle.
func (st *StringTable) IsLive(id uint32) bool {
	return int(id) < len(st.byID) && st.byID[id] != nil && st.byID[id].live
}

// Collect drops every dynamic string that is not live and returns how many
// were dropped. Strings below Base are always kept.
func (st *StringTable) Collect() int {
	dropped := 0
	for id := int(st.base); id < len(st.byID); id++ {
		s := st.byID[id]
		if s == nil || s.live {
			continue
		}
		delete(st.byData, string(s.data))
		st.byID[id] = nil
		dropped++
	}
	return dropped
}

// Truncate forgets every handle at or above n. It is used when a level's
// modules are torn down and when a saved string table replaces the dynamic
// strings.
func (st *StringTable) Truncate(n uint32) {
	if int(n) >= len(st.byID) {
		return
	}
	for id := int(n); id < len(st.byID); id++ {
		if s := st.byID[id]; s != nil {
			delete(st.byData, string(s.data))
		}
	}
	st.byID = st.byID[:n]
	if st.base > n {
		st.base = n
	}
}

// appendSlot adds an entry at the next handle without deduplication checks
// against collected slots. A nil data marks a tombstone. Used by restore.
func (st *StringTable) appendSlot(data []byte, present bool) uint32 {
	id := uint32(len(st.byID))
	if !present {
		st.byID = append(st.byID, nil)
		return id
	}
	st.byData[string(data)] = id
	st.byID = append(st.byID, &tableString{data: data})
	return id
}
