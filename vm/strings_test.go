package vm

import (
	"testing"
)

func TestStringTableIntern(t *testing.T) {
	st := NewStringTable()
	a := st.InternString("Door")
	b := st.InternString("door")
	if a == b {
		t.Fatal("interning is not case-sensitive")
	}
	if again := st.Intern([]byte("Door")); again != a {
		t.Errorf("re-intern = %d, want %d", again, a)
	}
	if got := st.String(a); got != "Door" {
		t.Errorf("String(%d) = %q", a, got)
	}
	if _, ok := st.Get(99); ok {
		t.Error("Get of an unassigned handle succeeded")
	}
	if st.String(99) != "" {
		t.Error("String of an unassigned handle is not empty")
	}
	empty := st.InternString("")
	if data, ok := st.Get(empty); !ok || data == nil || len(data) != 0 {
		t.Errorf("empty string = %v, %v", data, ok)
	}
}

func TestStringTableInternCopies(t *testing.T) {
	st := NewStringTable()
	buf := []byte("abc")
	id := st.Intern(buf)
	buf[0] = 'x'
	if st.String(id) != "abc" {
		t.Error("table aliases the caller's buffer")
	}
	if _, ok := st.Lookup([]byte("xbc")); ok {
		t.Error("Lookup found mutated content")
	}
}

func TestStringTableCString(t *testing.T) {
	st := NewStringTable()
	id := st.Intern([]byte("ab\x00cd"))
	if got := string(st.CString(id)); got != "ab" {
		t.Errorf("CString = %q, want ab", got)
	}
	if got := st.CString(42); got != nil {
		t.Errorf("CString of invalid handle = %q", got)
	}
}

func TestStringTableCollect(t *testing.T) {
	st := NewStringTable()
	perm := st.InternString("permanent")
	st.MarkBase()
	live := st.InternString("live")
	dead := st.InternString("dead")
	after := st.InternString("after")

	st.ClearLive()
	st.MarkLive(live)
	st.MarkLive(after)
	st.MarkLive(123456) // ignored
	if n := st.Collect(); n != 1 {
		t.Fatalf("Collect() = %d, want 1", n)
	}
	if _, ok := st.Get(perm); !ok {
		t.Error("permanent string collected")
	}
	if _, ok := st.Get(dead); ok {
		t.Error("dead string kept")
	}
	if st.String(after) != "after" {
		t.Error("handle after a tombstone changed meaning")
	}
	if st.IsLive(dead) {
		t.Error("tombstone reported live")
	}

	// a collected string gets a fresh handle when interned again
	if id := st.InternString("dead"); id == dead || int(id) != st.Len()-1 {
		t.Errorf("re-interned dead string got %d", id)
	}
}

func TestStringTableTruncate(t *testing.T) {
	st := NewStringTable()
	st.InternString("a")
	st.InternString("b")
	st.MarkBase()
	st.InternString("c")

	st.Truncate(3)
	if st.Len() != 3 {
		t.Error("Truncate past the end changed the table")
	}
	st.Truncate(1)
	if st.Len() != 1 || st.Base() != 1 {
		t.Errorf("Len() = %d Base() = %d after Truncate(1)", st.Len(), st.Base())
	}
	if _, ok := st.Lookup([]byte("b")); ok {
		t.Error("truncated string still indexed")
	}
	if id := st.InternString("c"); id != 1 {
		t.Errorf("next handle = %d, want 1", id)
	}
}

func TestStringTableAppendSlot(t *testing.T) {
	st := NewStringTable()
	st.appendSlot([]byte("x"), true)
	gap := st.appendSlot(nil, false)
	y := st.appendSlot([]byte("y"), true)

	if _, ok := st.Get(gap); ok {
		t.Error("tombstone slot readable")
	}
	if id, ok := st.Lookup([]byte("y")); !ok || id != y {
		t.Errorf("Lookup(y) = %d, %v", id, ok)
	}
}
