package vm

import (
	"math"
	"testing"
)

func TestArraySparseAccess(t *testing.T) {
	var a Array
	if a.Get(12345) != 0 || !a.IsEmpty() {
		t.Fatal("zero Array is not empty")
	}

	indexes := []uint32{0, 255, 256, 65535, 1 << 24, math.MaxUint32}
	for i, idx := range indexes {
		a.Set(idx, int32(i+1))
	}
	for i, idx := range indexes {
		if got := a.Get(idx); got != int32(i+1) {
			t.Errorf("Get(%d) = %d, want %d", idx, got, i+1)
		}
	}
	if got := a.Get(257); got != 0 {
		t.Errorf("unwritten neighbour = %d", got)
	}
	// 0 and 255 share a page; 256 is the next page
	if got := a.Pages(); got != len(indexes)-1 {
		t.Errorf("Pages() = %d, want %d", got, len(indexes)-1)
	}
}

func TestArrayGetDoesNotAllocate(t *testing.T) {
	var a Array
	for _, idx := range []uint32{0, 70000, math.MaxUint32} {
		a.Get(idx)
	}
	if !a.IsEmpty() {
		t.Error("Get allocated storage")
	}
}

func TestArrayClear(t *testing.T) {
	var a Array
	a.Set(5, 1)
	a.Set(1<<20, 2)
	a.Clear()
	if !a.IsEmpty() || a.Get(5) != 0 {
		t.Error("Clear left data behind")
	}
}

func TestArrayCopyString(t *testing.T) {
	st := NewStringTable()
	hello := st.InternString("hello")
	nul := st.Intern([]byte("ab\x00cd"))

	tests := []struct {
		name                   string
		offset, length, handle uint32
		src                    uint32
		ok                     bool
		want                   string
	}{
		{"fits", 10, 6, hello, 0, true, "hello"},
		{"source offset", 10, 16, hello, 2, true, "llo"},
		{"source offset at end", 10, 16, hello, 5, true, ""},
		{"no room for terminator", 10, 5, hello, 0, false, ""},
		{"source offset past end", 10, 16, hello, 6, false, ""},
		{"bad handle", 10, 16, 999, 0, false, ""},
		{"stops at nul", 10, 16, nul, 0, true, "ab"},
		{"wraps the index space", math.MaxUint32 - 1, 16, hello, 0, true, "hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var a Array
			if got := a.CopyString(st, tt.offset, tt.length, tt.handle, tt.src); got != tt.ok {
				t.Fatalf("CopyString = %v, want %v", got, tt.ok)
			}
			if !tt.ok {
				if !a.IsEmpty() {
					t.Error("failed copy wrote cells")
				}
				return
			}
			if got := string(a.AppendRange(nil, tt.offset, math.MaxUint32)); got != tt.want {
				t.Errorf("contents = %q, want %q", got, tt.want)
			}
			if a.Get(tt.offset+uint32(len(tt.want))) != 0 {
				t.Error("no terminator")
			}
		})
	}
}

func TestArrayAppendRange(t *testing.T) {
	var a Array
	for i, c := range []byte("scripts") {
		a.Set(uint32(100+i), int32(c))
	}
	a.Set(102, 'r'|0x100) // truncated to a byte

	if got := string(a.AppendRange([]byte("> "), 100, 3)); got != "> scr" {
		t.Errorf("AppendRange = %q", got)
	}
	if got := string(a.AppendRange(nil, 100, math.MaxUint32)); got != "scripts" {
		t.Errorf("AppendRange to terminator = %q", got)
	}
	if got := a.AppendRange(nil, 0, 10); len(got) != 0 {
		t.Errorf("empty range = %q", got)
	}
}

func TestArrayEach(t *testing.T) {
	var a Array
	a.Set(math.MaxUint32, 3)
	a.Set(7, 1)
	a.Set(8, 0)
	a.Set(1<<16, 2)

	var got []int32
	a.each(func(v int32) { got = append(got, v) })
	want := []int32{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("each visited %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("each visited %v, want %v", got, want)
			break
		}
	}
}

func BenchmarkArraySet(b *testing.B) {
	var a Array
	for i := 0; i < b.N; i++ {
		a.Set(uint32(i)*2654435761, int32(i))
	}
}
