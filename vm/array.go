package vm

// ---------------------------------------------------------------------------
// Array: Sparse script array storage
// ---------------------------------------------------------------------------

// Array geometry. Storage has three levels: regions of blocks of pages of
// cells. The index bytes select region, block, page and cell in turn, so
// the levels cover the full uint32 index space.
const (
	ArrayRegions = 256 // regions per array
	RegionBlocks = 256 // blocks per region
	BlockPages   = 256 // pages per block
	PageCells    = 256 // cells per page
)

type (
	arrayPage   [PageCells]int32
	arrayBlock  [BlockPages]*arrayPage
	arrayRegion [RegionBlocks]*arrayBlock
)

// Array is a sparse mapping from uint32 index to int32 value. Every level is
// allocated on first write; reading an unallocated path yields zero.
//
// The zero Array is empty and ready to use.
type Array struct {
	regions [ArrayRegions]*arrayRegion
}

func splitIndex(i uint32) (r, b, p, c uint32) {
	return i >> 24, (i >> 16) & 0xFF, (i >> 8) & 0xFF, i & 0xFF
}

// Get returns the value at index i. It never allocates.
func (a *Array) Get(i uint32) int32 {
	r, b, p, c := splitIndex(i)
	region := a.regions[r]
	if region == nil {
		return 0
	}
	block := region[b]
	if block == nil {
		return 0
	}
	page := block[p]
	if page == nil {
		return 0
	}
	return page[c]
}

// Set stores v at index i, allocating the path as needed.
func (a *Array) Set(i uint32, v int32) {
	*a.cell(i) = v
}

// cell returns a pointer to the cell for index i, allocating the path.
func (a *Array) cell(i uint32) *int32 {
	r, b, p, c := splitIndex(i)
	region := a.regions[r]
	if region == nil {
		region = new(arrayRegion)
		a.regions[r] = region
	}
	block := region[b]
	if block == nil {
		block = new(arrayBlock)
		region[b] = block
	}
	page := block[p]
	if page == nil {
		page = new(arrayPage)
		block[p] = page
	}
	return &page[c]
}

// Clear releases every region, block and page. The array reads as all zeros
// afterwards.
func (a *Array) Clear() {
	for r := range a.regions {
		a.regions[r] = nil
	}
}

// Pages returns the number of allocated pages.
func (a *Array) Pages() int {
	n := 0
	for _, region := range a.regions {
		if region == nil {
			continue
		}
		for _, block := range region {
			if block == nil {
				continue
			}
			for _, page := range block {
				if page != nil {
					n++
				}
			}
		}
	}
	return n
}

// IsEmpty reports whether no storage has been allocated.
func (a *Array) IsEmpty() bool {
	for _, region := range a.regions {
		if region != nil {
			return false
		}
	}
	return true
}

// CopyString copies the bytes of a string into consecutive cells starting at
// offset and writes a terminating zero. At most length cells, terminator
// included, may be written. The copy fails without writing anything when the
// string handle or source offset is invalid, or when the string does not fit.
func (a *Array) CopyString(strs *StringTable, offset, length, handle, srcOffset uint32) bool {
	data, ok := strs.Get(handle)
	if !ok || srcOffset > uint32(len(data)) {
		return false
	}
	src := data[srcOffset:]
	n := uint32(0)
	for n < uint32(len(src)) && src[n] != 0 {
		n++
	}
	if n >= length {
		return false
	}
	for k := uint32(0); k < n; k++ {
		a.Set(offset+k, int32(src[k]))
	}
	a.Set(offset+n, 0)
	return true
}

// AppendRange appends cells, truncated to bytes, starting at offset until a
// zero cell or until length cells have been read.
func (a *Array) AppendRange(dst []byte, offset, length uint32) []byte {
	for k := uint32(0); k < length; k++ {
		ch := byte(a.Get(offset + k))
		if ch == 0 {
			break
		}
		dst = append(dst, ch)
	}
	return dst
}

// each calls fn with every nonzero cell value in index order.
func (a *Array) each(fn func(v int32)) {
	for _, region := range a.regions {
		if region == nil {
			continue
		}
		for _, block := range region {
			if block == nil {
				continue
			}
			for _, page := range block {
				if page == nil {
					continue
				}
				for _, v := range page {
					if v != 0 {
						fn(v)
					}
				}
			}
		}
	}
}
