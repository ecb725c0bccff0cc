package intervals

import (
	"errors"
	"math/bits"
	"sort"
	"strconv"

	"github.com/go-gnutella/go-gnutella/lib/ggep"
	"github.com/samber/oops"
)

const (
	CHUNK_SIZE = 1024
	// DEFAULT_BUDGET is the number of GGEP bytes, headers included, the
	// encoding may use.
	DEFAULT_BUDGET = 500
	MAX_ID_WIDTH   = 4
)

// ErrBadEncoding is returned when a PR value cannot be decoded.
var ErrBadEncoding = errors.New("bad interval encoding")

// EmptyKey marks a present but empty set.
var EmptyKey = ggep.KEY_PARTIAL_RESULT + "0"

func widthKey(w int) string {
	return ggep.KEY_PARTIAL_RESULT + strconv.Itoa(w)
}

type tree struct {
	leaves int64
	base   int64
	depth  int
}

func newTree(size int64) tree {
	t := tree{leaves: (size + CHUNK_SIZE - 1) / CHUNK_SIZE, base: 1}
	for t.base < t.leaves {
		t.base <<= 1
		t.depth++
	}
	return t
}

// span returns the first and last chunk under node id.
func (t tree) span(id int64) (int64, int64, bool) {
	if id < 1 {
		return 0, 0, false
	}
	shift := t.depth - (bits.Len64(uint64(id)) - 1)
	if shift < 0 {
		return 0, 0, false
	}
	lo := id<<shift - t.base
	if lo >= t.leaves {
		return 0, 0, false
	}
	hi := lo + int64(1)<<shift - 1
	if hi > t.leaves-1 {
		hi = t.leaves - 1
	}
	return lo, hi, true
}

func (t tree) cover(id int64, chunks *Set, out []int64) []int64 {
	lo, hi, ok := t.span(id)
	if !ok {
		return out
	}
	r := Range{lo, hi + 1}
	if chunks.Contains(r) {
		return append(out, id)
	}
	if id >= t.base || !chunks.Overlaps(r) {
		return out
	}
	out = t.cover(2*id, chunks, out)
	return t.cover(2*id+1, chunks, out)
}

// chunks converts byte ranges to the chunk indices they fully cover. The last
// chunk of the file counts when the range reaches the end of the file.
func chunks(size int64, set *Set) *Set {
	leaves := (size + CHUNK_SIZE - 1) / CHUNK_SIZE
	out := NewSet()
	for _, r := range set.Ranges() {
		low, high := r.Low, r.High
		if low < 0 {
			low = 0
		}
		if high > size {
			high = size
		}
		first := (low + CHUNK_SIZE - 1) / CHUNK_SIZE
		end := high / CHUNK_SIZE
		if high == size {
			end = leaves
		}
		out.Add(Range{first, end})
	}
	return out
}

// NodeIDs returns the ascending tree node ids that describe set for a file
// of size bytes.
func NodeIDs(size int64, set *Set) []int64 {
	if size <= 0 || set == nil {
		return nil
	}
	t := newTree(size)
	ids := t.cover(1, chunks(size, set), nil)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func idWidth(id int64) int {
	return (bits.Len64(uint64(id)) + 7) / 8
}

func overhead(key string, n int) int {
	o := 1 + len(key) + n + 1
	if n > 0x3F {
		o++
	}
	if n > 0xFFF {
		o++
	}
	return o
}

// Encode writes set into g using at most budget bytes. Narrow ids are
// written first; ids that do not fit are dropped, so the advertised set is
// a subset of set. If nothing is written the PR0 marker is stored instead.
func Encode(size int64, set *Set, g *ggep.GGEP, budget int) error {
	groups := make([][]int64, MAX_ID_WIDTH+1)
	for _, id := range NodeIDs(size, set) {
		if w := idWidth(id); w <= MAX_ID_WIDTH {
			groups[w] = append(groups[w], id)
		}
	}
	used, written := 0, 0
	for w := 1; w <= MAX_ID_WIDTH; w++ {
		key := widthKey(w)
		n := len(groups[w])
		for n > 0 && used+overhead(key, n*w) > budget {
			n--
		}
		if n == 0 {
			continue
		}
		value := make([]byte, 0, n*w)
		for _, id := range groups[w][:n] {
			for shift := (w - 1) * 8; shift >= 0; shift -= 8 {
				value = append(value, byte(id>>shift))
			}
		}
		if err := g.Put(key, value); err != nil {
			return oops.Wrapf(err, "writing %s", key)
		}
		used += overhead(key, n*w)
		written += n
	}
	if written == 0 {
		return g.PutFlag(EmptyKey)
	}
	return nil
}

// Decode reads the ranges stored in g for a file of size bytes. The boolean
// is false when g carries no range keys at all. Ids that fall outside the
// file are ignored.
func Decode(size int64, g *ggep.GGEP) (*Set, bool, error) {
	if g == nil {
		return nil, false, nil
	}
	present := g.Has(EmptyKey)
	set := NewSet()
	t := newTree(size)
	for w := 1; w <= MAX_ID_WIDTH; w++ {
		value, ok := g.Get(widthKey(w))
		if !ok {
			continue
		}
		present = true
		if len(value)%w != 0 {
			return nil, true, oops.Wrapf(ErrBadEncoding, "%s has %d bytes", widthKey(w), len(value))
		}
		for i := 0; i < len(value); i += w {
			var id int64
			for _, b := range value[i : i+w] {
				id = id<<8 | int64(b)
			}
			if id == 0 {
				return nil, true, oops.Wrapf(ErrBadEncoding, "node id 0 in %s", widthKey(w))
			}
			lo, hi, ok := t.span(id)
			if !ok {
				continue
			}
			high := (hi + 1) * CHUNK_SIZE
			if high > size {
				high = size
			}
			set.Add(Range{lo * CHUNK_SIZE, high})
		}
	}
	if !present {
		return nil, false, nil
	}
	return set, true, nil
}
