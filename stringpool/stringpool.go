package stringpool

// Interner for path components. Every distinct byte sequence gets a stable
// 32-bit id; ids compare in insertion order, which is the canonical ordering
// used by the directory index and the diff cursors.
//
// The byte pool holds null-terminated strings and is the only persisted
// state; the node pool and the value index are rebuilt from it on Attach.

import (
	"errors"
	"strings"

	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/go-git/go-billy/v5"

	"github.com/rcowham/svnfastexport/pool"
)

// None - absent string / end-of-path sentinel
const None = pool.None

var ErrPathTooDeep = errors.New("path exceeds depth bound")

type strNode struct {
	Bytes uint32 // offset of the first byte in the byte pool
}

// Pool - the string interner
type Pool struct {
	bytes *pool.Pool[byte]
	nodes *pool.Pool[strNode]
	index *redblacktree.Tree // string value -> id
}

func New() *Pool {
	return &Pool{
		bytes: pool.New[byte]("strings", 4096),
		nodes: pool.New[strNode]("strnodes", 4096),
		index: redblacktree.NewWithStringComparator(),
	}
}

// Attach - load persisted string bytes from dir and rebuild the index.
// Ids are node offsets; re-inserting in byte-pool order reproduces them.
func (sp *Pool) Attach(fs billy.Filesystem, dir string) error {
	if err := sp.bytes.Attach(fs, dir); err != nil {
		return err
	}
	off := uint32(0)
	for off < sp.bytes.Size() {
		s := sp.fetchAt(off)
		id := sp.nodes.Alloc(1)
		sp.nodes.Pointer(id).Bytes = off
		sp.index.Put(s, id)
		off += uint32(len(s)) + 1
	}
	return nil
}

// Intern - canonicalize a string to its id, allocating one if new
func (sp *Pool) Intern(s string) uint32 {
	if v, found := sp.index.Get(s); found {
		return v.(uint32)
	}
	off := sp.bytes.Alloc(uint32(len(s)) + 1)
	for i := 0; i < len(s); i++ {
		*sp.bytes.Pointer(off + uint32(i)) = s[i]
	}
	*sp.bytes.Pointer(off + uint32(len(s))) = 0
	id := sp.nodes.Alloc(1)
	sp.nodes.Pointer(id).Bytes = off
	sp.index.Put(s, id)
	return id
}

// Fetch - the inverse of Intern. Returns "" for None or unknown ids.
func (sp *Pool) Fetch(id uint32) string {
	n := sp.nodes.Pointer(id)
	if n == nil {
		return ""
	}
	return sp.fetchAt(n.Bytes)
}

func (sp *Pool) fetchAt(off uint32) string {
	var b []byte
	for {
		c := sp.bytes.Pointer(off)
		if c == nil || *c == 0 {
			break
		}
		b = append(b, *c)
		off++
	}
	return string(b)
}

// TokenizeSeq - split s on delim, interning each non-empty component.
// The returned sequence is terminated by None. Sequences that would exceed
// max components (terminator included) are rejected.
func (sp *Pool) TokenizeSeq(s string, delim string, max int) ([]uint32, error) {
	seq := make([]uint32, 0, 8)
	for _, part := range strings.Split(s, delim) {
		if part == "" {
			continue
		}
		if len(seq)+1 >= max {
			return nil, ErrPathTooDeep
		}
		seq = append(seq, sp.Intern(part))
	}
	seq = append(seq, None)
	return seq, nil
}

// FormatSeq - join a None-terminated sequence back into a path
func (sp *Pool) FormatSeq(seq []uint32, delim string) string {
	var b strings.Builder
	for i, id := range seq {
		if id == None {
			break
		}
		if i > 0 {
			b.WriteString(delim)
		}
		b.WriteString(sp.Fetch(id))
	}
	return b.String()
}

func (sp *Pool) Commit() error {
	if err := sp.bytes.Commit(); err != nil {
		return err
	}
	return sp.nodes.Commit()
}

func (sp *Pool) Reset() {
	sp.bytes.Reset()
	sp.nodes.Reset()
	sp.index = redblacktree.NewWithStringComparator()
}
