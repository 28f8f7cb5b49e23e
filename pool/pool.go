package pool

// Typed append-only arenas addressed by stable 32-bit offsets.
// Each pool has a committed watermark: records below it are immutable (and
// have been written to the backing file if one is attached), records above it
// are free to be rewritten until the next Commit.

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path"
	"unsafe"

	"github.com/go-git/go-billy/v5"
)

// None - the null offset, also used as end-of-sequence sentinel
const None = ^uint32(0)

// Pool - a growable arena of fixed-size records of type T
type Pool[T any] struct {
	name      string
	initial   uint32
	recs      []T
	committed uint32
	fs        billy.Filesystem
	file      billy.File
}

func New[T any](name string, initialCapacity uint32) *Pool[T] {
	return &Pool[T]{name: name, initial: initialCapacity}
}

// Attach - open (creating if required) the pool's backing file "<name>.bin"
// under dir and load any previously committed records. After a successful
// attach Size() == Committed() == the number of persisted records.
func (p *Pool[T]) Attach(fs billy.Filesystem, dir string) error {
	f, err := fs.OpenFile(path.Join(dir, fmt.Sprintf("%s.bin", p.name)), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to open pool %s: %v", p.name, err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to read pool %s: %v", p.name, err)
	}
	recSize := p.recordSize()
	n := len(data) / recSize
	p.recs = make([]T, n, p.grownCapacity(n))
	if n > 0 {
		if err := binary.Read(bytes.NewReader(data[:n*recSize]), binary.LittleEndian, p.recs); err != nil {
			f.Close()
			return fmt.Errorf("failed to decode pool %s: %v", p.name, err)
		}
	}
	p.committed = uint32(n)
	p.fs = fs
	p.file = f
	return nil
}

func (p *Pool[T]) recordSize() int {
	var zero T
	return binary.Size(zero)
}

func (p *Pool[T]) grownCapacity(need int) int {
	c := int(p.initial)
	for need > c {
		c *= 2
	}
	return c
}

// Alloc - extend the pool by n records, returning the offset of the first.
// Any previously obtained pointers are invalid after Alloc.
func (p *Pool[T]) Alloc(n uint32) uint32 {
	off := uint32(len(p.recs))
	need := len(p.recs) + int(n)
	if need > cap(p.recs) {
		grown := make([]T, len(p.recs), p.grownCapacity(need))
		copy(grown, p.recs)
		p.recs = grown
	}
	p.recs = p.recs[:need]
	return off
}

// Pointer - resolve an offset, nil if out of range
func (p *Pool[T]) Pointer(off uint32) *T {
	if off >= uint32(len(p.recs)) {
		return nil
	}
	return &p.recs[off]
}

// Offset - the inverse of Pointer: the offset of a record obtained from this
// pool, None for nil. Only valid until the next Alloc moves the backing
// region, like the pointer itself.
func (p *Pool[T]) Offset(ptr *T) uint32 {
	if ptr == nil || len(p.recs) == 0 {
		return None
	}
	base := uintptr(unsafe.Pointer(&p.recs[0]))
	return uint32((uintptr(unsafe.Pointer(ptr)) - base) / unsafe.Sizeof(*ptr))
}

func (p *Pool[T]) Size() uint32 {
	return uint32(len(p.recs))
}

func (p *Pool[T]) Committed() uint32 {
	return p.committed
}

// Commit - seal all records, appending the newly committed region to the
// backing file if one is attached
func (p *Pool[T]) Commit() error {
	if p.file != nil && p.committed < p.Size() {
		if err := binary.Write(p.file, binary.LittleEndian, p.recs[p.committed:]); err != nil {
			return fmt.Errorf("failed to write pool %s: %v", p.name, err)
		}
	}
	p.committed = p.Size()
	return nil
}

// Reset - drop all records and detach the backing file
func (p *Pool[T]) Reset() {
	if p.file != nil {
		p.file.Close()
	}
	p.recs = nil
	p.committed = 0
	p.fs = nil
	p.file = nil
}
