package pool

import (
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
)

type rec struct {
	A uint32
	B uint32
}

func TestAllocAndPointer(t *testing.T) {
	p := New[rec]("test", 4)
	off := p.Alloc(1)
	assert.Equal(t, uint32(0), off)
	p.Pointer(off).A = 42

	// grow past the initial capacity; offsets survive reallocation
	for i := 0; i < 100; i++ {
		p.Alloc(1)
	}
	assert.Equal(t, uint32(101), p.Size())
	assert.Equal(t, uint32(42), p.Pointer(off).A)

	assert.Nil(t, p.Pointer(p.Size()))
	assert.Nil(t, p.Pointer(None))
}

func TestOffset(t *testing.T) {
	p := New[rec]("test", 4)
	assert.Equal(t, None, p.Offset(nil))

	p.Alloc(10)
	for i := uint32(0); i < 10; i++ {
		assert.Equal(t, i, p.Offset(p.Pointer(i)))
	}

	// offsets recovered from pointers survive reallocation
	ptr := p.Pointer(3)
	ptr.A = 33
	off := p.Offset(ptr)
	for i := 0; i < 100; i++ {
		p.Alloc(1)
	}
	assert.Equal(t, uint32(3), off)
	assert.Equal(t, uint32(33), p.Pointer(off).A)
}

func TestWatermark(t *testing.T) {
	p := New[rec]("test", 4)
	p.Alloc(3)
	assert.Equal(t, uint32(0), p.Committed())
	assert.NoError(t, p.Commit())
	assert.Equal(t, uint32(3), p.Committed())
	p.Alloc(2)
	assert.Equal(t, uint32(3), p.Committed())
	assert.Equal(t, uint32(5), p.Size())
	assert.NoError(t, p.Commit())
	assert.Equal(t, uint32(5), p.Committed())
}

func TestReset(t *testing.T) {
	p := New[rec]("test", 4)
	p.Alloc(10)
	p.Commit()
	p.Reset()
	assert.Equal(t, uint32(0), p.Size())
	assert.Equal(t, uint32(0), p.Committed())
	assert.Nil(t, p.Pointer(0))
}

func TestPersistenceRoundtrip(t *testing.T) {
	fs := memfs.New()

	p := New[rec]("test", 4)
	assert.NoError(t, p.Attach(fs, "."))
	for i := uint32(0); i < 10; i++ {
		off := p.Alloc(1)
		p.Pointer(off).A = i
		p.Pointer(off).B = i * 2
	}
	assert.NoError(t, p.Commit())
	// uncommitted records never reach the file
	off := p.Alloc(1)
	p.Pointer(off).A = 999
	p.Reset()

	q := New[rec]("test", 4)
	assert.NoError(t, q.Attach(fs, "."))
	assert.Equal(t, uint32(10), q.Size())
	assert.Equal(t, uint32(10), q.Committed())
	for i := uint32(0); i < 10; i++ {
		assert.Equal(t, i, q.Pointer(i).A)
		assert.Equal(t, i*2, q.Pointer(i).B)
	}
}

func TestPersistenceAppends(t *testing.T) {
	fs := memfs.New()

	p := New[rec]("test", 4)
	assert.NoError(t, p.Attach(fs, "."))
	p.Pointer(p.Alloc(1)).A = 1
	assert.NoError(t, p.Commit())
	p.Pointer(p.Alloc(1)).A = 2
	assert.NoError(t, p.Commit())
	p.Reset()

	q := New[rec]("test", 4)
	assert.NoError(t, q.Attach(fs, "."))
	assert.Equal(t, uint32(2), q.Size())
	assert.Equal(t, uint32(1), q.Pointer(0).A)
	assert.Equal(t, uint32(2), q.Pointer(1).A)
}

func TestBytePool(t *testing.T) {
	fs := memfs.New()
	p := New[byte]("bytes", 4)
	assert.NoError(t, p.Attach(fs, "."))
	off := p.Alloc(3)
	*p.Pointer(off) = 'h'
	*p.Pointer(off + 1) = 'i'
	*p.Pointer(off + 2) = 0
	assert.NoError(t, p.Commit())
	p.Reset()

	q := New[byte]("bytes", 4)
	assert.NoError(t, q.Attach(fs, "."))
	assert.Equal(t, uint32(3), q.Size())
	assert.Equal(t, byte('h'), *q.Pointer(0))
}
