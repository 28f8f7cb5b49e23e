package repotree

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rcowham/svnfastexport/pool"
)

// dirEntries - names of one directory's entries in iteration order
func dirEntries(r *Repo, rev uint32, dir string) []uint32 {
	dirOff := r.commits.Pointer(rev).RootDir
	if dir != "" {
		e, ok := r.Read(rev, ids(r, dir))
		if !ok {
			return nil
		}
		dirOff = e.Content
	}
	var names []uint32
	cur := r.newCursor(r.dirs.Pointer(dirOff).Entries)
	for o := cur.next(); o != pool.None; o = cur.next() {
		names = append(names, r.dirents.Pointer(o).Name)
	}
	return names
}

func TestIterationAscendsByNameId(t *testing.T) {
	r := newTestRepo(t)
	// insertion order of the interner defines the ordering, not lexicographic
	for _, name := range []string{"zebra", "apple", "mango", "banana"} {
		r.Add(ids(r, "dir/"+name), ModeFile, 1)
	}
	names := dirEntries(r, r.ActiveRevision(), "dir")
	assert.Len(t, names, 4)
	for i := 1; i < len(names); i++ {
		assert.Less(t, names[i-1], names[i], "iteration must ascend by name id")
	}
	assert.Equal(t, "zebra", r.strings.Fetch(names[0]))
	assert.Equal(t, "banana", r.strings.Fetch(names[3]))
}

func TestEntryUniqueness(t *testing.T) {
	r := newTestRepo(t)
	for i := 0; i < 50; i++ {
		r.Add(ids(r, fmt.Sprintf("dir/f%d", i%10)), ModeFile, uint32(i+1))
	}
	commitRev(t, r)
	// overwrite entries that now live in the committed region
	for i := 0; i < 10; i++ {
		r.Add(ids(r, fmt.Sprintf("dir/f%d", i)), ModeFile, uint32(100+i))
	}
	names := dirEntries(r, r.ActiveRevision(), "dir")
	assert.Len(t, names, 10)
	seen := make(map[uint32]bool)
	for _, n := range names {
		assert.False(t, seen[n], "duplicate key %d", n)
		seen[n] = true
	}
}

func TestRemoveKeepsOrdering(t *testing.T) {
	r := newTestRepo(t)
	for i := 0; i < 20; i++ {
		r.Add(ids(r, fmt.Sprintf("dir/f%02d", i)), ModeFile, uint32(i+1))
	}
	commitRev(t, r)
	for i := 0; i < 20; i += 2 {
		r.Delete(ids(r, fmt.Sprintf("dir/f%02d", i)))
	}
	names := dirEntries(r, r.ActiveRevision(), "dir")
	assert.Len(t, names, 10)
	for i := 1; i < len(names); i++ {
		assert.Less(t, names[i-1], names[i])
	}
	for _, n := range names {
		assert.Equal(t, byte('1'), r.strings.Fetch(n)[2]%2+'0', "only odd entries remain: %s", r.strings.Fetch(n))
	}
}

func TestIterationIndependentOfInsertionOrder(t *testing.T) {
	// two directories holding the same names inserted in different orders
	// iterate identically
	r := newTestRepo(t)
	names := []string{"a", "b", "c", "d", "e", "f"}
	for _, n := range names {
		r.Add(ids(r, "one/"+n), ModeFile, 1)
	}
	for i := len(names) - 1; i >= 0; i-- {
		r.Add(ids(r, "two/"+names[i]), ModeFile, 1)
	}
	one := dirEntries(r, r.ActiveRevision(), "one")
	two := dirEntries(r, r.ActiveRevision(), "two")
	assert.Equal(t, one, two)
}
