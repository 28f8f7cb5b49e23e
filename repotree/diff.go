package repotree

// Structural diff between two committed snapshots: a synchronized in-order
// walk of both directory treaps, emitting the minimal delete/modify set in
// ascending name order. Replaying the emitted sequence against the first
// snapshot yields the second.

import (
	"github.com/rcowham/svnfastexport/pool"
)

// Diff - emit the change set between revisions rev1 and rev2
func (r *Repo) Diff(rev1, rev2 uint32) {
	c1 := r.commits.Pointer(rev1)
	c2 := r.commits.Pointer(rev2)
	if c1 == nil || c2 == nil {
		r.logger.Errorf("Diff of unknown revisions %d %d", rev1, rev2)
		return
	}
	var stack [MaxPathDepth]uint32
	r.diffDirs(0, stack[:], c1.RootDir, c2.RootDir)
}

func (r *Repo) diffDirs(depth int, path []uint32, dir1, dir2 uint32) {
	cur1 := r.newCursor(r.dirs.Pointer(dir1).Entries)
	cur2 := r.newCursor(r.dirs.Pointer(dir2).Entries)
	o1 := cur1.next()
	o2 := cur2.next()
	for o1 != pool.None && o2 != pool.None {
		a := r.dirents.Pointer(o1)
		b := r.dirents.Pointer(o2)
		switch {
		case a.Name < b.Name:
			path[depth] = a.Name
			r.emitter.Delete(path[:depth+1])
			o1 = cur1.next()
		case a.Name > b.Name:
			path[depth] = b.Name
			r.addRecursive(depth+1, path, o2)
			o2 = cur2.next()
		default:
			path[depth] = a.Name
			aDir := Mode(a.Mode) == ModeDir
			bDir := Mode(b.Mode) == ModeDir
			if a.Mode == b.Mode && a.Content == b.Content {
				// unchanged, possibly a shared subtree
			} else if aDir && bDir {
				r.diffDirs(depth+1, path, a.Content, b.Content)
			} else {
				if aDir != bDir {
					r.emitter.Delete(path[:depth+1])
				}
				r.addRecursive(depth+1, path, o2)
			}
			o1 = cur1.next()
			o2 = cur2.next()
		}
	}
	for ; o1 != pool.None; o1 = cur1.next() {
		path[depth] = r.dirents.Pointer(o1).Name
		r.emitter.Delete(path[:depth+1])
	}
	for ; o2 != pool.None; o2 = cur2.next() {
		path[depth] = r.dirents.Pointer(o2).Name
		r.addRecursive(depth+1, path, o2)
	}
}

// addRecursive - emit a modify for a file entry, or walk a directory entry
// in order emitting its file leaves. path[0:depth] already names the entry.
func (r *Repo) addRecursive(depth int, path []uint32, entOff uint32) {
	e := r.dirents.Pointer(entOff)
	if Mode(e.Mode) != ModeDir {
		r.emitter.Modify(path[:depth], Mode(e.Mode), e.Content)
		return
	}
	if depth >= MaxPathDepth {
		r.logger.Errorf("Path depth bound exceeded below %s", r.strings.FormatSeq(path[:depth], "/"))
		return
	}
	cur := r.newCursor(r.dirs.Pointer(e.Content).Entries)
	for o := cur.next(); o != pool.None; o = cur.next() {
		path[depth] = r.dirents.Pointer(o).Name
		r.addRecursive(depth+1, path, o)
	}
}
