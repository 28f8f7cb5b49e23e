package repotree

// Arena-resident treap holding the entries of one directory, keyed by the
// interned name id. Child links are dirent-pool offsets. Priorities are a
// multiplicative hash of the key, so the shape of a treap depends only on
// the set of keys it holds, never on insertion order, and survives node
// cloning.
//
// Every structural update goes through touchDirent: a node below the
// committed watermark is cloned before its links change, so committed
// snapshots are never modified (path copying).

import (
	"github.com/rcowham/svnfastexport/pool"
)

func prio(name uint32) uint32 {
	return name * 2654435761 // Knuth multiplicative hash
}

func (r *Repo) direntMutable(off uint32) bool {
	return off >= r.dirents.Committed()
}

// touchDirent - make a node safe to mutate, cloning it if committed
func (r *Repo) touchDirent(off uint32) uint32 {
	if r.direntMutable(off) {
		return off
	}
	clone := r.dirents.Alloc(1)
	*r.dirents.Pointer(clone) = *r.dirents.Pointer(off)
	return clone
}

// allocDirent - fresh entry with empty links in the mutable region
func (r *Repo) allocDirent(name uint32) uint32 {
	off := r.dirents.Alloc(1)
	e := r.dirents.Pointer(off)
	e.Name = name
	e.Left = pool.None
	e.Right = pool.None
	return off
}

func (r *Repo) findDirent(root, name uint32) uint32 {
	for root != pool.None {
		e := r.dirents.Pointer(root)
		if name == e.Name {
			return root
		}
		if name < e.Name {
			root = e.Left
		} else {
			root = e.Right
		}
	}
	return pool.None
}

// insertDirent - insert node (which must not already be keyed in the tree)
// and return the new root. Nodes on the search path are cloned as needed;
// pointers must be re-resolved after every recursive call.
func (r *Repo) insertDirent(root, node uint32) uint32 {
	if root == pool.None {
		return node
	}
	root = r.touchDirent(root)
	rootName := r.dirents.Pointer(root).Name
	if r.dirents.Pointer(node).Name < rootName {
		left := r.insertDirent(r.dirents.Pointer(root).Left, node)
		r.dirents.Pointer(root).Left = left
		if prio(r.dirents.Pointer(left).Name) > prio(rootName) {
			return r.rotateRight(root)
		}
	} else {
		right := r.insertDirent(r.dirents.Pointer(root).Right, node)
		r.dirents.Pointer(root).Right = right
		if prio(r.dirents.Pointer(right).Name) > prio(rootName) {
			return r.rotateLeft(root)
		}
	}
	return root
}

func (r *Repo) rotateRight(root uint32) uint32 {
	left := r.touchDirent(r.dirents.Pointer(root).Left)
	r.dirents.Pointer(root).Left = r.dirents.Pointer(left).Right
	r.dirents.Pointer(left).Right = root
	return left
}

func (r *Repo) rotateLeft(root uint32) uint32 {
	right := r.touchDirent(r.dirents.Pointer(root).Right)
	r.dirents.Pointer(root).Right = r.dirents.Pointer(right).Left
	r.dirents.Pointer(right).Left = root
	return right
}

// removeDirent - remove the node keyed name, returning the new root.
// No-op (tree unchanged apart from path clones) if the key is absent.
func (r *Repo) removeDirent(root, name uint32) uint32 {
	if root == pool.None {
		return pool.None
	}
	rootName := r.dirents.Pointer(root).Name
	if name == rootName {
		left := r.dirents.Pointer(root).Left
		right := r.dirents.Pointer(root).Right
		return r.mergeDirents(left, right)
	}
	root = r.touchDirent(root)
	if name < rootName {
		left := r.removeDirent(r.dirents.Pointer(root).Left, name)
		r.dirents.Pointer(root).Left = left
	} else {
		right := r.removeDirent(r.dirents.Pointer(root).Right, name)
		r.dirents.Pointer(root).Right = right
	}
	return root
}

func (r *Repo) mergeDirents(a, b uint32) uint32 {
	if a == pool.None {
		return b
	}
	if b == pool.None {
		return a
	}
	if prio(r.dirents.Pointer(a).Name) > prio(r.dirents.Pointer(b).Name) {
		a = r.touchDirent(a)
		right := r.mergeDirents(r.dirents.Pointer(a).Right, b)
		r.dirents.Pointer(a).Right = right
		return a
	}
	b = r.touchDirent(b)
	left := r.mergeDirents(a, r.dirents.Pointer(b).Left)
	r.dirents.Pointer(b).Left = left
	return b
}

// direntCursor - in-order iteration in ascending name order. Read-only:
// never allocates from the pools, so offsets stay valid while it runs.
type direntCursor struct {
	r     *Repo
	stack []uint32
}

func (r *Repo) newCursor(root uint32) *direntCursor {
	c := &direntCursor{r: r}
	c.pushLeft(root)
	return c
}

func (c *direntCursor) pushLeft(off uint32) {
	for off != pool.None {
		c.stack = append(c.stack, off)
		off = c.r.dirents.Pointer(off).Left
	}
}

// next - offset of the next entry, pool.None when exhausted
func (c *direntCursor) next() uint32 {
	if len(c.stack) == 0 {
		return pool.None
	}
	off := c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]
	c.pushLeft(c.r.dirents.Pointer(off).Right)
	return off
}
