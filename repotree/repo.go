package repotree

// Versioned directory store. Every revision's tree is a persistent snapshot
// rooted in the commit pool; revisions share subtrees by offset until a
// write path clones them (copy-on-write above the committed watermark).

import (
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/sirupsen/logrus"

	"github.com/rcowham/svnfastexport/pool"
	"github.com/rcowham/svnfastexport/stringpool"
)

// Mode - entry modes, stored and emitted as POSIX file-mode integers
type Mode uint32

const (
	ModeNone Mode = 0
	ModeDir  Mode = 0040000
	ModeFile Mode = 0100644
	ModeExe  Mode = 0100755
	ModeLink Mode = 0120000
)

func (m Mode) String() string {
	switch m {
	case ModeDir:
		return "dir"
	case ModeFile:
		return "file"
	case ModeExe:
		return "exe"
	case ModeLink:
		return "symlink"
	}
	return "none"
}

// MaxPathDepth - bound on path components (and on the diff path stack)
const MaxPathDepth = 1000

const firstBlobMark = 1000000000

// Dirent - one directory entry; also a treap node within its directory
type Dirent struct {
	Name    uint32 // interned name id
	Mode    uint32
	Content uint32 // dir-pool offset for ModeDir, otherwise a blob mark
	Left    uint32
	Right   uint32
}

// Dir - a directory: the root of its entry treap (pool.None when empty)
type Dir struct {
	Entries uint32
}

// Commit - one revision; the offset in the commit pool is the revision number
type Commit struct {
	RootDir uint32
}

// Emitter - the callbacks the store drives at diff and commit time.
// Implementations may re-enter read-only store operations (Commit is
// expected to call back into Diff) but must not mutate.
type Emitter interface {
	Delete(path []uint32)
	Modify(path []uint32, mode Mode, mark uint32)
	Commit(rev uint32, author, log, uuid, url string, ts time.Time)
	Blob(mode Mode, mark uint32, length uint32)
}

// Repo - the versioned tree store
type Repo struct {
	logger   *logrus.Logger
	emitter  Emitter
	strings  *stringpool.Pool
	commits  *pool.Pool[Commit]
	dirs     *pool.Pool[Dir]
	dirents  *pool.Pool[Dirent]
	active   uint32
	nextMark uint32
}

func NewRepo(logger *logrus.Logger, strings *stringpool.Pool) *Repo {
	return &Repo{
		logger:   logger,
		strings:  strings,
		commits:  pool.New[Commit]("commits", 4096),
		dirs:     pool.New[Dir]("dirs", 4096),
		dirents:  pool.New[Dirent]("dirents", 4096),
		nextMark: firstBlobMark,
	}
}

func (r *Repo) SetEmitter(e Emitter) {
	r.emitter = e
}

// Strings - the interner shared with the parser and the emitter
func (r *Repo) Strings() *stringpool.Pool {
	return r.strings
}

// Attach - recover the committed tree state from "<name>.bin" files in dir.
// Call before Init. The string pool is attached by its own Attach.
func (r *Repo) Attach(fs billy.Filesystem, dir string) error {
	if err := r.commits.Attach(fs, dir); err != nil {
		return err
	}
	if err := r.dirs.Attach(fs, dir); err != nil {
		return err
	}
	return r.dirents.Attach(fs, dir)
}

// Init - create revision 0 (empty tree) if none exists, recover the blob
// mark counter, and open the active revision above the latest committed one.
func (r *Repo) Init() error {
	if r.commits.Size() == 0 {
		rev0 := r.commits.Alloc(1)
		root := r.allocDir()
		r.commits.Pointer(rev0).RootDir = root
		if err := r.commitPools(); err != nil {
			return err
		}
	}
	r.recoverMarks()
	active := r.commits.Alloc(1)
	r.commits.Pointer(active).RootDir = r.commits.Pointer(active - 1).RootDir
	r.active = active
	return nil
}

// Reset - tear down the whole store
func (r *Repo) Reset() {
	r.commits.Reset()
	r.dirs.Reset()
	r.dirents.Reset()
	r.strings.Reset()
	r.active = 0
	r.nextMark = firstBlobMark
}

// ActiveRevision - the revision currently receiving mutations
func (r *Repo) ActiveRevision() uint32 {
	return r.active
}

// NextBlobMark - hand out the next unused blob mark
func (r *Repo) NextBlobMark() uint32 {
	mark := r.nextMark
	r.nextMark++
	return mark
}

// recoverMarks - resume the mark counter above any persisted file entry
func (r *Repo) recoverMarks() {
	for off := uint32(0); off < r.dirents.Size(); off++ {
		e := r.dirents.Pointer(off)
		if Mode(e.Mode) != ModeDir && Mode(e.Mode) != ModeNone && e.Content >= r.nextMark {
			r.nextMark = e.Content + 1
		}
	}
}

func (r *Repo) allocDir() uint32 {
	off := r.dirs.Alloc(1)
	r.dirs.Pointer(off).Entries = pool.None
	return off
}

// touchDir - make a directory header mutable, cloning it if committed.
// Entries stay shared until they are touched themselves.
func (r *Repo) touchDir(off uint32) uint32 {
	if off >= r.dirs.Committed() {
		return off
	}
	clone := r.dirs.Alloc(1)
	*r.dirs.Pointer(clone) = *r.dirs.Pointer(off)
	return clone
}

// Read - walk path in revision rev. Descent stops at the first
// non-directory entry; that entry is returned so copies can reach files.
func (r *Repo) Read(rev uint32, path []uint32) (Dirent, bool) {
	c := r.commits.Pointer(rev)
	if c == nil {
		return Dirent{}, false
	}
	dirOff := c.RootDir
	var found *Dirent
	for _, name := range path {
		if name == pool.None {
			break
		}
		if found != nil && Mode(found.Mode) != ModeDir {
			break
		}
		if found != nil {
			dirOff = found.Content
		}
		entOff := r.findDirent(r.dirs.Pointer(dirOff).Entries, name)
		if entOff == pool.None {
			return Dirent{}, false
		}
		found = r.dirents.Pointer(entOff)
	}
	if found == nil {
		return Dirent{}, false
	}
	return *found, true
}

// writeDirent - the copy-on-write write path. Descends from the active
// revision's root, cloning every committed directory and entry it touches,
// then sets (or removes, for del) the entry at the final component.
// Missing intermediate directories are created unless del is set.
func (r *Repo) writeDirent(path []uint32, mode Mode, content uint32, del bool) {
	dirOff := r.touchDir(r.commits.Pointer(r.active).RootDir)
	r.commits.Pointer(r.active).RootDir = dirOff
	entOff := pool.None
	parentDir := dirOff
	for i, name := range path {
		if name == pool.None {
			break
		}
		last := path[i+1] == pool.None
		parentDir = dirOff
		entOff = r.findDirent(r.dirs.Pointer(dirOff).Entries, name)
		if entOff == pool.None {
			if del {
				return
			}
			entOff = r.allocDirent(name)
			if !last {
				r.dirents.Pointer(entOff).Mode = uint32(ModeDir)
			}
			root := r.insertDirent(r.dirs.Pointer(dirOff).Entries, entOff)
			r.dirs.Pointer(dirOff).Entries = root
			if !last {
				sub := r.allocDir()
				r.dirents.Pointer(entOff).Content = sub
				dirOff = sub
			}
			continue
		}
		if !r.direntMutable(entOff) {
			// An immutable entry on the write path is replaced by a fresh
			// copy in one transformation: remove, allocate, re-insert.
			old := *r.dirents.Pointer(entOff)
			root := r.removeDirent(r.dirs.Pointer(dirOff).Entries, name)
			entOff = r.allocDirent(name)
			e := r.dirents.Pointer(entOff)
			e.Mode = old.Mode
			e.Content = old.Content
			root = r.insertDirent(root, entOff)
			r.dirs.Pointer(dirOff).Entries = root
		}
		if !last {
			e := r.dirents.Pointer(entOff)
			if Mode(e.Mode) == ModeDir {
				sub := r.touchDir(e.Content)
				r.dirents.Pointer(entOff).Content = sub
				dirOff = sub
			} else {
				// A non-directory in the middle of the path becomes a
				// directory; its old content is dropped.
				sub := r.allocDir()
				e.Mode = uint32(ModeDir)
				e.Content = sub
				dirOff = sub
			}
		}
	}
	if entOff == pool.None {
		return
	}
	if del {
		root := r.removeDirent(r.dirs.Pointer(parentDir).Entries, r.dirents.Pointer(entOff).Name)
		r.dirs.Pointer(parentDir).Entries = root
		return
	}
	wasDir := Mode(r.dirents.Pointer(entOff).Mode) == ModeDir
	if mode == ModeDir && content == 0 {
		// Plain directory add: keep the existing directory if there is one,
		// otherwise allocate an empty one. A nonzero content is a shared
		// directory offset arriving via Copy and is stored as-is.
		if wasDir {
			content = r.dirents.Pointer(entOff).Content
		} else {
			content = r.allocDir()
		}
	}
	e := r.dirents.Pointer(entOff)
	e.Mode = uint32(mode)
	e.Content = content
}

// Add - create or overwrite the entry at path, creating intermediate
// directories as required
func (r *Repo) Add(path []uint32, mode Mode, mark uint32) {
	r.writeDirent(path, mode, mark, false)
}

// Modify - as Add, but mark 0 retains the existing content (mode-only
// change). No-op if the entry does not exist.
func (r *Repo) Modify(path []uint32, mode Mode, mark uint32) {
	e, ok := r.Read(r.active, path)
	if !ok {
		return
	}
	if mark == 0 {
		mark = e.Content
	}
	r.writeDirent(path, mode, mark, false)
}

// Replace - overwrite the content of an existing entry keeping its mode,
// returning the prior mode. Returns ModeNone if the entry does not exist.
func (r *Repo) Replace(path []uint32, mark uint32) Mode {
	e, ok := r.Read(r.active, path)
	if !ok {
		return ModeNone
	}
	mode := Mode(e.Mode)
	r.writeDirent(path, mode, mark, false)
	return mode
}

// Delete - remove the entry at path. No-op if absent.
func (r *Repo) Delete(path []uint32) {
	r.writeDirent(path, ModeNone, 0, true)
}

// Copy - share the entry at src in committed revision rev into the active
// revision at dst. Directory entries are shared by offset, so the copy is
// O(1) regardless of subtree size. Returns the copied mode, or ModeNone.
func (r *Repo) Copy(rev uint32, src, dst []uint32) Mode {
	e, ok := r.Read(rev, src)
	if !ok {
		return ModeNone
	}
	mode := Mode(e.Mode)
	content := e.Content
	r.writeDirent(dst, mode, content, false)
	return mode
}

// CopyBlob - relay a blob to the emitter; the store only records that marks
// up to this one are in use
func (r *Repo) CopyBlob(mode Mode, mark, length uint32) {
	if mark >= r.nextMark {
		r.nextMark = mark + 1
	}
	if r.emitter != nil {
		r.emitter.Blob(mode, mark, length)
	}
}

// Commit - seal the active revision: emit the commit (the emitter re-enters
// Diff for the change set), advance every arena's watermark, and open the
// next revision seeded from this root.
func (r *Repo) Commit(rev uint32, author, log, uuid, url string, ts time.Time) error {
	if rev != r.active {
		r.logger.Warnf("Commit revision %d does not match active revision %d", rev, r.active)
	}
	if r.emitter != nil {
		r.emitter.Commit(r.active, author, log, uuid, url, ts)
	}
	if err := r.commitPools(); err != nil {
		return err
	}
	active := r.commits.Alloc(1)
	r.commits.Pointer(active).RootDir = r.commits.Pointer(active - 1).RootDir
	r.active = active
	return nil
}

func (r *Repo) commitPools() error {
	if err := r.commits.Commit(); err != nil {
		return err
	}
	if err := r.dirs.Commit(); err != nil {
		return err
	}
	if err := r.dirents.Commit(); err != nil {
		return err
	}
	return r.strings.Commit()
}
