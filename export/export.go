package export

// git fast-import emitter. Implements the store's emitter callbacks on top
// of the libfastimport backend: file ops and commit headers during the diff
// walk, and the blob relay during parsing (with the 5-byte "link " prefix
// strip for Subversion symlink blobs).

import (
	"bufio"
	"fmt"
	"io"
	"time"

	libfastimport "github.com/rcowham/go-libgitfastimport"
	"github.com/sirupsen/logrus"

	"github.com/rcowham/svnfastexport/repotree"
)

const symlinkPrefixLen = 5 // svn symlink blobs start with "link "

// FastExport - emitter state. Commit re-enters Repo.Diff, so the repo must
// be wired before the first commit callback.
type FastExport struct {
	logger   *logrus.Logger
	repo     *repotree.Repo
	backend  *libfastimport.Backend
	in       *bufio.Reader
	branch   string
	gitSvnID bool
	blobSink func(mark uint32, data string)
	err      error
}

func NewFastExport(logger *logrus.Logger, repo *repotree.Repo, w io.WriteCloser, branch string, gitSvnID bool) *FastExport {
	return &FastExport{
		logger:   logger,
		repo:     repo,
		backend:  libfastimport.NewBackend(w, nil, nil),
		branch:   branch,
		gitSvnID: gitSvnID,
	}
}

// SetInput - the dump byte stream blobs are relayed from
func (f *FastExport) SetInput(in *bufio.Reader) {
	f.in = in
}

// SetBlobSink - optional observer of relayed blob contents (the archiver)
func (f *FastExport) SetBlobSink(sink func(mark uint32, data string)) {
	f.blobSink = sink
}

// Err - first backend or relay error, if any
func (f *FastExport) Err() error {
	return f.err
}

func (f *FastExport) do(cmd libfastimport.Cmd) {
	if f.err != nil {
		return
	}
	if err := f.backend.Do(cmd); err != nil {
		f.logger.Errorf("Failed to write %+v: %v", cmd, err)
		f.err = err
	}
}

func (f *FastExport) pathOf(ids []uint32) libfastimport.Path {
	return libfastimport.Path(f.repo.Strings().FormatSeq(ids, "/"))
}

// Delete - remove path in the current commit
func (f *FastExport) Delete(path []uint32) {
	f.do(libfastimport.FileDelete{Path: f.pathOf(path)})
}

// Modify - set the file at path to mode/mark in the current commit
func (f *FastExport) Modify(path []uint32, mode repotree.Mode, mark uint32) {
	f.do(libfastimport.FileModify{
		Mode:    libfastimport.Mode(mode),
		Path:    f.pathOf(path),
		DataRef: fmt.Sprintf(":%d", mark),
	})
}

// Commit - write the commit header, re-enter the store's diff for the
// change set, then close the commit
func (f *FastExport) Commit(rev uint32, author, log, uuid, url string, ts time.Time) {
	if author == "" {
		author = "nobody"
	}
	domain := uuid
	if domain == "" {
		domain = "local"
	}
	msg := log
	if len(msg) == 0 || msg[len(msg)-1] != '\n' {
		msg += "\n"
	}
	if f.gitSvnID && uuid != "" && url != "" {
		msg += fmt.Sprintf("\ngit-svn-id: %s@%d %s\n", url, rev, uuid)
	}
	f.do(libfastimport.CmdCommit{
		Ref:  fmt.Sprintf("refs/heads/%s", f.branch),
		Mark: int(rev),
		Committer: libfastimport.Ident{
			Name:  author,
			Email: fmt.Sprintf("%s@%s", author, domain),
			Time:  ts.UTC(),
		},
		Msg: msg,
	})
	f.repo.Diff(rev-1, rev)
	f.do(libfastimport.CmdCommitEnd{})
}

// Blob - relay length bytes from the dump stream as a blob. Symlink blobs
// lose their "link " prefix on the way through.
func (f *FastExport) Blob(mode repotree.Mode, mark uint32, length uint32) {
	if mode == repotree.ModeLink {
		if _, err := io.CopyN(io.Discard, f.in, symlinkPrefixLen); err != nil {
			f.logger.Errorf("Failed to skip symlink prefix: %v", err)
			f.err = err
			return
		}
		length -= symlinkPrefixLen
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(f.in, data); err != nil {
		f.logger.Errorf("Failed to read blob %d: %v", mark, err)
		f.err = err
		return
	}
	if f.blobSink != nil {
		f.blobSink(mark, string(data))
	}
	f.do(libfastimport.CmdBlob{Mark: int(mark), Data: string(data)})
}
