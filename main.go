package main

// svnfastexport program
// This streams a Subversion dump (file, URL or stdin) and writes a git
// fast-import stream to stdout, suitable for piping into `git fast-import`.
//
// Design:
// The main loop Run():
//     Reads dump records line by line (revision headers, node headers,
//     property blocks, text content).
//     Node records become mutations of the versioned tree store (add /
//     modify / replace / delete / copy); blob contents are relayed to the
//     emitter as they are read, optionally also saved to an archive dir
//     (compressed in pool worker threads) - we want to avoid keeping blob
//     data in memory.
//     At each revision boundary the store seals the revision and the
//     emitter writes the commit with the diff against the previous one.
//
// Global data structures:
// * String pool of interned path components
// * Arena pools holding every revision's directory tree (copy-on-write)

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/alitto/pond"
	"github.com/emicklei/dot"
	"github.com/h2non/filetype"
	"github.com/rcowham/svnfastexport/config"
	"github.com/rcowham/svnfastexport/export"
	"github.com/rcowham/svnfastexport/repotree"
	"github.com/rcowham/svnfastexport/stringpool"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/perforce/p4prometheus/version"
	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"
)

func Humanize(b int) string {
	const unit = 1000
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB",
		float64(b)/float64(div), "kMGTPE"[exp])
}

// SvnParserOptions - options for the dump parser
type SvnParserOptions struct {
	config        *config.Config
	dumpFile      string // file path or http(s) URL; "" reads stdin
	archiveRoot   string
	dryRun        bool
	dummyArchives bool
	graphFile     string
	maxRevisions  int
	debugRevision int // For debug breakpoint
}

type nodeAction int

const (
	unknownAction nodeAction = iota
	addAction
	changeAction
	deleteAction
	replaceAction
)

func (a nodeAction) String() string {
	return [...]string{"Unknown", "Add", "Change", "Delete", "Replace"}[a]
}

// nodeContext - one Node-path record of the current revision
type nodeContext struct {
	pending    bool
	path       string
	mode       repotree.Mode
	action     nodeAction
	propLength int
	textLength int
	srcPath    string
	srcRev     uint32
	srcMode    repotree.Mode
	mark       uint32
}

// revContext - the revision record being accumulated
type revContext struct {
	open      bool
	revision  uint32
	author    string
	log       string
	timestamp time.Time
}

const (
	dumpCtx = iota
	revCtx
	nodeCtx
)

// SvnFastExport - parses a Subversion dump, driving the store and emitter
type SvnFastExport struct {
	logger     *logrus.Logger
	opts       *SvnParserOptions
	strings    *stringpool.Pool
	repo       *repotree.Repo
	emitter    *export.FastExport
	archiver   *blobArchiver
	in         *bufio.Reader
	uuid       string
	url        string
	activeCtx  int
	node       nodeContext
	rev        revContext
	revCount   int
	graph      *dot.Graph
	revNodes   map[uint32]dot.Node
	testInput  string        // For testing only
	testOutput *bytes.Buffer // For testing only
}

func NewSvnFastExport(logger *logrus.Logger, opts *SvnParserOptions) (*SvnFastExport, error) {
	if opts.config == nil {
		return nil, fmt.Errorf("no config specified")
	}
	strs := stringpool.New()
	repo := repotree.NewRepo(logger, strs)
	return &SvnFastExport{
		logger:   logger,
		opts:     opts,
		strings:  strs,
		repo:     repo,
		revNodes: make(map[uint32]dot.Node),
	}, nil
}

// writerCloser - flushes the buffer before closing the underlying file
type writerCloser struct {
	f *os.File
	b *bufio.Writer
}

func (wc *writerCloser) Write(p []byte) (int, error) {
	return wc.b.Write(p)
}

func (wc *writerCloser) Close() error {
	if err := wc.b.Flush(); err != nil {
		return err
	}
	if wc.f != nil {
		return wc.f.Close()
	}
	return nil
}

func (g *SvnFastExport) openInput() (io.Closer, error) {
	if g.testInput != "" {
		g.in = bufio.NewReader(strings.NewReader(g.testInput))
		return nil, nil
	}
	if g.opts.dumpFile == "" {
		g.in = bufio.NewReader(os.Stdin)
		return nil, nil
	}
	if strings.HasPrefix(g.opts.dumpFile, "http://") || strings.HasPrefix(g.opts.dumpFile, "https://") {
		g.url = g.opts.dumpFile
		resp, err := http.Get(g.opts.dumpFile)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s: %v", g.opts.dumpFile, err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("failed to fetch %s: %s", g.opts.dumpFile, resp.Status)
		}
		g.in = bufio.NewReader(resp.Body)
		return resp.Body, nil
	}
	f, err := os.Open(g.opts.dumpFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %v", g.opts.dumpFile, err)
	}
	g.in = bufio.NewReader(f)
	return f, nil
}

// Run - parse the dump stream end to end
func (g *SvnFastExport) Run(pool *pond.WorkerPool) error {
	cfg := g.opts.config

	inCloser, err := g.openInput()
	if err != nil {
		return err
	}
	if inCloser != nil {
		defer inCloser.Close()
	}

	var out io.WriteCloser
	if g.testInput != "" {
		g.testOutput = new(bytes.Buffer)
		out = &writerCloser{nil, bufio.NewWriter(g.testOutput)}
	} else {
		out = &writerCloser{nil, bufio.NewWriter(os.Stdout)}
	}
	defer out.Close()

	if cfg.PersistDir != "" {
		fs := osfs.New(cfg.PersistDir)
		if err := g.strings.Attach(fs, "."); err != nil {
			return err
		}
		if err := g.repo.Attach(fs, "."); err != nil {
			return err
		}
	}
	if err := g.repo.Init(); err != nil {
		return err
	}

	g.emitter = export.NewFastExport(g.logger, g.repo, out, cfg.DefaultBranch, cfg.AppendGitSvnID())
	g.emitter.SetInput(g.in)
	g.repo.SetEmitter(g.emitter)

	if g.opts.archiveRoot != "" && !g.opts.dryRun {
		g.archiver = newBlobArchiver(g.logger, pool, g.opts.archiveRoot, g.opts.dummyArchives, cfg.ReTypeMaps)
		g.emitter.SetBlobSink(func(mark uint32, data string) {
			g.archiver.save(g.node.path, mark, data)
		})
	}

	if g.opts.graphFile != "" {
		g.graph = dot.NewGraph(dot.Directed)
	}

	if err := g.parse(); err != nil {
		return err
	}
	if g.emitter.Err() != nil {
		return g.emitter.Err()
	}

	if g.graph != nil {
		f, err := os.OpenFile(g.opts.graphFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			g.logger.Error(err)
			return nil
		}
		defer f.Close()
		f.Write([]byte(g.graph.String()))
	}
	return nil
}

func (g *SvnFastExport) readLine() (string, error) {
	line, err := g.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (g *SvnFastExport) readString(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := io.ReadFull(g.in, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func (g *SvnFastExport) skipBytes(length int) error {
	_, err := io.CopyN(io.Discard, g.in, int64(length))
	return err
}

func (g *SvnFastExport) parse() error {
	g.activeCtx = dumpCtx
	for {
		line, err := g.readLine()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read dump: %v", err)
		}
		key, val, found := strings.Cut(line, ": ")
		if !found {
			continue
		}
		switch key {
		case "SVN-fs-dump-format-version":
			g.logger.Debugf("Dump format version: %s", val)
		case "UUID":
			g.uuid = val
		case "Revision-number":
			if err := g.finishNode(); err != nil {
				return err
			}
			if stop, err := g.finishRevision(); err != nil || stop {
				return err
			}
			rev, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("bad revision number %q: %v", val, err)
			}
			g.activeCtx = revCtx
			g.rev = revContext{open: true, revision: uint32(rev), author: "nobody"}
			g.logger.Debugf("Revision: %d", rev)
			if g.opts.debugRevision != 0 && g.opts.debugRevision == rev {
				g.logger.Debugf("Revision breakpoint: %d", rev)
			}
		case "Node-path":
			if err := g.finishNode(); err != nil {
				return err
			}
			g.activeCtx = nodeCtx
			g.node = nodeContext{pending: true, path: val, action: unknownAction, propLength: -1, textLength: -1}
			g.logger.Debugf("Node path: %s", val)
		case "Node-kind":
			switch val {
			case "dir":
				g.node.mode = repotree.ModeDir
			case "file":
				g.node.mode = repotree.ModeFile
			default:
				g.logger.Errorf("Unknown node-kind: %s", val)
			}
		case "Node-action":
			switch val {
			case "add":
				g.node.action = addAction
			case "change":
				g.node.action = changeAction
			case "delete":
				g.node.action = deleteAction
			case "replace":
				g.node.action = replaceAction
			default:
				g.node.action = unknownAction
				g.logger.Errorf("Unknown node-action: %s", val)
			}
		case "Node-copyfrom-path":
			g.node.srcPath = val
		case "Node-copyfrom-rev":
			rev, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("bad copyfrom revision %q: %v", val, err)
			}
			g.node.srcRev = uint32(rev)
		case "Text-content-length":
			length, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("bad text content length %q: %v", val, err)
			}
			g.node.textLength = length
		case "Prop-content-length":
			length, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("bad prop content length %q: %v", val, err)
			}
			g.node.propLength = length
		case "Content-length":
			length, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("bad content length %q: %v", val, err)
			}
			if _, err := g.readLine(); err != nil { // blank separator
				return fmt.Errorf("truncated dump: %v", err)
			}
			switch g.activeCtx {
			case revCtx:
				if err := g.readProps(g.revProp); err != nil {
					return err
				}
			case nodeCtx:
				if err := g.finishNode(); err != nil {
					return err
				}
				g.activeCtx = revCtx
			default:
				g.logger.Errorf("Unexpected content length header")
				if err := g.skipBytes(length); err != nil {
					return err
				}
			}
		}
	}
	if err := g.finishNode(); err != nil {
		return err
	}
	_, err := g.finishRevision()
	return err
}

// readProps - one property block up to PROPS-END, dispatching K/V pairs
func (g *SvnFastExport) readProps(handler func(key, val string)) error {
	key := ""
	for {
		line, err := g.readLine()
		if err != nil {
			return fmt.Errorf("truncated property block: %v", err)
		}
		if line == "PROPS-END" {
			return nil
		}
		if strings.HasPrefix(line, "K ") || strings.HasPrefix(line, "D ") {
			length, err := strconv.Atoi(line[2:])
			if err != nil {
				return fmt.Errorf("bad property key length %q: %v", line, err)
			}
			key, err = g.readString(length)
			if err != nil {
				return err
			}
			if _, err = g.readLine(); err != nil {
				return err
			}
			if line[0] == 'D' {
				key = "" // deleted property carries no value
			}
		} else if strings.HasPrefix(line, "V ") {
			length, err := strconv.Atoi(line[2:])
			if err != nil {
				return fmt.Errorf("bad property value length %q: %v", line, err)
			}
			val, err := g.readString(length)
			if err != nil {
				return err
			}
			if _, err = g.readLine(); err != nil {
				return err
			}
			if key != "" {
				handler(key, val)
			}
			key = ""
		}
	}
}

func (g *SvnFastExport) revProp(key, val string) {
	switch key {
	case "svn:log":
		g.rev.log = val
	case "svn:author":
		g.rev.author = val
	case "svn:date":
		if len(val) >= 19 {
			if ts, err := time.Parse("2006-01-02T15:04:05", val[:19]); err == nil {
				g.rev.timestamp = ts.UTC()
			} else {
				g.logger.Errorf("Failed to parse date %q: %v", val, err)
			}
		}
	}
}

func (g *SvnFastExport) nodeProp(key, val string) {
	switch key {
	case "svn:executable":
		if g.node.mode == repotree.ModeFile {
			g.node.mode = repotree.ModeExe
		}
	case "svn:special":
		if g.node.mode == repotree.ModeFile {
			g.node.mode = repotree.ModeLink
		}
	}
}

// finishNode - apply the pending node record to the store. For nodes with
// content this runs with the stream positioned at their property block;
// deletes carry no content and are finalized when the next header arrives.
func (g *SvnFastExport) finishNode() error {
	if !g.node.pending {
		return nil
	}
	n := &g.node
	n.pending = false
	if n.propLength > 0 {
		if err := g.readProps(g.nodeProp); err != nil {
			return err
		}
	}
	if n.srcPath != "" && n.srcRev != 0 {
		srcSeq, err := g.strings.TokenizeSeq(n.srcPath, "/", repotree.MaxPathDepth)
		if err != nil {
			return fmt.Errorf("copyfrom path %q: %v", n.srcPath, err)
		}
		dstSeq, err := g.strings.TokenizeSeq(n.path, "/", repotree.MaxPathDepth)
		if err != nil {
			return fmt.Errorf("node path %q: %v", n.path, err)
		}
		n.srcMode = g.repo.Copy(n.srcRev, srcSeq, dstSeq)
		g.logger.Debugf("Copy: %d:%s -> %s (%v)", n.srcRev, n.srcPath, n.path, n.srcMode)
		g.addGraphCopy(n.srcRev, n.srcPath, n.path)
	}
	if n.textLength >= 0 && n.mode != repotree.ModeDir {
		n.mark = g.repo.NextBlobMark()
	}
	seq, err := g.strings.TokenizeSeq(n.path, "/", repotree.MaxPathDepth)
	if err != nil {
		return fmt.Errorf("node path %q: %v", n.path, err)
	}
	switch n.action {
	case deleteAction:
		g.logger.Debugf("Delete: %s", n.path)
		g.repo.Delete(seq)
	case changeAction, replaceAction:
		if n.propLength >= 0 {
			g.logger.Debugf("Modify: %s (%v mark %d)", n.path, n.mode, n.mark)
			g.repo.Modify(seq, n.mode, n.mark)
		} else if n.textLength >= 0 {
			g.logger.Debugf("Replace content: %s (mark %d)", n.path, n.mark)
			n.srcMode = g.repo.Replace(seq, n.mark)
		}
	case addAction:
		if n.srcPath != "" && n.srcRev != 0 && n.propLength < 0 && n.textLength >= 0 {
			// copy-with-text: the copied entry keeps its mode, new content
			n.srcMode = g.repo.Replace(seq, n.mark)
		} else if n.mode == repotree.ModeDir || n.textLength >= 0 {
			g.logger.Debugf("Add: %s (%v mark %d)", n.path, n.mode, n.mark)
			g.repo.Add(seq, n.mode, n.mark)
		}
	}
	if n.propLength < 0 && n.srcMode != repotree.ModeNone {
		n.mode = n.srcMode
	}
	if n.mark != 0 {
		g.repo.CopyBlob(n.mode, n.mark, uint32(n.textLength))
	} else if n.textLength > 0 {
		if err := g.skipBytes(n.textLength); err != nil {
			return fmt.Errorf("truncated node content: %v", err)
		}
	}
	return nil
}

// finishRevision - seal the revision in the store, emitting its commit.
// Returns stop=true once maxRevisions have been processed.
func (g *SvnFastExport) finishRevision() (bool, error) {
	if !g.rev.open {
		return false, nil
	}
	g.rev.open = false
	if g.rev.revision == 0 {
		// revision 0 is the implicit empty tree created by Init
		return false, nil
	}
	if err := g.repo.Commit(g.rev.revision, g.rev.author, g.rev.log, g.uuid, g.url, g.rev.timestamp); err != nil {
		return false, err
	}
	g.addGraphRevision(g.rev.revision)
	g.revCount++
	if g.opts.maxRevisions > 0 && g.revCount >= g.opts.maxRevisions {
		g.logger.Infof("Processed %d revisions", g.revCount)
		return true, nil
	}
	return false, nil
}

func (g *SvnFastExport) revGraphNode(rev uint32) dot.Node {
	if n, ok := g.revNodes[rev]; ok {
		return n
	}
	n := g.graph.Node(fmt.Sprintf("r%d", rev))
	g.revNodes[rev] = n
	return n
}

func (g *SvnFastExport) addGraphRevision(rev uint32) {
	if g.graph == nil {
		return
	}
	n := g.revGraphNode(rev)
	if rev > 1 {
		g.graph.Edge(g.revGraphNode(rev-1), n)
	}
}

func (g *SvnFastExport) addGraphCopy(srcRev uint32, srcPath, dstPath string) {
	if g.graph == nil {
		return
	}
	g.graph.Edge(g.revGraphNode(srcRev), g.revGraphNode(g.repo.ActiveRevision()),
		fmt.Sprintf("%s -> %s", srcPath, dstPath))
}

// blobArchiver - saves blob contents under archiveRoot, gzip-compressed in
// pool worker threads unless the content or a typemap marks them binary
type blobArchiver struct {
	logger   *logrus.Logger
	pool     *pond.WorkerPool
	root     string
	dummy    bool
	typeMaps []config.RegexpTypeMap
}

func newBlobArchiver(logger *logrus.Logger, pool *pond.WorkerPool, root string, dummy bool, typeMaps []config.RegexpTypeMap) *blobArchiver {
	return &blobArchiver{logger: logger, pool: pool, root: root, dummy: dummy, typeMaps: typeMaps}
}

// binary decides compression: known binary containers gain nothing from gzip
func (a *blobArchiver) binary(nodePath string, data string) bool {
	for _, tm := range a.typeMaps {
		if tm.RePath.MatchString(nodePath) {
			return tm.Binary
		}
	}
	l := len(data)
	if l > 261 {
		l = 261
	}
	head := []byte(data[:l])
	return filetype.IsImage(head) || filetype.IsVideo(head) || filetype.IsArchive(head) || filetype.IsAudio(head)
}

// save - write mark contents to <root>/<mark/1e6>/<mark/1e3 mod 1e3>/<mark>[.gz]
func (a *blobArchiver) save(nodePath string, mark uint32, data string) {
	if a.dummy {
		data = fmt.Sprintf("%d", mark)
	}
	dir := path.Join(a.root, fmt.Sprintf("%d", mark/1000000), fmt.Sprintf("%d", (mark/1000)%1000))
	compressed := !a.binary(nodePath, data)
	a.logger.Debugf("SavingBlob: mark %d size %s compressed %v", mark, Humanize(len(data)), compressed)
	a.pool.Submit(
		func(dir string, mark uint32, data string, compressed bool) func() {
			return func() {
				if err := os.MkdirAll(dir, 0755); err != nil {
					a.logger.Errorf("Failed to Mkdir: %s - %v", dir, err)
					return
				}
				fname := path.Join(dir, fmt.Sprintf("%d", mark))
				if compressed {
					fname += ".gz"
				}
				if err := writeArchive(fname, data, compressed); err != nil {
					a.logger.Errorf("Failed to save blob %d: %v", mark, err)
				}
			}
		}(dir, mark, data, compressed))
}

func main() {
	var (
		configFile = kingpin.Flag(
			"config",
			"Config file for svnfastexport.",
		).Default("svnfastexport.yaml").Short('c').String()
		dumpFile = kingpin.Arg(
			"dumpfile",
			"Subversion dump file (or http/https URL) to process; reads stdin if omitted.",
		).String()
		defaultBranch = kingpin.Flag(
			"default.branch",
			"Name of the git branch to export to (overrides config).",
		).Default(config.DefaultBranch).Short('b').String()
		persistDir = kingpin.Flag(
			"persist.dir",
			"Directory for arena checkpoint files (overrides config).",
		).String()
		archiveRoot = kingpin.Flag(
			"archive.root",
			"Archive root dir under which to additionally store blob contents.",
		).String()
		dummyArchives = kingpin.Flag(
			"dummy",
			"Create dummy (small) archive files - for quick analysis of large repos.",
		).Bool()
		maxRevisions = kingpin.Flag(
			"max.revisions",
			"Max no of revisions to process.",
		).Short('m').Int()
		dryrun = kingpin.Flag(
			"dryrun",
			"Don't actually create archive files.",
		).Bool()
		outputGraph = kingpin.Flag(
			"graphfile",
			"Graphviz dot file to output revision/copy structure to.",
		).String()
		cpuProfile = kingpin.Flag(
			"profile",
			"Enable CPU profiling.",
		).Bool()
		debug = kingpin.Flag(
			"debug",
			"Enable debugging level.",
		).Int()
		debugRevision = kingpin.Flag(
			"debug.revision",
			"For debugging - to allow breakpoints to be set.",
		).Int()
	)
	kingpin.UsageTemplate(kingpin.CompactUsageTemplate).Version(version.Print("svnfastexport")).Author("Robert Cowham")
	kingpin.CommandLine.Help = "Converts a Subversion dump stream into a git fast-import stream on stdout\n"
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	if *cpuProfile {
		defer profile.Start(profile.ProfilePath(".")).Stop()
	}

	logger := logrus.New()
	logger.Out = os.Stderr
	logger.Level = logrus.InfoLevel
	if *debug > 0 {
		logger.Level = logrus.DebugLevel
	}
	cfg, err := config.LoadConfigFile(*configFile)
	if err != nil {
		if *configFile != "svnfastexport.yaml" {
			logger.Errorf("error loading config file: %v", err)
			os.Exit(-1)
		}
		cfg, _ = config.Unmarshal([]byte{}) // default config file is optional
	}
	if *defaultBranch != config.DefaultBranch {
		cfg.DefaultBranch = *defaultBranch
	}
	if *persistDir != "" {
		cfg.PersistDir = *persistDir
	}
	startTime := time.Now()
	logger.Infof("%v", version.Print("svnfastexport"))
	logger.Infof("Starting %s, dumpfile: %v", startTime, *dumpFile)

	opts := &SvnParserOptions{
		config:        cfg,
		dumpFile:      *dumpFile,
		archiveRoot:   *archiveRoot,
		dryRun:        *dryrun,
		dummyArchives: *dummyArchives,
		maxRevisions:  *maxRevisions,
		graphFile:     *outputGraph,
		debugRevision: *debugRevision,
	}
	logger.Infof("Options: %+v", opts)
	g, err := NewSvnFastExport(logger, opts)
	if err != nil {
		logger.Errorf("error setting up: %v", err)
		os.Exit(-1)
	}

	pondSize := runtime.NumCPU()
	pool := pond.New(pondSize, 0, pond.MinWorkers(10))
	defer pool.StopAndWait()

	if err := g.Run(pool); err != nil {
		logger.Errorf("failed to convert %s: %v", *dumpFile, err)
		os.Exit(1)
	}
	logger.Infof("Processed %d revisions in %v", g.revCount, time.Since(startTime))
}
