package main

// svngraph program
// This processes a Subversion dump file and writes the following:
//   * a graph file (graphviz dot format) showing revisions and copy edges
// Optionally renders the graph to a PNG.
//
// Only dump headers are read; property blocks and file contents are skipped.

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/emicklei/dot"
	"github.com/goccy/go-graphviz"

	"github.com/perforce/p4prometheus/version"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"
)

// SvnGraphOptions - options for the graph generator
type SvnGraphOptions struct {
	dumpFile     string
	graphFile    string
	renderFile   string
	maxRevisions int
}

// SvnGraph - builds a revision/copy graph from a dump
type SvnGraph struct {
	logger    *logrus.Logger
	opts      SvnGraphOptions
	graph     *dot.Graph
	revNodes  map[int]dot.Node
	revCount  int
	testInput string // For testing only
}

func NewSvnGraph(logger *logrus.Logger, opts *SvnGraphOptions) *SvnGraph {
	return &SvnGraph{logger: logger,
		opts:     *opts,
		graph:    dot.NewGraph(dot.Directed),
		revNodes: make(map[int]dot.Node)}
}

func (g *SvnGraph) revNode(rev int) dot.Node {
	if n, ok := g.revNodes[rev]; ok {
		return n
	}
	n := g.graph.Node(fmt.Sprintf("r%d", rev))
	g.revNodes[rev] = n
	return n
}

// ParseDump - incrementally parse the dump, collecting revisions and copy
// edges without loading file contents into memory
func (g *SvnGraph) ParseDump() error {
	var buf *bufio.Reader
	if g.testInput != "" {
		buf = bufio.NewReader(strings.NewReader(g.testInput))
	} else {
		file, err := os.Open(g.opts.dumpFile)
		if err != nil {
			return fmt.Errorf("failed to open file '%s': %v", g.opts.dumpFile, err)
		}
		defer file.Close()
		buf = bufio.NewReader(file)
	}

	currRev := 0
	copySrcRev := 0
	copySrcPath := ""
	nodePath := ""
	for {
		line, err := buf.ReadString('\n')
		if err == io.EOF && line == "" {
			break
		}
		if err != nil && err != io.EOF {
			return fmt.Errorf("failed to read dump: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		key, val, found := strings.Cut(line, ": ")
		if !found {
			continue
		}
		switch key {
		case "Revision-number":
			rev, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("bad revision number %q: %v", val, err)
			}
			currRev = rev
			g.revCount++
			g.logger.Debugf("Revision: %d", rev)
			n := g.revNode(rev)
			if rev > 1 {
				g.graph.Edge(g.revNode(rev-1), n)
			}
			if g.opts.maxRevisions > 0 && g.revCount >= g.opts.maxRevisions {
				g.logger.Infof("Processed %d revisions", g.revCount)
				return nil
			}
		case "Node-path":
			nodePath = val
			copySrcRev = 0
			copySrcPath = ""
		case "Node-copyfrom-path":
			copySrcPath = val
			// the copy edge is added by whichever copyfrom header comes second
			if copySrcRev > 0 {
				g.logger.Debugf("Copy: %d:%s -> %s", copySrcRev, copySrcPath, nodePath)
				g.graph.Edge(g.revNode(copySrcRev), g.revNode(currRev),
					fmt.Sprintf("%s -> %s", copySrcPath, nodePath))
			}
		case "Node-copyfrom-rev":
			rev, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("bad copyfrom revision %q: %v", val, err)
			}
			copySrcRev = rev
			if copySrcRev > 0 && copySrcPath != "" {
				g.logger.Debugf("Copy: %d:%s -> %s", copySrcRev, copySrcPath, nodePath)
				g.graph.Edge(g.revNode(copySrcRev), g.revNode(currRev),
					fmt.Sprintf("%s -> %s", copySrcPath, nodePath))
			}
		case "Content-length":
			length, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("bad content length %q: %v", val, err)
			}
			if _, err := buf.ReadString('\n'); err != nil { // blank separator
				return fmt.Errorf("truncated dump: %v", err)
			}
			if _, err := io.CopyN(io.Discard, buf, int64(length)); err != nil {
				return fmt.Errorf("truncated dump: %v", err)
			}
		}
	}
	return nil
}

// WriteGraph - write the dot file and optionally render it
func (g *SvnGraph) WriteGraph() error {
	f, err := os.OpenFile(g.opts.graphFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write([]byte(g.graph.String())); err != nil {
		return err
	}
	if g.opts.renderFile == "" {
		return nil
	}
	gv := graphviz.New()
	graph, err := graphviz.ParseBytes([]byte(g.graph.String()))
	if err != nil {
		return fmt.Errorf("failed to parse dot output: %v", err)
	}
	return gv.RenderFilename(graph, graphviz.PNG, g.opts.renderFile)
}

func main() {
	var (
		dumpFile = kingpin.Arg(
			"dumpfile",
			"Subversion dump file to process.",
		).Required().String()
		graphFile = kingpin.Flag(
			"graphfile",
			"Graphviz dot file to write.",
		).Default("svngraph.dot").Short('g').String()
		renderFile = kingpin.Flag(
			"render",
			"(Optional) PNG file to render the graph to.",
		).String()
		maxRevisions = kingpin.Flag(
			"max.revisions",
			"Max no of revisions to process.",
		).Short('m').Int()
		debug = kingpin.Flag(
			"debug",
			"Enable debugging level.",
		).Int()
	)
	kingpin.UsageTemplate(kingpin.CompactUsageTemplate).Version(version.Print("svngraph")).Author("Robert Cowham")
	kingpin.CommandLine.Help = "Parses a Subversion dump file to create a graphviz DOT file of revisions and copies\n"
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	logger := logrus.New()
	logger.Level = logrus.InfoLevel
	if *debug > 0 {
		logger.Level = logrus.DebugLevel
	}

	opts := &SvnGraphOptions{
		dumpFile:     *dumpFile,
		graphFile:    *graphFile,
		renderFile:   *renderFile,
		maxRevisions: *maxRevisions,
	}
	g := NewSvnGraph(logger, opts)
	if err := g.ParseDump(); err != nil {
		logger.Errorf("failed to parse %s: %v", *dumpFile, err)
		os.Exit(1)
	}
	if err := g.WriteGraph(); err != nil {
		logger.Errorf("failed to write graph: %v", err)
		os.Exit(1)
	}
	logger.Infof("Processed %d revisions", g.revCount)
}
