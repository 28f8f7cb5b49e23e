package main

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.Level = logrus.ErrorLevel
	return logger
}

const testDump = `SVN-fs-dump-format-version: 2

UUID: 65390229-12b7-0310-b90b-f21a5aa7ec8e

Revision-number: 1
Prop-content-length: 10
Content-length: 10

PROPS-END

Node-path: trunk
Node-kind: dir
Node-action: add
Prop-content-length: 10
Content-length: 10

PROPS-END

Revision-number: 2
Prop-content-length: 10
Content-length: 10

PROPS-END

Node-path: branches/rel
Node-kind: dir
Node-action: add
Node-copyfrom-rev: 1
Node-copyfrom-path: trunk
Prop-content-length: 10
Content-length: 10

PROPS-END

`

func TestParseDumpGraph(t *testing.T) {
	opts := &SvnGraphOptions{}
	g := NewSvnGraph(testLogger(), opts)
	g.testInput = testDump
	assert.NoError(t, g.ParseDump())
	assert.Equal(t, 2, g.revCount)

	out := g.graph.String()
	assert.Contains(t, out, "r1")
	assert.Contains(t, out, "r2")
	assert.Contains(t, out, "trunk -> branches/rel")
}

func TestParseDumpSkipsContent(t *testing.T) {
	// file content containing header-shaped lines must not confuse the parse
	text := "Revision-number: 99\nNode-path: bogus\n"
	dump := strings.Join([]string{
		"SVN-fs-dump-format-version: 2",
		"",
		"Revision-number: 1",
		"Prop-content-length: 10",
		"Content-length: 10",
		"",
		"PROPS-END",
		"",
		"Node-path: f.txt",
		"Node-kind: file",
		"Node-action: add",
		"Text-content-length: 37",
		"Content-length: 37",
		"",
		text,
		"",
	}, "\n")
	opts := &SvnGraphOptions{}
	g := NewSvnGraph(testLogger(), opts)
	g.testInput = dump
	assert.NoError(t, g.ParseDump())
	assert.Equal(t, 1, g.revCount)
}

func TestMaxRevisionsStops(t *testing.T) {
	opts := &SvnGraphOptions{maxRevisions: 1}
	g := NewSvnGraph(testLogger(), opts)
	g.testInput = testDump
	assert.NoError(t, g.ParseDump())
	assert.Equal(t, 1, g.revCount)
}
