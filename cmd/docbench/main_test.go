package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docfold/docbench/internal/evaluation"
	"github.com/docfold/docbench/internal/report"
)

func TestPreview(t *testing.T) {
	assert.Equal(t, "a b c", preview("a\n  b\tc", 10))
	assert.Equal(t, "héll...", preview("héllo world", 4))
	assert.Equal(t, "", preview("   ", 5))
}

func TestFmtMetric(t *testing.T) {
	assert.Equal(t, "-", fmtMetric(nil))
	assert.Equal(t, "0.2500", fmtMetric(evaluation.Float(0.25)))
	assert.Equal(t, "-", fmtMillis(nil))
	assert.Equal(t, "12", fmtMillis(evaluation.Float(12.4)))
}

func TestProgressPrinter(t *testing.T) {
	var buf bytes.Buffer
	obs := progressPrinter(&buf)

	obs.Observe(evaluation.Progress{Status: evaluation.StatusStarted, DocumentID: "d1"})
	obs.Observe(evaluation.Progress{
		Current: 1, Total: 2, DocumentID: "d1", BackendName: "plaintext",
		Status: evaluation.StatusFailed, Error: "boom",
	})

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "\n"))
	assert.Contains(t, out, "[1/2] d1 × plaintext")
	assert.Contains(t, out, ": boom")
}

func TestPrintSummary(t *testing.T) {
	rep := &report.Report{BackendSummaries: []report.EngineSummary{{
		BackendName: "plaintext",
		ScoredCount: 3,
		AvgCER:      evaluation.Float(0.1),
	}}}

	var buf bytes.Buffer
	printSummary(&buf, rep)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "plaintext")
	assert.Contains(t, lines[1], "0.1000")
}

func TestVersionCmd(t *testing.T) {
	var buf bytes.Buffer
	cmd := versionCmd()
	cmd.SetOut(&buf)
	cmd.SetArgs(nil)
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "docbench dev")
}

func TestColorEnabled(t *testing.T) {
	on, err := colorEnabled("always")
	require.NoError(t, err)
	assert.True(t, on)

	off, err := colorEnabled("never")
	require.NoError(t, err)
	assert.False(t, off)

	_, err = colorEnabled("sometimes")
	assert.Error(t, err)
}
