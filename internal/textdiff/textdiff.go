// Package textdiff renders line diffs between reference text and extracted
// text, for inspecting where an engine's output drifts from the annotation.
package textdiff

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// DefaultContext is the number of unchanged lines shown around a change.
const DefaultContext = 3

// Options controls rendering.
type Options struct {
	// Context is the number of unchanged lines around each change.
	// Negative shows every line.
	Context int
	// Color wraps inserted and deleted lines in ANSI colors.
	Color bool
	// RefLabel and HypLabel name the two sides in the header.
	RefLabel string
	HypLabel string
}

// Result is a rendered diff with line statistics.
type Result struct {
	Text      string `json:"diff"`
	Inserted  int    `json:"inserted_lines"`
	Deleted   int    `json:"deleted_lines"`
	Unchanged int    `json:"unchanged_lines"`
}

// Identical reports whether both sides had the same lines.
func (r *Result) Identical() bool { return r.Inserted == 0 && r.Deleted == 0 }

type opKind int

const (
	opEqual opKind = iota
	opDelete
	opInsert
)

type op struct {
	kind     opKind
	line     string
	ref, hyp int // 1-based line numbers before this op
}

// Lines diffs ref against hyp line by line.
func Lines(ref, hyp string, opts Options) Result {
	ops := lineOps(ref, hyp)

	var res Result
	for _, o := range ops {
		switch o.kind {
		case opEqual:
			res.Unchanged++
		case opDelete:
			res.Deleted++
		case opInsert:
			res.Inserted++
		}
	}
	if res.Identical() {
		return res
	}

	refLabel, hypLabel := opts.RefLabel, opts.HypLabel
	if refLabel == "" {
		refLabel = "reference"
	}
	if hypLabel == "" {
		hypLabel = "extracted"
	}

	p := painter{enabled: opts.Color}
	var b strings.Builder
	b.WriteString(p.paint(color.FgRed, "--- "+refLabel))
	b.WriteByte('\n')
	b.WriteString(p.paint(color.FgGreen, "+++ "+hypLabel))
	b.WriteByte('\n')
	for _, h := range hunks(ops, opts.Context) {
		writeHunk(&b, p, ops[h[0]:h[1]])
	}
	res.Text = b.String()
	return res
}

func lineOps(ref, hyp string) []op {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(ref, hyp)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var ops []op
	refLine, hypLine := 1, 1
	for _, d := range diffs {
		for _, line := range splitLines(d.Text) {
			o := op{line: line, ref: refLine, hyp: hypLine}
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				o.kind = opEqual
				refLine++
				hypLine++
			case diffmatchpatch.DiffDelete:
				o.kind = opDelete
				refLine++
			case diffmatchpatch.DiffInsert:
				o.kind = opInsert
				hypLine++
			}
			ops = append(ops, o)
		}
	}
	return ops
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// hunks returns [start, end) ranges of ops to print.
func hunks(ops []op, context int) [][2]int {
	if context < 0 {
		return [][2]int{{0, len(ops)}}
	}

	var out [][2]int
	for i, o := range ops {
		if o.kind == opEqual {
			continue
		}
		start := max(i-context, 0)
		end := min(i+context+1, len(ops))
		if n := len(out); n > 0 && start <= out[n-1][1] {
			out[n-1][1] = max(out[n-1][1], end)
			continue
		}
		out = append(out, [2]int{start, end})
	}
	return out
}

func writeHunk(b *strings.Builder, p painter, ops []op) {
	var refCount, hypCount int
	for _, o := range ops {
		if o.kind != opInsert {
			refCount++
		}
		if o.kind != opDelete {
			hypCount++
		}
	}
	header := fmt.Sprintf("@@ -%d,%d +%d,%d @@", ops[0].ref, refCount, ops[0].hyp, hypCount)
	b.WriteString(p.paint(color.FgCyan, header))
	b.WriteByte('\n')

	for _, o := range ops {
		switch o.kind {
		case opEqual:
			b.WriteString(" " + o.line)
		case opDelete:
			b.WriteString(p.paint(color.FgRed, "-"+o.line))
		case opInsert:
			b.WriteString(p.paint(color.FgGreen, "+"+o.line))
		}
		b.WriteByte('\n')
	}
}

type painter struct{ enabled bool }

func (p painter) paint(attr color.Attribute, s string) string {
	if !p.enabled {
		return s
	}
	c := color.New(attr)
	c.EnableColor()
	return c.Sprint(s)
}
