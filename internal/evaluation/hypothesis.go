package evaluation

import (
	"strings"

	"github.com/docfold/docbench/internal/engine"
)

// hypothesisHeadings prefers explicit headings, then heading/title layout
// blocks, then markdown heading lines.
func hypothesisHeadings(out *engine.Outcome) []string {
	if out.Headings != nil {
		return out.Headings
	}

	var fromBoxes []string
	for _, b := range out.BoundingBoxes {
		switch strings.ToLower(b.Type) {
		case engine.BlockHeading, engine.BlockTitle, "section_header":
			if t := strings.TrimSpace(b.Text); t != "" {
				fromBoxes = append(fromBoxes, t)
			}
		}
	}
	if len(fromBoxes) > 0 {
		return fromBoxes
	}

	var fromMarkdown []string
	for _, line := range strings.Split(out.Content, "\n") {
		if h, ok := markdownHeading(line); ok {
			fromMarkdown = append(fromMarkdown, h)
		}
	}
	return fromMarkdown
}

// markdownHeading parses an ATX heading line ("## Title").
func markdownHeading(line string) (string, bool) {
	line = strings.TrimSpace(line)
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level == 0 || level > 6 {
		return "", false
	}
	rest := line[level:]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return "", false
	}
	text := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(rest), "#"))
	return text, text != ""
}

// hypothesisReadingOrder prefers an explicit order, then text-bearing layout
// blocks in reported order, then blank-line separated paragraphs of the content.
func hypothesisReadingOrder(out *engine.Outcome) []string {
	if out.ReadingOrder != nil {
		return out.ReadingOrder
	}

	var fromBoxes []string
	for _, b := range out.BoundingBoxes {
		if t := strings.TrimSpace(b.Text); t != "" {
			fromBoxes = append(fromBoxes, t)
		}
	}
	if len(fromBoxes) > 0 {
		return fromBoxes
	}

	return paragraphs(out.Content)
}

func paragraphs(content string) []string {
	var out []string
	var current []string
	flush := func() {
		if len(current) > 0 {
			out = append(out, strings.Join(current, " "))
			current = current[:0]
		}
	}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			flush()
			continue
		}
		if h, ok := markdownHeading(line); ok {
			flush()
			out = append(out, h)
			continue
		}
		current = append(current, line)
	}
	flush()
	return out
}
