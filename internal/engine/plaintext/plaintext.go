// Package plaintext is an extraction backend for text-native documents.
package plaintext

import (
	"context"
	"fmt"
	"html"
	"os"
	"regexp"
	"strings"

	"github.com/docfold/docbench/internal/engine"
)

var (
	reTag     = regexp.MustCompile(`(?s)<[^>]*>`)
	reScript  = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	reHeading = regexp.MustCompile(`(?is)<h([1-6])[^>]*>(.*?)</h[1-6]>`)
	reBlock   = regexp.MustCompile(`(?i)</?(p|div|br|li|tr|h[1-6]|section|article|table)[^>]*>`)
)

// Engine reads txt, md and html files without any layout analysis.
type Engine struct{}

// New creates the plaintext engine.
func New() *Engine { return &Engine{} }

func (e *Engine) Name() string         { return "plaintext" }
func (e *Engine) Extensions() []string { return []string{"txt", "md", "markdown", "html", "htm"} }
func (e *Engine) Available() bool      { return true }

// Extract reads the file. Markdown keeps its markup so heading lines survive;
// HTML is reduced to text with headings rendered as markdown.
func (e *Engine) Extract(ctx context.Context, path string) (*engine.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	content := strings.ReplaceAll(string(data), "\r\n", "\n")

	out := &engine.Outcome{EngineName: e.Name(), Pages: 1}
	switch engine.Ext(path) {
	case "md", "markdown":
		out.Content = content
		out.Format = engine.FormatMarkdown
	case "html", "htm":
		out.Content, out.Headings = htmlToMarkdown(content)
		out.Format = engine.FormatMarkdown
	default:
		out.Content = content
		out.Format = engine.FormatText
	}
	return out, nil
}

func htmlToMarkdown(src string) (string, []string) {
	src = reScript.ReplaceAllString(src, "")

	headings := []string{}
	src = reHeading.ReplaceAllStringFunc(src, func(m string) string {
		parts := reHeading.FindStringSubmatch(m)
		text := strings.Join(strings.Fields(html.UnescapeString(reTag.ReplaceAllString(parts[2], ""))), " ")
		if text == "" {
			return ""
		}
		headings = append(headings, text)
		return "\n\n" + strings.Repeat("#", int(parts[1][0]-'0')) + " " + text + "\n\n"
	})

	src = reBlock.ReplaceAllString(src, "\n\n")
	src = html.UnescapeString(reTag.ReplaceAllString(src, ""))

	var blocks []string
	for _, b := range strings.Split(src, "\n\n") {
		if t := strings.Join(strings.Fields(b), " "); t != "" {
			blocks = append(blocks, t)
		}
	}
	return strings.Join(blocks, "\n\n"), headings
}
