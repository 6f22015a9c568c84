// Package pdfextract implements ingest.PDFExtractor on top of two
// complementary PDF libraries: ledongthuc/pdf for page-level text and
// layout extraction, and pdfcpu for page counting, page-range splitting,
// and bookmark/outline discovery.
package pdfextract

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/WessleyAI/rulebook-ingest/engine/domain"
	"github.com/WessleyAI/rulebook-ingest/engine/ingest"
)

// Extractor implements ingest.PDFExtractor.
type Extractor struct {
	conf *model.Configuration
}

// New returns an Extractor configured with pdfcpu's default configuration.
func New() *Extractor {
	return &Extractor{conf: model.NewDefaultConfiguration()}
}

var _ ingest.PDFExtractor = (*Extractor)(nil)

// PageCount implements ingest.PDFExtractor.
func (e *Extractor) PageCount(ctx context.Context, path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("pdfextract: page count %s: %w", path, err)
	}
	return n, nil
}

// Split implements ingest.PDFExtractor, writing pages [startPage, endPage]
// inclusive to destPath.
func (e *Extractor) Split(ctx context.Context, path, destPath string, startPage, endPage int) error {
	selected := []string{fmt.Sprintf("%d-%d", startPage, endPage)}
	if err := api.TrimFile(path, destPath, selected, e.conf); err != nil {
		return fmt.Errorf("pdfextract: trim %s [%d-%d]: %w", path, startPage, endPage, err)
	}
	return nil
}

// bookmarkNode mirrors the shape pdfcpu writes when exporting bookmarks to
// JSON: a title, the page it starts on, and nested child bookmarks.
type bookmarkNode struct {
	Title    string         `json:"title"`
	PageFrom int            `json:"pageFrom"`
	Kids     []bookmarkNode `json:"kids"`
}

// Outline implements ingest.PDFExtractor. pdfcpu's bookmark export is the
// only structural-outline source this adapter has; a PDF with no bookmarks,
// or an export pdfcpu can't produce, degrades to a nil slice rather than an
// error so Pass A's heading-inference fallback can take over.
func (e *Extractor) Outline(ctx context.Context, path string) ([]ingest.OutlineEntry, error) {
	tmp, err := os.CreateTemp("", "pdfextract-bookmarks-*.json")
	if err != nil {
		return nil, fmt.Errorf("pdfextract: create bookmark scratch file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := api.ExportBookmarksFile(path, tmpPath, e.conf); err != nil {
		return nil, nil
	}

	data, err := os.ReadFile(tmpPath)
	if err != nil || len(data) == 0 {
		return nil, nil
	}

	var nodes []bookmarkNode
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, nil
	}
	if len(nodes) == 0 {
		return nil, nil
	}

	var entries []ingest.OutlineEntry
	flattenBookmarks(nodes, 0, &entries)
	return entries, nil
}

func flattenBookmarks(nodes []bookmarkNode, depth int, out *[]ingest.OutlineEntry) {
	for _, n := range nodes {
		*out = append(*out, ingest.OutlineEntry{
			Title:     n.Title,
			StartPage: n.PageFrom,
			Depth:     depth,
		})
		if len(n.Kids) > 0 {
			flattenBookmarks(n.Kids, depth+1, out)
		}
	}
}

// Extract implements ingest.PDFExtractor, producing one block per
// non-blank text run pdf reports on each page.
func (e *Extractor) Extract(ctx context.Context, path string) ([]ingest.ExtractedBlock, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pdfextract: open %s: %w", path, err)
	}
	defer f.Close()

	var blocks []ingest.ExtractedBlock
	total := r.NumPage()
	for pageNum := 1; pageNum <= total; pageNum++ {
		page := r.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		content := page.Content()
		for _, text := range content.Text {
			if isBlank(text.S) {
				continue
			}
			blocks = append(blocks, ingest.ExtractedBlock{
				Page: pageNum,
				Kind: classifyRun(text),
				Text: text.S,
				BBox: [4]float64{text.X, text.Y, text.X + text.W, text.Y + text.FontSize},
			})
		}
	}
	return blocks, nil
}

// classifyRun makes a rough layout call from font size and font family: a run set
// noticeably larger than body text reads as a title, a run in a
// monospace-style family reads as a table (stat blocks are laid out as
// tabular text in most rulebooks), everything else is a plain paragraph
// run. Pass A's outline/LM path is the authoritative section boundary
// signal; this only shapes Pass C's per-block Kind.
func classifyRun(t pdf.Text) domain.SectionKind {
	switch {
	case t.FontSize >= 14:
		return domain.KindTitle
	case isMonospaceFont(t.Font):
		return domain.KindTable
	default:
		return domain.KindParagraph
	}
}

func isMonospaceFont(font string) bool {
	for _, marker := range []string{"Mono", "Courier", "Consolas"} {
		if containsFold(font, marker) {
			return true
		}
	}
	return false
}

func containsFold(haystack, needle string) bool {
	hl, nl := len(haystack), len(needle)
	if nl == 0 || nl > hl {
		return nl == 0
	}
	for i := 0; i+nl <= hl; i++ {
		if equalFold(haystack[i:i+nl], needle) {
			return true
		}
	}
	return false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 32
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 32
		}
		if ca != cb {
			return false
		}
	}
	return true
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}
