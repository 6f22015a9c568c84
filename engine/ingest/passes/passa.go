// Package passes implements the seven concrete pipeline stages, A through G,
// against the ingest.Pass contract.
package passes

import (
	"encoding/json"
	"fmt"

	"github.com/WessleyAI/rulebook-ingest/engine/domain"
	"github.com/WessleyAI/rulebook-ingest/engine/ingest"
)

// TOCSection is one entry written to pass_A/toc.json.
type TOCSection struct {
	SectionID string `json:"section_id"`
	Title     string `json:"title"`
	StartPage int    `json:"start_page"`
	EndPage   int    `json:"end_page"`
	Depth     int    `json:"depth"`
}

// TOCParser is Pass A: it identifies the document's logical section
// structure, preferring the PDF's own outline and falling back to a
// language-model heading pass, and finally to a single top-level section
// when no structure can be discovered at all.
type TOCParser struct{}

func (TOCParser) ID() domain.PassID           { return domain.PassA }
func (TOCParser) RequiredInputs() []string    { return nil }
func (TOCParser) ProducedArtifacts() []string { return []string{"toc.json"} }

func (TOCParser) Execute(pc ingest.PassContext) ingest.PassResult {
	pageCount, err := pc.Adapters.PDF.PageCount(pc.Ctx, pc.Source.Path)
	if err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: fmt.Sprintf("%v: %v", domain.ErrSourceUnreadable, err)}
	}

	sections, err := sectionsFromOutline(pc, pageCount)
	if err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
	}
	if len(sections) == 0 {
		sections = []TOCSection{{SectionID: "section-1", Title: "Full Document", StartPage: 1, EndPage: pageCount, Depth: 0}}
	}

	data, err := json.Marshal(sections)
	if err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
	}
	written, err := pc.Store.WriteArtifact(pc.JobDir, domain.PassA, "toc.json", data)
	if err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
	}

	return ingest.PassResult{
		Status:         domain.PassSucceeded,
		ProcessedCount: len(sections),
		ArtifactCount:  1,
		Artifacts:      []ingest.ArtifactOutput{{Name: "toc.json", SHA256: written.SHA256, Bytes: written.Bytes}},
	}
}

// sectionsFromOutline prefers the PDF's structural bookmarks; if the
// document has none, it asks the language model to propose headings from the
// text of the first page (best effort — a model error here is not
// fatal, since Pass A must never fail on a structurally-valid but
// TOC-less document).
func sectionsFromOutline(pc ingest.PassContext, pageCount int) ([]TOCSection, error) {
	outline, err := pc.Adapters.PDF.Outline(pc.Ctx, pc.Source.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSourceUnreadable, err)
	}
	if len(outline) > 0 {
		return sectionsFromEntries(outline, pageCount), nil
	}

	if pc.Adapters.LM == nil {
		return nil, nil
	}
	blocks, err := pc.Adapters.PDF.Extract(pc.Ctx, pc.Source.Path)
	if err != nil || len(blocks) == 0 {
		return nil, nil
	}
	firstPageText := ""
	for _, b := range blocks {
		if b.Page == 1 {
			firstPageText += b.Text + "\n"
		}
	}
	if firstPageText == "" {
		return nil, nil
	}
	prompt := "List the top-level section headings of this rulebook, one per line, from its front matter:\n\n" + firstPageText
	completion, err := pc.Adapters.LM.Complete(pc.Ctx, prompt, 512)
	if err != nil || completion == "" {
		return nil, nil
	}
	return sectionsFromHeadingLines(completion, pageCount), nil
}

func sectionsFromEntries(entries []ingest.OutlineEntry, pageCount int) []TOCSection {
	out := make([]TOCSection, 0, len(entries))
	for i, e := range entries {
		end := pageCount
		if i+1 < len(entries) {
			end = entries[i+1].StartPage - 1
		}
		if end < e.StartPage {
			end = e.StartPage
		}
		out = append(out, TOCSection{
			SectionID: fmt.Sprintf("section-%d", i+1),
			Title:     e.Title,
			StartPage: e.StartPage,
			EndPage:   end,
			Depth:     e.Depth,
		})
	}
	return out
}

func sectionsFromHeadingLines(completion string, pageCount int) []TOCSection {
	lines := splitNonEmptyLines(completion)
	if len(lines) == 0 {
		return nil
	}
	// Without real page anchors from the model, spread headings evenly
	// across the document; this is a best-effort fallback, not a precise
	// page mapping.
	span := pageCount / len(lines)
	if span < 1 {
		span = 1
	}
	out := make([]TOCSection, 0, len(lines))
	for i, title := range lines {
		start := i*span + 1
		end := start + span - 1
		if i == len(lines)-1 || end > pageCount {
			end = pageCount
		}
		out = append(out, TOCSection{
			SectionID: fmt.Sprintf("section-%d", i+1),
			Title:     title,
			StartPage: start,
			EndPage:   end,
			Depth:     0,
		})
	}
	return out
}

func splitNonEmptyLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '\n' {
			line := trimSpace(s[start:i])
			if line != "" {
				out = append(out, line)
			}
			start = i + 1
		}
	}
	return out
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpaceByte(s[start]) {
		start++
	}
	for end > start && isSpaceByte(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}
