package passes

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/WessleyAI/rulebook-ingest/engine/domain"
	"github.com/WessleyAI/rulebook-ingest/engine/fingerprint"
	"github.com/WessleyAI/rulebook-ingest/engine/ingest"
)

// ContentExtractor is Pass C: it pulls layout-aware blocks from the source,
// assigns each to its enclosing section, and fingerprints pages and
// sections. This is the pass the integrity gate watches — reporting success
// with zero chunks on a non-empty source is always a bug, never a valid
// outcome.
type ContentExtractor struct{}

func (ContentExtractor) ID() domain.PassID        { return domain.PassC }
func (ContentExtractor) RequiredInputs() []string { return []string{"toc.json"} }
func (ContentExtractor) ProducedArtifacts() []string {
	return []string{"chunks.jsonl", "page_fingerprints.json", "section_fingerprints.json"}
}

func (ContentExtractor) Execute(pc ingest.PassContext) ingest.PassResult {
	tocData, err := pc.Store.ReadArtifact(pc.JobDir, domain.PassA, "toc.json")
	if err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
	}
	var sections []TOCSection
	if err := json.Unmarshal(tocData, &sections); err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
	}

	blocks, err := pc.Adapters.PDF.Extract(pc.Ctx, pc.Source.Path)
	if err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: fmt.Sprintf("%v: %v", domain.ErrSourceUnreadable, err)}
	}

	pageTexts := make(map[int]string)
	chunks := make([]Chunk, 0, len(blocks))
	perChunkSeq := make(map[int]int)

	for _, b := range blocks {
		pageTexts[b.Page] += b.Text + "\n"
		sectionID := sectionForPage(sections, b.Page)
		seq := perChunkSeq[b.Page]
		perChunkSeq[b.Page] = seq + 1
		kind := b.Kind
		if !domain.ValidChunkKinds[kind] {
			kind = domain.KindParagraph
		}
		chunks = append(chunks, Chunk{
			ChunkID:   fmt.Sprintf("%s-p%04d-%03d", pc.Source.SourceID, b.Page, seq),
			SectionID: sectionID,
			Page:      b.Page,
			Kind:      kind,
			Text:      b.Text,
			SHA256:    fingerprint.PageSHA(b.Text),
		})
	}

	pages := make([]int, 0, len(pageTexts))
	for p := range pageTexts {
		pages = append(pages, p)
	}
	sort.Ints(pages)

	pageFingerprints := make([]PageFingerprint, 0, len(pages))
	pageSHAByNumber := make(map[int]string, len(pages))
	for _, p := range pages {
		sha := fingerprint.PageSHA(pageTexts[p])
		pageFingerprints = append(pageFingerprints, PageFingerprint{Page: p, SHA256: sha})
		pageSHAByNumber[p] = sha
	}

	sectionFingerprints := make([]SectionFingerprintRecord, 0, len(sections))
	for _, s := range sections {
		var ordered []string
		for page := s.StartPage; page <= s.EndPage; page++ {
			if sha, ok := pageSHAByNumber[page]; ok {
				ordered = append(ordered, sha)
			}
		}
		sectionFingerprints = append(sectionFingerprints, SectionFingerprintRecord{
			SectionID: s.SectionID, Title: s.Title, Depth: s.Depth,
			StartPage: s.StartPage, EndPage: s.EndPage,
			SectionSHA: fingerprint.SectionSHA(ordered),
		})
	}

	chunksData, err := marshalJSONL(chunks)
	if err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
	}
	pageFPData, err := json.Marshal(pageFingerprints)
	if err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
	}
	sectionFPData, err := json.Marshal(sectionFingerprints)
	if err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
	}

	w1, err := pc.Store.WriteArtifact(pc.JobDir, domain.PassC, "chunks.jsonl", chunksData)
	if err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
	}
	w2, err := pc.Store.WriteArtifact(pc.JobDir, domain.PassC, "page_fingerprints.json", pageFPData)
	if err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
	}
	w3, err := pc.Store.WriteArtifact(pc.JobDir, domain.PassC, "section_fingerprints.json", sectionFPData)
	if err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
	}

	return ingest.PassResult{
		Status:         domain.PassSucceeded,
		ProcessedCount: len(chunks),
		ArtifactCount:  3,
		Artifacts: []ingest.ArtifactOutput{
			{Name: "chunks.jsonl", SHA256: w1.SHA256, Bytes: w1.Bytes},
			{Name: "page_fingerprints.json", SHA256: w2.SHA256, Bytes: w2.Bytes},
			{Name: "section_fingerprints.json", SHA256: w3.SHA256, Bytes: w3.Bytes},
		},
	}
}

// sectionForPage returns the ID of the first section whose page range
// contains page, falling back to the last section (or "section-1" if there
// are none) so every block lands somewhere.
func sectionForPage(sections []TOCSection, page int) string {
	for _, s := range sections {
		if page >= s.StartPage && page <= s.EndPage {
			return s.SectionID
		}
	}
	if len(sections) > 0 {
		return sections[len(sections)-1].SectionID
	}
	return "section-1"
}
