package passes

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/WessleyAI/rulebook-ingest/engine/domain"
	"github.com/WessleyAI/rulebook-ingest/engine/ingest"
	"github.com/WessleyAI/rulebook-ingest/pkg/gazetteer"
)

// GraphBuilder is Pass E: it stages a GraphDelta covering every section,
// chunk, and recognized entity from the current run, canonicalizes entity
// mentions by lowercased term, and applies nodes before edges so the sink
// never observes a dangling reference mid-apply.
type GraphBuilder struct{}

func (GraphBuilder) ID() domain.PassID           { return domain.PassE }
func (GraphBuilder) RequiredInputs() []string    { return []string{"toc.json", "chunks.jsonl"} }
func (GraphBuilder) ProducedArtifacts() []string { return []string{"graph_delta.json"} }

func (GraphBuilder) Execute(pc ingest.PassContext) ingest.PassResult {
	tocData, err := pc.Store.ReadArtifact(pc.JobDir, domain.PassA, "toc.json")
	if err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
	}
	var sections []TOCSection
	if err := json.Unmarshal(tocData, &sections); err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
	}

	chunksData, err := pc.Store.ReadArtifact(pc.JobDir, domain.PassC, "chunks.jsonl")
	if err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
	}
	chunks, err := unmarshalJSONL[Chunk](chunksData)
	if err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
	}

	var nodes []ingest.GraphNode
	var edges []ingest.GraphEdge

	nodes = append(nodes, sectionNodes(sections)...)
	edges = append(edges, sectionHierarchyEdges(sections)...)

	seenEntity := make(map[string]bool)
	seenConcept := make(map[string]bool)

	for _, c := range chunks {
		nodes = append(nodes, ingest.GraphNode{
			ID:    c.ChunkID,
			Label: "Chunk",
			Properties: map[string]any{
				"section_id": c.SectionID,
				"page":       c.Page,
				"kind":       string(c.Kind),
			},
		})
		edges = append(edges, ingest.GraphEdge{FromID: c.SectionID, ToID: c.ChunkID, Type: "contains"})

		for _, m := range gazetteer.Extract(c.Text) {
			entityID := "entity:" + strings.ToLower(m.Term)
			if !seenEntity[entityID] {
				seenEntity[entityID] = true
				nodes = append(nodes, ingest.GraphNode{ID: entityID, Label: "Entity", Properties: map[string]any{"term": m.Term, "category": m.Category}})
			}
			edges = append(edges, ingest.GraphEdge{FromID: c.ChunkID, ToID: entityID, Type: "refers_to"})

			conceptID := "concept:" + m.Category
			if !seenConcept[conceptID] {
				seenConcept[conceptID] = true
				nodes = append(nodes, ingest.GraphNode{ID: conceptID, Label: "Concept", Properties: map[string]any{"category": m.Category}})
			}
			edges = append(edges, ingest.GraphEdge{FromID: entityID, ToID: conceptID, Type: "part_of"})
		}
	}

	delta := ingest.GraphDelta{NodesUpsert: nodes, EdgesUpsert: edges}
	if err := pc.Adapters.GraphSink.ApplyDelta(pc.Ctx, delta); err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: fmt.Sprintf("%v: %v", domain.ErrExternalUnavailable, err)}
	}

	data, err := json.Marshal(delta)
	if err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
	}
	w, err := pc.Store.WriteArtifact(pc.JobDir, domain.PassE, "graph_delta.json", data)
	if err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
	}

	return ingest.PassResult{
		Status:         domain.PassSucceeded,
		ProcessedCount: len(chunks),
		ArtifactCount:  1,
		Artifacts:      []ingest.ArtifactOutput{{Name: "graph_delta.json", SHA256: w.SHA256, Bytes: w.Bytes}},
	}
}

func sectionNodes(sections []TOCSection) []ingest.GraphNode {
	out := make([]ingest.GraphNode, 0, len(sections))
	for _, s := range sections {
		out = append(out, ingest.GraphNode{
			ID:    s.SectionID,
			Label: "Section",
			Properties: map[string]any{
				"title":      s.Title,
				"depth":      s.Depth,
				"start_page": s.StartPage,
				"end_page":   s.EndPage,
			},
		})
	}
	return out
}

// sectionHierarchyEdges links each section to the nearest preceding section
// at depth-1, approximating the document's outline nesting without needing
// an explicit parent pointer in TOCSection.
func sectionHierarchyEdges(sections []TOCSection) []ingest.GraphEdge {
	var edges []ingest.GraphEdge
	var stack []TOCSection
	for _, s := range sections {
		for len(stack) > 0 && stack[len(stack)-1].Depth >= s.Depth {
			stack = stack[:len(stack)-1]
		}
		if len(stack) > 0 {
			edges = append(edges, ingest.GraphEdge{FromID: s.SectionID, ToID: stack[len(stack)-1].SectionID, Type: "part_of"})
		}
		stack = append(stack, s)
	}
	return edges
}
