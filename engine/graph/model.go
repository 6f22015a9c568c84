// Package graph implements the Neo4j-backed knowledge graph that Pass E
// writes to and Pass F/Pass G read back from: sections, chunks, entities,
// and concepts linked by contains/refers_to/part_of/cites edges.
package graph

// Node mirrors ingest.GraphNode for storage-layer purposes, kept separate so
// this package has no import-time dependency on the ingest package.
type Node struct {
	ID         string
	Label      string
	Properties map[string]any
}

// Edge mirrors ingest.GraphEdge.
type Edge struct {
	FromID string
	ToID   string
	Type   string
}
