package passes

import (
	"bufio"
	"bytes"
	"encoding/json"

	"github.com/WessleyAI/rulebook-ingest/engine/domain"
)

// Chunk is one row of pass_C/chunks.jsonl: the atomic unit every downstream
// pass (vectorization, graph building, validation) operates on.
type Chunk struct {
	ChunkID   string             `json:"chunk_id"`
	SectionID string             `json:"section_id"`
	Page      int                `json:"page"`
	Kind      domain.SectionKind `json:"kind"`
	Text      string             `json:"text"`
	SHA256    string             `json:"sha256"`
}

// PageFingerprint is one row of pass_C/page_fingerprints.json.
type PageFingerprint struct {
	Page   int    `json:"page"`
	SHA256 string `json:"sha256"`
}

// SectionFingerprintRecord is one row of pass_C/section_fingerprints.json,
// the serialized form of delta.SectionFingerprint.
type SectionFingerprintRecord struct {
	SectionID  string `json:"section_id"`
	Title      string `json:"title"`
	Depth      int    `json:"depth"`
	StartPage  int    `json:"start_page"`
	EndPage    int    `json:"end_page"`
	SectionSHA string `json:"section_sha"`
}

// VectorRecord is one row of pass_D/vectors.jsonl. The embedding itself
// lives only in the vector sink; this artifact records what was sent and
// its shape, not a duplicate copy of the vector.
type VectorRecord struct {
	ChunkID   string   `json:"chunk_id"`
	SectionID string   `json:"section_id"`
	Dim       int      `json:"dim"`
	Keywords  []string `json:"keywords,omitempty"`
}

// marshalJSONL renders items as newline-delimited JSON.
func marshalJSONL[T any](items []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// unmarshalJSONL parses newline-delimited JSON into a slice of T.
func unmarshalJSONL[T any](data []byte) ([]T, error) {
	var out []T
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var item T
		if err := json.Unmarshal(line, &item); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
