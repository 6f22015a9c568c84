package ingest

import (
	"os"
	"path/filepath"
	"strings"
)

func statSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// deriveSourceID derives a stable source_id from the canonical filename,
// stripping the directory and extension so the same document re-ingested
// from a different path still resolves to the same Gate 0 key's sibling
// identity (the SHA, not the path, is what Gate 0 actually keys on — this
// just keeps job directory names readable).
func deriveSourceID(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext)
}
