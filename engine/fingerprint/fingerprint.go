// Package fingerprint computes the stable content hashes that every other
// component in the pipeline treats as the source of truth for "has this
// content changed". All hashes are lowercase hex, 64 characters (SHA-256).
package fingerprint

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// blockSize is the minimum read chunk used by FileSHA; it never loads an
// entire file into memory.
const blockSize = 64 * 1024

// sectionSeparator is the single separator byte interposed between page
// SHAs when computing a section fingerprint.
const sectionSeparator = 0x1f

// FileSHA streams path in ≥64 KiB blocks and returns its SHA-256 as lowercase
// hex.
func FileSHA(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	r := bufio.NewReaderSize(f, blockSize)
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// NormalizePageText applies the canonical normalization: Unicode NFC,
// collapse of whitespace runs to a single space, and trimming of leading and
// trailing whitespace. This is the sole source of truth for "unchanged
// content" at page granularity.
func NormalizePageText(text string) string {
	normalized := norm.NFC.String(text)
	var b strings.Builder
	b.Grow(len(normalized))
	inSpace := false
	for _, r := range normalized {
		if unicode.IsSpace(r) {
			if !inSpace {
				b.WriteByte(' ')
				inSpace = true
			}
			continue
		}
		inSpace = false
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// PageSHA normalizes pageText and returns its SHA-256 as lowercase hex.
func PageSHA(pageText string) string {
	normalized := NormalizePageText(pageText)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// SectionSHA hashes the ordered concatenation of page SHAs with a single
// separator byte between entries, so that reordering or splitting pages
// changes the resulting digest.
func SectionSHA(orderedPageSHAs []string) string {
	h := sha256.New()
	for i, p := range orderedPageSHAs {
		if i > 0 {
			h.Write([]byte{sectionSeparator})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
