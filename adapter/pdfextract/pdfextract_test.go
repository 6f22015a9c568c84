package pdfextract

import (
	"testing"

	"github.com/ledongthuc/pdf"

	"github.com/WessleyAI/rulebook-ingest/engine/domain"
	"github.com/WessleyAI/rulebook-ingest/engine/ingest"
)

func TestClassifyRun(t *testing.T) {
	cases := []struct {
		name string
		text pdf.Text
		want domain.SectionKind
	}{
		{"large font is a title", pdf.Text{FontSize: 18, Font: "Helvetica"}, domain.KindTitle},
		{"monospace font is a table", pdf.Text{FontSize: 10, Font: "Courier-Bold"}, domain.KindTable},
		{"plain body text is a paragraph", pdf.Text{FontSize: 10, Font: "Helvetica"}, domain.KindParagraph},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := classifyRun(c.text); got != c.want {
				t.Errorf("classifyRun(%+v) = %s, want %s", c.text, got, c.want)
			}
		})
	}
}

func TestIsMonospaceFont(t *testing.T) {
	cases := map[string]bool{
		"Courier":          true,
		"CourierNewPSMT":   true,
		"DejaVu Sans Mono": true,
		"consolas":         true,
		"Helvetica":        false,
		"":                 false,
	}
	for font, want := range cases {
		if got := isMonospaceFont(font); got != want {
			t.Errorf("isMonospaceFont(%q) = %v, want %v", font, got, want)
		}
	}
}

func TestIsBlank(t *testing.T) {
	if !isBlank("   \t\n") {
		t.Error("expected whitespace-only string to be blank")
	}
	if isBlank("  x ") {
		t.Error("expected string with content to not be blank")
	}
	if !isBlank("") {
		t.Error("expected empty string to be blank")
	}
}

func TestFlattenBookmarks(t *testing.T) {
	nodes := []bookmarkNode{
		{Title: "Introduction", PageFrom: 1},
		{Title: "Combat", PageFrom: 10, Kids: []bookmarkNode{
			{Title: "Actions", PageFrom: 11},
			{Title: "Conditions", PageFrom: 15},
		}},
	}
	var out []ingest.OutlineEntry
	flattenBookmarks(nodes, 0, &out)

	if len(out) != 4 {
		t.Fatalf("expected 4 flattened entries, got %d", len(out))
	}
	if out[0].Depth != 0 || out[1].Depth != 0 {
		t.Errorf("expected top-level entries at depth 0, got %+v", out[:2])
	}
	if out[2].Depth != 1 || out[3].Depth != 1 {
		t.Errorf("expected nested entries at depth 1, got %+v", out[2:])
	}
}
