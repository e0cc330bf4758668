package search

import (
	"reflect"
	"testing"

	"github.com/klaudstn/postvault/app/content"
)

func TestTokenize(t *testing.T) {
	cases := []struct {
		input    string
		expected []string
	}{
		{"Hello World", []string{"hello", "world"}},
		{"café Déjà-vu", []string{"cafe", "deja", "vu"}},
		{"one, two; THREE!", []string{"one", "two", "three"}},
		{"a b c", nil},
		{"", nil},
		{"sketch2026", []string{"sketch2026"}},
	}

	for _, c := range cases {
		got := Tokenize(c.input)
		if len(got) == 0 && len(c.expected) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, c.expected) {
			t.Errorf("Tokenize(%q): expected %v, got %v", c.input, c.expected, got)
		}
	}
}

func TestTokenCounts(t *testing.T) {
	counts := TokenCounts("wolf wolf den")
	if counts["wolf"] != 2 {
		t.Errorf("Expected count 2 for 'wolf', got %d", counts["wolf"])
	}
	if counts["den"] != 1 {
		t.Errorf("Expected count 1 for 'den', got %d", counts["den"])
	}
}

func TestBodyTextDerivedFromBlocks(t *testing.T) {
	blocks := []content.Block{
		{Type: content.BlockHeading, Text: "Process video", Order: 0},
		{Type: content.BlockParagraph, Text: "Timelapse of the full painting.", Order: 1},
		{Type: content.BlockImage, MediaRef: "abc", Order: 2},
		{Type: content.BlockListItem, Text: "brushes used", Order: 3},
		{Type: content.BlockComment, Text: "amazing work", Order: 4},
	}

	body := BodyText(blocks)
	expected := "Process video Timelapse of the full painting. brushes used"
	if body != expected {
		t.Errorf("Expected body %q, got %q", expected, body)
	}

	comments := CommentText(blocks)
	if comments != "amazing work" {
		t.Errorf("Expected comment text 'amazing work', got %q", comments)
	}
}

func TestBodyTextEmptyBlocks(t *testing.T) {
	if BodyText(nil) != "" {
		t.Error("Expected empty body text for no blocks")
	}

	blocks := []content.Block{
		{Type: content.BlockImage, MediaRef: "abc", Order: 0},
	}
	if BodyText(blocks) != "" {
		t.Error("Expected empty body text for media-only blocks")
	}
}
