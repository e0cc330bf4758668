package content

import (
	"errors"
	"testing"
)

func TestNormalizeOrderPreservation(t *testing.T) {
	elements := []RawElement{
		{Kind: "heading", Text: "Sketch dump"},
		{Kind: "paragraph", Text: "A few works in progress."},
		{Kind: "image", URL: "https://cdn.example.com/a.png"},
		{Kind: "paragraph", Text: "More to come."},
		{Kind: "comment", Text: "Love these!"},
	}

	normalizer := NewNormalizer()
	blocks, media, err := normalizer.Run(elements)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(blocks) != 5 {
		t.Fatalf("Expected 5 blocks, got %d", len(blocks))
	}

	// Order fields must be strictly increasing and match encounter order
	for i, block := range blocks {
		if block.Order != i {
			t.Errorf("Block %d has order %d", i, block.Order)
		}
	}

	expectedTypes := []BlockType{BlockHeading, BlockParagraph, BlockImage, BlockParagraph, BlockComment}
	for i, expected := range expectedTypes {
		if blocks[i].Type != expected {
			t.Errorf("Block %d: expected type %s, got %s", i, expected, blocks[i].Type)
		}
	}

	if len(media) != 1 {
		t.Fatalf("Expected 1 media descriptor, got %d", len(media))
	}
	if media[0].BlockIndex != 2 {
		t.Errorf("Expected media block index 2, got %d", media[0].BlockIndex)
	}
	if media[0].RemoteURL != "https://cdn.example.com/a.png" {
		t.Errorf("Unexpected media URL: %s", media[0].RemoteURL)
	}
}

func TestNormalizeUnknownKindFallback(t *testing.T) {
	elements := []RawElement{
		{Kind: "poll", Text: "Which one should I finish first?"},
	}

	normalizer := NewNormalizer()
	blocks, _, err := normalizer.Run(elements)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(blocks) != 1 {
		t.Fatalf("Expected 1 block, got %d", len(blocks))
	}
	if blocks[0].Type != BlockText {
		t.Errorf("Expected unknown kind to become text block, got %s", blocks[0].Type)
	}
	if blocks[0].Text != "Which one should I finish first?" {
		t.Errorf("Unexpected text: %s", blocks[0].Text)
	}
}

func TestNormalizeEmptyStream(t *testing.T) {
	normalizer := NewNormalizer()
	_, _, err := normalizer.Run(nil)
	if err == nil {
		t.Fatal("Expected error for empty stream")
	}

	var malformed *MalformedContentError
	if !errors.As(err, &malformed) {
		t.Errorf("Expected MalformedContentError, got %T", err)
	}
}

func TestNormalizeMediaRoles(t *testing.T) {
	elements := []RawElement{
		{Kind: "image", URL: "https://cdn.example.com/cover.png", Attrs: map[string]string{"role": "cover"}},
		{Kind: "video", URL: "https://cdn.example.com/clip.mp4"},
		{Kind: "audio", URL: "https://cdn.example.com/track.mp3"},
	}

	normalizer := NewNormalizer()
	blocks, media, err := normalizer.Run(elements)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(blocks) != 3 || len(media) != 3 {
		t.Fatalf("Expected 3 blocks and 3 descriptors, got %d and %d", len(blocks), len(media))
	}
	if media[0].Role != "cover" {
		t.Errorf("Expected first media role 'cover', got '%s'", media[0].Role)
	}
	if media[1].Role != "inline" {
		t.Errorf("Expected second media role 'inline', got '%s'", media[1].Role)
	}
	if media[2].Kind != "audio" {
		t.Errorf("Expected third media kind 'audio', got '%s'", media[2].Kind)
	}
}

func TestNormalizeMediaWithoutURL(t *testing.T) {
	elements := []RawElement{
		{Kind: "image", Text: "broken embed"},
	}

	normalizer := NewNormalizer()
	blocks, media, err := normalizer.Run(elements)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(media) != 0 {
		t.Errorf("Expected no media descriptors, got %d", len(media))
	}
	if len(blocks) != 1 || blocks[0].Type != BlockText {
		t.Errorf("Expected a single text fallback block, got %+v", blocks)
	}
}

func TestStripMarkup(t *testing.T) {
	cases := []struct {
		input    string
		expected string
	}{
		{"plain text", "plain text"},
		{"<b>bold</b> and <i>italic</i>", "bold and italic"},
		{"  padded  ", "padded"},
		{`<a href="https://example.com">link</a>`, "link"},
	}

	for _, c := range cases {
		if got := stripMarkup(c.input); got != c.expected {
			t.Errorf("stripMarkup(%q): expected %q, got %q", c.input, c.expected, got)
		}
	}
}

func TestNormalizeHTMLElement(t *testing.T) {
	html := `
	<!DOCTYPE html>
	<html>
	<head><title>Post</title></head>
	<body>
		<article>
			<p>This is the first paragraph of a longer post body with enough text for the readability algorithm to treat it as main content.</p>
			<p>This is the second paragraph, also carrying a reasonable amount of prose so extraction has something to work with.</p>
		</article>
	</body>
	</html>`

	elements := []RawElement{
		{Kind: "html", Text: html},
	}

	normalizer := NewNormalizer()
	blocks, _, err := normalizer.Run(elements)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(blocks) == 0 {
		t.Fatal("Expected extracted paragraph blocks")
	}
	for _, block := range blocks {
		if block.Type != BlockParagraph {
			t.Errorf("Expected paragraph block, got %s", block.Type)
		}
	}
}

func TestBlockIsBody(t *testing.T) {
	body := []BlockType{BlockParagraph, BlockHeading, BlockListItem, BlockText}
	for _, bt := range body {
		if !(Block{Type: bt}).IsBody() {
			t.Errorf("Expected %s to be a body block", bt)
		}
	}

	nonBody := []BlockType{BlockImage, BlockVideo, BlockAudio, BlockComment}
	for _, bt := range nonBody {
		if (Block{Type: bt}).IsBody() {
			t.Errorf("Expected %s not to be a body block", bt)
		}
	}
}
