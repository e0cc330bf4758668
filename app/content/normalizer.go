package content

import (
	"fmt"
	"log/slog"
	"strings"

	readability "codeberg.org/readeck/go-readability"
	"github.com/PuerkitoBio/goquery"
)

// MalformedContentError signals a raw element stream the normalizer
// cannot safely interpret. The raw payload is preserved on the error so
// the failed item can be inspected offline.
type MalformedContentError struct {
	Reason string
	Raw    []RawElement
}

func (e *MalformedContentError) Error() string {
	return fmt.Sprintf("malformed content: %s", e.Reason)
}

type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Run converts an ordered raw element stream into typed blocks plus the
// media descriptors referenced by them. Output block order equals input
// encounter order; unknown element kinds become text blocks instead of
// being dropped.
func (n *Normalizer) Run(elements []RawElement) ([]Block, []MediaDescriptor, error) {
	if len(elements) == 0 {
		return nil, nil, &MalformedContentError{Reason: "empty element stream"}
	}

	blocks := make([]Block, 0, len(elements))
	var media []MediaDescriptor

	for _, el := range elements {
		switch el.Kind {
		case "paragraph", "text":
			blocks = appendTextBlock(blocks, BlockParagraph, el.Text)
		case "heading":
			blocks = appendTextBlock(blocks, BlockHeading, el.Text)
		case "list_item":
			blocks = appendTextBlock(blocks, BlockListItem, el.Text)
		case "comment":
			blocks = appendTextBlock(blocks, BlockComment, el.Text)
		case "image", "video", "audio":
			if el.URL == "" {
				slog.Debug("Media element without URL preserved as text", "kind", el.Kind)
				blocks = appendTextBlock(blocks, BlockText, el.Text)
				continue
			}
			blocks = append(blocks, Block{
				Type:  BlockType(el.Kind),
				Text:  stripMarkup(el.Text),
				Order: len(blocks),
			})
			media = append(media, MediaDescriptor{
				RemoteURL:  el.URL,
				Kind:       el.Kind,
				BlockIndex: len(blocks) - 1,
				Role:       mediaRole(el),
			})
		case "html":
			extracted, err := n.extractHTML(el.Text)
			if err != nil {
				return nil, nil, &MalformedContentError{
					Reason: fmt.Sprintf("html element extraction failed: %v", err),
					Raw:    elements,
				}
			}
			for _, text := range extracted {
				blocks = appendTextBlock(blocks, BlockParagraph, text)
			}
		default:
			// Unrecognized kinds are preserved, not dropped.
			blocks = appendTextBlock(blocks, BlockText, el.Text)
		}
	}

	return blocks, media, nil
}

// extractHTML runs a full HTML payload through readability and splits
// the result into paragraph texts.
func (n *Normalizer) extractHTML(data string) ([]string, error) {
	if strings.TrimSpace(data) == "" {
		return nil, fmt.Errorf("HTML data is empty")
	}

	article, err := readability.FromReader(strings.NewReader(data), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to extract content: %w", err)
	}

	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return nil, fmt.Errorf("no content extracted from HTML data")
	}

	var paragraphs []string
	for _, part := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			paragraphs = append(paragraphs, trimmed)
		}
	}

	return paragraphs, nil
}

func appendTextBlock(blocks []Block, blockType BlockType, text string) []Block {
	return append(blocks, Block{
		Type:  blockType,
		Text:  stripMarkup(text),
		Order: len(blocks),
	})
}

// stripMarkup reduces an inline-markup text run to plain text. Non-HTML
// input passes through unchanged.
func stripMarkup(text string) string {
	if !strings.Contains(text, "<") {
		return strings.TrimSpace(text)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<div>" + text + "</div>"))
	if err != nil {
		return strings.TrimSpace(text)
	}

	return strings.TrimSpace(doc.Text())
}

func mediaRole(el RawElement) string {
	if el.Attrs["role"] == "cover" {
		return "cover"
	}
	return "inline"
}
