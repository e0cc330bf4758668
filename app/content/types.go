package content

// BlockType is the closed set of normalized content block kinds. Raw
// element kinds outside this set are preserved as BlockText rather than
// dropped.
type BlockType string

const (
	BlockParagraph BlockType = "paragraph"
	BlockHeading   BlockType = "heading"
	BlockListItem  BlockType = "list_item"
	BlockImage     BlockType = "image"
	BlockVideo     BlockType = "video"
	BlockAudio     BlockType = "audio"
	BlockComment   BlockType = "comment"
	BlockText      BlockType = "text"
)

// Block is one typed unit of normalized item content. Order is the
// encounter order in the source page and must be preserved exactly.
// Media-bearing blocks carry MediaRef, the content hash of the stored
// bytes, filled in after download.
type Block struct {
	Type     BlockType `json:"type"`
	Text     string    `json:"text,omitempty"`
	MediaRef string    `json:"media_ref,omitempty"`
	Order    int       `json:"order"`
}

// IsBody reports whether the block's text belongs to the searchable
// body tier (title and comments are indexed in their own tiers).
func (b Block) IsBody() bool {
	switch b.Type {
	case BlockParagraph, BlockHeading, BlockListItem, BlockText:
		return true
	}
	return false
}

// RawElement is one element of the ordered stream produced by the
// page-fetching collaborator. The normalizer interprets Kind and falls
// back to a text block for kinds it does not recognize.
type RawElement struct {
	Kind  string
	Text  string
	URL   string
	Attrs map[string]string
}

// MediaDescriptor identifies a remote binary referenced by a normalized
// block, to be downloaded and handed to the media store.
type MediaDescriptor struct {
	RemoteURL  string
	Kind       string // image, video, audio
	BlockIndex int    // index into the normalized block slice
	Role       string // cover, inline
}
