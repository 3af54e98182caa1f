package models

import (
	"time"

	"github.com/google/uuid"
)

// Page is a single slot of a story's content array. Both fields default to
// the empty string, which means "not generated yet".
type Page struct {
	Text     string `json:"text"`
	ImageURL string `json:"imageUrl"`
}

// HasText reports whether the text of the page is already generated.
func (p Page) HasText() bool { return p.Text != "" }

// HasImage reports whether the image of the page is already generated.
func (p Page) HasImage() bool { return p.ImageURL != "" }

// Story is the persisted storybook record. Content holds Length+2 pages:
// index 0 is the front cover, index Length+1 the back cover, 1..Length the
// body pages. Pages are addressed by index and never reordered.
type Story struct {
	ID                  uuid.UUID `json:"id" db:"id"`
	AuthorID            uint64    `json:"author_id" db:"author_id"`
	Title               string    `json:"title" db:"title"`
	Idea                string    `json:"idea" db:"idea"`
	ProtagonistsSummary string    `json:"protagonists_summary" db:"protagonists_summary"`
	Length              int       `json:"length" db:"length"` // number of body pages (page pairs)
	Content             []Page    `json:"content" db:"content"`
	ImagesPrompts       []string  `json:"images_prompts" db:"images_prompts"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}

// TotalSlots returns the size of the full content array (covers included).
func (s *Story) TotalSlots() int { return s.Length + 2 }

// BackCoverIndex returns the content index of the back cover.
func (s *Story) BackCoverIndex() int { return s.Length + 1 }

// HasAnyProgress reports whether at least one content slot is filled.
func (s *Story) HasAnyProgress() bool {
	for _, p := range s.Content {
		if p.HasText() || p.HasImage() {
			return true
		}
	}
	return false
}

// StoryContentPatch carries a full-snapshot update of the generated parts
// of a story. Nil fields are left untouched; Content and ImagesPrompts are
// always written whole, never as a field-level diff.
type StoryContentPatch struct {
	Title         *string
	Content       []Page
	ImagesPrompts []string
}

// StoryIndex is the structured result of the structure-building step: the
// final title plus one summary per body page.
type StoryIndex struct {
	Title         string   `json:"title"`
	PageSummaries []string `json:"pageSummaries"`
}
