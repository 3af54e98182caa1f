package pipeline_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storybook-server/internal/models"
	"storybook-server/internal/pipeline"
)

func TestContentBuffer_FreshStoryAllocatesAllSlots(t *testing.T) {
	story := newStory(6)
	buf := pipeline.NewContentBuffer(story)

	snap := buf.Snapshot()
	assert.Len(t, snap.Content, 8)
	assert.Len(t, snap.ImagesPrompts, 8)
	assert.Equal(t, 1, buf.FirstUnfilledBodyIndex())
	assert.False(t, buf.AllBodyTextsFilled())
}

func TestContentBuffer_MismatchedPersistedSizeStartsClean(t *testing.T) {
	story := newStory(4)
	// Сохранили под другую длину: контент отбрасывается.
	story.Content = []models.Page{{Text: "stale"}, {Text: "stale"}}

	buf := pipeline.NewContentBuffer(story)
	snap := buf.Snapshot()
	require.Len(t, snap.Content, 6)
	assert.Empty(t, snap.Content[0].Text)
}

func TestContentBuffer_FirstUnfilledBodyIndex(t *testing.T) {
	story := newStory(3)
	content := make([]models.Page, story.TotalSlots())
	content[1] = models.Page{Text: "t1", ImageURL: "u1"}
	content[2] = models.Page{Text: "t2"} // нет картинки
	content[3] = models.Page{Text: "t3", ImageURL: "u3"}
	story.Content = content

	buf := pipeline.NewContentBuffer(story)
	assert.Equal(t, 2, buf.FirstUnfilledBodyIndex())

	buf.SetImageURL(2, "u2")
	// Все заполнено — резюме начинается с начала тела.
	assert.Equal(t, 1, buf.FirstUnfilledBodyIndex())
}

func TestContentBuffer_BodyTextsExcludeCovers(t *testing.T) {
	story := newStory(2)
	buf := pipeline.NewContentBuffer(story)
	buf.SetText(0, "front cover leak")
	buf.SetText(1, "one")
	buf.SetText(2, "two")
	buf.SetText(3, "back cover leak")

	assert.Equal(t, []string{"one", "two"}, buf.BodyTexts())
	assert.True(t, buf.AllBodyTextsFilled())
}

func TestContentBuffer_SnapshotIsDeepCopy(t *testing.T) {
	story := newStory(2)
	buf := pipeline.NewContentBuffer(story)
	buf.SetTitle("v1")
	buf.SetText(1, "text")

	snap := buf.Snapshot()
	buf.SetTitle("v2")
	buf.SetText(1, "changed")

	require.NotNil(t, snap.Title)
	assert.Equal(t, "v1", *snap.Title)
	assert.Equal(t, "text", snap.Content[1].Text)
}

func TestContentBuffer_OutOfRangeWritesIgnored(t *testing.T) {
	story := newStory(2)
	buf := pipeline.NewContentBuffer(story)

	buf.SetText(-1, "x")
	buf.SetText(99, "x")
	buf.SetImageURL(99, "x")
	buf.SetImagePrompt(99, "x")

	assert.Equal(t, models.Page{}, buf.Page(99))
	snap := buf.Snapshot()
	for _, p := range snap.Content {
		assert.Empty(t, p.Text)
	}
}

func TestContentBuffer_ConcurrentImageWrites(t *testing.T) {
	story := newStory(10)
	buf := pipeline.NewContentBuffer(story)

	var wg sync.WaitGroup
	for i := 1; i <= 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			buf.SetImageURL(idx, "url")
		}(i)
	}
	wg.Wait()

	for i := 1; i <= 10; i++ {
		assert.True(t, buf.Page(i).HasImage(), "page %d", i)
	}
}
