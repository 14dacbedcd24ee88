package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitebot-go/internal/model"
	"sitebot-go/internal/textnorm"
)

func TestBuildDataset(t *testing.T) {
	items := []*model.ScrapedItem{
		{DataType: model.DataTypeText, Content: "Welcome to the tea shop! Visit https://shop.test today.", Source: "https://shop.test/", Metadata: map[string]interface{}{"title": "Tea Shop"}},
		{DataType: model.DataTypeTable, Content: "  ", Source: "https://shop.test/prices"},
		{DataType: model.DataTypeDocument, Content: "Delivery takes two days.", Source: "https://shop.test/files/terms.txt", Metadata: map[string]interface{}{"filename": "terms.txt"}},
		{DataType: model.DataTypeImageOCR, Content: "Green tea harvest", Source: "https://shop.test/a.png"},
	}

	entries := BuildDataset(items, textnorm.New(textnorm.Options{}))
	require.Len(t, entries, 3)

	assert.Equal(t, "webpage", entries[0].SourceType)
	assert.Equal(t, "Tea Shop", entries[0].Title)
	assert.NotContains(t, entries[0].Content, "https://")
	assert.Contains(t, entries[0].Content, "tea")

	assert.Equal(t, "document", entries[1].SourceType)
	assert.Equal(t, "terms.txt", entries[1].Title)

	assert.Equal(t, "image", entries[2].SourceType)
	assert.Equal(t, "https://shop.test/a.png", entries[2].Title)
}
