package pipeline

import (
	"strings"

	"sitebot-go/internal/model"
	"sitebot-go/internal/textnorm"
)

// DatasetEntry 是离线数据集里的一条记录。
type DatasetEntry struct {
	SourceType     string `json:"source_type"`
	SourceLocation string `json:"source_location"`
	Title          string `json:"title"`
	Content        string `json:"content"`
}

// BuildDataset 把抓取条目转换为经过完整清洗的数据集记录，清洗后为空的条目被丢弃。
func BuildDataset(items []*model.ScrapedItem, normalizer *textnorm.Normalizer) []DatasetEntry {
	if normalizer == nil {
		normalizer = textnorm.New(textnorm.DefaultOptions())
	}
	entries := make([]DatasetEntry, 0, len(items))
	for _, item := range items {
		cleaned := normalizer.Clean(item.Content)
		if cleaned == "" {
			continue
		}
		entries = append(entries, DatasetEntry{
			SourceType:     sourceType(item.DataType),
			SourceLocation: item.Source,
			Title:          itemTitle(item),
			Content:        cleaned,
		})
	}
	return entries
}

func sourceType(dt model.DataType) string {
	switch dt {
	case model.DataTypeText:
		return "webpage"
	case model.DataTypeTable:
		return "table"
	case model.DataTypeDocument:
		return "document"
	case model.DataTypeImageOCR:
		return "image"
	}
	return string(dt)
}

func itemTitle(item *model.ScrapedItem) string {
	for _, key := range []string{"title", "filename", "alt_text"} {
		if v, ok := item.Metadata[key].(string); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return item.Source
}
