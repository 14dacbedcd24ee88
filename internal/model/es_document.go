package model

import "time"

// EsItemDocument 是写入 Elasticsearch 的抓取条目，用于 /data 查询。
// ContentNormalized 是经过归一化与词干化的正文，查询词做同样处理后与之匹配。
type EsItemDocument struct {
	ItemID            uint      `json:"item_id"`
	ProjectID         string    `json:"project_id"`
	DataType          string    `json:"data_type"`
	Content           string    `json:"content"`
	ContentNormalized string    `json:"content_normalized,omitempty"`
	Source            string    `json:"source"`
	CreatedAt         time.Time `json:"created_at"`
}

// ItemSearchResult 是 /data 查询返回给调用方的条目。
type ItemSearchResult struct {
	ItemID   uint    `json:"item_id"`
	DataType string  `json:"data_type"`
	Content  string  `json:"content"`
	Source   string  `json:"source"`
	Score    float64 `json:"score,omitempty"`
}
