package service

import (
	"context"
	"fmt"
	"strings"

	"sitebot-go/internal/model"
	"sitebot-go/pkg/es"
	"sitebot-go/pkg/log"
)

// Data 列出或检索项目的抓取条目。启用 Elasticsearch 时走全文索引，
// 查询词先做与写入时相同的归一化；索引不可用时退回数据库子串匹配。
func (s *projectService) Data(ctx context.Context, id, query, dataType string, limit int) ([]model.ItemSearchResult, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	var dt model.DataType
	if dataType != "" {
		parsed, ok := model.ParseDataType(dataType)
		if !ok {
			return nil, fmt.Errorf("%w: unknown data type %q", ErrInvalidInput, dataType)
		}
		dt = parsed
	}
	switch {
	case limit <= 0:
		limit = defaultDataLimit
	case limit > maxDataLimit:
		limit = maxDataLimit
	}
	query = strings.TrimSpace(query)

	if s.deps.Index != nil {
		results, err := s.deps.Index.SearchItems(ctx, es.ItemQuery{
			ProjectID:      id,
			Text:           query,
			NormalizedText: s.deps.Normalizer.Clean(query),
			DataType:       string(dt),
			Limit:          limit,
		})
		if err == nil {
			return results, nil
		}
		log.Warnf("[SearchService] 全文检索失败，改用数据库查询: project=%s, err=%v", id, err)
	}

	items, err := s.deps.Items.Search(ctx, id, query, dt, limit)
	if err != nil {
		return nil, err
	}
	results := make([]model.ItemSearchResult, 0, len(items))
	for _, item := range items {
		results = append(results, model.ItemSearchResult{
			ItemID:   item.ID,
			DataType: string(item.DataType),
			Content:  item.Content,
			Source:   item.Source,
		})
	}
	return results, nil
}
