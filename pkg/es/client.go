// Package es 提供了把抓取条目写入 Elasticsearch 并做全文检索的客户端。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"sitebot-go/internal/config"
	"sitebot-go/internal/model"
	"sitebot-go/pkg/log"
)

const itemMapping = `{
	"mappings": {
		"properties": {
			"item_id": { "type": "long" },
			"project_id": { "type": "keyword" },
			"data_type": { "type": "keyword" },
			"content": { "type": "text", "analyzer": "standard" },
			"content_normalized": { "type": "text", "analyzer": "whitespace" },
			"source": { "type": "keyword" },
			"created_at": { "type": "date" }
		}
	}
}`

// Client 封装 go-elasticsearch 客户端与索引名。
type Client struct {
	es    *elasticsearch.Client
	index string
}

// NewClient 初始化 Elasticsearch 客户端，并在索引不存在时创建它。
func NewClient(esCfg config.ElasticsearchConfig) (*Client, error) {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	c := &Client{es: es, index: esCfg.IndexName}
	if err := c.createIndexIfNotExists(); err != nil {
		return nil, err
	}
	return c, nil
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func (c *Client) createIndexIfNotExists() error {
	res, err := c.es.Indices.Exists([]string{c.index})
	if err != nil {
		log.Errorf("[ES] 检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	// 如果 res.StatusCode 是 200，说明索引已存在
	if res.StatusCode == http.StatusOK {
		log.Infof("[ES] 索引 '%s' 已存在", c.index)
		return nil
	}
	// 如果 res.StatusCode 是 404，说明索引不存在，需要创建
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	res, err = c.es.Indices.Create(c.index, c.es.Indices.Create.WithBody(strings.NewReader(itemMapping)))
	if err != nil {
		log.Errorf("[ES] 创建索引 '%s' 失败: %v", c.index, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("[ES] 创建索引 '%s' 时 Elasticsearch 返回错误: %s", c.index, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}
	log.Infof("[ES] 索引 '%s' 创建成功", c.index)
	return nil
}

func documentID(doc model.EsItemDocument) string {
	return fmt.Sprintf("%s-%d", doc.ProjectID, doc.ItemID)
}

// IndexItems 通过 bulk 接口批量写入条目。
func (c *Client) IndexItems(ctx context.Context, docs []model.EsItemDocument) error {
	if len(docs) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, doc := range docs {
		meta := map[string]interface{}{"index": map[string]interface{}{"_index": c.index, "_id": documentID(doc)}}
		if err := enc.Encode(meta); err != nil {
			return err
		}
		if err := enc.Encode(doc); err != nil {
			return err
		}
	}

	req := esapi.BulkRequest{Body: &buf, Refresh: "true"}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("elasticsearch bulk failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch bulk returned an error: %s", res.String())
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if bulkResp.Errors {
		return errors.New("elasticsearch bulk reported item errors")
	}
	return nil
}

// ItemQuery 描述一次条目检索。Text 为空时按写入顺序返回，DataType 为空时不过滤类型。
type ItemQuery struct {
	ProjectID      string
	Text           string
	NormalizedText string
	DataType       string
	Limit          int
}

// SearchItems 在项目内做全文检索，原文与归一化文本任一命中即可，归一化命中权重更高。
func (c *Client) SearchItems(ctx context.Context, q ItemQuery) ([]model.ItemSearchResult, error) {
	filters := []interface{}{
		map[string]interface{}{"term": map[string]interface{}{"project_id": q.ProjectID}},
	}
	if q.DataType != "" {
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{"data_type": q.DataType}})
	}
	boolQuery := map[string]interface{}{"filter": filters}
	text := strings.TrimSpace(q.Text)
	if text != "" {
		should := []interface{}{
			map[string]interface{}{"match": map[string]interface{}{"content": text}},
		}
		if q.NormalizedText != "" {
			should = append(should, map[string]interface{}{
				"match": map[string]interface{}{
					"content_normalized": map[string]interface{}{"query": q.NormalizedText, "boost": 2.0},
				},
			})
		}
		boolQuery["should"] = should
		boolQuery["minimum_should_match"] = 1
	}
	esQuery := map[string]interface{}{
		"size":  q.Limit,
		"query": map[string]interface{}{"bool": boolQuery},
	}
	if text == "" {
		esQuery["sort"] = []interface{}{map[string]interface{}{"item_id": "asc"}}
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}
	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("[ES] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.Status())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.EsItemDocument `json:"_source"`
				Score  float64              `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	results := make([]model.ItemSearchResult, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		results = append(results, model.ItemSearchResult{
			ItemID:   hit.Source.ItemID,
			DataType: hit.Source.DataType,
			Content:  hit.Source.Content,
			Source:   hit.Source.Source,
			Score:    hit.Score,
		})
	}
	return results, nil
}

// DeleteProject 删除项目的全部条目。
func (c *Client) DeleteProject(ctx context.Context, projectID string) error {
	body := fmt.Sprintf(`{"query":{"term":{"project_id":%q}}}`, projectID)
	res, err := c.es.DeleteByQuery(
		[]string{c.index},
		strings.NewReader(body),
		c.es.DeleteByQuery.WithContext(ctx),
		c.es.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch delete_by_query failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("elasticsearch delete_by_query returned an error: %s", res.String())
	}
	return nil
}
