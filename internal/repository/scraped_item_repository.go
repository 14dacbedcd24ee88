package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"sitebot-go/internal/model"
)

// ScrapedItemRepository 定义了对 scraped_items 表的数据操作接口。
type ScrapedItemRepository interface {
	// ReplaceForProject 在一个事务里删除项目原有条目并写入新条目，写入后 items 带上自增 ID。
	ReplaceForProject(ctx context.Context, projectID string, items []*model.ScrapedItem) error
	FindByProject(ctx context.Context, projectID string) ([]model.ScrapedItem, error)
	CountByProject(ctx context.Context, projectID string) (int64, error)
	Search(ctx context.Context, projectID, query string, dataType model.DataType, limit int) ([]model.ScrapedItem, error)
	DeleteByProject(ctx context.Context, projectID string) error
}

type scrapedItemRepository struct {
	db *gorm.DB
}

// NewScrapedItemRepository 创建一个新的 ScrapedItemRepository 实例。
func NewScrapedItemRepository(db *gorm.DB) ScrapedItemRepository {
	return &scrapedItemRepository{db: db}
}

func (r *scrapedItemRepository) ReplaceForProject(ctx context.Context, projectID string, items []*model.ScrapedItem) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ?", projectID).Delete(&model.ScrapedItem{}).Error; err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		for _, item := range items {
			item.ProjectID = projectID
		}
		return tx.CreateInBatches(items, 100).Error // 每100条记录一批
	})
}

// FindByProject 按写入顺序返回项目的全部条目。
func (r *scrapedItemRepository) FindByProject(ctx context.Context, projectID string) ([]model.ScrapedItem, error) {
	var items []model.ScrapedItem
	err := r.db.WithContext(ctx).Where("project_id = ?", projectID).Order("id ASC").Find(&items).Error
	return items, err
}

func (r *scrapedItemRepository) CountByProject(ctx context.Context, projectID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.ScrapedItem{}).Where("project_id = ?", projectID).Count(&count).Error
	return count, err
}

// Search 是未启用 Elasticsearch 时的回退查询：按内容子串和类型过滤。
func (r *scrapedItemRepository) Search(ctx context.Context, projectID, query string, dataType model.DataType, limit int) ([]model.ScrapedItem, error) {
	tx := r.db.WithContext(ctx).Where("project_id = ?", projectID)
	if q := strings.TrimSpace(query); q != "" {
		tx = tx.Where("content LIKE ?", "%"+strings.ToLower(q)+"%")
	}
	if dataType != "" {
		tx = tx.Where("data_type = ?", dataType)
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var items []model.ScrapedItem
	err := tx.Order("id ASC").Find(&items).Error
	return items, err
}

func (r *scrapedItemRepository) DeleteByProject(ctx context.Context, projectID string) error {
	return r.db.WithContext(ctx).Where("project_id = ?", projectID).Delete(&model.ScrapedItem{}).Error
}
