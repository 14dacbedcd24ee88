package model

import (
	"time"

	"gorm.io/datatypes"
)

// DataType 是抓取条目的内容类型。
type DataType string

const (
	DataTypeText     DataType = "text"
	DataTypeTable    DataType = "table"
	DataTypeDocument DataType = "document"
	DataTypeImageOCR DataType = "image_ocr"
)

// ParseDataType 把外部输入转换为 DataType，未知取值返回 false。
func ParseDataType(s string) (DataType, bool) {
	switch DataType(s) {
	case DataTypeText, DataTypeTable, DataTypeDocument, DataTypeImageOCR:
		return DataType(s), true
	}
	return "", false
}

// ScrapedItem 对应 scraped_items 表，一条抓取得到的内容。
// 条目只追加，随项目一起删除。
type ScrapedItem struct {
	ID        uint              `gorm:"primaryKey;autoIncrement" json:"id"`
	ProjectID string            `gorm:"type:varchar(36);not null;index" json:"project_id"`
	DataType  DataType          `gorm:"type:varchar(16);not null;index" json:"data_type"`
	Content   string            `gorm:"type:longtext;not null" json:"content"`
	Source    string            `gorm:"type:varchar(2048)" json:"source"`
	Metadata  datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt time.Time         `gorm:"autoCreateTime" json:"created_at"`
}

func (ScrapedItem) TableName() string {
	return "scraped_items"
}
