// Package model 定义了与数据库表对应的 Go 结构体。
package model

import (
	"time"

	"gorm.io/datatypes"
)

// ProjectStatus 是项目生命周期状态，取值是封闭集合。
type ProjectStatus string

const (
	StatusCreated        ProjectStatus = "created"
	StatusScraping       ProjectStatus = "scraping"
	StatusScraped        ProjectStatus = "scraped"
	StatusScrapingFailed ProjectStatus = "scraping_failed"
	StatusTraining       ProjectStatus = "training"
	StatusTrainingFailed ProjectStatus = "training_failed"
	StatusReady          ProjectStatus = "ready"
)

// ScrapableStatuses 列出允许进入 scraping 的状态。scraping 与 training 进行中时不允许。
var ScrapableStatuses = []ProjectStatus{
	StatusCreated,
	StatusScraped,
	StatusScrapingFailed,
	StatusTrainingFailed,
	StatusReady,
}

// TrainableStatuses 列出允许进入 training 的状态。
var TrainableStatuses = []ProjectStatus{StatusScraped}

// Busy 表示项目正在执行后台任务。
func (s ProjectStatus) Busy() bool {
	switch s {
	case StatusScraping, StatusTraining:
		return true
	case StatusCreated, StatusScraped, StatusScrapingFailed, StatusTrainingFailed, StatusReady:
		return false
	}
	return false
}

// Valid 判断取值是否属于已知状态。
func (s ProjectStatus) Valid() bool {
	switch s {
	case StatusCreated, StatusScraping, StatusScraped, StatusScrapingFailed,
		StatusTraining, StatusTrainingFailed, StatusReady:
		return true
	}
	return false
}

// Project 定义了 projects 表的 ORM 模型。
type Project struct {
	ID                  string            `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name                string            `gorm:"type:varchar(255);not null" json:"name"`
	SeedURL             string            `gorm:"type:varchar(2048);not null;column:seed_url" json:"url"`
	Status              ProjectStatus     `gorm:"type:varchar(32);not null;index;default:created" json:"status"`
	CreatedAt           time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
	ScrapingCompletedAt *time.Time        `gorm:"default:null" json:"scraping_completed_at,omitempty"`
	TrainingCompletedAt *time.Time        `gorm:"default:null" json:"training_completed_at,omitempty"`
	Config              datatypes.JSONMap `json:"config,omitempty"`
	Stats               datatypes.JSONMap `json:"stats,omitempty"`
	LastError           string            `gorm:"type:text" json:"last_error,omitempty"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Project) TableName() string {
	return "projects"
}
