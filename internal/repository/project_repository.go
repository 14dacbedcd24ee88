// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"

	"gorm.io/gorm"

	"sitebot-go/internal/model"
)

// ProjectRepository 定义了 projects 表的数据操作接口。
type ProjectRepository interface {
	Create(ctx context.Context, project *model.Project) error
	FindByID(ctx context.Context, id string) (*model.Project, error)
	List(ctx context.Context) ([]model.Project, error)
	// TransitionStatus 仅当当前状态属于 from 时把状态改为 to，返回是否发生了转换。
	TransitionStatus(ctx context.Context, id string, from []model.ProjectStatus, to model.ProjectStatus) (bool, error)
	Update(ctx context.Context, id string, fields map[string]interface{}) error
	// FailInterrupted 把停在 scraping / training 的项目改为对应的失败状态，返回修改的行数。
	FailInterrupted(ctx context.Context, reason string) (int64, error)
	Delete(ctx context.Context, id string) error
}

type projectRepository struct {
	db *gorm.DB
}

// NewProjectRepository 创建一个新的 ProjectRepository 实例。
func NewProjectRepository(db *gorm.DB) ProjectRepository {
	return &projectRepository{db: db}
}

func (r *projectRepository) Create(ctx context.Context, project *model.Project) error {
	return r.db.WithContext(ctx).Create(project).Error
}

// FindByID 找不到时返回 gorm.ErrRecordNotFound。
func (r *projectRepository) FindByID(ctx context.Context, id string) (*model.Project, error) {
	var project model.Project
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&project).Error; err != nil {
		return nil, err
	}
	return &project, nil
}

// List 按创建时间倒序返回全部项目。
func (r *projectRepository) List(ctx context.Context) ([]model.Project, error) {
	var projects []model.Project
	err := r.db.WithContext(ctx).Order("created_at DESC").Find(&projects).Error
	return projects, err
}

// TransitionStatus 用一条带条件的 UPDATE 完成检查和更新，并发请求中只有一个会成功。
// 进入新阶段时清空 last_error。
func (r *projectRepository) TransitionStatus(ctx context.Context, id string, from []model.ProjectStatus, to model.ProjectStatus) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	result := r.db.WithContext(ctx).Model(&model.Project{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]interface{}{"status": to, "last_error": ""})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *projectRepository) Update(ctx context.Context, id string, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&model.Project{}).Where("id = ?", id).Updates(fields).Error
}

// FailInterrupted 在启动时修复上次进程退出时仍在进行中的项目，单条 UPDATE 完成。
func (r *projectRepository) FailInterrupted(ctx context.Context, reason string) (int64, error) {
	result := r.db.WithContext(ctx).Model(&model.Project{}).
		Where("status IN ?", []model.ProjectStatus{model.StatusScraping, model.StatusTraining}).
		Updates(map[string]interface{}{
			"status":     gorm.Expr("CASE status WHEN ? THEN ? ELSE ? END", model.StatusScraping, model.StatusScrapingFailed, model.StatusTrainingFailed),
			"last_error": reason,
		})
	return result.RowsAffected, result.Error
}

func (r *projectRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Project{}).Error
}
