// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"sitebot-go/internal/chat"
	"sitebot-go/internal/model"
	"sitebot-go/internal/pipeline"
	"sitebot-go/internal/repository"
	"sitebot-go/internal/textnorm"
	"sitebot-go/internal/vectorstore"
	"sitebot-go/pkg/embedding"
	"sitebot-go/pkg/es"
	"sitebot-go/pkg/llm"
	"sitebot-go/pkg/log"
	"sitebot-go/pkg/storage"
	"sitebot-go/pkg/tasks"
	"sitebot-go/pkg/token"
)

var (
	ErrProjectNotFound   = errors.New("project not found")
	ErrProjectBusy       = errors.New("project already has a running job")
	ErrProjectNotScraped = errors.New("project must be scraped before training")
	ErrProjectNotReady   = errors.New("project is not ready")
	ErrNoTrainingData    = errors.New("no training data")
	ErrSessionNotFound   = errors.New("chat session not found")
	ErrInvalidInput      = errors.New("invalid input")
)

const (
	defaultDataLimit = 50
	maxDataLimit     = 500
	metadataFile     = "model_metadata.json"
)

// Scraper 执行一次完整抓取，pipeline.Scraper 满足该接口。
type Scraper interface {
	Run(ctx context.Context, projectID, seedURL string) (*pipeline.Result, error)
}

// ItemIndex 是抓取条目的全文索引，es.Client 满足该接口。
type ItemIndex interface {
	IndexItems(ctx context.Context, docs []model.EsItemDocument) error
	SearchItems(ctx context.Context, q es.ItemQuery) ([]model.ItemSearchResult, error)
	DeleteProject(ctx context.Context, projectID string) error
}

// JobTracker 查询与取消项目的后台任务，tasks.Runner 满足该接口。
type JobTracker interface {
	Job(projectID string) (*tasks.Job, bool)
	Cancel(projectID string) bool
}

// Dependencies 汇总 ProjectService 的依赖。Index、Archive、LLM、Jobs 可以为 nil。
type Dependencies struct {
	Projects   repository.ProjectRepository
	Items      repository.ScrapedItemRepository
	Sessions   repository.ChatSessionRepository
	History    repository.HistoryRepository
	Scraper    Scraper
	Embedder   embedding.Client
	LLM        llm.Client
	Index      ItemIndex
	Archive    storage.ObjectStore
	Normalizer *textnorm.Normalizer
	Tokens     *token.JWTManager
	Dispatcher tasks.Dispatcher
	Jobs       JobTracker

	DataDir        string
	ChunkSize      int
	StoreOptions   vectorstore.Options
	ChatOptions    chat.Options
	EngineCacheTTL time.Duration
	// CrawlConfig 记录到项目的 config 字段，便于事后查看抓取参数。
	CrawlConfig map[string]interface{}
}

// StatusView 是 /status 返回的项目状态。
type StatusView struct {
	ID                  string                 `json:"id"`
	Name                string                 `json:"name"`
	URL                 string                 `json:"url"`
	Status              model.ProjectStatus    `json:"status"`
	IsReady             bool                   `json:"is_ready"`
	IndexSize           int                    `json:"index_size"`
	DocCount            int64                  `json:"doc_count"`
	Job                 *tasks.Snapshot        `json:"job,omitempty"`
	LastError           string                 `json:"last_error,omitempty"`
	ScrapingCompletedAt *time.Time             `json:"scraping_completed_at,omitempty"`
	TrainingCompletedAt *time.Time             `json:"training_completed_at,omitempty"`
	Stats               map[string]interface{} `json:"stats,omitempty"`
}

// ChatReply 是一次聊天的结果。
type ChatReply struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
}

// ModelMetadata 与索引一起写在项目目录下。
type ModelMetadata struct {
	ProjectID      string    `json:"project_id"`
	EmbeddingModel string    `json:"embedding_model"`
	LLMModel       string    `json:"llm_model"`
	IndexSize      int       `json:"index_size"`
	CreatedAt      time.Time `json:"created_at"`
}

// ProjectService 定义了项目生命周期的全部操作。
type ProjectService interface {
	Create(ctx context.Context, name, rawURL string) (*model.Project, error)
	List(ctx context.Context) ([]model.Project, error)
	Get(ctx context.Context, id string) (*model.Project, error)
	Status(ctx context.Context, id string) (*StatusView, error)
	StartScraping(ctx context.Context, id string) error
	StartTraining(ctx context.Context, id string) error
	Chat(ctx context.Context, id, message, sessionID string) (*ChatReply, error)
	Delete(ctx context.Context, id string) error
	Data(ctx context.Context, id, query, dataType string, limit int) ([]model.ItemSearchResult, error)
	Session(ctx context.Context, id, sessionID string) (*model.ChatSession, error)
	IssueChatToken(ctx context.Context, id string) (string, time.Time, error)
	// HandleTask 执行一个后台任务，由 tasks.Runner 调用。
	HandleTask(ctx context.Context, task tasks.ProjectTask) error
	// TaskCanceled 处理未开始就被取消的任务，把项目置为对应的失败状态。
	TaskCanceled(ctx context.Context, task tasks.ProjectTask)
	// RecoverInterrupted 在启动时把上次未完成的 scraping / training 项目置为失败。
	RecoverInterrupted(ctx context.Context) error
}

type projectService struct {
	deps    Dependencies
	engines *cache.Cache
	loads   singleflight.Group
}

// NewProjectService 创建一个新的 ProjectService 实例。
func NewProjectService(deps Dependencies) ProjectService {
	if deps.ChunkSize <= 0 {
		deps.ChunkSize = vectorstore.DefaultChunkSize
	}
	if deps.EngineCacheTTL <= 0 {
		deps.EngineCacheTTL = time.Hour
	}
	if deps.Normalizer == nil {
		deps.Normalizer = textnorm.New(textnorm.DefaultOptions())
	}
	return &projectService{
		deps:    deps,
		engines: cache.New(deps.EngineCacheTTL, 10*time.Minute),
	}
}

func (s *projectService) Create(ctx context.Context, name, rawURL string) (*model.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	seedURL, err := NormalizeSeedURL(rawURL)
	if err != nil {
		return nil, err
	}

	project := &model.Project{
		ID:      uuid.NewString(),
		Name:    name,
		SeedURL: seedURL,
		Status:  model.StatusCreated,
		Config:  s.deps.CrawlConfig,
	}
	if err := s.deps.Projects.Create(ctx, project); err != nil {
		return nil, fmt.Errorf("创建项目失败: %w", err)
	}
	log.Infof("[ProjectService] 项目已创建: id=%s, url=%s", project.ID, project.SeedURL)
	return project, nil
}

// NormalizeSeedURL 去掉首尾空白，缺少协议时补 https://。
func NormalizeSeedURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: url is required", ErrInvalidInput)
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: malformed url %q", ErrInvalidInput, raw)
	}
	return raw, nil
}

func (s *projectService) List(ctx context.Context) ([]model.Project, error) {
	return s.deps.Projects.List(ctx)
}

func (s *projectService) Get(ctx context.Context, id string) (*model.Project, error) {
	project, err := s.deps.Projects.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}
	return project, nil
}

func (s *projectService) Status(ctx context.Context, id string) (*StatusView, error) {
	project, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	count, err := s.deps.Items.CountByProject(ctx, id)
	if err != nil {
		return nil, err
	}

	view := &StatusView{
		ID:                  project.ID,
		Name:                project.Name,
		URL:                 project.SeedURL,
		Status:              project.Status,
		IsReady:             project.Status == model.StatusReady,
		DocCount:            count,
		LastError:           project.LastError,
		ScrapingCompletedAt: project.ScrapingCompletedAt,
		TrainingCompletedAt: project.TrainingCompletedAt,
		Stats:               project.Stats,
	}
	if meta, err := readMetadata(s.projectDir(id)); err == nil {
		view.IndexSize = meta.IndexSize
	}
	if s.deps.Jobs != nil {
		if job, ok := s.deps.Jobs.Job(id); ok {
			snap := job.Snapshot()
			view.Job = &snap
		}
	}
	return view, nil
}

// Delete 删除项目及其全部派生数据。各步骤相互独立，失败合并后返回。
func (s *projectService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if s.deps.Jobs != nil && s.deps.Jobs.Cancel(id) {
		log.Infof("[ProjectService] 已取消进行中的任务: project=%s", id)
	}

	var errs []error
	if err := s.deps.Projects.Delete(ctx, id); err != nil {
		errs = append(errs, fmt.Errorf("delete project row: %w", err))
	}
	if err := s.deps.Items.DeleteByProject(ctx, id); err != nil {
		errs = append(errs, fmt.Errorf("delete scraped items: %w", err))
	}
	if err := s.deps.Sessions.DeleteByProject(ctx, id); err != nil {
		errs = append(errs, fmt.Errorf("delete chat sessions: %w", err))
	}
	if s.deps.History != nil {
		if err := s.deps.History.DeleteProject(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("delete session memory: %w", err))
		}
	}
	if s.deps.Index != nil {
		if err := s.deps.Index.DeleteProject(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("delete search documents: %w", err))
		}
	}
	if s.deps.Archive != nil {
		if err := s.deps.Archive.RemovePrefix(ctx, storage.ProjectPrefix(id)); err != nil {
			errs = append(errs, fmt.Errorf("delete archived objects: %w", err))
		}
	}
	if err := os.RemoveAll(s.projectDir(id)); err != nil {
		errs = append(errs, fmt.Errorf("delete project dir: %w", err))
	}
	s.engines.Delete(id)

	if err := errors.Join(errs...); err != nil {
		log.Errorf("[ProjectService] 删除项目不完整: project=%s, err=%v", id, err)
		return err
	}
	log.Infof("[ProjectService] 项目已删除: id=%s", id)
	return nil
}

func (s *projectService) Session(ctx context.Context, id, sessionID string) (*model.ChatSession, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	session, err := s.deps.Sessions.Find(ctx, id, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return session, nil
}

// IssueChatToken 签发只对该项目有效的聊天令牌，供 websocket 使用。
func (s *projectService) IssueChatToken(ctx context.Context, id string) (string, time.Time, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return "", time.Time{}, err
	}
	if s.deps.Tokens == nil {
		return "", time.Time{}, errors.New("chat tokens are not configured")
	}
	return s.deps.Tokens.GenerateChatToken(id)
}

func (s *projectService) projectDir(id string) string {
	return filepath.Join(s.deps.DataDir, "projects", id)
}

func (s *projectService) indexDir(id string) string {
	return filepath.Join(s.projectDir(id), "index")
}

func writeMetadata(dir string, meta ModelMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, metadataFile), data, 0o644)
}

func readMetadata(dir string) (*ModelMetadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return nil, err
	}
	var meta ModelMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}
