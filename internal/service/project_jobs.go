package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/datatypes"

	"sitebot-go/internal/model"
	"sitebot-go/internal/vectorstore"
	"sitebot-go/pkg/log"
	"sitebot-go/pkg/storage"
	"sitebot-go/pkg/tasks"
)

// StartScraping 把项目原子地切换到 scraping 并派发后台任务，立即返回。
func (s *projectService) StartScraping(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	ok, err := s.deps.Projects.TransitionStatus(ctx, id, model.ScrapableStatuses, model.StatusScraping)
	if err != nil {
		return err
	}
	if !ok {
		return ErrProjectBusy
	}
	if err := s.dispatch(ctx, id, tasks.KindScrape); err != nil {
		s.fail(ctx, id, model.StatusScrapingFailed, err)
		return err
	}
	log.Infof("[ProjectService] 抓取已开始: project=%s", id)
	return nil
}

// StartTraining 只接受 scraped 状态的项目。没有抓取数据时直接置为 training_failed。
func (s *projectService) StartTraining(ctx context.Context, id string) error {
	project, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	ok, err := s.deps.Projects.TransitionStatus(ctx, id, model.TrainableStatuses, model.StatusTraining)
	if err != nil {
		return err
	}
	if !ok {
		if project.Status.Busy() {
			return ErrProjectBusy
		}
		return ErrProjectNotScraped
	}

	count, err := s.deps.Items.CountByProject(ctx, id)
	if err != nil {
		s.fail(ctx, id, model.StatusTrainingFailed, err)
		return err
	}
	if count == 0 {
		s.fail(ctx, id, model.StatusTrainingFailed, ErrNoTrainingData)
		return ErrNoTrainingData
	}
	if err := s.dispatch(ctx, id, tasks.KindTrain); err != nil {
		s.fail(ctx, id, model.StatusTrainingFailed, err)
		return err
	}
	log.Infof("[ProjectService] 训练已开始: project=%s, items=%d", id, count)
	return nil
}

func (s *projectService) dispatch(ctx context.Context, id string, kind tasks.Kind) error {
	if s.deps.Dispatcher == nil {
		return errors.New("no task dispatcher configured")
	}
	return s.deps.Dispatcher.Dispatch(ctx, tasks.ProjectTask{
		ProjectID:   id,
		Kind:        kind,
		RequestedAt: time.Now().UTC(),
	})
}

// errStaleTask 表示任务与项目当前状态不符（重复投递、项目已删除），直接丢弃。
var errStaleTask = errors.New("stale task")

// interruptedReason 是任务没有执行完时写入 last_error 的内容。
const interruptedReason = "interrupted"

// taskStatuses 给出任务类型对应的进行中状态和失败状态。
func taskStatuses(kind tasks.Kind) (running, failed model.ProjectStatus, ok bool) {
	switch kind {
	case tasks.KindScrape:
		return model.StatusScraping, model.StatusScrapingFailed, true
	case tasks.KindTrain:
		return model.StatusTraining, model.StatusTrainingFailed, true
	}
	return "", "", false
}

// HandleTask 执行抓取或训练。失败会写入项目状态与 last_error，同时返回给执行器。
// 项目不在该任务对应的进行中状态时不执行，返回 nil 让 Kafka 提交这条消息。
func (s *projectService) HandleTask(ctx context.Context, task tasks.ProjectTask) error {
	running, failed, ok := taskStatuses(task.Kind)
	if !ok {
		return fmt.Errorf("unknown task kind %q", task.Kind)
	}
	if err := s.claimTask(ctx, task, running); err != nil {
		// Delete 先取消任务再删行，此时把取消原样交给执行器
		if errors.Is(err, errStaleTask) && ctx.Err() == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	var err error
	switch task.Kind {
	case tasks.KindScrape:
		err = s.runScrape(ctx, task.ProjectID)
	case tasks.KindTrain:
		err = s.runTrain(ctx, task.ProjectID)
	}
	if err != nil {
		s.fail(ctx, task.ProjectID, failed, err)
	}
	return err
}

// claimTask 确认项目仍处于 running 状态。
func (s *projectService) claimTask(ctx context.Context, task tasks.ProjectTask, running model.ProjectStatus) error {
	project, err := s.Get(ctx, task.ProjectID)
	if errors.Is(err, ErrProjectNotFound) {
		log.Warnf("[ProjectService] 忽略已删除项目的 %s 任务: project=%s", task.Kind, task.ProjectID)
		return errStaleTask
	}
	if err != nil {
		return err
	}
	if project.Status != running {
		log.Warnf("[ProjectService] 忽略过期的 %s 任务: project=%s, status=%s", task.Kind, task.ProjectID, project.Status)
		return errStaleTask
	}
	return nil
}

// TaskCanceled 由执行器在任务开始前被取消时调用。项目已删除或已离开进行中状态时不做任何事。
func (s *projectService) TaskCanceled(ctx context.Context, task tasks.ProjectTask) {
	running, failed, ok := taskStatuses(task.Kind)
	if !ok {
		return
	}
	if err := s.claimTask(ctx, task, running); err != nil {
		return
	}
	s.fail(ctx, task.ProjectID, failed, errors.New(interruptedReason))
}

func (s *projectService) RecoverInterrupted(ctx context.Context) error {
	n, err := s.deps.Projects.FailInterrupted(ctx, interruptedReason)
	if err != nil {
		return fmt.Errorf("recover interrupted projects: %w", err)
	}
	if n > 0 {
		log.Warnf("[ProjectService] %d 个项目的任务在上次退出时未完成，已标记为失败", n)
	}
	return nil
}

func (s *projectService) runScrape(ctx context.Context, id string) error {
	project, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.deps.Scraper == nil {
		return errors.New("no scraper configured")
	}

	result, err := s.deps.Scraper.Run(ctx, id, project.SeedURL)
	if err != nil {
		return fmt.Errorf("scrape %s: %w", project.SeedURL, err)
	}
	if len(result.Items) == 0 {
		return errors.New("no data collected from the site")
	}
	if err := s.deps.Items.ReplaceForProject(ctx, id, result.Items); err != nil {
		return fmt.Errorf("save scraped items: %w", err)
	}
	s.indexItems(ctx, id, result.Items)

	now := time.Now().UTC()
	err = s.deps.Projects.Update(ctx, id, map[string]interface{}{
		"status":                model.StatusScraped,
		"scraping_completed_at": &now,
		"stats":                 datatypes.JSONMap(result.Stats.Map()),
		"last_error":            "",
	})
	if err != nil {
		return err
	}
	log.Infof("[ProjectService] 抓取完成: project=%s, items=%d, pages=%d", id, len(result.Items), result.Stats.TotalURLsScraped)
	return nil
}

// indexItems 把条目写入全文索引。索引只服务 /data 查询，失败不影响抓取结果。
func (s *projectService) indexItems(ctx context.Context, id string, items []*model.ScrapedItem) {
	if s.deps.Index == nil {
		return
	}
	if err := s.deps.Index.DeleteProject(ctx, id); err != nil {
		log.Warnf("[ProjectService] 清理旧索引文档失败: project=%s, err=%v", id, err)
	}
	docs := make([]model.EsItemDocument, 0, len(items))
	for _, item := range items {
		docs = append(docs, model.EsItemDocument{
			ItemID:            item.ID,
			ProjectID:         id,
			DataType:          string(item.DataType),
			Content:           item.Content,
			ContentNormalized: s.deps.Normalizer.Clean(item.Content),
			Source:            item.Source,
			CreatedAt:         item.CreatedAt,
		})
	}
	if err := s.deps.Index.IndexItems(ctx, docs); err != nil {
		log.Warnf("[ProjectService] 写入全文索引失败: project=%s, err=%v", id, err)
	}
}

func (s *projectService) runTrain(ctx context.Context, id string) error {
	project, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	items, err := s.deps.Items.FindByProject(ctx, id)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return ErrNoTrainingData
	}

	corpus := TrainingCorpus(items)
	store, err := s.buildIndex(ctx, id, corpus)
	if err != nil {
		return err
	}
	s.archiveIndex(ctx, id, store.Dir())
	s.engines.Delete(id)

	stats := map[string]interface{}{}
	for k, v := range project.Stats {
		stats[k] = v
	}
	stats["vector_store_size"] = store.Size()
	stats["training_data_size"] = utf8.RuneCountInString(corpus)

	now := time.Now().UTC()
	err = s.deps.Projects.Update(ctx, id, map[string]interface{}{
		"status":                model.StatusReady,
		"training_completed_at": &now,
		"stats":                 datatypes.JSONMap(stats),
		"last_error":            "",
	})
	if err != nil {
		return err
	}
	log.Infof("[ProjectService] 训练完成: project=%s, vectors=%d", id, store.Size())
	return nil
}

// TrainingCorpus 按条目顺序拼接正文，条目之间空一行。
func TrainingCorpus(items []model.ScrapedItem) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		if c := strings.TrimSpace(item.Content); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, "\n\n")
}

// buildIndex 在项目目录下重建索引并写 model_metadata.json。
func (s *projectService) buildIndex(ctx context.Context, id, corpus string) (*vectorstore.Store, error) {
	store := vectorstore.New(s.indexDir(id), s.deps.Embedder, s.deps.StoreOptions)
	if err := store.Reset(); err != nil {
		return nil, fmt.Errorf("reset index: %w", err)
	}
	chunks := vectorstore.Chunk(corpus, s.deps.ChunkSize)
	if len(chunks) == 0 {
		return nil, ErrNoTrainingData
	}
	if err := store.Add(ctx, chunks, "project_"+id); err != nil {
		return nil, fmt.Errorf("build index: %w", err)
	}

	meta := ModelMetadata{
		ProjectID:      id,
		EmbeddingModel: s.deps.Embedder.Model(),
		IndexSize:      store.Size(),
		CreatedAt:      time.Now().UTC(),
	}
	if s.deps.LLM != nil {
		meta.LLMModel = s.deps.LLM.Model()
	}
	if err := writeMetadata(s.projectDir(id), meta); err != nil {
		return nil, fmt.Errorf("write model metadata: %w", err)
	}
	return store, nil
}

func (s *projectService) archiveIndex(ctx context.Context, id, dir string) {
	if s.deps.Archive == nil {
		return
	}
	err := storage.UploadDir(ctx, s.deps.Archive, dir, func(filename string) string {
		return storage.IndexObject(id, filename)
	})
	if err != nil {
		log.Warnf("[ProjectService] 索引快照归档失败: project=%s, err=%v", id, err)
	}
}

// fail 记录失败状态。任务被取消后 ctx 已失效，因此使用不可取消的上下文。
func (s *projectService) fail(ctx context.Context, id string, status model.ProjectStatus, cause error) {
	err := s.deps.Projects.Update(context.WithoutCancel(ctx), id, map[string]interface{}{
		"status":     status,
		"last_error": cause.Error(),
	})
	if err != nil {
		log.Errorf("[ProjectService] 更新失败状态出错: project=%s, status=%s, err=%v", id, status, err)
		return
	}
	log.Warnf("[ProjectService] 项目进入 %s: project=%s, err=%v", status, id, cause)
}
