package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sitebot-go/pkg/log"
	"sitebot-go/pkg/metrics"
)

var (
	ErrQueueFull     = errors.New("task queue is full")
	ErrRunnerClosed  = errors.New("task runner is shut down")
	ErrJobCanceled   = errors.New("job canceled")
	errHandlerPanics = errors.New("task handler panicked")
)

// State 是 Job 的执行状态。
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCanceled  State = "canceled"
)

// Job 是已提交任务的句柄。
type Job struct {
	task   ProjectTask
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	state      State
	err        error
	startedAt  time.Time
	finishedAt time.Time
}

func (j *Job) Task() ProjectTask { return j.task }

// Done 在任务结束（成功、失败或取消）后关闭。
func (j *Job) Done() <-chan struct{} { return j.done }

// Err 返回任务的错误，任务未结束时为 nil。
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Cancel 取消任务。排队中的任务不会再执行，运行中的任务通过 ctx 感知。
func (j *Job) Cancel() { j.cancel() }

// Wait 阻塞到任务结束或 ctx 结束。
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return j.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot 是 Job 的只读视图，用于状态接口。
type Snapshot struct {
	Kind       Kind       `json:"kind"`
	State      State      `json:"state"`
	Error      string     `json:"error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	s := Snapshot{Kind: j.task.Kind, State: j.state}
	if j.err != nil {
		s.Error = j.err.Error()
	}
	if !j.startedAt.IsZero() {
		t := j.startedAt
		s.StartedAt = &t
	}
	if !j.finishedAt.IsZero() {
		t := j.finishedAt
		s.FinishedAt = &t
	}
	return s
}

func (j *Job) setRunning() {
	j.mu.Lock()
	j.state = StateRunning
	j.startedAt = time.Now().UTC()
	j.mu.Unlock()
}

func (j *Job) finish(err error) {
	j.mu.Lock()
	switch {
	case err == nil:
		j.state = StateSucceeded
	case errors.Is(err, context.Canceled) || errors.Is(err, ErrJobCanceled):
		j.state = StateCanceled
	default:
		j.state = StateFailed
	}
	j.err = err
	j.finishedAt = time.Now().UTC()
	j.mu.Unlock()
	j.cancel()
	close(j.done)
}

// Runner 是固定大小的 goroutine 工作池，按提交顺序执行任务。
// 每个项目只记录最近一次提交的 Job。
type Runner struct {
	handler    Handler
	onCanceled func(ctx context.Context, task ProjectTask)
	queue      chan *Job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
	jobs   map[string]*Job
}

// NewRunner 创建并启动 Runner。
func NewRunner(workers, queueSize int, handler Handler) *Runner {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		handler: handler,
		queue:   make(chan *Job, queueSize),
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[string]*Job),
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	log.Infof("[TaskRunner] started: workers=%d, queue=%d", workers, queueSize)
	return r
}

// OnCanceled 注册回调，任务在开始执行前被取消（Cancel 或 Shutdown 到期）时调用。
// 必须在第一次 Submit 之前设置。
func (r *Runner) OnCanceled(fn func(ctx context.Context, task ProjectTask)) {
	r.onCanceled = fn
}

// Submit 提交任务并立即返回 Job。
func (r *Runner) Submit(task ProjectTask) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRunnerClosed
	}
	ctx, cancel := context.WithCancel(r.ctx)
	job := &Job{task: task, ctx: ctx, cancel: cancel, done: make(chan struct{}), state: StateQueued}
	select {
	case r.queue <- job:
	default:
		cancel()
		return nil, ErrQueueFull
	}
	r.jobs[task.ProjectID] = job
	return job, nil
}

// Dispatch 实现 Dispatcher。
func (r *Runner) Dispatch(_ context.Context, task ProjectTask) error {
	_, err := r.Submit(task)
	return err
}

// Job 返回项目最近一次提交的任务。
func (r *Runner) Job(projectID string) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[projectID]
	return job, ok
}

// Cancel 取消项目最近一次提交且尚未结束的任务，并忘掉该项目的记录。
func (r *Runner) Cancel(projectID string) bool {
	r.mu.Lock()
	job, ok := r.jobs[projectID]
	delete(r.jobs, projectID)
	r.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-job.done:
		return false
	default:
		job.Cancel()
		return true
	}
}

// Shutdown 停止接收新任务并等待已提交的任务结束；ctx 到期时取消仍在运行的任务。
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}

func (r *Runner) worker() {
	defer r.wg.Done()
	for job := range r.queue {
		r.run(job)
	}
}

func (r *Runner) run(job *Job) {
	if job.ctx.Err() != nil {
		job.finish(ErrJobCanceled)
		metrics.JobsTotal.WithLabelValues(string(job.task.Kind), string(StateCanceled)).Inc()
		log.Warnf("[TaskRunner] %s 任务未开始即被取消: project=%s", job.task.Kind, job.task.ProjectID)
		if r.onCanceled != nil {
			r.onCanceled(context.Background(), job.task)
		}
		return
	}
	job.setRunning()
	start := time.Now()
	log.Infof("[TaskRunner] %s 任务开始: project=%s", job.task.Kind, job.task.ProjectID)

	err := r.safeHandle(job)
	if err != nil && job.ctx.Err() != nil && r.ctx.Err() == nil {
		err = fmt.Errorf("%w: %v", ErrJobCanceled, err)
	}
	job.finish(err)

	state := job.State()
	metrics.JobsTotal.WithLabelValues(string(job.task.Kind), string(state)).Inc()
	metrics.JobDuration.WithLabelValues(string(job.task.Kind)).Observe(time.Since(start).Seconds())
	if err != nil {
		log.Warnf("[TaskRunner] %s 任务结束: project=%s, state=%s, err=%v", job.task.Kind, job.task.ProjectID, state, err)
		return
	}
	log.Infof("[TaskRunner] %s 任务完成: project=%s, cost=%s", job.task.Kind, job.task.ProjectID, time.Since(start))
}

func (r *Runner) safeHandle(job *Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", errHandlerPanics, p)
		}
	}()
	return r.handler(job.ctx, job.task)
}
