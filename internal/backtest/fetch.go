package backtest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"quiver/internal/feed"
	"quiver/internal/logger"
	"quiver/internal/store"
)

const (
	JobStatusPending = "pending"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusFailed  = "failed"
)

// FetchParams 描述一次历史数据回补。
type FetchParams struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Start     int64  `json:"start_ts"`
	End       int64  `json:"end_ts"`
}

// FetchJob 为回补任务的进度快照。
type FetchJob struct {
	ID        string      `json:"id"`
	Status    string      `json:"status"`
	Params    FetchParams `json:"params"`
	Inserted  int         `json:"inserted"`
	Message   string      `json:"message,omitempty"`
	StartedAt time.Time   `json:"started_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Fetcher 管理回补任务：排队、限并发、写库。
type Fetcher struct {
	store  *store.CandleStore
	source *feed.BinanceSource
	sem    chan struct{}

	mu   sync.RWMutex
	jobs map[string]*FetchJob

	baseCtx context.Context
}

func NewFetcher(cs *store.CandleStore, source *feed.BinanceSource, maxConcurrent int) (*Fetcher, error) {
	if cs == nil {
		return nil, fmt.Errorf("candle store 不能为空")
	}
	if source == nil {
		return nil, fmt.Errorf("source 不能为空")
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &Fetcher{
		store:   cs,
		source:  source,
		sem:     make(chan struct{}, maxConcurrent),
		jobs:    make(map[string]*FetchJob),
		baseCtx: context.Background(),
	}, nil
}

// SetContext 注入宿主 ctx，用于任务取消。
func (f *Fetcher) SetContext(ctx context.Context) {
	if ctx != nil {
		f.baseCtx = ctx
	}
}

// SubmitFetch 提交回补任务并立即返回。
func (f *Fetcher) SubmitFetch(params FetchParams) (FetchJob, error) {
	if params.Symbol == "" {
		return FetchJob{}, fmt.Errorf("symbol 不能为空")
	}
	tf, err := ParseTimeframe(params.Timeframe)
	if err != nil {
		return FetchJob{}, err
	}
	params.Symbol = strings.ToUpper(strings.TrimSpace(params.Symbol))
	params.Start, params.End = tf.AlignRange(params.Start, params.End)
	if params.Start <= 0 || params.End <= params.Start {
		return FetchJob{}, fmt.Errorf("start/end 非法")
	}

	job := &FetchJob{
		ID:        uuid.NewString(),
		Status:    JobStatusPending,
		Params:    params,
		StartedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	f.mu.Lock()
	f.jobs[job.ID] = job
	f.mu.Unlock()
	logger.Infof("[backtest] 回补任务 %s 提交：%s %s [%d,%d]", job.ID, params.Symbol, params.Timeframe, params.Start, params.End)

	go f.runJob(job.ID, tf)
	return *job, nil
}

func (f *Fetcher) runJob(jobID string, tf Timeframe) {
	select {
	case f.sem <- struct{}{}:
	case <-f.baseCtx.Done():
		f.update(jobID, func(j *FetchJob) {
			j.Status = JobStatusFailed
			j.Message = "服务已关闭"
		})
		return
	}
	defer func() { <-f.sem }()

	var params FetchParams
	f.mu.RLock()
	if j, ok := f.jobs[jobID]; ok {
		params = j.Params
	}
	f.mu.RUnlock()

	f.update(jobID, func(j *FetchJob) { j.Status = JobStatusRunning })
	inserted, err := feed.Backfill(f.baseCtx, f.source, f.store, params.Symbol, tf.SourceInterval, params.Start, params.End)
	f.update(jobID, func(j *FetchJob) {
		j.Inserted = inserted
		if err != nil {
			j.Status = JobStatusFailed
			j.Message = err.Error()
			return
		}
		j.Status = JobStatusDone
		j.Message = "回补完成"
	})
}

func (f *Fetcher) update(id string, fn func(*FetchJob)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[id]; ok {
		fn(job)
		job.UpdatedAt = time.Now()
	}
}

// JobSnapshot 返回任务副本。
func (f *Fetcher) JobSnapshot(id string) (FetchJob, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	job, ok := f.jobs[id]
	if !ok {
		return FetchJob{}, false
	}
	return *job, true
}

// JobsSnapshot 返回所有任务的拷贝列表。
func (f *Fetcher) JobsSnapshot() []FetchJob {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]FetchJob, 0, len(f.jobs))
	for _, job := range f.jobs {
		out = append(out, *job)
	}
	return out
}
