package bootstrap

import (
	"context"
	"strconv"
	"sync"

	"booking_worker/adapter/in/worker"
	"booking_worker/core/domain"
)

// RunOnce processes one stored message in the foreground.
func RunOnce(ctx context.Context, deps *Dependencies, trigger domain.Trigger) *domain.Outcome {
	return deps.Pipeline.Process(ctx, trigger)
}

// ReplaySummary counts replay outcomes by action.
type ReplaySummary struct {
	Total    int                   `json:"total"`
	ByAction map[domain.Action]int `json:"by_action"`
	Outcomes []*domain.Outcome     `json:"outcomes"`
}

// RunReplay runs every message of an mbox file through the pipeline on the worker pool.
// Outcomes are returned in mailbox order.
func RunReplay(ctx context.Context, deps *Dependencies, mboxPath string) (*ReplaySummary, error) {
	pool := worker.NewPool(deps.Pipeline, &worker.PoolConfig{
		Workers:    deps.Config.WorkerMax,
		JobTimeout: worker.DefaultPoolConfig().JobTimeout,
	}, deps.Zlog)

	var (
		mu       sync.Mutex
		outcomes = map[int]*domain.Outcome{}
	)
	pool.OnOutcome = func(job *worker.Job, outcome *domain.Outcome) {
		idx, _ := strconv.Atoi(job.Trigger.Key)
		mu.Lock()
		outcomes[idx] = outcome
		mu.Unlock()
	}

	if err := pool.Start(ctx); err != nil {
		return nil, err
	}

	total := 0
	walkErr := deps.Mbox.Each(ctx, mboxPath, func(index int, raw []byte) error {
		total++
		trigger := domain.Trigger{Bucket: mboxPath, Key: strconv.Itoa(index)}
		return pool.Submit(worker.NewRawJob(worker.SourceReplay, trigger, raw))
	})

	stopErr := pool.Stop(context.Background())
	if walkErr != nil {
		return nil, walkErr
	}
	if stopErr != nil {
		return nil, stopErr
	}

	summary := &ReplaySummary{Total: total, ByAction: map[domain.Action]int{}}
	for i := 0; i < total; i++ {
		if o, ok := outcomes[i]; ok {
			summary.ByAction[o.Action]++
			summary.Outcomes = append(summary.Outcomes, o)
		}
	}
	return summary, nil
}
