package service

import (
	"context"
	"fmt"
	"sync"

	"imagegate/internal/llm"

	"github.com/gammazero/workerpool"
	"github.com/sirupsen/logrus"
)

// MaxParallelImages caps concurrent single-image sub-requests per call.
const MaxParallelImages = 4

type subTask func(ctx context.Context, index int) (*llm.AiResult, error)

// fanOut runs n sub-requests on at most MaxParallelImages workers and
// keeps the first image of every success, in settlement order. It only
// fails when no sub-request succeeds.
func fanOut(ctx context.Context, n int, task subTask) (*llm.AiResult, error) {
	if n <= 1 {
		res, err := task(ctx, 0)
		if err != nil {
			return nil, err
		}
		if res == nil || res.First() == "" {
			return nil, llm.ErrNoImage
		}
		return &llm.AiResult{TaskID: res.TaskID, Images: []string{res.First()}}, nil
	}

	workers := n
	if workers > MaxParallelImages {
		workers = MaxParallelImages
	}
	pool := workerpool.New(workers)

	var (
		mu      sync.Mutex
		merged  llm.AiResult
		lastErr error
		failed  int
	)
	for i := 0; i < n; i++ {
		index := i
		pool.Submit(func() {
			res, err := task(ctx, index)
			mu.Lock()
			defer mu.Unlock()
			if err == nil && (res == nil || res.First() == "") {
				err = llm.ErrNoImage
			}
			if err != nil {
				failed++
				lastErr = err
				logrus.WithContext(ctx).WithError(err).WithField("index", index).Warn("fanout_subtask_failed")
				return
			}
			if merged.TaskID == "" {
				merged.TaskID = res.TaskID
			}
			merged.Images = append(merged.Images, res.First())
		})
	}
	pool.StopWait()

	if len(merged.Images) == 0 {
		return nil, fmt.Errorf("all %d sub-requests failed: %w", n, lastErr)
	}
	if failed > 0 {
		logrus.WithContext(ctx).WithFields(logrus.Fields{
			"requested": n,
			"produced":  len(merged.Images),
		}).Warn("fanout_partial_success")
	}
	return &merged, nil
}
