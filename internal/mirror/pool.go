package mirror

import (
	"context"
	"time"
)

// probeJob pairs a candidate with its position in the input order.
type probeJob struct {
	index int
	url   string
}

// dispatch starts a worker pool sized min(len(candidates), MaxWorkers) and
// queues one probe per candidate. It returns one single-slot future per
// candidate in input order. Workers exit once the closed jobs channel drains.
func (s *Selector) dispatch(ctx context.Context, candidates []string) []chan ProbeResult {
	futures := make([]chan ProbeResult, len(candidates))
	jobs := make(chan probeJob, len(candidates))
	for i, u := range candidates {
		futures[i] = make(chan ProbeResult, 1)
		jobs <- probeJob{index: i, url: u}
	}
	close(jobs)

	workers := min(len(candidates), s.opts.MaxWorkers)
	for i := 0; i < workers; i++ {
		go s.worker(ctx, jobs, futures)
	}
	return futures
}

// worker runs probes until the jobs channel is drained. Each future receives
// exactly one result.
func (s *Selector) worker(ctx context.Context, jobs <-chan probeJob, futures []chan ProbeResult) {
	for job := range jobs {
		res := s.probeFn(ctx, job.url)
		res.URL = job.url
		res.Position = job.index
		futures[job.index] <- res
	}
}

// collect waits on each future in input order for at most the per-task
// ceiling. Futures that do not report in time are returned as excluded;
// their probes are abandoned, not cancelled.
func (s *Selector) collect(candidates []string, futures []chan ProbeResult) ([]ProbeResult, []string) {
	ceiling := s.opts.ReadTimeout + s.opts.CollectSlack
	results := make([]ProbeResult, 0, len(futures))
	var excluded []string

	for i, future := range futures {
		timer := time.NewTimer(ceiling)
		select {
		case res := <-future:
			timer.Stop()
			results = append(results, res)
		case <-timer.C:
			excluded = append(excluded, candidates[i])
		}
	}
	return results, excluded
}
