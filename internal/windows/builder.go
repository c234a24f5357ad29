package windows

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/orblink/orblink/internal/instance"
	"github.com/orblink/orblink/internal/metrics"
)

// Set holds one immutable Cache per link of an instance, indexed by link.
type Set struct {
	caches []*Cache
}

// buildJob is a unit of work for the worker pool.
type buildJob struct {
	link int
}

// buildResult is the output of one per-link cache build.
type buildResult struct {
	link  int
	cache *Cache
}

// BuildAll builds the visibility interval cache for every link of inst in
// parallel using a fixed worker pool. Each worker samples occlusion at the
// given step across one orbital period. A cancelled context returns the
// partially built set; untouched links hold an empty cache.
func BuildAll(ctx context.Context, inst *instance.Instance, step float64, workers int, logger *slog.Logger) *Set {
	n := len(inst.Links)
	set := &Set{caches: make([]*Cache, n)}
	if n == 0 {
		return set
	}
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan buildJob, workers*2)
	results := make(chan buildResult, workers*2)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				start := time.Now()
				li := job.link
				c := Build(inst.Period(li), step, func(t float64) bool {
					return inst.Blocked(li, t)
				})
				metrics.ObserveWindowBuild(time.Since(start))

				select {
				case results <- buildResult{link: li, cache: c}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for li := 0; li < n; li++ {
			select {
			case jobs <- buildJob{link: li}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	built := 0
	for res := range results {
		set.caches[res.link] = res.cache
		built++
	}

	// Links skipped by cancellation still get a queryable (empty) cache.
	for li, c := range set.caches {
		if c == nil {
			set.caches[li] = &Cache{period: inst.Period(li), step: step}
		}
	}

	stats := set.Stats()
	metrics.SetCachedIntervals(stats.Intervals)
	logger.Info("visibility caches built",
		"links", n,
		"built", built,
		"intervals", stats.Intervals,
		"never_visible", stats.NeverVisible,
		"step_seconds", step,
		"workers", workers,
	)

	return set
}

// Cache returns the cache for link li.
func (s *Set) Cache(li int) *Cache {
	return s.caches[li]
}

// Len returns the number of per-link caches.
func (s *Set) Len() int { return len(s.caches) }

// Stats summarizes the set for logging and the stats endpoint.
type Stats struct {
	Links        int `json:"links"`
	Intervals    int `json:"intervals"`
	NeverVisible int `json:"never_visible"`
}

// Stats returns interval counts across all caches.
func (s *Set) Stats() Stats {
	st := Stats{Links: len(s.caches)}
	for _, c := range s.caches {
		st.Intervals += len(c.intervals)
		if c.Empty() {
			st.NeverVisible++
		}
	}
	return st
}
