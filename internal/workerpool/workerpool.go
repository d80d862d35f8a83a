// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package workerpool runs a bounded number of blocking jobs
// concurrently, the way the orchestrator loads and first-reconciles
// every configured interface's Instance in parallel without letting
// an interface count spike kernel-load concurrency unbounded.
package workerpool

import "sync"

// Pool runs jobs with at most Size concurrently in flight.
type Pool struct {
	sem chan struct{}
}

// New creates a Pool allowing up to size jobs to run concurrently.
// size <= 0 is treated as 1.
func New(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Job is one unit of work submitted to a Pool; it returns an error to
// report alongside its index.
type Job func() error

// Result pairs a job's index in the submitted slice with its error.
type Result struct {
	Index int
	Err   error
}

// Run submits every job in jobs, blocking until all have completed,
// and returns one Result per job. At most the pool's size run
// concurrently; jobs beyond that wait for a free slot.
func Run(p *Pool, jobs []Job) []Result {
	results := make([]Result, len(jobs))

	var wg sync.WaitGroup
	wg.Add(len(jobs))
	for i, job := range jobs {
		p.sem <- struct{}{}
		go func(i int, job Job) {
			defer wg.Done()
			defer func() { <-p.sem }()
			results[i] = Result{Index: i, Err: job()}
		}(i, job)
	}
	wg.Wait()

	return results
}
