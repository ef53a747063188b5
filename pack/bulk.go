package pack

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/janelia-flyem/densityserver/density"
)

// EventKind tells what happened to a bulk job.
type EventKind uint8

const (
	// Progress reports slices processed for a running job.
	Progress EventKind = iota
	// Failed reports a job that ended with an error.
	Failed
	// Done reports a job that finished successfully.
	Done
)

func (k EventKind) String() string {
	switch k {
	case Progress:
		return "progress"
	case Failed:
		return "failed"
	case Done:
		return "done"
	}
	return "unknown"
}

// Event is sent by bulk workers to the coordinator.
type Event struct {
	Kind    EventKind
	Job     string
	Worker  int
	Done    int // slices processed, for Progress
	Total   int // slices in the job, for Progress
	Err     error
	Elapsed time.Duration
}

// Summary aggregates the outcome of a bulk run.
type Summary struct {
	Succeeded int
	Failed    map[string]error
	Elapsed   time.Duration
}

// PackFunc packs one job.  PackFiles matches it.
type PackFunc func(ctx context.Context, inputs []string, opts Options) error

func packJob(ctx context.Context, inputs []string, opts Options) error {
	_, err := PackFiles(ctx, inputs, opts)
	return err
}

// Bulk packs jobs with the given number of workers.  Jobs are handed out over a
// channel and each worker reports through events; a failing job does not stop the
// others.  If events is non-nil every event is forwarded to it, and it is closed when
// Bulk returns.
func Bulk(ctx context.Context, jobs []Job, workers int, events chan<- Event) Summary {
	return bulk(ctx, jobs, workers, events, packJob)
}

func bulk(ctx context.Context, jobs []Job, workers int, events chan<- Event, pack PackFunc) Summary {
	if events != nil {
		defer close(events)
	}
	if workers < 1 {
		workers = 1
	}
	tlog := density.NewTimeLog()

	queue := make(chan Job)
	results := make(chan Event, workers)

	var g errgroup.Group
	g.Go(func() error {
		defer close(queue)
		for _, job := range jobs {
			select {
			case queue <- job:
			case <-ctx.Done():
				return nil
			}
		}
		return nil
	})
	var workerGroup errgroup.Group
	for w := 0; w < workers; w++ {
		worker := w
		workerGroup.Go(func() error {
			for job := range queue {
				start := time.Now()
				opts := Options{
					Output:    job.Output,
					BlockSize: job.BlockSize,
					Periodic:  job.Periodic,
					Progress: func(done, total int) {
						results <- Event{Kind: Progress, Job: job.Name, Worker: worker, Done: done, Total: total}
					},
				}
				err := pack(ctx, job.Inputs, opts)
				ev := Event{Kind: Done, Job: job.Name, Worker: worker, Elapsed: time.Since(start)}
				if err != nil {
					ev.Kind = Failed
					ev.Err = err
				}
				results <- ev
			}
			return nil
		})
	}
	go func() {
		workerGroup.Wait()
		g.Wait()
		close(results)
	}()

	summary := Summary{Failed: make(map[string]error)}
	finished := 0
	for ev := range results {
		switch ev.Kind {
		case Done:
			summary.Succeeded++
			finished++
			density.Infof("[%d/%d] packed %q on worker %d in %s\n", finished, len(jobs), ev.Job, ev.Worker, ev.Elapsed)
		case Failed:
			summary.Failed[ev.Job] = ev.Err
			finished++
			density.Errorf("[%d/%d] packing %q failed on worker %d: %v\n", finished, len(jobs), ev.Job, ev.Worker, ev.Err)
		}
		if events != nil {
			events <- ev
		}
	}
	summary.Elapsed = tlog.Elapsed()
	tlog.Infof("Bulk pack of %s jobs finished, %d failed", humanize.Comma(int64(len(jobs))), len(summary.Failed))
	return summary
}
