// Package status periodically logs processed/total progress, adapted
// from the teacher's internal/taskmanager: a gocron scheduler running a
// single recurring job, started and torn down with the process.
package status

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/jeffutter/kafka-postgres-transform/pkg/log"
)

// Counts is queried once per tick to build the reported line.
type Counts struct {
	Processed int64
	Total     int64
}

// Reporter logs "processed/total" on a fixed interval until Stop is
// called.
type Reporter struct {
	scheduler gocron.Scheduler
}

// Start creates and starts a scheduler that calls counts every interval
// and logs its result. Total of 0 is rendered as "processed/?" since the
// broker-source path has no known upstream total.
func Start(interval time.Duration, counts func() Counts) (*Reporter, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("status: creating scheduler: %w", err)
	}

	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			c := counts()
			if c.Total > 0 {
				log.Infof("progress: %d/%d", c.Processed, c.Total)
			} else {
				log.Infof("progress: %d/?", c.Processed)
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("status: registering job: %w", err)
	}

	s.Start()
	return &Reporter{scheduler: s}, nil
}

// Stop shuts the scheduler down.
func (r *Reporter) Stop() error {
	return r.scheduler.Shutdown()
}
