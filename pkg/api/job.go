package api

import (
	"context"

	"github.com/google/uuid"

	"github.com/suffix-labs/zcash-pct/pkg/pczt"
)

// ProvingJob is a proving run in the background.
type ProvingJob struct {
	id     uuid.UUID
	events chan Progress
	done   chan struct{}
	cancel context.CancelFunc

	result *Handle
	err    error
}

// ProveAsync starts proving h in the background. The job stops early when
// ctx is done or Cancel is called; in that case no proof is kept and h is
// left usable.
func (m *Manager) ProveAsync(ctx context.Context, h *Handle) *ProvingJob {
	ctx, cancel := context.WithCancel(ctx)
	var actions int
	_ = h.borrow(func(p *pczt.PCZT) error {
		actions = len(p.Orchard.Actions)
		return nil
	})

	job := &ProvingJob{
		id:     uuid.New(),
		events: make(chan Progress, actions+8),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go func() {
		defer close(job.done)
		defer close(job.events)
		defer cancel()
		job.result, job.err = m.Prove(ctx, h, func(ev Progress) {
			select {
			case job.events <- ev:
			default:
			}
		})
	}()
	return job
}

// ID identifies the job in logs and over HTTP.
func (j *ProvingJob) ID() string {
	return j.id.String()
}

// Events delivers progress in order and is closed when the job ends.
func (j *ProvingJob) Events() <-chan Progress {
	return j.events
}

// Done is closed when the job ends.
func (j *ProvingJob) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job ends and returns the proved handle.
func (j *ProvingJob) Wait() (*Handle, error) {
	<-j.done
	return j.result, j.err
}

// Cancel stops the job. Waiting callers get a CANCELED ProverError.
func (j *ProvingJob) Cancel() {
	j.cancel()
}
