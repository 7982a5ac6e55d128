package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// CycleFunc performs one unit of worker work. It returns the cycle outcome
// for the run log, or an error when the cycle failed as a whole. Per-item
// failures are counted inside the result, not returned.
type CycleFunc func(ctx context.Context) (*RunResult, error)

// Worker drives a CycleFunc either once or on a fixed interval, recording
// every cycle in the run log. Cancellation of the context stops the loop
// after the in-flight cycle finishes.
type Worker struct {
	Name     string
	Interval time.Duration
	Once     bool
	Log      *RunLog
	Cycle    CycleFunc
}

// Run executes the worker loop. In interval mode a failed cycle is logged
// and the loop continues; in once mode the cycle error is returned.
func (w *Worker) Run(ctx context.Context) error {
	log := zap.L().With(zap.String("component", w.Name))

	for {
		err := w.runCycle(ctx, log)
		if w.Once {
			return err
		}
		if err != nil && ctx.Err() == nil {
			log.Error("cycle failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			log.Info("worker stopping")
			return nil
		case <-time.After(w.Interval):
		}
	}
}

func (w *Worker) runCycle(ctx context.Context, log *zap.Logger) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	start := time.Now()

	var ref *RunRef
	if w.Log != nil {
		r, err := w.Log.Start(ctx, w.Name)
		if err != nil {
			// The run log is observability, not correctness. A cycle still
			// runs when the insert fails.
			log.Warn("run log start failed", zap.Error(err))
		} else {
			ref = r
			log = log.With(zap.String("run", ref.UID.String()))
		}
	}

	result, err := w.Cycle(ctx)
	if err != nil {
		if ref != nil {
			if ferr := w.Log.Fail(ctx, ref.ID, err.Error()); ferr != nil {
				log.Warn("run log fail failed", zap.Error(ferr))
			}
		}
		return err
	}

	if ref != nil {
		if cerr := w.Log.Complete(ctx, ref.ID, result); cerr != nil {
			log.Warn("run log complete failed", zap.Error(cerr))
		}
	}

	items := int64(0)
	if result != nil {
		items = result.Items
	}
	log.Info("cycle complete",
		zap.Int64("items", items),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}
