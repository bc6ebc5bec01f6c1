package pipeline

import (
	"context"

	"github.com/dd0wney/cluso-contactgraph/pkg/health"
)

type progress struct {
	op          string
	step, steps int
}

func (r *Runner) setProgress(p progress) {
	r.mu.Lock()
	r.current = p
	r.mu.Unlock()
}

// RegisterHealth adds the runner's checks to hc: store connectivity for
// readiness and the running operation for liveness.
func (r *Runner) RegisterHealth(hc *health.Checker) {
	hc.RegisterReadiness("graph_store", func(ctx context.Context) health.Check {
		r.mu.RLock()
		g := r.graph
		r.mu.RUnlock()
		if g == nil {
			return health.PingCheck(nil)(ctx)
		}
		return health.PingCheck(g.Verify)(ctx)
	})
	hc.RegisterReadiness("output_store", func(ctx context.Context) health.Check {
		r.mu.RLock()
		o := r.output
		r.mu.RUnlock()
		if o == nil {
			return health.PingCheck(nil)(ctx)
		}
		rows, err := o.Count(ctx)
		if err != nil {
			return health.Check{Status: health.StatusUnhealthy, Message: err.Error()}
		}
		return health.Check{Status: health.StatusHealthy, Details: map[string]any{"rows": rows}}
	})
	hc.Register("pipeline", func(ctx context.Context) health.Check {
		r.mu.RLock()
		p := r.current
		r.mu.RUnlock()
		return health.StaticCheck(map[string]any{
			"run_id":    r.opts.RunID,
			"operation": p.op,
			"step":      p.step,
			"steps":     p.steps,
		})(ctx)
	})
}
