package core

import (
	"context"
	"time"
)

// Run executes the actions of p in order. The first failure stops the
// pipeline; later actions never start.
func (d *Dispatcher) Run(ctx context.Context, p *Pipeline) error {
	log := d.log.WithField("run", p.ID)
	log.WithField("actions", len(p.Actions)).Info("Starting pipeline")

	for i, action := range p.Actions {
		ev := Event{RunID: p.ID, Index: i, Action: action.Name, Kind: action.Kind}
		d.observer.ActionStarted(ctx, ev)

		start := time.Now()
		err := action.Handler.Execute(ctx)
		ev.Elapsed = time.Since(start)
		if lp, ok := action.Handler.(logProducer); ok {
			ev.Logs = lp.Logs()
		}

		if err != nil {
			ev.Err = &ActionError{Action: action.Name, Kind: action.Kind, Err: err}
			d.observer.ActionFailed(ctx, ev)
			return ev.Err
		}
		d.observer.ActionCompleted(ctx, ev)
	}

	log.Info("Pipeline finished successfully")
	return nil
}
