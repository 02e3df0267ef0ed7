package core

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"depotci/internal/metrics"
)

// Event describes one action at a point in its execution.
type Event struct {
	RunID   string
	Index   int
	Action  string
	Kind    Kind
	Elapsed time.Duration
	// Logs lists command output files written by the action.
	Logs []string
	Err  error
}

// Observer is notified around every action. Implementations must not
// block for long; they run on the pipeline's goroutine.
type Observer interface {
	ActionStarted(ctx context.Context, ev Event)
	ActionCompleted(ctx context.Context, ev Event)
	ActionFailed(ctx context.Context, ev Event)
}

// Observers fans events out in order.
type Observers []Observer

func (o Observers) ActionStarted(ctx context.Context, ev Event) {
	for _, obs := range o {
		obs.ActionStarted(ctx, ev)
	}
}

func (o Observers) ActionCompleted(ctx context.Context, ev Event) {
	for _, obs := range o {
		obs.ActionCompleted(ctx, ev)
	}
}

func (o Observers) ActionFailed(ctx context.Context, ev Event) {
	for _, obs := range o {
		obs.ActionFailed(ctx, ev)
	}
}

// LogObserver writes action boundaries to a logger.
type LogObserver struct {
	Log *logrus.Entry
}

func (o LogObserver) fields(ev Event) *logrus.Entry {
	return o.Log.WithFields(logrus.Fields{"run": ev.RunID, "action": ev.Action, "kind": ev.Kind})
}

func (o LogObserver) ActionStarted(_ context.Context, ev Event) {
	o.fields(ev).Infof("Started action '%s'.", ev.Action)
}

func (o LogObserver) ActionCompleted(_ context.Context, ev Event) {
	o.fields(ev).WithField("elapsed", ev.Elapsed.Round(time.Millisecond)).
		Infof("Action '%s' completed successfully.", ev.Action)
}

func (o LogObserver) ActionFailed(_ context.Context, ev Event) {
	o.fields(ev).WithError(ev.Err).Errorf("Action '%s' failed.", ev.Action)
}

// MetricsObserver counts finished actions.
type MetricsObserver struct {
	Recorder *metrics.Recorder
}

func (MetricsObserver) ActionStarted(context.Context, Event) {}

func (o MetricsObserver) ActionCompleted(_ context.Context, ev Event) {
	o.Recorder.ObserveAction(string(ev.Kind), "success", ev.Elapsed)
}

func (o MetricsObserver) ActionFailed(_ context.Context, ev Event) {
	o.Recorder.ObserveAction(string(ev.Kind), "failure", ev.Elapsed)
}
