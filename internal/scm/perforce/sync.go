package perforce

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"depotci/internal/errs"
	"depotci/internal/metrics"
)

// SyncState is the position of a sync in its lifecycle.
type SyncState int

const (
	Unsynced SyncState = iota
	Probing
	AlreadyUpToDate
	NeedsSync
	Synced
)

func (s SyncState) String() string {
	return [...]string{"unsynced", "probing", "already_up_to_date", "needs_sync", "synced"}[s]
}

// SyncOptions configures one sync.
type SyncOptions struct {
	// StreamPath is the depot path covering the workspace, e.g. //depot/main/...
	StreamPath string
	// Revision pins the sync; empty means latest.
	Revision string
	Force    bool
	// Clean is accepted but not enforced.
	Clean bool
}

// SyncEngine brings a workspace to a target revision, skipping the transfer
// when a dry-run probe reports the workspace is already there.
type SyncEngine struct {
	depot   Depot
	log     *logrus.Entry
	metrics *metrics.Recorder
}

func NewSyncEngine(depot Depot, log *logrus.Entry, m *metrics.Recorder) *SyncEngine {
	return &SyncEngine{depot: depot, log: log, metrics: m}
}

// Target returns the sync argument for opts: nothing for latest, or the
// stream path qualified with the revision.
func (opts SyncOptions) Target() string {
	rev := strings.TrimPrefix(opts.Revision, "@")
	if rev == "" {
		return ""
	}
	return opts.StreamPath + "@" + rev
}

// Sync runs the probe and, when needed or forced, the real sync. It returns
// the terminal state: AlreadyUpToDate or Synced.
func (e *SyncEngine) Sync(ctx context.Context, opts SyncOptions) (SyncState, error) {
	req := SyncRequest{DryRun: true, Force: opts.Force, Target: opts.Target()}
	log := e.log.WithField("target", req.Target)

	state := Probing
	outcome, err := e.depot.Sync(ctx, req)
	if err != nil {
		e.metrics.DepotOperation("sync_probe", "error")
		return state, errs.Wrap(errs.CodeSync, err, "sync probe")
	}
	e.metrics.DepotOperation("sync_probe", outcome.String())

	if outcome == SyncUpToDate {
		state = AlreadyUpToDate
		log.Info("Workspace is in sync with depot")
	} else {
		state = NeedsSync
	}

	if state == NeedsSync || opts.Force {
		req.DryRun = false
		if _, err := e.depot.Sync(ctx, req); err != nil {
			e.metrics.DepotOperation("sync", "error")
			return state, errs.Wrap(errs.CodeSync, err, "sync")
		}
		e.metrics.DepotOperation("sync", "ok")
		state = Synced
		log.WithField("force", opts.Force).Info("Workspace synced")
	}

	if opts.Clean {
		log.Debug("sync_clean is set but not enforced")
	}
	return state, nil
}
