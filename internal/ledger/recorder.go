package ledger

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"depotci/internal/core"
	"depotci/pkg/utils"
)

// Recorder appends a block for every finished action. Ledger failures are
// logged and never fail the pipeline.
type Recorder struct {
	ledger *Ledger
	fs     afero.Fs
	log    *logrus.Entry
}

// NewRecorder returns an observer writing to l. Log files named in events
// are read from fs to hash them.
func NewRecorder(l *Ledger, fs afero.Fs, log *logrus.Entry) *Recorder {
	return &Recorder{ledger: l, fs: fs, log: log}
}

func (r *Recorder) ActionStarted(context.Context, core.Event) {}

func (r *Recorder) ActionCompleted(_ context.Context, ev core.Event) {
	r.record(ev, StatusSucceeded)
}

func (r *Recorder) ActionFailed(_ context.Context, ev core.Event) {
	r.record(ev, StatusFailed)
}

func (r *Recorder) record(ev core.Event, status string) {
	var logs []LogRef
	for _, path := range ev.Logs {
		ref := LogRef{Path: path}
		if hash, err := utils.HashFile(r.fs, path); err != nil {
			r.log.WithError(err).WithField("path", path).Warn("Cannot hash log")
		} else {
			ref.Hash = hash
		}
		logs = append(logs, ref)
	}

	blk := NewBlock(ev.RunID, ev.Action, string(ev.Kind), status, ev.Err, logs)
	if err := r.ledger.Append(blk); err != nil {
		r.log.WithError(err).Warn("Cannot append ledger block")
		return
	}
	r.log.WithFields(logrus.Fields{"index": blk.Index, "hash": blk.Hash[:16]}).Debug("Ledger block appended")
}
