package perforce

import (
	"context"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"depotci/internal/errs"
	"depotci/internal/metrics"
)

// DefaultSubmitMessage is used when an upload has no message.
const DefaultSubmitMessage = "Auto-generated commit"

// Submitter detects which local files differ from the depot and submits
// only those.
type Submitter struct {
	depot   Depot
	fs      afero.Fs
	log     *logrus.Entry
	metrics *metrics.Recorder
}

func NewSubmitter(depot Depot, fs afero.Fs, log *logrus.Entry, m *metrics.Recorder) *Submitter {
	return &Submitter{depot: depot, fs: fs, log: log, metrics: m}
}

// Expand turns glob patterns into a sorted, de-duplicated file list.
// Relative patterns are taken relative to root. Directories are skipped.
func (s *Submitter) Expand(root string, patterns []string) ([]string, error) {
	seen := make(map[string]struct{})
	var files []string
	for _, pattern := range patterns {
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(root, pattern)
		}
		matches, err := afero.Glob(s.fs, pattern)
		if err != nil {
			return nil, errs.Wrap(errs.CodeConfiguration, err, "invalid upload path %q", pattern)
		}
		if len(matches) == 0 {
			s.log.WithField("pattern", pattern).Warn("Upload path matched no files")
		}
		for _, match := range matches {
			info, err := s.fs.Stat(match)
			if err != nil || info.IsDir() {
				continue
			}
			if _, dup := seen[match]; dup {
				continue
			}
			seen[match] = struct{}{}
			files = append(files, match)
		}
	}
	sort.Strings(files)
	return files, nil
}

// Submit reconciles each file and submits the changed ones in a single
// change. It returns the submitted change number, or "" when nothing
// changed and no submit was attempted.
func (s *Submitter) Submit(ctx context.Context, files []string, message string) (string, error) {
	if message == "" {
		message = DefaultSubmitMessage
	}

	var dirty []string
	for _, file := range files {
		log := s.log.WithField("file", file)

		outcome, err := s.depot.Reconcile(ctx, true, file)
		if err != nil {
			s.metrics.DepotOperation("reconcile", "error")
			return "", errs.Wrap(errs.CodeReconcile, err, "reconcile %s", file)
		}
		if outcome == NothingToReconcile {
			log.Debug("File unchanged")
			s.metrics.DepotOperation("reconcile", outcome.String())
			continue
		}

		if _, err := s.depot.Reconcile(ctx, false, file); err != nil {
			s.metrics.DepotOperation("reconcile", "error")
			return "", errs.Wrap(errs.CodeReconcile, err, "reconcile %s", file)
		}
		s.metrics.DepotOperation("reconcile", outcome.String())
		log.Info("File opened for submit")
		dirty = append(dirty, file)
	}

	if len(dirty) == 0 {
		s.log.Info("Nothing to submit")
		return "", nil
	}

	change, err := s.depot.Submit(ctx, message, dirty)
	if err != nil {
		s.metrics.DepotOperation("submit", "error")
		return "", errs.Wrap(errs.CodeSubmit, err, "submit %d file(s)", len(dirty))
	}
	s.metrics.DepotOperation("submit", "ok")
	s.log.WithFields(logrus.Fields{"change": change, "files": len(dirty)}).Info("Change submitted")
	return change, nil
}
