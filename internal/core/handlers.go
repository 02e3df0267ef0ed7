package core

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"depotci/internal/errs"
	"depotci/internal/executor"
	"depotci/internal/scm"
	"depotci/internal/storage"
)

// Handler executes one action.
type Handler interface {
	Execute(ctx context.Context) error
}

// logProducer is implemented by handlers that save command output.
type logProducer interface {
	Logs() []string
}

type checkoutHandler struct {
	backend  scm.Backend
	revision string
	log      *logrus.Entry
}

// Execute syncs the workspace and logs what the sync brought in. The
// backend session is released whatever the outcome.
func (h *checkoutHandler) Execute(ctx context.Context) error {
	defer h.backend.Cleanup(ctx)

	// The revision only feeds the changelog; reading it never gates the sync.
	before, err := h.backend.CurrentRevision(ctx)
	if err != nil {
		h.log.WithError(err).Warn("Could not read workspace revision")
		before = ""
	}
	mark := scm.Mark{Revision: before, Time: time.Now()}

	if err := h.backend.Checkout(ctx, h.revision); err != nil {
		return err
	}

	after, err := h.backend.CurrentRevision(ctx)
	if err != nil {
		h.log.WithError(err).Warn("Could not read workspace revision")
		return nil
	}
	log := h.log.WithFields(logrus.Fields{"from": before, "to": after})
	if after == before {
		log.Info("Workspace revision unchanged")
		return nil
	}

	changes, err := h.backend.Changelog(ctx, mark)
	if err != nil {
		log.WithError(err).Warn("Could not collect changelog")
		return nil
	}
	log.WithField("changes", len(changes)).Info("Workspace updated")
	for _, c := range changes {
		h.log.Infof("  %s %s: %s", c.ID, c.User, firstLine(c.Description))
	}
	return nil
}

type uploadHandler struct {
	backend scm.Backend
	paths   []string
	message string
}

func (h *uploadHandler) Execute(ctx context.Context) error {
	defer h.backend.Cleanup(ctx)
	return h.backend.Upload(ctx, h.paths, h.message)
}

type commandHandler struct {
	action   string
	commands []string
	runner   executor.Runner
	storage  *storage.LogStorage
	saved    []string
	log      *logrus.Entry
}

// Execute runs the commands in order and stops at the first one that
// exits non-zero.
func (h *commandHandler) Execute(ctx context.Context) error {
	for i, command := range h.commands {
		log := h.log.WithField("command", command)
		log.Info("Running command")

		res, err := executor.Shell(ctx, h.runner, command, "")
		if err != nil {
			return errs.Wrap(errs.CodeCommandExecution, err, "command %q", command)
		}
		h.save(log, i+1, res)

		if res.ExitCode != 0 {
			return errs.New(errs.CodeCommandExecution, "command %q exited with status %d%s",
				command, res.ExitCode, outputTail(res))
		}
	}
	return nil
}

func (h *commandHandler) Logs() []string {
	return h.saved
}

func (h *commandHandler) save(log *logrus.Entry, n int, res *executor.Result) {
	if h.storage == nil {
		return
	}
	path, err := h.storage.SaveLog(h.action, n, res.Combined())
	if err != nil {
		log.WithError(err).Warn("Failed to save command output")
		return
	}
	h.saved = append(h.saved, path)
	log.WithField("path", path).Debug("Command output saved")
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}

// outputTail returns the last line of output as ": line", or "".
func outputTail(res *executor.Result) string {
	out := strings.TrimSpace(res.Combined())
	if out == "" {
		return ""
	}
	if i := strings.LastIndexByte(out, '\n'); i >= 0 {
		out = out[i+1:]
	}
	return ": " + out
}
