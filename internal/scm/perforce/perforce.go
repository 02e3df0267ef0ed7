// Package perforce implements the scm backend for Perforce streams.
//
// A backend owns one Connection for its lifetime. The connection and the
// workspace are prepared lazily by the first operation and released by
// Cleanup.
package perforce

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"depotci/internal/config"
	"depotci/internal/errs"
	"depotci/internal/metrics"
	"depotci/internal/scm"
)

// Type is the scm type handled by this package.
const Type = "perforce"

// ClientNamePrefix prefixes the default client name, followed by the host
// name.
const ClientNamePrefix = "BUILD-TOOL-"

// Config is one perforce entry of a pipeline's scms mapping.
type Config struct {
	DepotName            string `mapstructure:"depot_name"`
	StreamName           string `mapstructure:"stream_name"`
	ClientRoot           string `mapstructure:"client_root"`
	ClientName           string `mapstructure:"client_name"`
	SyncForce            bool   `mapstructure:"sync_force"`
	SyncClean            bool   `mapstructure:"sync_clean" default:"true"`
	ServerTrust          bool   `mapstructure:"server_trust" default:"true"`
	ConnectionConfigName string `mapstructure:"connection_config_name"`
}

// Validate checks required options and fills in derived defaults.
func (c *Config) Validate() error {
	required := []struct{ key, value string }{
		{"depot_name", c.DepotName},
		{"stream_name", c.StreamName},
		{"client_root", c.ClientRoot},
		{"connection_config_name", c.ConnectionConfigName},
	}
	for _, r := range required {
		if r.value == "" {
			return errs.Configf("option %q is missing from scm configuration", r.key)
		}
	}

	root, err := filepath.Abs(c.ClientRoot)
	if err != nil {
		return errs.Wrap(errs.CodeConfiguration, err, "client_root %q", c.ClientRoot)
	}
	c.ClientRoot = root

	if c.ClientName == "" {
		host, err := os.Hostname()
		if err != nil {
			return errs.Wrap(errs.CodeConfiguration, err, "derive client_name")
		}
		c.ClientName = ClientNamePrefix + host
	}
	return nil
}

// Stream is the depot stream path, //depot/stream.
func (c Config) Stream() string {
	return fmt.Sprintf("//%s/%s", c.DepotName, c.StreamName)
}

// Options holds the collaborators of an SCM.
type Options struct {
	Depot   Depot
	Fs      afero.Fs
	Log     *logrus.Entry
	Metrics *metrics.Recorder
	// Mode is the changes collection mode; see config.ChangesByTimestamp.
	Mode string
}

// SCM is the perforce scm.Backend.
type SCM struct {
	cfg       Config
	mode      string
	depot     Depot
	conn      *Connection
	workspace *WorkspaceManager
	syncer    *SyncEngine
	submitter *Submitter
	prepared  bool
	log       *logrus.Entry
}

// New builds an SCM for a validated cfg.
func New(cfg Config, opts Options) *SCM {
	log := opts.Log.WithFields(logrus.Fields{"scm": Type, "client": cfg.ClientName})
	return &SCM{
		cfg:       cfg,
		mode:      opts.Mode,
		depot:     opts.Depot,
		conn:      NewConnection(opts.Depot, cfg.ServerTrust, log, opts.Metrics),
		workspace: NewWorkspaceManager(opts.Depot, opts.Fs, log),
		syncer:    NewSyncEngine(opts.Depot, log, opts.Metrics),
		submitter: NewSubmitter(opts.Depot, opts.Fs, log, opts.Metrics),
		log:       log,
	}
}

// Register adds the perforce factory to reg.
func Register(reg *scm.Registry) error {
	return reg.Register(Type, factory)
}

func factory(_ context.Context, env scm.Env, section map[string]interface{}) (scm.Backend, error) {
	var cfg Config
	if err := config.Decode(section, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	conn, ok := env.Connections[cfg.ConnectionConfigName]
	if !ok {
		return nil, errs.Configf("missing %s config with name %q", config.SectionConnection, cfg.ConnectionConfigName)
	}
	return New(cfg, Options{
		Depot:   NewCLI(env.Runner, conn, env.Log),
		Fs:      env.Fs,
		Log:     env.Log,
		Metrics: env.Metrics,
		Mode:    env.Config.Main.ChangesCollectionMode,
	}), nil
}

func (s *SCM) prepare(ctx context.Context) error {
	if s.prepared {
		return nil
	}
	if err := s.conn.Connect(ctx); err != nil {
		return err
	}
	ws := Workspace{Name: s.cfg.ClientName, Stream: s.cfg.Stream(), Root: s.cfg.ClientRoot}
	if err := s.workspace.Ensure(ctx, s.conn, ws); err != nil {
		return err
	}
	s.prepared = true
	return nil
}

func (s *SCM) streamPath() string {
	return s.cfg.Stream() + "/..."
}

// Checkout syncs the workspace to revision, or to latest when empty.
func (s *SCM) Checkout(ctx context.Context, revision string) error {
	if err := s.prepare(ctx); err != nil {
		return err
	}
	_, err := s.syncer.Sync(ctx, SyncOptions{
		StreamPath: s.streamPath(),
		Revision:   revision,
		Force:      s.cfg.SyncForce,
		Clean:      s.cfg.SyncClean,
	})
	return err
}

// Upload submits the files under paths that differ from the depot.
func (s *SCM) Upload(ctx context.Context, paths []string, message string) error {
	if len(paths) == 0 {
		s.log.Warn("No upload paths configured, nothing to submit")
		return nil
	}
	if err := s.prepare(ctx); err != nil {
		return err
	}
	files, err := s.submitter.Expand(s.cfg.ClientRoot, paths)
	if err != nil {
		return err
	}
	_, err = s.submitter.Submit(ctx, files, message)
	return err
}

// Cleanup closes the session.
func (s *SCM) Cleanup(ctx context.Context) {
	s.conn.Disconnect(ctx)
	s.prepared = false
}

// CurrentRevision returns the highest change the workspace has, or "" for
// an empty workspace.
func (s *SCM) CurrentRevision(ctx context.Context) (string, error) {
	if err := s.prepare(ctx); err != nil {
		return "", err
	}
	changes, err := s.depot.Changes(ctx, s.streamPath()+"#have", 1)
	if err != nil {
		return "", errs.Wrap(errs.CodeSync, err, "current revision")
	}
	if len(changes) == 0 {
		return "", nil
	}
	return changes[0].ID, nil
}

// Changelog lists the changes the workspace received after since. The
// lower bound is the revision or the time of since, depending on the
// collection mode.
func (s *SCM) Changelog(ctx context.Context, since scm.Mark) ([]scm.Change, error) {
	var lower string
	switch s.mode {
	case config.ChangesByChangelist:
		if since.Revision == "" {
			return nil, nil
		}
		lower = since.Revision
	default:
		if since.Time.IsZero() {
			return nil, nil
		}
	}

	if err := s.prepare(ctx); err != nil {
		return nil, err
	}
	if lower == "" {
		lower = s.serverTime(ctx, since.Time).Format("2006/01/02:15:04:05")
	}
	changes, err := s.depot.Changes(ctx, fmt.Sprintf("%s@%s,#have", s.streamPath(), lower), 0)
	if err != nil {
		return nil, errs.Wrap(errs.CodeSync, err, "changelog")
	}

	out := changes[:0]
	for _, c := range changes {
		if s.mode == config.ChangesByChangelist && c.ID == since.Revision {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// serverTime expresses t on the server's clock, which is how p4 reads
// @yyyy/mm/dd:hh:mm:ss. The local zone is kept when the server's is unknown.
func (s *SCM) serverTime(ctx context.Context, t time.Time) time.Time {
	loc, err := s.depot.ServerLocation(ctx)
	if err != nil {
		s.log.WithError(err).Warn("Could not read server time zone, using local time")
		return t
	}
	return t.In(loc)
}
