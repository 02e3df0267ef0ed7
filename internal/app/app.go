// Package app wires configuration, logging, metrics, the run ledger and
// the dispatcher together for the command-line tools.
package app

import (
	"io"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"depotci/internal/config"
	"depotci/internal/core"
	"depotci/internal/executor"
	"depotci/internal/ledger"
	"depotci/internal/logging"
	"depotci/internal/metrics"
	"depotci/internal/scm"
	"depotci/internal/scm/perforce"
	"depotci/internal/security"
	"depotci/internal/storage"
)

// App holds the long-lived components built from one configuration file.
type App struct {
	Config     *config.Config
	Logger     *logrus.Logger
	Log        *logrus.Entry
	Metrics    *metrics.Recorder
	Registry   *prometheus.Registry
	Ledger     *ledger.Ledger
	Dispatcher *core.Dispatcher

	closer io.Closer
}

type settings struct {
	runner     executor.Runner
	fs         afero.Fs
	configOpts []config.Option
}

// Option customizes Setup.
type Option func(*settings)

// WithRunner replaces the local process runner.
func WithRunner(r executor.Runner) Option {
	return func(s *settings) {
		s.runner = r
	}
}

// WithConfigOptions passes options through to config.Load.
func WithConfigOptions(opts ...config.Option) Option {
	return func(s *settings) {
		s.configOpts = append(s.configOpts, opts...)
	}
}

// Setup loads the configuration at configPath and builds every component.
func Setup(configPath string, opts ...Option) (*App, error) {
	s := settings{runner: executor.New(), fs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(&s)
	}

	logger := logrus.New()
	log := logrus.NewEntry(logger)
	cfg, err := config.Load(configPath, append([]config.Option{config.WithLogger(log)}, s.configOpts...)...)
	if err != nil {
		return nil, err
	}
	closer, err := logging.Configure(logger, logging.Options{
		Level:  cfg.Main.LogLevel,
		Format: cfg.Main.LogFormat,
		File:   cfg.Main.LogFile,
	})
	if err != nil {
		return nil, err
	}

	log.WithField("path", cfg.Path()).Debug("Configuration loaded")

	a := &App{Config: cfg, Logger: logger, Log: log, closer: closer}
	if err := a.build(s); err != nil {
		closer.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(s settings) error {
	home := a.Config.Main.CIHome
	if err := s.fs.MkdirAll(home, 0o755); err != nil {
		return err
	}

	a.Metrics = metrics.New()
	a.Registry = prometheus.NewRegistry()
	if err := a.Metrics.Register(a.Registry); err != nil {
		return err
	}

	keys, created, err := security.EnsureKeyPair(filepath.Join(home, "keys"))
	if err != nil {
		return err
	}
	if created {
		a.Log.WithField("dir", filepath.Join(home, "keys")).Info("Generated ledger signing keys")
	}
	a.Ledger, err = ledger.Open(filepath.Join(home, ledger.FileName), ledger.WithKeys(keys))
	if err != nil {
		return err
	}

	registry := scm.NewRegistry()
	if err := perforce.Register(registry); err != nil {
		return err
	}

	env := scm.Env{
		Config:  a.Config,
		Log:     a.Log,
		Runner:  s.runner,
		Fs:      s.fs,
		Metrics: a.Metrics,
	}
	a.Dispatcher = core.NewDispatcher(registry, env,
		core.WithLogStorage(storage.NewLogStorage(s.fs, filepath.Join(home, "logs"))),
		core.WithObserver(core.Observers{
			core.LogObserver{Log: a.Log},
			core.MetricsObserver{Recorder: a.Metrics},
			ledger.NewRecorder(a.Ledger, s.fs, a.Log),
		}),
	)
	return nil
}

// Close flushes the log file.
func (a *App) Close() error {
	return a.closer.Close()
}

// LedgerPath returns the ledger location under ci_home without opening it.
func LedgerPath(cfg *config.Config) string {
	return filepath.Join(cfg.Main.CIHome, ledger.FileName)
}
