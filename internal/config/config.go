// Package config loads the main depotci configuration file.
//
// A single Config is built at startup and handed to every component that
// needs it. Named connection sections are returned with secret references
// already resolved.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/creasty/defaults"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"depotci/internal/errs"
	"depotci/internal/secrets"
)

// EnvPrefix prefixes environment overrides of main keys, e.g.
// DEPOTCI_MAIN_VAULT_TOKEN.
const EnvPrefix = "DEPOTCI"

// SectionConnection holds the named connection sections.
const SectionConnection = "perforce_connection"

// Changes collection modes.
const (
	ChangesByTimestamp  = "timestamp"
	ChangesByChangelist = "changelist"
)

// MainConfig is the [main] section.
type MainConfig struct {
	CIHome                string `mapstructure:"ci_home" default:"./ci_home"`
	ChangesCollectionMode string `mapstructure:"changes_collection_mode" default:"timestamp"`
	VaultAddress          string `mapstructure:"vault_address"`
	VaultToken            string `mapstructure:"vault_token"`
	LogLevel              string `mapstructure:"log_level" default:"info"`
	LogFormat             string `mapstructure:"log_format" default:"text"`
	LogFile               string `mapstructure:"log_file"`
	ServerAddress         string `mapstructure:"server_address" default:":8080"`
}

var mainKeys = []string{
	"ci_home",
	"changes_collection_mode",
	"vault_address",
	"vault_token",
	"log_level",
	"log_format",
	"log_file",
	"server_address",
}

// Config is the loaded configuration.
type Config struct {
	Main MainConfig

	path     string
	v        *viper.Viper
	resolver *secrets.Resolver
	newStore secrets.StoreFactory
	log      *logrus.Entry
}

// Option customizes Load.
type Option func(*Config)

// WithSecretStore replaces the Vault store built from main credentials.
func WithSecretStore(factory secrets.StoreFactory) Option {
	return func(c *Config) {
		c.newStore = factory
	}
}

// WithLogger sets the entry used by the secret resolver.
func WithLogger(log *logrus.Entry) Option {
	return func(c *Config) {
		c.log = log
	}
}

// Load reads the configuration file at path. TOML and YAML are accepted,
// chosen by extension.
func Load(path string, opts ...Option) (*Config, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errs.Wrap(errs.CodeConfiguration, err, "resolve config path %s", path)
	}
	if _, err := os.Stat(abs); errors.Is(err, fs.ErrNotExist) {
		return nil, errs.Configf("config file not found: %s", abs)
	}

	v := viper.New()
	v.SetConfigFile(abs)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range mainKeys {
		if err := v.BindEnv("main." + key); err != nil {
			return nil, errs.Wrap(errs.CodeConfiguration, err, "bind env for main.%s", key)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, errs.Wrap(errs.CodeConfiguration, err, "read config %s", abs)
	}

	c := &Config{path: abs, v: v, log: logrus.NewEntry(logrus.StandardLogger())}
	for _, opt := range opts {
		opt(c)
	}
	if c.newStore == nil {
		c.newStore = c.vaultStore
	}
	c.resolver = secrets.NewResolver(c.newStore, c.log)

	if err := c.loadMain(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) loadMain() error {
	raw := make(map[string]interface{})
	for _, key := range mainKeys {
		if c.v.IsSet("main." + key) {
			raw[key] = c.v.Get("main." + key)
		}
	}
	if err := Decode(raw, &c.Main); err != nil {
		return fmt.Errorf("main: %w", err)
	}

	// Relative paths are taken from the config file's directory.
	if !filepath.IsAbs(c.Main.CIHome) {
		c.Main.CIHome = filepath.Join(filepath.Dir(c.path), c.Main.CIHome)
	}
	if c.Main.LogFile != "" && !filepath.IsAbs(c.Main.LogFile) {
		c.Main.LogFile = filepath.Join(filepath.Dir(c.path), c.Main.LogFile)
	}

	switch c.Main.ChangesCollectionMode {
	case ChangesByTimestamp, ChangesByChangelist:
	default:
		return errs.Configf("invalid value for \"changes_collection_mode\": %q, valid options are: [%s %s]",
			c.Main.ChangesCollectionMode, ChangesByTimestamp, ChangesByChangelist)
	}
	return nil
}

func (c *Config) vaultStore() (secrets.Store, error) {
	return secrets.NewVaultStore(c.Main.VaultAddress, c.Main.VaultToken)
}

// Path returns the absolute path of the loaded file.
func (c *Config) Path() string {
	return c.path
}

// Resolve returns section with every secret reference replaced.
func (c *Config) Resolve(ctx context.Context, section map[string]interface{}) (map[string]interface{}, error) {
	return c.resolver.ResolveSection(ctx, section)
}

// Section returns the named entry of a section kind, resolved.
func (c *Config) Section(ctx context.Context, kind, name string) (map[string]interface{}, error) {
	raw := c.v.GetStringMap(kind + "." + name)
	if len(raw) == 0 {
		return nil, errs.Configf("missing %s config with name %q", kind, name)
	}
	return c.Resolve(ctx, raw)
}

// Connection returns the resolved and validated connection named name.
func (c *Config) Connection(ctx context.Context, name string) (ConnectionConfig, error) {
	var conn ConnectionConfig
	if name == "" {
		return conn, errs.Configf("connection_config_name is required")
	}
	section, err := c.Section(ctx, SectionConnection, name)
	if err != nil {
		return conn, err
	}
	if err := Decode(section, &conn); err != nil {
		return conn, fmt.Errorf("%s.%s: %w", SectionConnection, name, err)
	}
	if err := conn.Validate(); err != nil {
		return conn, fmt.Errorf("%s.%s: %w", SectionConnection, name, err)
	}
	return conn, nil
}

// Decode copies raw into out (a pointer to struct) using mapstructure tags,
// after applying `default` tags.
func Decode(raw map[string]interface{}, out interface{}) error {
	if err := defaults.Set(out); err != nil {
		return errs.Wrap(errs.CodeConfiguration, err, "apply defaults")
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return errs.Wrap(errs.CodeConfiguration, err, "build decoder")
	}
	if err := decoder.Decode(raw); err != nil {
		return errs.Wrap(errs.CodeConfiguration, err, "decode")
	}
	return nil
}
