// Package config loads and mutates warpnet settings.
//
// Settings come from <config-dir>/config.yml and are then overridden from
// WARPNET_* environment variables. A missing file yields the defaults.
package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/afero"
	"github.com/warpdl/warpnet/common"
	"github.com/warpdl/warpnet/pkg/cookiestore"
	"gopkg.in/yaml.v3"
)

// Settings is the on-disk and environment representation of the
// configuration. Environment names are derived from the field path, for
// example WARPNET_NETWORK_SSL_STRICT.
type Settings struct {
	Cookies Cookies `yaml:"cookies" split_words:"true"`
	Network Network `yaml:"network" split_words:"true"`
	Schemes Schemes `yaml:"schemes" split_words:"true"`
	Log     Log     `yaml:"log" split_words:"true"`
	Server  Server  `yaml:"server" split_words:"true"`
}

type Cookies struct {
	Accept string `yaml:"accept" split_words:"true"`
	Store  bool   `yaml:"store" split_words:"true"`
}

type Network struct {
	SSLStrict           bool   `yaml:"ssl-strict" split_words:"true"`
	DoNotTrack          bool   `yaml:"do-not-track" split_words:"true"`
	AcceptLanguage      string `yaml:"accept-language" split_words:"true"`
	Proxy               string `yaml:"proxy" split_words:"true"`
	RememberCredentials bool   `yaml:"remember-credentials" split_words:"true"`
}

// Schemes maps scheme names to JavaScript handler files.
type Schemes struct {
	Scripts map[string]string `yaml:"scripts" split_words:"true"`
}

type Log struct {
	Level       string `yaml:"level" split_words:"true"`
	Development bool   `yaml:"development" split_words:"true"`
}

type Server struct {
	Listen string `yaml:"listen" split_words:"true"`
	Token  string `yaml:"token" split_words:"true"`
}

// Default returns the built-in settings.
func Default() Settings {
	return Settings{
		Cookies: Cookies{Accept: string(cookiestore.AcceptAlways), Store: true},
		Network: Network{SSLStrict: true, DoNotTrack: true},
		Log:     Log{Level: "info"},
		Server:  Server{Listen: common.DefaultListenAddr},
	}
}

// Validate checks enumerated and structured values and normalizes them
// in place.
func (s *Settings) Validate() error {
	for _, name := range Names() {
		opt := options[name]
		if err := opt.set(s, opt.get(s)); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func (s Settings) clone() Settings {
	s.Schemes.Scripts = maps.Clone(s.Schemes.Scripts)
	return s
}

// Dirs locates the configuration and data directories.
type Dirs struct {
	Config string
	Data   string
}

var userConfigDir = os.UserConfigDir

// DefaultDirs resolves the directories from WARPNET_CONFIG_DIR and
// WARPNET_DATA_DIR, falling back to <user-config-dir>/warpnet.
func DefaultDirs() (Dirs, error) {
	d := Dirs{
		Config: os.Getenv(common.ConfigDirEnv),
		Data:   os.Getenv(common.DataDirEnv),
	}
	if d.Config != "" && d.Data != "" {
		return d, nil
	}
	base, err := userConfigDir()
	if err != nil {
		return Dirs{}, fmt.Errorf("locate config dir: %w", err)
	}
	base = filepath.Join(base, "warpnet")
	if d.Config == "" {
		d.Config = base
	}
	if d.Data == "" {
		d.Data = base
	}
	return d, nil
}

func (d Dirs) ConfigFile() string      { return filepath.Join(d.Config, common.ConfigFileName) }
func (d Dirs) CookieFile() string      { return filepath.Join(d.Data, common.CookieFileName) }
func (d Dirs) CredentialsFile() string { return filepath.Join(d.Data, common.CredentialsFileName) }
func (d Dirs) KeyFile() string         { return filepath.Join(d.Data, common.KeyFileName) }
func (d Dirs) TokenFile() string       { return filepath.Join(d.Data, common.TokenFileName) }
func (d Dirs) LogFile() string         { return filepath.Join(d.Data, common.LogFileName) }

// Store holds the live settings. It is safe for concurrent use and
// implements gateway.Config.
type Store struct {
	mu   sync.RWMutex
	s    Settings
	fs   afero.Fs
	path string
}

// NewStore wraps s without a backing file; Save fails on such a store.
func NewStore(s Settings) *Store {
	return &Store{s: s.clone()}
}

// Load reads path through fs, applies environment overrides and validates
// the result.
func Load(fs afero.Fs, path string) (*Store, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	s := Default()
	data, err := afero.ReadFile(fs, path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := envconfig.Process(common.EnvPrefix, &s); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &Store{s: s, fs: fs, path: path}, nil
}

// Path is the file the store was loaded from.
func (c *Store) Path() string { return c.path }

// Settings returns a copy of the current settings.
func (c *Store) Settings() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.s.clone()
}

func (c *Store) DoNotTrack() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.s.Network.DoNotTrack
}

func (c *Store) AcceptLanguage() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.s.Network.AcceptLanguage
}

func (c *Store) SSLStrict() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.s.Network.SSLStrict
}

// CookiePolicy is suitable for cookiestore.Options.Policy.
func (c *Store) CookiePolicy() cookiestore.AcceptPolicy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, err := cookiestore.ParseAcceptPolicy(c.s.Cookies.Accept)
	if err != nil {
		return cookiestore.AcceptAlways
	}
	return p
}

// PersistCookies reports cookies.store.
func (c *Store) PersistCookies() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.s.Cookies.Store
}

// RememberCredentials reports network.remember-credentials.
func (c *Store) RememberCredentials() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.s.Network.RememberCredentials
}

// Get returns the string form of section.option.
func (c *Store) Get(section, option string) (string, error) {
	opt, err := lookup(section, option)
	if err != nil {
		return "", err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return opt.get(&c.s), nil
}

// Set parses value into section.option. Invalid values leave the settings
// untouched.
func (c *Store) Set(section, option, value string) error {
	opt, err := lookup(section, option)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.s.clone()
	if err := opt.set(&next, value); err != nil {
		return fmt.Errorf("%s.%s: %w", section, option, err)
	}
	c.s = next
	return nil
}

// Save writes the settings back to the file they were loaded from.
func (c *Store) Save() error {
	if c.fs == nil || c.path == "" {
		return errors.New("config store has no backing file")
	}
	c.mu.RLock()
	data, err := yaml.Marshal(&c.s)
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := c.fs.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := afero.WriteFile(c.fs, c.path, data, 0600); err != nil {
		return fmt.Errorf("write %s: %w", c.path, err)
	}
	return nil
}
