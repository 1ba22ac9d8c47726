package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	gotoml "github.com/pelletier/go-toml/v2"

	"github.com/rbscrobble/rbscrobble/internal/scrobble"
	"github.com/rbscrobble/rbscrobble/internal/scrobble/lastfm"
)

// EnvPrefix marks environment overrides. A double underscore separates
// sections: RBSCROBBLE_HTTP__TIMEOUT_SECONDS=10.
const EnvPrefix = "RBSCROBBLE_"

const defaultTimeoutSeconds = 30

// Config holds rbscrobble settings loaded from TOML.
type Config struct {
	Services map[string]ServiceKeys `koanf:"services" toml:"services,omitempty"`
	Accounts []Account              `koanf:"accounts" toml:"accounts,omitempty"`
	HTTP     HTTPConfig             `koanf:"http" toml:"http"`
	Ledger   LedgerConfig           `koanf:"ledger" toml:"ledger"`
	Log      LogConfig              `koanf:"log" toml:"log"`
}

// ServiceKeys are API credentials registered with a service.
type ServiceKeys struct {
	APIKey    string `koanf:"api_key" toml:"api_key"`
	APISecret string `koanf:"api_secret" toml:"api_secret"`
}

// Account is a stored login. The password is kept only as its MD5 digest.
type Account struct {
	Service     string `koanf:"service" toml:"service"`
	Username    string `koanf:"username" toml:"username"`
	PasswordMD5 string `koanf:"password_md5" toml:"password_md5"`
}

// HTTPConfig tunes the transport. TimeoutSeconds 0 disables the timeout.
type HTTPConfig struct {
	TimeoutSeconds int `koanf:"timeout_seconds" toml:"timeout_seconds"`
}

type LedgerConfig struct {
	Enabled bool `koanf:"enabled" toml:"enabled"`
	// Path defaults to the XDG state directory when empty.
	Path string `koanf:"path" toml:"path"`
}

type LogConfig struct {
	Level string `koanf:"level" toml:"level"` // debug, info, warn, error
}

// New returns a Config with defaults applied.
func New() *Config {
	return &Config{
		Services: map[string]ServiceKeys{},
		HTTP:     HTTPConfig{TimeoutSeconds: defaultTimeoutSeconds},
		Ledger:   LedgerConfig{Enabled: true},
		Log:      LogConfig{Level: "info"},
	}
}

// Load reads configuration from path, or from DefaultPath when path is
// empty, then applies environment overrides. A missing file is not an
// error. The resolved path is returned for Save.
func Load(path string) (*Config, string, error) {
	cfgPath := path
	if cfgPath == "" {
		var err error
		cfgPath, err = DefaultPath()
		if err != nil {
			return nil, "", fmt.Errorf("resolve config path: %w", err)
		}
	}

	k := koanf.New(".")
	if _, err := os.Stat(cfgPath); err == nil {
		if err := k.Load(file.Provider(cfgPath), toml.Parser()); err != nil {
			return nil, cfgPath, fmt.Errorf("parse config: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, cfgPath, fmt.Errorf("read config: %w", err)
	}

	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, cfgPath, fmt.Errorf("read environment: %w", err)
	}

	cfg := New()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, cfgPath, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Services == nil {
		cfg.Services = map[string]ServiceKeys{}
	}

	if err := Validate(*cfg); err != nil {
		return nil, cfgPath, err
	}
	return cfg, cfgPath, nil
}

// Save writes cfg to path, replacing the file atomically. The file holds
// password digests and is created private to the user.
func Save(cfg *Config, path string) error {
	data, err := gotoml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.toml")
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// DefaultPath is config.toml under the XDG config directory.
func DefaultPath() (string, error) {
	return xdg.ConfigFile(filepath.Join("rbscrobble", "config.toml"))
}

var md5Hex = regexp.MustCompile(`^[0-9a-f]{32}$`)

// Validate checks that every account names a known service and carries a
// usable digest.
func Validate(cfg Config) error {
	for i, a := range cfg.Accounts {
		if _, err := lastfm.ParseService(a.Service); err != nil {
			return fmt.Errorf("accounts[%d]: %w", i, err)
		}
		if strings.TrimSpace(a.Username) == "" {
			return fmt.Errorf("accounts[%d]: username is required", i)
		}
		if !md5Hex.MatchString(a.PasswordMD5) {
			return fmt.Errorf("accounts[%d] (%s): password_md5 must be 32 lowercase hex digits", i, a.Username)
		}
	}
	for name := range cfg.Services {
		if _, err := lastfm.ParseService(name); err != nil {
			return fmt.Errorf("services: %w", err)
		}
	}
	if cfg.HTTP.TimeoutSeconds < 0 {
		return errors.New("http.timeout_seconds must not be negative")
	}
	if _, err := parseLevel(cfg.Log.Level); err != nil {
		return err
	}
	return nil
}

// SetServiceKeys stores registered API credentials. Only services that
// need user keys accept them.
func (c *Config) SetServiceKeys(service, apiKey, apiSecret string) error {
	s, err := lastfm.ParseService(service)
	if err != nil {
		return err
	}
	if !s.NeedsKeys() {
		return fmt.Errorf("%s uses built-in keys", s)
	}
	if apiKey == "" || apiSecret == "" {
		return errors.New("api key and secret are both required")
	}
	if c.Services == nil {
		c.Services = map[string]ServiceKeys{}
	}
	c.Services[string(s)] = ServiceKeys{APIKey: apiKey, APISecret: apiSecret}
	return nil
}

// AddAccount stores a login, replacing any existing one for the same
// service and username. Only the digest of password is kept.
func (c *Config) AddAccount(service, username, password string) error {
	s, err := lastfm.ParseService(service)
	if err != nil {
		return err
	}
	if username == "" {
		return errors.New("username is required")
	}
	if password == "" {
		return errors.New("password is required")
	}
	acct := Account{Service: string(s), Username: username, PasswordMD5: lastfm.PasswordDigest(password)}
	for i, a := range c.Accounts {
		if a.Service == acct.Service && a.Username == username {
			c.Accounts[i] = acct
			return nil
		}
	}
	c.Accounts = append(c.Accounts, acct)
	return nil
}

// RemoveAccount deletes a login and reports whether one was found.
func (c *Config) RemoveAccount(service, username string) bool {
	for i, a := range c.Accounts {
		if strings.EqualFold(a.Service, service) && a.Username == username {
			c.Accounts = append(c.Accounts[:i], c.Accounts[i+1:]...)
			return true
		}
	}
	return false
}

// FilterAccounts returns accounts matching service and username; an empty
// filter matches everything. The configured order is kept.
func (c *Config) FilterAccounts(service, username string) []Account {
	var out []Account
	for _, a := range c.Accounts {
		if service != "" && !strings.EqualFold(a.Service, service) {
			continue
		}
		if username != "" && a.Username != username {
			continue
		}
		out = append(out, a)
	}
	return out
}

// KeysFor returns the API credentials to use for service.
func (c *Config) KeysFor(service lastfm.Service) (lastfm.Credentials, error) {
	if creds, ok := service.BuiltinCredentials(); ok {
		return creds, nil
	}
	keys, ok := c.Services[string(service)]
	if !ok || keys.APIKey == "" || keys.APISecret == "" {
		return lastfm.Credentials{}, fmt.Errorf("%w: no API keys for %s (run: rbscrobble service set-keys %s)",
			scrobble.ErrNotConfigured, service, service)
	}
	return lastfm.Credentials{APIKey: keys.APIKey, APISecret: keys.APISecret}, nil
}

// Login converts a stored account for the protocol client.
func (a Account) Login() (lastfm.Account, error) {
	s, err := lastfm.ParseService(a.Service)
	if err != nil {
		return lastfm.Account{}, err
	}
	return lastfm.Account{Service: s, Username: a.Username, PasswordDigest: a.PasswordMD5}, nil
}

// Timeout is the HTTP timeout, zero when disabled.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// LogLevel parses Log.Level, defaulting to info.
func (c *Config) LogLevel() slog.Level {
	lvl, _ := parseLevel(c.Log.Level)
	return lvl
}

func parseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level %q: want debug, info, warn or error", s)
	}
	return lvl, nil
}
