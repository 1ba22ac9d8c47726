package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rbscrobble/rbscrobble/internal/scrobble"
	"github.com/rbscrobble/rbscrobble/internal/scrobble/lastfm"
)

const digest = "2ab96390c7dbe3439de74d0c9b0b1767" // md5("hunter2")

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
[services.lastfm]
api_key = "KEY"
api_secret = "SECRET"

[[accounts]]
service = "lastfm"
username = "alice"
password_md5 = "`+digest+`"

[[accounts]]
service = "librefm"
username = "alice"
password_md5 = "`+digest+`"

[http]
timeout_seconds = 5

[log]
level = "debug"
`)

	cfg, got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, got)
	require.Len(t, cfg.Accounts, 2)
	assert.Equal(t, "librefm", cfg.Accounts[1].Service)
	assert.Equal(t, "KEY", cfg.Services["lastfm"].APIKey)
	assert.Equal(t, 5*time.Second, cfg.Timeout())
	assert.True(t, cfg.Ledger.Enabled, "ledger enabled by default")
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel())
}

func TestLoadMissingFile(t *testing.T) {
	cfg, _, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Accounts)
	assert.Equal(t, defaultTimeoutSeconds, cfg.HTTP.TimeoutSeconds)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "[http]\ntimeout_seconds = 5\n")
	t.Setenv("RBSCROBBLE_HTTP__TIMEOUT_SECONDS", "12")
	t.Setenv("RBSCROBBLE_LEDGER__ENABLED", "false")

	cfg, _, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.HTTP.TimeoutSeconds)
	assert.False(t, cfg.Ledger.Enabled)
}

func TestLoadInvalid(t *testing.T) {
	tests := map[string]string{
		"unknown service": "[[accounts]]\nservice = \"spotify\"\nusername = \"a\"\npassword_md5 = \"" + digest + "\"\n",
		"bad digest":      "[[accounts]]\nservice = \"lastfm\"\nusername = \"a\"\npassword_md5 = \"hunter2\"\n",
		"no username":     "[[accounts]]\nservice = \"lastfm\"\npassword_md5 = \"" + digest + "\"\n",
		"bad level":       "[log]\nlevel = \"loud\"\n",
		"not toml":        "[[[",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := New()
	require.NoError(t, cfg.SetServiceKeys("lastfm", "KEY", "SECRET"))
	require.NoError(t, cfg.AddAccount("lastfm", "alice", "hunter2"))
	require.NoError(t, Save(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, _, err := Load(path)
	require.NoError(t, err)
	require.Len(t, loaded.Accounts, 1)
	assert.Equal(t, digest, loaded.Accounts[0].PasswordMD5)

	creds, err := loaded.KeysFor(lastfm.LastFM)
	require.NoError(t, err)
	assert.Equal(t, lastfm.Credentials{APIKey: "KEY", APISecret: "SECRET"}, creds)
}

func TestAccounts(t *testing.T) {
	cfg := New()
	for _, a := range []struct{ service, user string }{
		{"lastfm", "alice"}, {"librefm", "alice"}, {"lastfm", "bob"},
	} {
		require.NoError(t, cfg.AddAccount(a.service, a.user, "pw"))
	}
	require.NoError(t, cfg.AddAccount("lastfm", "alice", "new"))
	require.Len(t, cfg.Accounts, 3, "same service and user replaces")
	assert.Equal(t, lastfm.PasswordDigest("new"), cfg.Accounts[0].PasswordMD5)
	assert.Error(t, cfg.AddAccount("spotify", "x", "pw"))

	assert.Len(t, cfg.FilterAccounts("", ""), 3)
	byService := cfg.FilterAccounts("lastfm", "")
	require.Len(t, byService, 2)
	assert.Equal(t, "bob", byService[1].Username)
	assert.Len(t, cfg.FilterAccounts("", "alice"), 2)
	assert.Empty(t, cfg.FilterAccounts("librefm", "bob"))

	assert.True(t, cfg.RemoveAccount("LibreFM", "alice"), "service match ignores case")
	assert.False(t, cfg.RemoveAccount("librefm", "alice"))
	assert.Len(t, cfg.Accounts, 2)
}

func TestKeysFor(t *testing.T) {
	cfg := New()
	_, err := cfg.KeysFor(lastfm.LastFM)
	assert.ErrorIs(t, err, scrobble.ErrNotConfigured)

	creds, err := cfg.KeysFor(lastfm.LibreFM)
	require.NoError(t, err)
	assert.NotEmpty(t, creds.APIKey, "built-in librefm keys")

	assert.Error(t, cfg.SetServiceKeys("librefm", "k", "s"), "librefm takes no registered keys")
}

func TestLogin(t *testing.T) {
	acct, err := Account{Service: "librefm", Username: "a", PasswordMD5: digest}.Login()
	require.NoError(t, err)
	assert.Equal(t, lastfm.LibreFM, acct.Service)
	assert.Equal(t, "librefm:a", acct.ID())
}
