// Package lastfm speaks the Audioscrobbler 2.0 web API used by Last.fm and
// Libre.fm.
package lastfm

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/rbscrobble/rbscrobble/internal/scrobble"
)

const (
	lastfmURL  = "https://ws.audioscrobbler.com/2.0/"
	librefmURL = "https://libre.fm/2.0/"

	// Libre.fm does not check keys, so a fixed pair is sent.
	librefmKey    = "rbscrobble"
	librefmSecret = "rbscrobble"

	maxResponseBytes = 1 << 20
)

// Service is a scrobbling backend speaking the Audioscrobbler protocol.
type Service string

const (
	LastFM  Service = "lastfm"
	LibreFM Service = "librefm"
)

// Services lists the known backends in display order.
var Services = []Service{LastFM, LibreFM}

// ParseService maps a user-supplied name to a Service.
func ParseService(name string) (Service, error) {
	switch s := Service(strings.ToLower(strings.TrimSpace(name))); s {
	case LastFM, LibreFM:
		return s, nil
	default:
		return "", fmt.Errorf("unknown service %q (want lastfm or librefm)", name)
	}
}

// BaseURL is the API endpoint for the service.
func (s Service) BaseURL() string {
	if s == LibreFM {
		return librefmURL
	}
	return lastfmURL
}

// NeedsKeys reports whether the user must supply an API key and secret.
func (s Service) NeedsKeys() bool { return s == LastFM }

// BuiltinCredentials returns the fixed credentials for services that do not
// need user keys.
func (s Service) BuiltinCredentials() (Credentials, bool) {
	if s == LibreFM {
		return Credentials{APIKey: librefmKey, APISecret: librefmSecret}, true
	}
	return Credentials{}, false
}

// Credentials identify the application to the service.
type Credentials struct {
	APIKey    string
	APISecret string
}

// Account is one user on one service. PasswordDigest is the lowercase hex
// MD5 of the password; the plain password is never kept.
type Account struct {
	Service        Service
	Username       string
	PasswordDigest string
}

// ID returns "service:username".
func (a Account) ID() string { return string(a.Service) + ":" + a.Username }

// PasswordDigest hashes a plain password the way the service expects.
func PasswordDigest(password string) string { return md5Hex(password) }

// AuthToken is the token sent to auth.getMobileSession.
func AuthToken(username, passwordDigest string) string {
	return md5Hex(username + passwordDigest)
}

// Options tune a Client. The zero value is usable.
type Options struct {
	HTTPClient *http.Client
	// BaseURL overrides the service endpoint.
	BaseURL   string
	UserAgent string
	Logger    *slog.Logger
	// DebugResponse, when set, receives every raw track.scrobble response.
	DebugResponse io.Writer
}

// Client is an authenticated session for one account. It implements
// scrobble.Scrobbler.
type Client struct {
	account    Account
	creds      Credentials
	baseURL    string
	sessionKey string
	http       *http.Client
	userAgent  string
	logger     *slog.Logger
	debug      io.Writer
}

var _ scrobble.Scrobbler = (*Client)(nil)

// New authenticates acct and returns a client holding its session key.
// Authentication failures wrap ErrAuth.
func New(ctx context.Context, creds Credentials, acct Account, opts Options) (*Client, error) {
	c := &Client{
		account:   acct,
		creds:     creds,
		baseURL:   opts.BaseURL,
		http:      opts.HTTPClient,
		userAgent: opts.UserAgent,
		logger:    opts.Logger,
		debug:     opts.DebugResponse,
	}
	if c.baseURL == "" {
		c.baseURL = acct.Service.BaseURL()
	}
	if c.http == nil {
		c.http = http.DefaultClient
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if creds.APIKey == "" || creds.APISecret == "" {
		return nil, fmt.Errorf("%w: %s: %w", ErrAuth, acct.ID(), scrobble.ErrNotConfigured)
	}

	key, err := c.authenticate(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrAuth, acct.ID(), err)
	}
	c.sessionKey = key
	c.logger.Debug("authenticated", "account", acct.ID())
	return c, nil
}

func (c *Client) ID() string { return c.account.ID() }

// SessionKey returns the key obtained from auth.getMobileSession.
func (c *Client) SessionKey() string { return c.sessionKey }

func (c *Client) authenticate(ctx context.Context) (string, error) {
	body, err := c.signedPost(ctx, map[string]string{
		"method":    "auth.getMobileSession",
		"username":  c.account.Username,
		"authToken": AuthToken(c.account.Username, c.account.PasswordDigest),
		"api_key":   c.creds.APIKey,
	})
	if err != nil {
		return "", err
	}
	if err := checkAPIError(body); err != nil {
		return "", err
	}

	var resp struct {
		Session struct {
			Key string `json:"key"`
		} `json:"session"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parse session: %w", err)
	}
	if resp.Session.Key == "" {
		return "", fmt.Errorf("no session key in response")
	}
	return resp.Session.Key, nil
}

// Scrobble submits one play with track.scrobble. A play the service
// ignores is reported as *RejectedError, except duplicates which count as
// accepted.
func (c *Client) Scrobble(ctx context.Context, track scrobble.Track) error {
	params := map[string]string{
		"method":    "track.scrobble",
		"artist":    track.Artist,
		"track":     track.Title,
		"timestamp": strconv.FormatInt(track.Timestamp, 10),
		"api_key":   c.creds.APIKey,
		"sk":        c.sessionKey,
	}
	if track.Album != "" {
		params["album"] = track.Album
	}
	if track.DurationSecs > 0 {
		params["duration"] = strconv.FormatInt(track.DurationSecs, 10)
	}

	body, err := c.signedPost(ctx, params)
	if err != nil {
		return err
	}
	if c.debug != nil {
		fmt.Fprintf(c.debug, "%s track.scrobble: %s\n", c.ID(), body)
		c.logger.Debug("scrobble response", "account", c.ID(), "body", string(body))
	}
	if err := interpretScrobble(body); err != nil {
		c.logger.Debug("scrobble not accepted", "account", c.ID(), "track", track.String(), "error", err)
		return err
	}
	return nil
}

// Sign computes api_sig: parameters sorted by name, each name followed by
// its value, then the secret, hashed with MD5. "format" and "api_sig" are
// never signed.
func Sign(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k != "format" && k != "api_sig" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var sig strings.Builder
	for _, k := range keys {
		sig.WriteString(k)
		sig.WriteString(params[k])
	}
	sig.WriteString(secret)
	return md5Hex(sig.String())
}

// signedPost adds api_sig and format=json to params and posts them as a
// form. The body is returned whatever the HTTP status, since the service
// reports most failures in the payload.
func (c *Client) signedPost(ctx context.Context, params map[string]string) ([]byte, error) {
	params["api_sig"] = Sign(params, c.creds.APISecret)
	params["format"] = "json"

	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", params["method"], err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", params["method"], err)
	}
	c.logger.Debug("api response", "method", params["method"], "status", resp.StatusCode, "bytes", len(body))
	return body, nil
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
