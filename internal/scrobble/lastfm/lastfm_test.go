package lastfm

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rbscrobble/rbscrobble/internal/scrobble"
)

func TestSign(t *testing.T) {
	assert.Equal(t, "1d0396bcbc2c54e569e7af9cf9c4685e", Sign(map[string]string{"b": "2", "a": "1"}, "s"))

	a := Sign(map[string]string{"method": "track.scrobble", "artist": "A", "api_key": "key"}, "secret")
	b := Sign(map[string]string{"api_key": "key", "method": "track.scrobble", "artist": "A"}, "secret")
	assert.Equal(t, a, b, "signature must not depend on insertion order")
	assert.Equal(t, "93f6d2b47b5d539fe5aba5d0e80d3b47", a)

	withExtras := Sign(map[string]string{
		"method": "track.scrobble", "artist": "A", "api_key": "key",
		"format": "json", "api_sig": "stale",
	}, "secret")
	assert.Equal(t, a, withExtras, "format and api_sig are not signed")
}

func TestAuthToken(t *testing.T) {
	digest := PasswordDigest("hunter2")
	assert.Equal(t, "2ab96390c7dbe3439de74d0c9b0b1767", digest)
	assert.Equal(t, "211c8d3f57185210a99b08dbc712864b", AuthToken("alice", digest))
}

func TestParseService(t *testing.T) {
	s, err := ParseService(" LastFM ")
	require.NoError(t, err)
	assert.Equal(t, LastFM, s)
	assert.Equal(t, lastfmURL, s.BaseURL())
	assert.True(t, s.NeedsKeys())

	s, err = ParseService("librefm")
	require.NoError(t, err)
	assert.Equal(t, librefmURL, s.BaseURL())
	creds, ok := s.BuiltinCredentials()
	assert.True(t, ok)
	assert.NotEmpty(t, creds.APIKey)

	_, err = ParseService("spotify")
	assert.Error(t, err)
}

func TestInterpretScrobble(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantErr  bool
		wantCode string
		wantMsg  string
		apiError bool
	}{
		{
			name: "accepted with string counters",
			body: `{"scrobbles":{"@attr":{"accepted":"1","ignored":"0"}}}`,
		},
		{
			name: "accepted with numeric counters",
			body: `{"scrobbles":{"@attr":{"accepted":1,"ignored":0}}}`,
		},
		{
			name: "duplicate counts as success",
			body: `{"scrobbles":{"scrobble":{"ignoredMessage":{"code":"91","#text":"dup"}}}}`,
		},
		{
			name: "duplicate in a list",
			body: `{"scrobbles":{"@attr":{"accepted":0,"ignored":1},"scrobble":[{"ignoredMessage":{"code":"91","#text":"dup"}}]}}`,
		},
		{
			name:     "rejected with object message",
			body:     `{"scrobbles":{"@attr":{"accepted":"0","ignored":"1"},"scrobble":{"ignoredMessage":{"code":"1","#text":"Artist name ignored"}}}}`,
			wantErr:  true,
			wantCode: "1",
			wantMsg:  "Artist name ignored",
		},
		{
			name:     "numeric code is not coerced",
			body:     `{"scrobbles":{"scrobble":{"ignoredMessage":{"code":2}}}}`,
			wantErr:  true,
			wantCode: "unknown",
			wantMsg:  "Scrobble rejected",
		},
		{
			name:     "numeric duplicate code is a rejection",
			body:     `{"scrobbles":{"scrobble":{"ignoredMessage":{"code":91,"#text":"dup"}}}}`,
			wantErr:  true,
			wantCode: "unknown",
			wantMsg:  "dup",
		},
		{
			name:     "rejected with string message",
			body:     `{"scrobbles":{"scrobble":{"ignoredMessage":"too old"}}}`,
			wantErr:  true,
			wantCode: "unknown",
			wantMsg:  "too old",
		},
		{
			name:     "rejected with numeric message",
			body:     `{"scrobbles":{"scrobble":{"ignoredMessage":5}}}`,
			wantErr:  true,
			wantCode: "unknown",
			wantMsg:  "5",
		},
		{
			name:     "no ignored message",
			body:     `{"scrobbles":{"@attr":{"accepted":0,"ignored":1}}}`,
			wantErr:  true,
			wantCode: "unknown",
			wantMsg:  "Scrobble rejected",
		},
		{
			name:     "non-numeric counters fall back to field walk",
			body:     `{"scrobbles":{"@attr":{"accepted":"yes","ignored":"0"},"scrobble":{"ignoredMessage":{"code":"91"}}}}`,
		},
		{
			name:     "non-numeric counters still reject",
			body:     `{"scrobbles":{"@attr":{"accepted":"yes","ignored":"0"},"scrobble":{"ignoredMessage":{"code":"4","#text":"bad"}}}}`,
			wantErr:  true,
			wantCode: "4",
			wantMsg:  "bad",
		},
		{
			name: "missing scrobbles is success",
			body: `{}`,
		},
		{
			name:     "top-level error",
			body:     `{"error":6,"message":"bad key"}`,
			wantErr:  true,
			apiError: true,
			wantCode: "6",
			wantMsg:  "bad key",
		},
		{
			name:     "top-level error without message",
			body:     `{"error":"9"}`,
			wantErr:  true,
			apiError: true,
			wantCode: "9",
			wantMsg:  "API error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := interpretScrobble([]byte(tt.body))
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			if tt.apiError {
				var apiErr *APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, tt.wantCode, apiErr.Code)
				assert.Equal(t, tt.wantMsg, apiErr.Message)
				return
			}
			var rej *RejectedError
			require.ErrorAs(t, err, &rej)
			assert.Equal(t, tt.wantCode, rej.Code)
			assert.Equal(t, tt.wantMsg, rej.Message)
		})
	}
}

func TestInterpretScrobbleInvalidJSON(t *testing.T) {
	assert.Error(t, interpretScrobble([]byte("<html>bad gateway</html>")))
}

// fakeAPI records every form posted to it and answers by method.
type fakeAPI struct {
	mu       sync.Mutex
	forms    []url.Values
	session  string
	scrobble string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.forms = append(f.forms, r.PostForm)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch r.PostForm.Get("method") {
	case "auth.getMobileSession":
		io.WriteString(w, f.session)
	case "track.scrobble":
		io.WriteString(w, f.scrobble)
	default:
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":3,"message":"Invalid Method"}`)
	}
}

func newTestClient(t *testing.T, api *fakeAPI, debug io.Writer) (*Client, error) {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	acct := Account{Service: LastFM, Username: "alice", PasswordDigest: PasswordDigest("hunter2")}
	return New(context.Background(), Credentials{APIKey: "key", APISecret: "secret"}, acct, Options{
		HTTPClient:    srv.Client(),
		BaseURL:       srv.URL,
		DebugResponse: debug,
	})
}

func TestNewAuthenticates(t *testing.T) {
	api := &fakeAPI{session: `{"session":{"name":"alice","key":"SK","subscriber":0}}`}
	c, err := newTestClient(t, api, nil)
	require.NoError(t, err)
	assert.Equal(t, "SK", c.SessionKey())
	assert.Equal(t, "lastfm:alice", c.ID())

	require.Len(t, api.forms, 1)
	form := api.forms[0]
	assert.Equal(t, "alice", form.Get("username"))
	assert.Equal(t, AuthToken("alice", PasswordDigest("hunter2")), form.Get("authToken"))
	assert.Equal(t, "json", form.Get("format"))

	signed := map[string]string{}
	for k := range form {
		signed[k] = form.Get(k)
	}
	assert.Equal(t, Sign(signed, "secret"), form.Get("api_sig"))
}

func TestNewAuthFailures(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"api error", `{"error":4,"message":"Authentication Failed"}`},
		{"missing key", `{"session":{"name":"alice"}}`},
		{"not json", `oops`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestClient(t, &fakeAPI{session: tt.body}, nil)
			require.Error(t, err)
			assert.True(t, IsAuth(err), "expected ErrAuth, got %v", err)
		})
	}

	var apiErr *APIError
	_, err := newTestClient(t, &fakeAPI{session: `{"error":4,"message":"Authentication Failed"}`}, nil)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "4", apiErr.Code)
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(context.Background(), Credentials{}, Account{Service: LastFM, Username: "a"}, Options{})
	assert.True(t, IsAuth(err))
	assert.True(t, errors.Is(err, scrobble.ErrNotConfigured))
}

func TestScrobbleForm(t *testing.T) {
	api := &fakeAPI{
		session:  `{"session":{"key":"SK"}}`,
		scrobble: `{"scrobbles":{"@attr":{"accepted":1,"ignored":0}}}`,
	}
	var debug bytes.Buffer
	c, err := newTestClient(t, api, &debug)
	require.NoError(t, err)

	err = c.Scrobble(context.Background(), scrobble.Track{
		Artist: "Artist", Title: "Title", Album: "Album", Timestamp: 1700000000, DurationSecs: 215,
	})
	require.NoError(t, err)

	require.Len(t, api.forms, 2)
	form := api.forms[1]
	assert.Equal(t, "track.scrobble", form.Get("method"))
	assert.Equal(t, "Artist", form.Get("artist"))
	assert.Equal(t, "Title", form.Get("track"))
	assert.Equal(t, "Album", form.Get("album"))
	assert.Equal(t, "1700000000", form.Get("timestamp"))
	assert.Equal(t, "215", form.Get("duration"))
	assert.Equal(t, "SK", form.Get("sk"))
	assert.Equal(t, "key", form.Get("api_key"))
	assert.Contains(t, debug.String(), "track.scrobble")

	err = c.Scrobble(context.Background(), scrobble.Track{Artist: "A", Title: "T", Timestamp: 1})
	require.NoError(t, err)
	form = api.forms[2]
	assert.False(t, form.Has("album"), "empty album is omitted")
	assert.False(t, form.Has("duration"), "unknown duration is omitted")
}

func TestScrobbleRejected(t *testing.T) {
	api := &fakeAPI{
		session:  `{"session":{"key":"SK"}}`,
		scrobble: `{"scrobbles":{"@attr":{"accepted":0,"ignored":1},"scrobble":{"ignoredMessage":{"code":"3","#text":"Timestamp too old"}}}}`,
	}
	c, err := newTestClient(t, api, nil)
	require.NoError(t, err)

	err = c.Scrobble(context.Background(), scrobble.Track{Artist: "A", Title: "T", Timestamp: 1})
	var rej *RejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "3", rej.Code)
	assert.Equal(t, "Timestamp too old", rej.Message)
}
