package main

// The integration test wires the real gateway, maintainer and handlers to a
// fake Spotify server and walks a user through tagging an album.

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Smart-Music-Tags/pkg/config"
	"Smart-Music-Tags/pkg/db"
	"Smart-Music-Tags/pkg/metrics"
	"Smart-Music-Tags/pkg/secret"
)

// rewriteTransport sends every request to the fake Spotify server.
type rewriteTransport struct{ target *url.URL }

func (rt rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.URL.Scheme = rt.target.Scheme
	r.URL.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(r)
}

// signCookie produces the value|signature form the session cookie uses.
func signCookie(value, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(value))
	return value + "|" + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

type fakeSpotify struct {
	mu        sync.Mutex
	refreshes int
	saved     []string
}

func (f *fakeSpotify) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/token", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.refreshes++
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "live",
			"refresh_token": "rotated",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	})
	authed := func(w http.ResponseWriter, r *http.Request) bool {
		if r.Header.Get("Authorization") == "Bearer live" {
			return true
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"status":401,"message":"The access token expired"}}`))
		return false
	}
	mux.HandleFunc("/v1/me/albums", func(w http.ResponseWriter, r *http.Request) {
		if !authed(w, r) {
			return
		}
		if r.Method == http.MethodPut {
			f.mu.Lock()
			f.saved = append(f.saved, r.URL.Query().Get("ids"))
			f.mu.Unlock()
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"added_at":"2024-05-01T10:00:00Z","album":{"id":"a1","name":"Blue Train"}}],"total":1,"limit":20,"offset":0}`))
	})
	return mux
}

func TestTaggingFlow(t *testing.T) {
	fake := &fakeSpotify{}
	spotifySrv := httptest.NewServer(fake.handler())
	defer spotifySrv.Close()
	target, _ := url.Parse(spotifySrv.URL)

	cfg := config.Default()
	cfg.Spotify.ClientID = "id"
	cfg.Spotify.ClientSecret = "secret"
	cfg.Security.SigningKey = "test-signing-key"

	codec, err := secret.NewCodec("test-secret", "test-salt")
	require.NoError(t, err)
	logger, _ := test.NewNullLogger()
	store, err := db.New(db.Config{Path: filepath.Join(t.TempDir(), "flow.db"), Codec: codec, Logger: logger})
	require.NoError(t, err)
	defer store.Close()

	user, err := store.UpsertUser(context.Background(), "u1", "Listener", "stale", "refresh")
	require.NoError(t, err)

	app, err := newApplication(cfg, store, logger, metrics.NewNop(), &http.Client{Transport: rewriteTransport{target}})
	require.NoError(t, err)
	srv := httptest.NewServer(app.Routes())
	defer srv.Close()

	jar, _ := cookiejar.New(nil)
	base, _ := url.Parse(srv.URL)
	jar.SetCookies(base, []*http.Cookie{
		{Name: "spotify_user_id", Value: signCookie("u1", cfg.Security.SigningKey)},
		{Name: "csrf_token", Value: "csrf"},
	})
	client := &http.Client{Jar: jar}

	send := func(method, path, body string) *http.Response {
		req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("X-CSRF-Token", "csrf")
		req.Header.Set("Content-Type", "application/json")
		res, err := client.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { res.Body.Close() })
		return res
	}

	res := send(http.MethodPost, "/api/me/album-tags", `{"tag":{"name":"Hard Bop"},"album":{"spotify_id":"a1"}}`)
	require.Equal(t, http.StatusCreated, res.StatusCode)

	res = send(http.MethodGet, "/api/me/albums", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var page struct {
		Items []struct {
			ID   string `json:"id"`
			Tags []struct {
				Name string `json:"name"`
			} `json:"tags"`
		} `json:"items"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&page))
	require.Len(t, page.Items, 1)
	require.Len(t, page.Items[0].Tags, 1)
	assert.Equal(t, "Hard Bop", page.Items[0].Tags[0].Name)

	// The expired token was refreshed once and persisted.
	assert.Equal(t, 1, fake.refreshes)
	stored, err := store.UserByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, "live", stored.AccessToken)
	assert.Equal(t, "rotated", stored.RefreshToken)

	res = send(http.MethodPut, "/api/me/albums/a1", "")
	require.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.Equal(t, 1, fake.refreshes)
	assert.Equal(t, []string{"a1"}, fake.saved)

	res = send(http.MethodDelete, "/api/me/album-tags", `{"tag":{"name":"hard bop"},"album":{"spotify_id":"a1"}}`)
	require.Equal(t, http.StatusNoContent, res.StatusCode)

	var n int
	require.NoError(t, store.QueryRow(`SELECT COUNT(*) FROM albums`).Scan(&n))
	assert.Zero(t, n)
	require.NoError(t, store.QueryRow(`SELECT COUNT(*) FROM tags`).Scan(&n))
	assert.Zero(t, n)
}

func TestLoginRedirectsToSpotify(t *testing.T) {
	cfg := config.Default()
	cfg.Spotify.ClientID = "id"
	cfg.Spotify.ClientSecret = "secret"
	cfg.Security.SigningKey = "k"

	codec, err := secret.NewCodec("s", "salt")
	require.NoError(t, err)
	logger, _ := test.NewNullLogger()
	store, err := db.New(db.Config{Path: ":memory:", Codec: codec, Logger: logger})
	require.NoError(t, err)
	defer store.Close()

	app, err := newApplication(cfg, store, logger, metrics.NewNop(), http.DefaultClient)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	app.Routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/login", &bytes.Buffer{}))
	require.Equal(t, http.StatusFound, rr.Code)
	loc := rr.Header().Get("Location")
	assert.Contains(t, loc, "accounts.spotify.com")
	assert.Contains(t, loc, "user-library-modify")
}
