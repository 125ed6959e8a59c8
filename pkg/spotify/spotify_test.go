package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	libspotify "github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"

	"Smart-Music-Tags/pkg/apperr"
	"Smart-Music-Tags/pkg/db"
	"Smart-Music-Tags/pkg/metrics"
	"Smart-Music-Tags/pkg/music"
)

var errExpired = libspotify.Error{Status: http.StatusUnauthorized, Message: "The access token expired"}

// fakeAPI answers according to the access token the client was built with.
type fakeAPI struct {
	mu       sync.Mutex
	token    string
	valid    map[string]bool
	err      error
	saved    func(ctx context.Context, ids []libspotify.ID) ([]bool, error)
	albums   map[libspotify.ID]*libspotify.FullAlbum
	attempts int
	batches  [][]libspotify.ID
	search   *libspotify.SearchResult
	added    []libspotify.ID

	// trackPages are handed out in order by GetAlbumTracks.
	trackPages [][]libspotify.SimpleTrack
	trackErr   error
	trackCalls int
}

func (f *fakeAPI) check() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.err != nil {
		return f.err
	}
	if !f.valid[f.token] {
		return errExpired
	}
	return nil
}

func (f *fakeAPI) CurrentUsersAlbums(ctx context.Context, opts ...libspotify.RequestOption) (*libspotify.SavedAlbumPage, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	return &libspotify.SavedAlbumPage{}, nil
}

func (f *fakeAPI) GetAlbums(ctx context.Context, ids []libspotify.ID, opts ...libspotify.RequestOption) ([]*libspotify.FullAlbum, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.batches = append(f.batches, ids)
	f.mu.Unlock()
	out := make([]*libspotify.FullAlbum, len(ids))
	for i, id := range ids {
		out[i] = f.albums[id]
	}
	return out, nil
}

func (f *fakeAPI) GetAlbumTracks(ctx context.Context, id libspotify.ID, opts ...libspotify.RequestOption) (*libspotify.SimpleTrackPage, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trackCalls++
	if f.trackErr != nil {
		return nil, f.trackErr
	}
	page := &libspotify.SimpleTrackPage{}
	if len(f.trackPages) > 0 {
		page.Tracks = f.trackPages[0]
		f.trackPages = f.trackPages[1:]
	}
	return page, nil
}

func (f *fakeAPI) UserHasTracks(ctx context.Context, ids ...libspotify.ID) ([]bool, error) {
	f.mu.Lock()
	f.attempts++
	f.batches = append(f.batches, ids)
	f.mu.Unlock()
	return f.saved(ctx, ids)
}

func (f *fakeAPI) Search(ctx context.Context, query string, t libspotify.SearchType, opts ...libspotify.RequestOption) (*libspotify.SearchResult, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	return f.search, nil
}

func (f *fakeAPI) AddAlbumsToLibrary(ctx context.Context, ids ...libspotify.ID) error {
	if err := f.check(); err != nil {
		return err
	}
	f.added = append(f.added, ids...)
	return nil
}

func (f *fakeAPI) RemoveAlbumsFromLibrary(ctx context.Context, ids ...libspotify.ID) error {
	return f.check()
}

func (f *fakeAPI) CurrentUser(ctx context.Context) (*libspotify.PrivateUser, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	return &libspotify.PrivateUser{User: libspotify.User{ID: "u1"}}, nil
}

type fakeRefresher struct {
	tok   *oauth2.Token
	err   error
	calls int
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	f.calls++
	return f.tok, f.err
}

type tokenUpdate struct {
	userID          int64
	access, refresh string
}

type fakeStore struct {
	updates []tokenUpdate
	err     error
}

func (f *fakeStore) UpdateUserTokens(ctx context.Context, userID int64, access, refresh string) error {
	f.updates = append(f.updates, tokenUpdate{userID, access, refresh})
	return f.err
}

func newTestGateway(api *fakeAPI, ref TokenRefresher, store CredentialStore) (*Gateway, *metrics.Metrics) {
	m := metrics.NewNop()
	logger, _ := test.NewNullLogger()
	return &Gateway{
		newClient: func(accessToken string) API {
			api.mu.Lock()
			api.token = accessToken
			api.mu.Unlock()
			return api
		},
		refresher: ref,
		store:     store,
		metrics:   m,
		log:       logger,
	}, m
}

func testUser() *db.User {
	return &db.User{ID: 7, SpotifyID: "u1", AccessToken: "old", RefreshToken: "refresh"}
}

func TestCallRefreshesOnceAndRetries(t *testing.T) {
	api := &fakeAPI{valid: map[string]bool{"new": true}}
	ref := &fakeRefresher{tok: &oauth2.Token{AccessToken: "new", RefreshToken: "rotated"}}
	store := &fakeStore{}
	g, m := newTestGateway(api, ref, store)
	user := testUser()

	_, err := g.SavedAlbums(context.Background(), user, music.Page{})
	require.NoError(t, err)

	assert.Equal(t, 2, api.attempts)
	assert.Equal(t, 1, ref.calls)
	assert.Equal(t, []tokenUpdate{{7, "new", "rotated"}}, store.updates)
	assert.Equal(t, "new", user.AccessToken)
	assert.Equal(t, "rotated", user.RefreshToken)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokenRefreshes.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CatalogRequests.WithLabelValues("saved_albums", "auth_expired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CatalogRequests.WithLabelValues("saved_albums", "ok")))
}

func TestCallKeepsRefreshTokenWhenNotRotated(t *testing.T) {
	api := &fakeAPI{valid: map[string]bool{"new": true}}
	ref := &fakeRefresher{tok: &oauth2.Token{AccessToken: "new"}}
	g, _ := newTestGateway(api, ref, &fakeStore{})
	user := testUser()

	require.NoError(t, g.SaveAlbum(context.Background(), user, "a1"))
	assert.Equal(t, "refresh", user.RefreshToken)
	assert.Equal(t, []libspotify.ID{"a1"}, api.added)
}

func TestCallNoThirdAttempt(t *testing.T) {
	api := &fakeAPI{valid: map[string]bool{}}
	ref := &fakeRefresher{tok: &oauth2.Token{AccessToken: "new"}}
	store := &fakeStore{}
	g, _ := newTestGateway(api, ref, store)

	_, err := g.SavedAlbums(context.Background(), testUser(), music.Page{})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrRemoteUnavailable)
	assert.Equal(t, 2, api.attempts)
	assert.Equal(t, 1, ref.calls)
	assert.Len(t, store.updates, 1)
}

func TestCallRefreshFailure(t *testing.T) {
	api := &fakeAPI{valid: map[string]bool{}}
	refreshErr := errors.New("invalid_grant")
	ref := &fakeRefresher{err: refreshErr}
	store := &fakeStore{}
	g, m := newTestGateway(api, ref, store)

	_, err := g.SavedAlbums(context.Background(), testUser(), music.Page{})
	assert.ErrorIs(t, err, apperr.ErrRemoteAuthExpired)
	assert.ErrorIs(t, err, refreshErr)
	assert.Equal(t, 1, api.attempts)
	assert.Empty(t, store.updates)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokenRefreshes.WithLabelValues("error")))
}

func TestCallPersistFailure(t *testing.T) {
	api := &fakeAPI{valid: map[string]bool{"new": true}}
	ref := &fakeRefresher{tok: &oauth2.Token{AccessToken: "new"}}
	storeErr := apperr.Store("update user tokens", errors.New("disk full"))
	g, _ := newTestGateway(api, ref, &fakeStore{err: storeErr})
	user := testUser()

	_, err := g.SavedAlbums(context.Background(), user, music.Page{})
	assert.ErrorIs(t, err, apperr.ErrStore)
	assert.Equal(t, 1, api.attempts)
	assert.Equal(t, "old", user.AccessToken)
}

func TestCallNonAuthErrorIsNotRetried(t *testing.T) {
	api := &fakeAPI{err: libspotify.Error{Status: http.StatusBadGateway, Message: "bad gateway"}}
	ref := &fakeRefresher{}
	g, _ := newTestGateway(api, ref, &fakeStore{})

	err := g.RemoveAlbum(context.Background(), testUser(), "a1")
	assert.ErrorIs(t, err, apperr.ErrRemoteUnavailable)
	assert.Equal(t, 1, api.attempts)
	assert.Zero(t, ref.calls)
}

func TestCallCanceledContext(t *testing.T) {
	api := &fakeAPI{valid: map[string]bool{"old": true}}
	g, _ := newTestGateway(api, &fakeRefresher{}, &fakeStore{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.SavedAlbums(ctx, testUser(), music.Page{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, api.attempts)
}

func TestCallRequiresUser(t *testing.T) {
	g, _ := newTestGateway(&fakeAPI{}, &fakeRefresher{}, &fakeStore{})
	_, err := g.SavedAlbums(context.Background(), nil, music.Page{})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestIsAuthExpired(t *testing.T) {
	assert.True(t, isAuthExpired(errExpired))
	assert.True(t, isAuthExpired(&libspotify.Error{Status: 401}))
	assert.True(t, isAuthExpired(fmt.Errorf("wrapped: %w", errExpired)))
	assert.False(t, isAuthExpired(libspotify.Error{Status: 403}))
	assert.False(t, isAuthExpired(errors.New("401")))
}

func tracks(from, to int) []libspotify.SimpleTrack {
	out := make([]libspotify.SimpleTrack, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, libspotify.SimpleTrack{ID: libspotify.ID(fmt.Sprintf("t%d", i))})
	}
	return out
}

func setTotal[T ~int](total *T, n int) { *total = T(n) }

// albumWithTracks returns an album listing total tracks, of which the first
// embedded are included in the album itself.
func albumWithTracks(total, embedded int) *libspotify.FullAlbum {
	a := &libspotify.FullAlbum{}
	a.Tracks.Tracks = tracks(0, embedded)
	setTotal(&a.Tracks.Total, total)
	return a
}

func allSaved(ctx context.Context, ids []libspotify.ID) ([]bool, error) {
	out := make([]bool, len(ids))
	for i := range out {
		out[i] = true
	}
	return out, nil
}

func savedExcept(missing libspotify.ID) func(context.Context, []libspotify.ID) ([]bool, error) {
	return func(ctx context.Context, ids []libspotify.ID) ([]bool, error) {
		out := make([]bool, len(ids))
		for i, id := range ids {
			out[i] = id != missing
		}
		return out, nil
	}
}

func batchSizes(batches [][]libspotify.ID) []int {
	out := make([]int, len(batches))
	for i, b := range batches {
		out[i] = len(b)
	}
	return out
}

func TestIsAlbumSaved(t *testing.T) {
	api := &fakeAPI{saved: allSaved}
	g, _ := newTestGateway(api, &fakeRefresher{}, &fakeStore{})

	ok, err := g.IsAlbumSaved(context.Background(), testUser(), albumWithTracks(60, 60))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.ElementsMatch(t, []int{50, 10}, batchSizes(api.batches))
	assert.Zero(t, api.trackCalls)
}

func TestIsAlbumSavedOneTrackMissing(t *testing.T) {
	api := &fakeAPI{saved: savedExcept("t55")}
	g, _ := newTestGateway(api, &fakeRefresher{}, &fakeStore{})

	ok, err := g.IsAlbumSaved(context.Background(), testUser(), albumWithTracks(60, 60))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsAlbumSavedFetchesRemainingTracks(t *testing.T) {
	api := &fakeAPI{
		valid:      map[string]bool{"old": true},
		saved:      savedExcept("t55"),
		trackPages: [][]libspotify.SimpleTrack{tracks(50, 60)},
	}
	g, _ := newTestGateway(api, &fakeRefresher{}, &fakeStore{})

	ok, err := g.IsAlbumSaved(context.Background(), testUser(), albumWithTracks(60, 50))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, api.trackCalls)
	assert.ElementsMatch(t, []int{50, 10}, batchSizes(api.batches))
}

func TestIsAlbumSavedAllPagesSaved(t *testing.T) {
	api := &fakeAPI{
		valid:      map[string]bool{"old": true},
		saved:      allSaved,
		trackPages: [][]libspotify.SimpleTrack{tracks(50, 100), tracks(100, 120)},
	}
	g, _ := newTestGateway(api, &fakeRefresher{}, &fakeStore{})

	ok, err := g.IsAlbumSaved(context.Background(), testUser(), albumWithTracks(120, 50))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, api.trackCalls)
	assert.ElementsMatch(t, []int{50, 50, 20}, batchSizes(api.batches))
}

func TestIsAlbumSavedTrackPageFailure(t *testing.T) {
	pageErr := libspotify.Error{Status: http.StatusInternalServerError, Message: "boom"}
	api := &fakeAPI{
		valid:    map[string]bool{"old": true},
		saved:    allSaved,
		trackErr: pageErr,
	}
	g, _ := newTestGateway(api, &fakeRefresher{}, &fakeStore{})

	_, err := g.IsAlbumSaved(context.Background(), testUser(), albumWithTracks(60, 50))
	assert.ErrorIs(t, err, apperr.ErrRemoteUnavailable)
	assert.ErrorIs(t, err, pageErr)
	assert.Empty(t, api.batches)
}

func TestIsAlbumSavedShortTrackPage(t *testing.T) {
	api := &fakeAPI{valid: map[string]bool{"old": true}, saved: allSaved}
	g, _ := newTestGateway(api, &fakeRefresher{}, &fakeStore{})

	_, err := g.IsAlbumSaved(context.Background(), testUser(), albumWithTracks(60, 50))
	assert.ErrorIs(t, err, apperr.ErrRemoteUnavailable)
	assert.Empty(t, api.batches)
}

func TestIsAlbumSavedRefreshesWhilePaging(t *testing.T) {
	api := &fakeAPI{
		valid:      map[string]bool{"new": true},
		saved:      allSaved,
		trackPages: [][]libspotify.SimpleTrack{tracks(50, 60)},
	}
	ref := &fakeRefresher{tok: &oauth2.Token{AccessToken: "new"}}
	store := &fakeStore{}
	g, _ := newTestGateway(api, ref, store)

	ok, err := g.IsAlbumSaved(context.Background(), testUser(), albumWithTracks(60, 50))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, ref.calls)
	assert.Len(t, store.updates, 1)
	assert.Equal(t, 1, api.trackCalls)
}

func TestIsAlbumSavedBatchFailure(t *testing.T) {
	api := &fakeAPI{saved: func(ctx context.Context, ids []libspotify.ID) ([]bool, error) {
		if len(ids) == 10 {
			return nil, libspotify.Error{Status: http.StatusInternalServerError, Message: "boom"}
		}
		return make([]bool, len(ids)), nil
	}}
	g, _ := newTestGateway(api, &fakeRefresher{}, &fakeStore{})

	_, err := g.IsAlbumSaved(context.Background(), testUser(), albumWithTracks(60, 60))
	assert.ErrorIs(t, err, apperr.ErrRemoteUnavailable)
}

func TestIsAlbumSavedBatchFailureCancelsOthers(t *testing.T) {
	boom := libspotify.Error{Status: http.StatusInternalServerError, Message: "boom"}
	var canceled atomic.Bool
	api := &fakeAPI{saved: func(ctx context.Context, ids []libspotify.ID) ([]bool, error) {
		if ids[0] == "t50" {
			return nil, boom
		}
		select {
		case <-ctx.Done():
			canceled.Store(true)
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return nil, errors.New("batch was not canceled")
		}
	}}
	g, _ := newTestGateway(api, &fakeRefresher{}, &fakeStore{})

	_, err := g.IsAlbumSaved(context.Background(), testUser(), albumWithTracks(150, 150))
	assert.ErrorIs(t, err, apperr.ErrRemoteUnavailable)
	assert.ErrorIs(t, err, boom)
	assert.True(t, canceled.Load())
}

func TestIsAlbumSavedWithoutTracks(t *testing.T) {
	api := &fakeAPI{}
	g, _ := newTestGateway(api, &fakeRefresher{}, &fakeStore{})

	ok, err := g.IsAlbumSaved(context.Background(), testUser(), albumWithTracks(0, 0))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, api.attempts)
}

func TestAlbumsBatchesByTwenty(t *testing.T) {
	ids := make([]string, 45)
	albums := map[libspotify.ID]*libspotify.FullAlbum{}
	for i := range ids {
		ids[i] = fmt.Sprintf("a%d", i)
		albums[libspotify.ID(ids[i])] = &libspotify.FullAlbum{SimpleAlbum: libspotify.SimpleAlbum{ID: libspotify.ID(ids[i])}}
	}
	api := &fakeAPI{valid: map[string]bool{"old": true}, albums: albums}
	g, _ := newTestGateway(api, &fakeRefresher{}, &fakeStore{})

	got, err := g.Albums(context.Background(), testUser(), ids)
	require.NoError(t, err)
	require.Len(t, got, 45)
	assert.Equal(t, libspotify.ID("a44"), got[44].ID)
	require.Len(t, api.batches, 3)
	assert.Len(t, api.batches[0], 20)
	assert.Len(t, api.batches[2], 5)
}

func TestSearchAlbumsEmptyResult(t *testing.T) {
	api := &fakeAPI{valid: map[string]bool{"old": true}, search: &libspotify.SearchResult{}}
	g, _ := newTestGateway(api, &fakeRefresher{}, &fakeStore{})

	page, err := g.SearchAlbums(context.Background(), testUser(), "kind of blue", music.Page{})
	require.NoError(t, err)
	assert.Empty(t, page.Albums)

	_, err = g.SearchArtists(context.Background(), testUser(), "", music.Page{})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestPartition(t *testing.T) {
	ids := toIDs([]string{"a", "b", "c", "d", "e"})
	assert.Equal(t, [][]libspotify.ID{{"a", "b"}, {"c", "d"}, {"e"}}, partition(ids, 2))
	assert.Empty(t, partition(nil, 2))
}

// rewriteTransport sends every request to the test server.
type rewriteTransport struct{ target *url.URL }

func (rt rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.URL.Scheme = rt.target.Scheme
	r.URL.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(r)
}

func TestGatewayAgainstServer(t *testing.T) {
	var mu sync.Mutex
	tokenRequests := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/api/token", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "refresh", r.Form.Get("refresh_token"))
		mu.Lock()
		tokenRequests++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "fresh", "token_type": "Bearer", "expires_in": 3600})
	})
	mux.HandleFunc("/v1/me/albums", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"status":401,"message":"The access token expired"}}`))
			return
		}
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"items":[{"album":{"id":"a1","name":"Blue Train"}}],"total":1,"limit":5}`))
	})
	mux.HandleFunc("/v1/me", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"u1","display_name":"Listener"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	target, _ := url.Parse(srv.URL)

	store := &fakeStore{}
	logger, _ := test.NewNullLogger()
	g, err := NewGateway(Config{
		ClientID:     "id",
		ClientSecret: "secret",
		TokenURL:     srv.URL + "/api/token",
		HTTPClient:   &http.Client{Transport: rewriteTransport{target}},
		Store:        store,
		Logger:       logger,
	})
	require.NoError(t, err)

	user := testUser()
	page, err := g.SavedAlbums(context.Background(), user, music.Page{Limit: 5})
	require.NoError(t, err)
	require.Len(t, page.Albums, 1)
	assert.Equal(t, "Blue Train", page.Albums[0].Name)
	assert.Equal(t, 1, tokenRequests)
	// the grant keeps the old refresh token when none is returned
	assert.Equal(t, []tokenUpdate{{7, "fresh", "refresh"}}, store.updates)

	profile, err := g.CurrentUser(context.Background(), &oauth2.Token{AccessToken: "fresh"})
	require.NoError(t, err)
	assert.Equal(t, "Listener", profile.DisplayName)
}

func TestNewGatewayValidates(t *testing.T) {
	_, err := NewGateway(Config{ClientSecret: "s", Store: &fakeStore{}})
	assert.Error(t, err)
	_, err = NewGateway(Config{ClientID: "i", ClientSecret: "s"})
	assert.Error(t, err)
}

func TestOAuthRefresherRequiresToken(t *testing.T) {
	r := NewOAuthRefresher("id", "secret", "http://127.0.0.1:0/token", nil)
	_, err := r.Refresh(context.Background(), "")
	assert.Error(t, err)
}
