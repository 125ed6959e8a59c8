// Package spotify implements the remote catalog gateway on top of the
// zmb3/spotify client. Every call is made on behalf of a stored user; when
// Spotify rejects the access token the gateway refreshes it once, persists
// the new credentials and retries the call once.
package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"Smart-Music-Tags/pkg/apperr"
	"Smart-Music-Tags/pkg/db"
	"Smart-Music-Tags/pkg/metrics"
	"Smart-Music-Tags/pkg/music"
)

// Request size limits imposed by the Spotify Web API.
const (
	albumBatchSize = 20
	trackBatchSize = 50
)

// API is the subset of spotify.Client used by the gateway. It allows the
// concrete client to be replaced in tests.
type API interface {
	CurrentUsersAlbums(ctx context.Context, opts ...spotify.RequestOption) (*spotify.SavedAlbumPage, error)
	GetAlbums(ctx context.Context, ids []spotify.ID, opts ...spotify.RequestOption) ([]*spotify.FullAlbum, error)
	GetAlbumTracks(ctx context.Context, id spotify.ID, opts ...spotify.RequestOption) (*spotify.SimpleTrackPage, error)
	UserHasTracks(ctx context.Context, ids ...spotify.ID) ([]bool, error)
	Search(ctx context.Context, query string, t spotify.SearchType, opts ...spotify.RequestOption) (*spotify.SearchResult, error)
	AddAlbumsToLibrary(ctx context.Context, ids ...spotify.ID) error
	RemoveAlbumsFromLibrary(ctx context.Context, ids ...spotify.ID) error
	CurrentUser(ctx context.Context) (*spotify.PrivateUser, error)
}

var _ API = (*spotify.Client)(nil)

// CredentialStore persists refreshed user credentials.
type CredentialStore interface {
	UpdateUserTokens(ctx context.Context, userID int64, accessToken, refreshToken string) error
}

// TokenRefresher exchanges a refresh token for a new access token.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// Config configures a Gateway. ClientID, ClientSecret and Store are required.
type Config struct {
	ClientID     string
	ClientSecret string
	// TokenURL overrides the Spotify token endpoint.
	TokenURL string
	// HTTPClient is used for catalog and token requests. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client
	Store      CredentialStore
	// Limiter throttles outbound requests. Defaults to 10 requests per
	// second with a burst of 10.
	Limiter *rate.Limiter
	Metrics *metrics.Metrics
	Logger  logrus.FieldLogger
}

// Gateway performs catalog operations for stored users.
type Gateway struct {
	newClient func(accessToken string) API
	refresher TokenRefresher
	store     CredentialStore
	metrics   *metrics.Metrics
	log       logrus.FieldLogger
}

// Compile-time interface check ensuring Gateway satisfies the catalog
// interface used by the handlers.
var _ music.Catalog = (*Gateway)(nil)

// NewGateway validates cfg and returns a gateway ready for API calls.
func NewGateway(cfg Config) (*Gateway, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("spotify client id and secret are required")
	}
	if cfg.Store == nil {
		return nil, errors.New("spotify gateway requires a credential store")
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = spotifyauth.TokenURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Limiter == nil {
		cfg.Limiter = rate.NewLimiter(10, 10)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNop()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	base := cfg.HTTPClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	limited := &limitedTransport{limiter: cfg.Limiter, base: base}
	return &Gateway{
		newClient: func(accessToken string) API {
			return spotify.New(&http.Client{
				Timeout: cfg.HTTPClient.Timeout,
				Transport: &oauth2.Transport{
					Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}),
					Base:   limited,
				},
			})
		},
		refresher: NewOAuthRefresher(cfg.ClientID, cfg.ClientSecret, cfg.TokenURL, cfg.HTTPClient),
		store:     cfg.Store,
		metrics:   cfg.Metrics,
		log:       cfg.Logger.WithField("component", "spotify"),
	}, nil
}

// limitedTransport waits on the shared rate limiter before each request.
// The wait ends early when the request's context is canceled.
type limitedTransport struct {
	limiter *rate.Limiter
	base    http.RoundTripper
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}

type oauthRefresher struct {
	conf   *oauth2.Config
	client *http.Client
}

// NewOAuthRefresher returns a TokenRefresher using the OAuth2 refresh token
// grant against tokenURL.
func NewOAuthRefresher(clientID, clientSecret, tokenURL string, client *http.Client) TokenRefresher {
	return &oauthRefresher{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{AuthURL: spotifyauth.AuthURL, TokenURL: tokenURL},
		},
		client: client,
	}
}

func (r *oauthRefresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, errors.New("no refresh token stored")
	}
	if r.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)
	}
	return r.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
}

// Call runs fn against a client holding the user's access token. If Spotify
// answers 401 the token is refreshed once and fn is retried once. The
// refreshed credentials are persisted and copied into user.
func Call[T any](ctx context.Context, g *Gateway, user *db.User, op string, fn func(api API) (T, error)) (T, error) {
	var zero T
	if user == nil {
		return zero, apperr.Unauthorized("not logged in")
	}
	res, err := attempt(ctx, g, user, op, fn)
	if err == nil {
		return res, nil
	}
	if !isAuthExpired(err) {
		return zero, g.remoteError(ctx, op, err)
	}
	if err := g.refresh(ctx, user); err != nil {
		return zero, err
	}
	res, err = attempt(ctx, g, user, op, fn)
	if err != nil {
		return zero, g.remoteError(ctx, op, err)
	}
	return res, nil
}

func attempt[T any](ctx context.Context, g *Gateway, user *db.User, op string, fn func(api API) (T, error)) (T, error) {
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}
	res, err := fn(g.newClient(user.AccessToken))
	g.metrics.CatalogRequests.WithLabelValues(op, outcome(err)).Inc()
	return res, err
}

func (g *Gateway) refresh(ctx context.Context, user *db.User) error {
	log := g.log.WithField("user", user.SpotifyID)
	log.Debug("refreshing spotify token")
	tok, err := g.refresher.Refresh(ctx, user.RefreshToken)
	if err != nil {
		g.metrics.TokenRefreshes.WithLabelValues("error").Inc()
		log.WithError(err).Warn("spotify token refresh failed")
		return apperr.RemoteAuthExpired("spotify session expired", err)
	}
	if err := g.store.UpdateUserTokens(ctx, user.ID, tok.AccessToken, tok.RefreshToken); err != nil {
		g.metrics.TokenRefreshes.WithLabelValues("error").Inc()
		log.WithError(err).Error("persist refreshed spotify token")
		return err
	}
	user.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		user.RefreshToken = tok.RefreshToken
	}
	g.metrics.TokenRefreshes.WithLabelValues("success").Inc()
	return nil
}

func (g *Gateway) remoteError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return ctxErr
	}
	g.log.WithError(err).WithField("operation", op).Warn("spotify call failed")
	return apperr.RemoteUnavailable("spotify "+op+" failed", err)
}

func isAuthExpired(err error) bool {
	var v spotify.Error
	if errors.As(err, &v) {
		return v.Status == http.StatusUnauthorized
	}
	var p *spotify.Error
	if errors.As(err, &p) && p != nil {
		return p.Status == http.StatusUnauthorized
	}
	return false
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case isAuthExpired(err):
		return "auth_expired"
	default:
		return "error"
	}
}

// SavedAlbums returns one page of the user's saved albums.
func (g *Gateway) SavedAlbums(ctx context.Context, user *db.User, page music.Page) (*music.SavedAlbumPage, error) {
	opts := page.RequestOptions()
	return Call(ctx, g, user, "saved_albums", func(api API) (*spotify.SavedAlbumPage, error) {
		return api.CurrentUsersAlbums(ctx, opts...)
	})
}

// Albums looks up albums by id in batches of 20. The result has one entry per
// id; Spotify reports unknown ids as nil entries.
func (g *Gateway) Albums(ctx context.Context, user *db.User, ids []string) ([]*music.Album, error) {
	if len(ids) == 0 {
		return []*music.Album{}, nil
	}
	spotifyIDs := toIDs(ids)
	return Call(ctx, g, user, "albums", func(api API) ([]*spotify.FullAlbum, error) {
		out := make([]*spotify.FullAlbum, 0, len(spotifyIDs))
		for _, batch := range partition(spotifyIDs, albumBatchSize) {
			albums, err := api.GetAlbums(ctx, batch)
			if err != nil {
				return nil, err
			}
			if len(albums) != len(batch) {
				return nil, fmt.Errorf("album lookup returned %d results for %d ids", len(albums), len(batch))
			}
			out = append(out, albums...)
		}
		return out, nil
	})
}

// IsAlbumSaved reports whether every track of album is saved in the user's
// library. Tracks beyond the page embedded in album are fetched first. An
// album without tracks is reported as not saved.
func (g *Gateway) IsAlbumSaved(ctx context.Context, user *db.User, album *music.Album) (bool, error) {
	if album == nil || (len(album.Tracks.Tracks) == 0 && int(album.Tracks.Total) == 0) {
		return false, nil
	}
	return Call(ctx, g, user, "album_saved", func(api API) (bool, error) {
		ids, err := albumTrackIDs(ctx, api, album)
		if err != nil {
			return false, err
		}
		if len(ids) == 0 {
			return false, nil
		}
		return allTracksSaved(ctx, api, ids)
	})
}

// SearchAlbums searches the catalog for albums.
func (g *Gateway) SearchAlbums(ctx context.Context, user *db.User, query string, page music.Page) (*music.SimpleAlbumPage, error) {
	if query == "" {
		return nil, apperr.Validation("search query is required")
	}
	opts := page.RequestOptions()
	return Call(ctx, g, user, "search_albums", func(api API) (*spotify.SimpleAlbumPage, error) {
		res, err := api.Search(ctx, query, spotify.SearchTypeAlbum, opts...)
		if err != nil {
			return nil, err
		}
		if res == nil || res.Albums == nil {
			return &spotify.SimpleAlbumPage{}, nil
		}
		return res.Albums, nil
	})
}

// SearchArtists searches the catalog for artists.
func (g *Gateway) SearchArtists(ctx context.Context, user *db.User, query string, page music.Page) (*music.ArtistPage, error) {
	if query == "" {
		return nil, apperr.Validation("search query is required")
	}
	opts := page.RequestOptions()
	return Call(ctx, g, user, "search_artists", func(api API) (*spotify.FullArtistPage, error) {
		res, err := api.Search(ctx, query, spotify.SearchTypeArtist, opts...)
		if err != nil {
			return nil, err
		}
		if res == nil || res.Artists == nil {
			return &spotify.FullArtistPage{}, nil
		}
		return res.Artists, nil
	})
}

// SaveAlbum adds the album to the user's library.
func (g *Gateway) SaveAlbum(ctx context.Context, user *db.User, id string) error {
	_, err := Call(ctx, g, user, "save_album", func(api API) (struct{}, error) {
		return struct{}{}, api.AddAlbumsToLibrary(ctx, spotify.ID(id))
	})
	return err
}

// RemoveAlbum removes the album from the user's library.
func (g *Gateway) RemoveAlbum(ctx context.Context, user *db.User, id string) error {
	_, err := Call(ctx, g, user, "remove_album", func(api API) (struct{}, error) {
		return struct{}{}, api.RemoveAlbumsFromLibrary(ctx, spotify.ID(id))
	})
	return err
}

// CurrentUser returns the profile owning token. It is used during login,
// before a user record exists, so no refresh is attempted.
func (g *Gateway) CurrentUser(ctx context.Context, token *oauth2.Token) (*music.Profile, error) {
	if token == nil || token.AccessToken == "" {
		return nil, apperr.Unauthorized("missing access token")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := g.newClient(token.AccessToken).CurrentUser(ctx)
	g.metrics.CatalogRequests.WithLabelValues("current_user", outcome(err)).Inc()
	if err != nil {
		return nil, g.remoteError(ctx, "current_user", err)
	}
	return p, nil
}

func toIDs(ids []string) []spotify.ID {
	out := make([]spotify.ID, len(ids))
	for i, id := range ids {
		out[i] = spotify.ID(id)
	}
	return out
}

// partition splits ids into consecutive batches of at most size elements.
func partition(ids []spotify.ID, size int) [][]spotify.ID {
	batches := make([][]spotify.ID, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		batches = append(batches, ids[start:end])
	}
	return batches
}
