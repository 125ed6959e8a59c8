// Package music defines the catalog interface the HTTP handlers depend on.
// The production implementation is *spotify.Gateway; tests substitute a fake
// so handlers can be exercised without the remote service.
//
// Catalog types are aliases of the zmb3/spotify types so handlers and
// responses operate on familiar fields (Name, Artists, Images etc).
package music

import (
	"context"

	libspotify "github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"

	"Smart-Music-Tags/pkg/db"
)

// Catalog types as returned by the remote service.
type (
	Album           = libspotify.FullAlbum
	SimpleAlbum     = libspotify.SimpleAlbum
	Artist          = libspotify.FullArtist
	SavedAlbumPage  = libspotify.SavedAlbumPage
	SimpleAlbumPage = libspotify.SimpleAlbumPage
	ArtistPage      = libspotify.FullArtistPage
	Profile         = libspotify.PrivateUser
)

// Paging defaults shared by every paged catalog call.
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 50
)

// Page selects a window of a paged catalog result.
type Page struct {
	Limit  int
	Offset int
}

// Normalize applies the default limit, caps it at MaxPageLimit and clamps a
// negative offset to zero.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// RequestOptions converts the normalized page into request options.
func (p Page) RequestOptions() []libspotify.RequestOption {
	n := p.Normalize()
	return []libspotify.RequestOption{libspotify.Limit(n.Limit), libspotify.Offset(n.Offset)}
}

// Catalog performs catalog operations on behalf of a user. Implementations
// handle access token expiry themselves; errors returned here are final.
type Catalog interface {
	// SavedAlbums returns one page of the albums saved in the user's library.
	SavedAlbums(ctx context.Context, user *db.User, page Page) (*SavedAlbumPage, error)
	// Albums looks up full albums by Spotify id, in the order given.
	Albums(ctx context.Context, user *db.User, ids []string) ([]*Album, error)
	// IsAlbumSaved reports whether every track of album is saved by the user.
	IsAlbumSaved(ctx context.Context, user *db.User, album *Album) (bool, error)
	// SearchAlbums searches the catalog for albums matching query.
	SearchAlbums(ctx context.Context, user *db.User, query string, page Page) (*SimpleAlbumPage, error)
	// SearchArtists searches the catalog for artists matching query.
	SearchArtists(ctx context.Context, user *db.User, query string, page Page) (*ArtistPage, error)
	// SaveAlbum adds the album to the user's library.
	SaveAlbum(ctx context.Context, user *db.User, id string) error
	// RemoveAlbum removes the album from the user's library.
	RemoveAlbum(ctx context.Context, user *db.User, id string) error
	// CurrentUser returns the profile owning a freshly issued token.
	CurrentUser(ctx context.Context, token *oauth2.Token) (*Profile, error)
}
