package db

import "time"

// Tag is a label applied to albums. UniqueID is the natural key derived from
// the name by slug.TagID; Name keeps the display form of the first use.
type Tag struct {
	ID        int64     `json:"-"`
	UniqueID  string    `json:"unique_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"-"`
}

// Album is a catalog album that has been tagged at least once. SpotifyID is
// the natural key. The tags of an album are the AlbumTag rows pointing at it.
type Album struct {
	ID        int64     `json:"-"`
	SpotifyID string    `json:"spotify_id"`
	CreatedAt time.Time `json:"-"`
}

// AlbumTag joins one album and one tag. The (AlbumID, TagID) pair is unique.
type AlbumTag struct {
	ID      int64
	AlbumID int64
	TagID   int64
}

// ResolvedAlbumTag is an AlbumTag with its album and tag loaded.
type ResolvedAlbumTag struct {
	ID    int64
	Album Album
	Tag   Tag
}

// User is an account created on Spotify login. AccessToken and RefreshToken
// are plaintext in memory and encrypted in the users table.
type User struct {
	ID           int64
	SpotifyID    string
	DisplayName  string
	AccessToken  string
	RefreshToken string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
