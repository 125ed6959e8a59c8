package db

import (
	"context"
	"database/sql"
	"errors"

	"Smart-Music-Tags/pkg/apperr"
)

// UpsertUser creates the user identified by spotifyID or updates its display
// name and tokens. An empty refreshToken keeps the stored one, since Spotify
// does not always return a new refresh token.
func (db *DB) UpsertUser(ctx context.Context, spotifyID, displayName, accessToken, refreshToken string) (*User, error) {
	if spotifyID == "" {
		return nil, apperr.Validation("spotify id is required")
	}
	encAccess, encRefresh, err := db.encryptTokens(accessToken, refreshToken)
	if err != nil {
		return nil, err
	}
	_, err = db.ExecContext(ctx, `INSERT INTO users(spotify_id, display_name, access_token, refresh_token) VALUES(?, ?, ?, ?)
		ON CONFLICT(spotify_id) DO UPDATE SET
			display_name=excluded.display_name,
			access_token=excluded.access_token,
			refresh_token=CASE WHEN excluded.refresh_token = '' THEN users.refresh_token ELSE excluded.refresh_token END,
			updated_at=CURRENT_TIMESTAMP`,
		spotifyID, displayName, encAccess, encRefresh)
	if err != nil {
		return nil, classify("upsert user", err)
	}
	return db.UserBySpotifyID(ctx, spotifyID)
}

// UpdateUserTokens stores refreshed credentials for the user. An empty
// refreshToken keeps the stored one.
func (db *DB) UpdateUserTokens(ctx context.Context, userID int64, accessToken, refreshToken string) error {
	encAccess, encRefresh, err := db.encryptTokens(accessToken, refreshToken)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, `UPDATE users SET
			access_token=?,
			refresh_token=CASE WHEN ? = '' THEN refresh_token ELSE ? END,
			updated_at=CURRENT_TIMESTAMP
		WHERE id=?`, encAccess, encRefresh, encRefresh, userID)
	if err != nil {
		return classify("update user tokens", err)
	}
	n, err := affected("update user tokens", res)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("user not found")
	}
	return nil
}

// UserBySpotifyID loads the user with the given Spotify id. A not found
// error is returned when there is none.
func (db *DB) UserBySpotifyID(ctx context.Context, spotifyID string) (*User, error) {
	return db.scanUser(db.QueryRowContext(ctx, `SELECT id, spotify_id, display_name, access_token, refresh_token, created_at, updated_at FROM users WHERE spotify_id=?`, spotifyID))
}

// UserByID loads the user with the given row id.
func (db *DB) UserByID(ctx context.Context, id int64) (*User, error) {
	return db.scanUser(db.QueryRowContext(ctx, `SELECT id, spotify_id, display_name, access_token, refresh_token, created_at, updated_at FROM users WHERE id=?`, id))
}

// scanUser reads a user row and decrypts its tokens.
func (db *DB) scanUser(row *sql.Row) (*User, error) {
	var u User
	var encAccess, encRefresh string
	err := row.Scan(&u.ID, &u.SpotifyID, &u.DisplayName, &encAccess, &encRefresh, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, classify("load user", err)
	}
	if u.AccessToken, err = db.codec.Decrypt(encAccess); err != nil {
		return nil, apperr.Store("decrypt access token", err)
	}
	if u.RefreshToken, err = db.codec.Decrypt(encRefresh); err != nil {
		return nil, apperr.Store("decrypt refresh token", err)
	}
	return &u, nil
}

func (db *DB) encryptTokens(accessToken, refreshToken string) (string, string, error) {
	encAccess, err := db.codec.Encrypt(accessToken)
	if err != nil {
		return "", "", apperr.Store("encrypt access token", err)
	}
	encRefresh, err := db.codec.Encrypt(refreshToken)
	if err != nil {
		return "", "", apperr.Store("encrypt refresh token", err)
	}
	return encAccess, encRefresh, nil
}
