package db

import (
	"context"

	"Smart-Music-Tags/pkg/apperr"
)

// AddToListeningList appends the Spotify album id to the user's listening
// list. An already exists error is returned when it is already there.
func (db *DB) AddToListeningList(ctx context.Context, userID int64, albumID string) error {
	res, err := db.ExecContext(ctx, `INSERT INTO listening_list(user_id, album_id) VALUES(?, ?) ON CONFLICT(user_id, album_id) DO NOTHING`, userID, albumID)
	if err != nil {
		return classify("add to listening list", err)
	}
	n, err := affected("add to listening list", res)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.AlreadyExists("album is already in the listening list")
	}
	return nil
}

// RemoveFromListeningList removes the album id from the user's listening
// list. A not found error is returned when it was not there.
func (db *DB) RemoveFromListeningList(ctx context.Context, userID int64, albumID string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM listening_list WHERE user_id=? AND album_id=?`, userID, albumID)
	removed, err := deleted("remove from listening list", res, err)
	if err != nil {
		return err
	}
	if !removed {
		return apperr.NotFound("album is not in the listening list")
	}
	return nil
}

// ListeningList returns the user's listening list in insertion order.
func (db *DB) ListeningList(ctx context.Context, userID int64) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT album_id FROM listening_list WHERE user_id=? ORDER BY id`, userID)
	if err != nil {
		return nil, classify("list listening list", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classify("scan listening list", err)
		}
		ids = append(ids, id)
	}
	return ids, classify("list listening list", rows.Err())
}
