package db

import (
	"context"
	"database/sql"
	"errors"

	"Smart-Music-Tags/pkg/apperr"
	"Smart-Music-Tags/pkg/slug"
)

// findOrCreate runs insert, which must be a no-op when the natural key already
// exists, then reads the row back by that key. A row deleted between the two
// statements by an orphan cleanup is recreated once.
func findOrCreate[T any](op string, insert func() (sql.Result, error), find func() (*T, error)) (*T, bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		res, err := insert()
		if err != nil {
			return nil, false, classify(op, err)
		}
		n, err := affected(op, res)
		if err != nil {
			return nil, false, err
		}
		v, err := find()
		if err != nil {
			return nil, false, err
		}
		if v != nil {
			return v, n == 1, nil
		}
	}
	return nil, false, apperr.Store(op+": row removed concurrently", nil)
}

// FindOrCreateTag returns the tag whose unique id matches name, creating it
// when absent. created reports whether this call inserted the row.
func (db *DB) FindOrCreateTag(ctx context.Context, name string) (tag *Tag, created bool, err error) {
	uid := slug.TagID(name)
	if uid == "" {
		return nil, false, apperr.Validation("tag name is required")
	}
	display := slug.DisplayName(name)
	return findOrCreate("find or create tag",
		func() (sql.Result, error) {
			return db.ExecContext(ctx, `INSERT INTO tags(unique_id, name) VALUES(?, ?) ON CONFLICT(unique_id) DO NOTHING`, uid, display)
		},
		func() (*Tag, error) { return db.FindTagByUniqueID(ctx, uid) },
	)
}

// FindTagByUniqueID returns the tag with the given unique id, or nil when
// there is none.
func (db *DB) FindTagByUniqueID(ctx context.Context, uniqueID string) (*Tag, error) {
	var t Tag
	err := db.QueryRowContext(ctx, `SELECT id, unique_id, name, created_at FROM tags WHERE unique_id=?`, uniqueID).
		Scan(&t.ID, &t.UniqueID, &t.Name, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("find tag", err)
	}
	return &t, nil
}

// FindOrCreateAlbum returns the album with the given Spotify id, creating it
// when absent.
func (db *DB) FindOrCreateAlbum(ctx context.Context, spotifyID string) (album *Album, created bool, err error) {
	if spotifyID == "" {
		return nil, false, apperr.Validation("album id is required")
	}
	return findOrCreate("find or create album",
		func() (sql.Result, error) {
			return db.ExecContext(ctx, `INSERT INTO albums(spotify_id) VALUES(?) ON CONFLICT(spotify_id) DO NOTHING`, spotifyID)
		},
		func() (*Album, error) { return db.FindAlbumBySpotifyID(ctx, spotifyID) },
	)
}

// FindAlbumBySpotifyID returns the album with the given Spotify id, or nil
// when there is none.
func (db *DB) FindAlbumBySpotifyID(ctx context.Context, spotifyID string) (*Album, error) {
	var a Album
	err := db.QueryRowContext(ctx, `SELECT id, spotify_id, created_at FROM albums WHERE spotify_id=?`, spotifyID).
		Scan(&a.ID, &a.SpotifyID, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("find album", err)
	}
	return &a, nil
}

// FindOrCreateAlbumTag returns the join row for albumID and tagID, creating
// it when absent. A conflict is returned when either parent row is gone.
func (db *DB) FindOrCreateAlbumTag(ctx context.Context, albumID, tagID int64) (albumTag *AlbumTag, created bool, err error) {
	return findOrCreate("find or create album tag",
		func() (sql.Result, error) {
			return db.ExecContext(ctx, `INSERT INTO album_tags(album_id, tag_id) VALUES(?, ?) ON CONFLICT(album_id, tag_id) DO NOTHING`, albumID, tagID)
		},
		func() (*AlbumTag, error) { return db.FindAlbumTag(ctx, albumID, tagID) },
	)
}

// FindAlbumTag returns the join row for albumID and tagID, or nil when there
// is none.
func (db *DB) FindAlbumTag(ctx context.Context, albumID, tagID int64) (*AlbumTag, error) {
	var at AlbumTag
	err := db.QueryRowContext(ctx, `SELECT id, album_id, tag_id FROM album_tags WHERE album_id=? AND tag_id=?`, albumID, tagID).
		Scan(&at.ID, &at.AlbumID, &at.TagID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("find album tag", err)
	}
	return &at, nil
}

// RemoveAlbumTagIfOrphan deletes the album tag when no user owns it. The
// ownership check runs inside the DELETE so an owner added concurrently
// keeps the row alive.
func (db *DB) RemoveAlbumTagIfOrphan(ctx context.Context, albumTagID int64) (bool, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM album_tags WHERE id=? AND NOT EXISTS (SELECT 1 FROM user_album_tags WHERE album_tag_id=?)`, albumTagID, albumTagID)
	return deleted("remove album tag", res, err)
}

// RemoveAlbumIfOrphan deletes the album when no album tag references it.
func (db *DB) RemoveAlbumIfOrphan(ctx context.Context, albumID int64) (bool, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM albums WHERE id=? AND NOT EXISTS (SELECT 1 FROM album_tags WHERE album_id=?)`, albumID, albumID)
	return deleted("remove album", res, err)
}

// RemoveTagIfOrphan deletes the tag when no album tag references it.
func (db *DB) RemoveTagIfOrphan(ctx context.Context, tagID int64) (bool, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM tags WHERE id=? AND NOT EXISTS (SELECT 1 FROM album_tags WHERE tag_id=?)`, tagID, tagID)
	return deleted("remove tag", res, err)
}

func deleted(op string, res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, classify(op, err)
	}
	n, err := affected(op, res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// AddAlbumTagToUser adds the album tag to the user's ownership set. It
// reports false when the user already owned it.
func (db *DB) AddAlbumTagToUser(ctx context.Context, userID, albumTagID int64) (bool, error) {
	res, err := db.ExecContext(ctx, `INSERT INTO user_album_tags(user_id, album_tag_id) VALUES(?, ?) ON CONFLICT(user_id, album_tag_id) DO NOTHING`, userID, albumTagID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return false, apperr.Conflict("album tag or user no longer exists", err)
		}
		return false, classify("add album tag to user", err)
	}
	n, err := affected("add album tag to user", res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RemoveAlbumTagFromUser removes the album tag from the user's ownership
// set. It reports false when the user did not own it.
func (db *DB) RemoveAlbumTagFromUser(ctx context.Context, userID, albumTagID int64) (bool, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM user_album_tags WHERE user_id=? AND album_tag_id=?`, userID, albumTagID)
	return deleted("remove album tag from user", res, err)
}

// OwnedAlbumTags returns the album tags in the user's ownership set in the
// order they were added.
func (db *DB) OwnedAlbumTags(ctx context.Context, userID int64) ([]AlbumTag, error) {
	rows, err := db.QueryContext(ctx, `SELECT at.id, at.album_id, at.tag_id FROM user_album_tags u JOIN album_tags at ON at.id = u.album_tag_id WHERE u.user_id=? ORDER BY u.rowid`, userID)
	if err != nil {
		return nil, classify("list owned album tags", err)
	}
	defer rows.Close()

	var res []AlbumTag
	for rows.Next() {
		var at AlbumTag
		if err := rows.Scan(&at.ID, &at.AlbumID, &at.TagID); err != nil {
			return nil, classify("scan album tag", err)
		}
		res = append(res, at)
	}
	return res, classify("list owned album tags", rows.Err())
}

// ResolveAlbumTags loads the albums and tags referenced by refs with one
// query per table and returns them in the order of refs.
func (db *DB) ResolveAlbumTags(ctx context.Context, refs []AlbumTag) ([]ResolvedAlbumTag, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	albumIDs := make([]int64, 0, len(refs))
	tagIDs := make([]int64, 0, len(refs))
	seenAlbum := make(map[int64]struct{})
	seenTag := make(map[int64]struct{})
	for _, r := range refs {
		if _, ok := seenAlbum[r.AlbumID]; !ok {
			seenAlbum[r.AlbumID] = struct{}{}
			albumIDs = append(albumIDs, r.AlbumID)
		}
		if _, ok := seenTag[r.TagID]; !ok {
			seenTag[r.TagID] = struct{}{}
			tagIDs = append(tagIDs, r.TagID)
		}
	}

	albums, err := db.albumsByID(ctx, albumIDs)
	if err != nil {
		return nil, err
	}
	tags, err := db.tagsByID(ctx, tagIDs)
	if err != nil {
		return nil, err
	}

	res := make([]ResolvedAlbumTag, 0, len(refs))
	for _, r := range refs {
		a, okA := albums[r.AlbumID]
		t, okT := tags[r.TagID]
		if !okA || !okT {
			// The parent was removed after refs were read.
			continue
		}
		res = append(res, ResolvedAlbumTag{ID: r.ID, Album: a, Tag: t})
	}
	return res, nil
}

func (db *DB) albumsByID(ctx context.Context, ids []int64) (map[int64]Album, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, spotify_id, created_at FROM albums WHERE id IN (`+placeholders(len(ids))+`)`, int64Args(ids)...)
	if err != nil {
		return nil, classify("load albums", err)
	}
	defer rows.Close()

	res := make(map[int64]Album, len(ids))
	for rows.Next() {
		var a Album
		if err := rows.Scan(&a.ID, &a.SpotifyID, &a.CreatedAt); err != nil {
			return nil, classify("scan album", err)
		}
		res[a.ID] = a
	}
	return res, classify("load albums", rows.Err())
}

func (db *DB) tagsByID(ctx context.Context, ids []int64) (map[int64]Tag, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, unique_id, name, created_at FROM tags WHERE id IN (`+placeholders(len(ids))+`)`, int64Args(ids)...)
	if err != nil {
		return nil, classify("load tags", err)
	}
	defer rows.Close()

	res := make(map[int64]Tag, len(ids))
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.UniqueID, &t.Name, &t.CreatedAt); err != nil {
			return nil, classify("scan tag", err)
		}
		res[t.ID] = t
	}
	return res, classify("load tags", rows.Err())
}

// OrphanCounts reports the rows removed by SweepOrphans.
type OrphanCounts struct {
	AlbumTags int64
	Albums    int64
	Tags      int64
}

// SweepOrphans deletes every album tag no user owns, then every album and
// tag no album tag references. It reclaims rows left behind when a detach
// cascade was interrupted.
func (db *DB) SweepOrphans(ctx context.Context) (OrphanCounts, error) {
	var c OrphanCounts
	steps := []struct {
		op    string
		query string
		n     *int64
	}{
		{"sweep album tags", `DELETE FROM album_tags WHERE NOT EXISTS (SELECT 1 FROM user_album_tags u WHERE u.album_tag_id = album_tags.id)`, &c.AlbumTags},
		{"sweep albums", `DELETE FROM albums WHERE NOT EXISTS (SELECT 1 FROM album_tags at WHERE at.album_id = albums.id)`, &c.Albums},
		{"sweep tags", `DELETE FROM tags WHERE NOT EXISTS (SELECT 1 FROM album_tags at WHERE at.tag_id = tags.id)`, &c.Tags},
	}
	for _, s := range steps {
		res, err := db.ExecContext(ctx, s.query)
		if err != nil {
			return c, classify(s.op, err)
		}
		if *s.n, err = affected(s.op, res); err != nil {
			return c, err
		}
	}
	return c, nil
}
