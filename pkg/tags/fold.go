package tags

import "Smart-Music-Tags/pkg/db"

// AlbumTags is one album with the tags a user applied to it.
type AlbumTags struct {
	Album db.Album `json:"album"`
	Tags  []db.Tag `json:"tags"`
}

// Ownership maps album Spotify ids to the tags a user applied.
type Ownership map[string]AlbumTags

// TagCount is a tag with the number of albums it is applied to.
type TagCount struct {
	Tag   db.Tag `json:"tag"`
	Count int    `json:"count"`
}

// GroupByAlbum folds items into a mapping keyed by album Spotify id. Tags
// keep the order of items.
func GroupByAlbum(items []db.ResolvedAlbumTag) Ownership {
	out := make(Ownership)
	for _, it := range items {
		g, ok := out[it.Album.SpotifyID]
		if !ok {
			g = AlbumTags{Album: it.Album}
		}
		g.Tags = append(g.Tags, it.Tag)
		out[it.Album.SpotifyID] = g
	}
	return out
}

// CountTags returns the distinct tags of items, in order of first use, with
// their usage counts.
func CountTags(items []db.ResolvedAlbumTag) []TagCount {
	out := []TagCount{}
	index := make(map[string]int)
	for _, it := range items {
		if i, ok := index[it.Tag.UniqueID]; ok {
			out[i].Count++
			continue
		}
		index[it.Tag.UniqueID] = len(out)
		out = append(out, TagCount{Tag: it.Tag, Count: 1})
	}
	return out
}

// FilterByAlbum returns the tags of items applied to the album.
func FilterByAlbum(items []db.ResolvedAlbumTag, albumID string) []db.Tag {
	out := []db.Tag{}
	for _, it := range items {
		if it.Album.SpotifyID == albumID {
			out = append(out, it.Tag)
		}
	}
	return out
}
